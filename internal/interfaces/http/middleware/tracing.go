package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxRequestIDLength caps the request_id span attribute when it comes
// straight from a client header.
const maxRequestIDLength = 128

// Tracing returns the otelgin middleware plus an enricher that tags the
// server span with the request id issued by the RequestID middleware and
// marks client-error responses. The enricher must run inside the span,
// so both handlers are installed together: engine.Use(Tracing(name)...).
func Tracing(serviceName string) []gin.HandlerFunc {
	return []gin.HandlerFunc{otelgin.Middleware(serviceName), enrichSpan}
}

func enrichSpan(c *gin.Context) {
	span := trace.SpanFromContext(c.Request.Context())
	if !span.IsRecording() {
		c.Next()
		return
	}

	if id := spanRequestID(c); id != "" {
		span.SetAttributes(attribute.String("request_id", id))
	}

	c.Next()

	// otelgin marks 5xx on its own; 4xx needs marking here so a rejected
	// sync trigger (409 while a run is active) shows up in the trace view.
	status := c.Writer.Status()
	if status >= http.StatusBadRequest && status < http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
}

func spanRequestID(c *gin.Context) string {
	id := requestID(c)
	if len(id) > maxRequestIDLength {
		return id[:maxRequestIDLength]
	}
	return id
}
