package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feedbridge/backend/internal/interfaces/http/dto"
)

// RateLimiter is a fixed-window per-client limiter for the control API.
// Single-process state is enough here: the service runs one instance
// per store and the limiter exists to stop a runaway dashboard poller,
// not to meter real traffic.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	span    time.Duration
}

type window struct {
	count int
	start time.Time
}

// NewRateLimiter allows limit requests per client per span.
func NewRateLimiter(limit int, span time.Duration) *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		span:    span,
	}
}

// take consumes one slot for key and reports how many remain. Expired
// windows are swept opportunistically while the lock is held, so no
// cleanup goroutine is needed.
func (rl *RateLimiter) take(key string) (ok bool, remaining int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if len(rl.windows) > 2*rl.limit {
		for k, w := range rl.windows {
			if now.Sub(w.start) >= rl.span {
				delete(rl.windows, k)
			}
		}
	}

	w := rl.windows[key]
	if w == nil || now.Sub(w.start) >= rl.span {
		w = &window{start: now}
		rl.windows[key] = w
	}
	if w.count >= rl.limit {
		return false, 0
	}
	w.count++
	return true, rl.limit - w.count
}

// RateLimit rejects clients that exceed the limiter, keyed by IP. The
// headers let the dashboard back off before it starts seeing 429s.
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, remaining := limiter.take(c.ClientIP())
		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeRateLimited,
				"Too many requests. Please try again later.",
				requestID(c),
			))
			return
		}
		c.Next()
	}
}
