package dto

import "net/http"

// Error codes returned by the control API. The dashboard keys retry and
// display behavior off these strings, so they are part of the contract.
const (
	ErrCodeInternal        = "ERR_INTERNAL"
	ErrCodeValidation      = "ERR_VALIDATION"
	ErrCodeBadRequest      = "ERR_BAD_REQUEST"
	ErrCodeNotFound        = "ERR_NOT_FOUND"
	ErrCodeConflict        = "ERR_CONFLICT"
	ErrCodePayloadTooLarge = "ERR_PAYLOAD_TOO_LARGE"
	ErrCodeRateLimited     = "ERR_RATE_LIMITED"

	// ErrCodeRunActive rejects a sync trigger while another run holds
	// the single run slot.
	ErrCodeRunActive = "ERR_RUN_ACTIVE"
	// ErrCodeInvalidState covers operations the service cannot perform
	// right now, for example stopping when no run is active.
	ErrCodeInvalidState = "ERR_INVALID_STATE"
	// ErrCodeUpstream covers failures of the feed host or the
	// destination store.
	ErrCodeUpstream = "ERR_UPSTREAM"
	// ErrCodeUnavailable is returned when the event stream is at its
	// subscriber limit.
	ErrCodeUnavailable = "ERR_UNAVAILABLE"
)

var errorCodeStatus = map[string]int{
	ErrCodeInternal:        http.StatusInternalServerError,
	ErrCodeValidation:      http.StatusBadRequest,
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeNotFound:        http.StatusNotFound,
	ErrCodeConflict:        http.StatusConflict,
	ErrCodePayloadTooLarge: http.StatusRequestEntityTooLarge,
	ErrCodeRateLimited:     http.StatusTooManyRequests,
	ErrCodeRunActive:       http.StatusConflict,
	ErrCodeInvalidState:    http.StatusUnprocessableEntity,
	ErrCodeUpstream:        http.StatusBadGateway,
	ErrCodeUnavailable:     http.StatusServiceUnavailable,
}

// GetHTTPStatus returns the HTTP status for an error code, or 500 for
// codes outside the registry.
func GetHTTPStatus(code string) int {
	if status, ok := errorCodeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// legacyErrorCodes maps the bare codes used by the previous sync tool to
// the current registry so old dashboard builds keep working.
var legacyErrorCodes = map[string]string{
	"NOT_FOUND":           ErrCodeNotFound,
	"CONFLICT":            ErrCodeConflict,
	"SYNC_IN_PROGRESS":    ErrCodeRunActive,
	"INVALID_STATE":       ErrCodeInvalidState,
	"VALIDATION_ERROR":    ErrCodeValidation,
	"BAD_REQUEST":         ErrCodeBadRequest,
	"INTERNAL_ERROR":      ErrCodeInternal,
	"RATE_LIMIT_EXCEEDED": ErrCodeRateLimited,
	"REQUEST_TOO_LARGE":   ErrCodePayloadTooLarge,
	"UPSTREAM_ERROR":      ErrCodeUpstream,
}

// NormalizeErrorCode converts legacy error codes to the current
// registry. Codes it does not recognize pass through unchanged.
func NormalizeErrorCode(code string) string {
	if normalized, ok := legacyErrorCodes[code]; ok {
		return normalized
	}
	return code
}
