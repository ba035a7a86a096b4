package model

import "time"

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data     any          `json:"data"`
	Total    int          `json:"total"`
	HasMore  bool         `json:"has_more"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	Meta     ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeUnavailable   = "UNAVAILABLE"
	ErrCodeReadOnly      = "READ_ONLY"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// ToggleRequest is the request body for POST /v1/guidelines/{id}/toggle.
// A nil Enabled flips the current state.
type ToggleRequest struct {
	Enabled *bool `json:"enabled,omitempty"`
}

// DecisionResponse is returned by POST /v1/decisions.
type DecisionResponse struct {
	ID string `json:"id"`
}

// DeleteResponse is returned by DELETE /v1/guidelines/{id}.
type DeleteResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Repository string `json:"repository"`
	Uptime     int64  `json:"uptime_seconds"`
}

// TokenRequest is the request body for POST /auth/token.
type TokenRequest struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

// TokenResponse is returned by POST /auth/token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
