package models

// RateLimitExceededResponse is the API response when rate limit is exceeded.
type RateLimitExceededResponse struct {
	Error             string `json:"error"` // "rate_limit_exceeded"
	Message           string `json:"message"`
	RetryAfter        int    `json:"retry_after"` // seconds
	RetryAfterMinutes int    `json:"retry_after_minutes"`
}

// ResetResponse is returned by the admin reset endpoint.
type ResetResponse struct {
	Identifier string `json:"identifier"`
	Reset      bool   `json:"reset"`
}
