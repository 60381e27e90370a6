package models

import (
	"time"

	"cmsguard/internal/auth/password"
	id "cmsguard/pkg/domain"
)

type UserResponse struct {
	ID            id.UserID `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	Role          Role      `json:"role"`
	EmailVerified bool      `json:"email_verified"`
}

func NewUserResponse(u *User) UserResponse {
	return UserResponse{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
	}
}

type LoginResponse struct {
	Token     string       `json:"token"`
	CSRFToken string       `json:"csrf_token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

type SessionResponse struct {
	UserID     id.UserID `json:"user_id"`
	DeviceName string    `json:"device_name,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// AuthErrorResponse carries the login-specific error codes.
type AuthErrorResponse struct {
	Error       string     `json:"error"`
	Message     string     `json:"message"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

type PasswordStrengthResponse struct {
	Score   int             `json:"score"`
	Label   string          `json:"label"`
	Entropy int             `json:"entropy"`
	Checks  password.Checks `json:"checks"`
	Valid   bool            `json:"valid"`
}

type PasswordPolicyErrorResponse struct {
	Error      string               `json:"error"` // "password_policy_violation"
	Message    string               `json:"message"`
	Violations []password.Violation `json:"violations"`
}

type VerificationIssuedResponse struct {
	ExpiresAt      time.Time `json:"expires_at"`
	RemainingHours int       `json:"remaining_hours"`
}
