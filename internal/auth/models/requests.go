package models

import (
	"strings"

	"github.com/asaskevich/govalidator"

	dErrors "cmsguard/pkg/domain-errors"
)

// maxPasswordBytes matches the bcrypt input limit.
const maxPasswordBytes = 72

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *LoginRequest) Normalize() {
	if r == nil {
		return
	}
	r.Username = strings.TrimSpace(r.Username)
}

// Follows validation order: Size -> Required -> Syntax.
func (r *LoginRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.Username) > 150 {
		return dErrors.New(dErrors.CodeValidation, "username must be 150 characters or less")
	}
	if len(r.Password) > maxPasswordBytes {
		return dErrors.New(dErrors.CodeValidation, "password is too long")
	}
	if r.Username == "" {
		return dErrors.New(dErrors.CodeValidation, "username is required")
	}
	if r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "password is required")
	}
	if govalidator.HasWhitespace(r.Username) {
		return dErrors.New(dErrors.CodeValidation, "username must not contain whitespace")
	}
	return nil
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (r *ChangePasswordRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.CurrentPassword) > maxPasswordBytes || len(r.NewPassword) > maxPasswordBytes {
		return dErrors.New(dErrors.CodeValidation, "password is too long")
	}
	if r.CurrentPassword == "" {
		return dErrors.New(dErrors.CodeValidation, "current_password is required")
	}
	if r.NewPassword == "" {
		return dErrors.New(dErrors.CodeValidation, "new_password is required")
	}
	return nil
}

type PasswordStrengthRequest struct {
	Password string `json:"password"`
}

func (r *PasswordStrengthRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.Password) > maxPasswordBytes {
		return dErrors.New(dErrors.CodeValidation, "password is too long")
	}
	return nil
}

type VerifyEmailRequest struct {
	Token string `json:"token"`
}

func (r *VerifyEmailRequest) Normalize() {
	if r == nil {
		return
	}
	r.Token = strings.TrimSpace(r.Token)
}

func (r *VerifyEmailRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.Token == "" {
		return dErrors.New(dErrors.CodeValidation, "token is required")
	}
	if !govalidator.IsHexadecimal(r.Token) || !govalidator.StringLength(r.Token, "64", "64") {
		return dErrors.New(dErrors.CodeValidation, "token is malformed")
	}
	return nil
}

// CreateUserRequest is used when bootstrapping accounts.
type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

func (r *CreateUserRequest) Normalize() {
	if r == nil {
		return
	}
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	if r.Role == "" {
		r.Role = RoleViewer
	}
}

func (r *CreateUserRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if !govalidator.StringLength(r.Username, "1", "150") {
		return dErrors.New(dErrors.CodeValidation, "username must be 1 to 150 characters")
	}
	if !govalidator.StringLength(r.Email, "3", "255") || !govalidator.IsEmail(r.Email) {
		return dErrors.New(dErrors.CodeValidation, "invalid email")
	}
	if r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "password is required")
	}
	if !r.Role.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid role")
	}
	return nil
}
