package models

import (
	"strings"

	dErrors "cmsguard/pkg/domain-errors"
)

// IdentifierRequest names a rate limit record in admin calls.
type IdentifierRequest struct {
	Identifier string `json:"identifier"`
}

func (r *IdentifierRequest) Normalize() {
	if r == nil {
		return
	}
	r.Identifier = strings.TrimSpace(r.Identifier)
}

// Follows validation order: Size -> Required -> Syntax.
func (r *IdentifierRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}

	if len(r.Identifier) > 255 {
		return dErrors.New(dErrors.CodeValidation, "identifier must be 255 characters or less")
	}

	if r.Identifier == "" {
		return dErrors.New(dErrors.CodeValidation, "identifier is required")
	}

	if ActionOf(r.Identifier) == "" {
		return dErrors.New(dErrors.CodeValidation, "identifier must have the form subject:action")
	}

	return nil
}
