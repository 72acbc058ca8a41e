package models

import (
	"strings"

	dErrors "nova/pkg/domain-errors"
)

// StatusRequest asks for the current counter of (identifier, endpoint) under a class preset.
type StatusRequest struct {
	Identifier string
	Endpoint   string
	Class      EndpointClass
}

func (r *StatusRequest) Normalize() {
	if r == nil {
		return
	}
	r.Identifier = strings.TrimSpace(r.Identifier)
	r.Endpoint = strings.TrimSpace(r.Endpoint)
	r.Class = EndpointClass(strings.TrimSpace(strings.ToLower(string(r.Class))))
}

// Follows validation order: Size -> Required -> Syntax -> Semantic.
func (r *StatusRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := validateTarget(r.Identifier, r.Endpoint); err != nil {
		return err
	}
	if r.Class == "" {
		return dErrors.New(dErrors.CodeValidation, "class is required")
	}
	if !r.Class.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown class: "+string(r.Class))
	}
	return nil
}

// ClearRequest asks to delete the counter of (identifier, endpoint).
type ClearRequest struct {
	Identifier string
	Endpoint   string
}

func (r *ClearRequest) Normalize() {
	if r == nil {
		return
	}
	r.Identifier = strings.TrimSpace(r.Identifier)
	r.Endpoint = strings.TrimSpace(r.Endpoint)
}

func (r *ClearRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return validateTarget(r.Identifier, r.Endpoint)
}

func validateTarget(identifier, endpoint string) error {
	if len(identifier) > MaxIdentifierLength {
		return dErrors.New(dErrors.CodeValidation, "identifier must be 255 characters or less")
	}
	if len(endpoint) > MaxEndpointLength {
		return dErrors.New(dErrors.CodeValidation, "endpoint must be 128 characters or less")
	}
	if identifier == "" {
		return dErrors.New(dErrors.CodeValidation, "identifier is required")
	}
	if endpoint == "" {
		return dErrors.New(dErrors.CodeValidation, "endpoint is required")
	}
	return nil
}
