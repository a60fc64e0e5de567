package authsync

import (
	stderrors "errors"
	"fmt"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeTransientResolution = "IDENTITY_RESOLUTION_TRANSIENT"
	TextCodeTerminalResolution  = "IDENTITY_RESOLUTION_TERMINAL"
	TextCodeEmptyContext        = "IDENTITY_CONTEXT_EMPTY"
	TextCodeInvalidRole         = "INVALID_ROLE"
	TextCodeMutationFailed      = "PROFILE_MUTATION_FAILED"
	TextCodeValidation          = "PROFILE_VALIDATION_FAILED"
	TextCodeInvalidTransition   = "INVALID_SYNC_STATE_TRANSITION"
	TextCodeEngineStopped       = "SESSION_ENGINE_STOPPED"
	TextCodeNoIdentity          = "NO_IDENTITY"
)

// ErrTransientResolution wraps a resolver failure that will be retried.
var ErrTransientResolution = errors.New("identity resolution failed", errors.CategoryOperation).
	WithTextCode(TextCodeTransientResolution).
	WithCode(errors.CodeInternal)

// ErrTerminalResolution is reported once the retry budget is exhausted.
var ErrTerminalResolution = errors.New("identity resolution abandoned", errors.CategoryAuth).
	WithTextCode(TextCodeTerminalResolution).
	WithCode(errors.CodeUnauthorized)

// ErrEmptyContext is returned when a context has no materialized profile.
var ErrEmptyContext = errors.New("identity context is empty", errors.CategoryNotFound).
	WithTextCode(TextCodeEmptyContext).
	WithCode(errors.CodeNotFound)

// ErrInvalidRole is returned when the backend reports an unknown role.
var ErrInvalidRole = errors.New("identity has an unknown or invalid role", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidRole).
	WithCode(errors.CodeForbidden)

// ErrMutationFailed is returned when the profile backend rejects a change.
var ErrMutationFailed = errors.New("profile mutation failed", errors.CategoryOperation).
	WithTextCode(TextCodeMutationFailed).
	WithCode(errors.CodeInternal)

// ErrValidation is returned when profile fields fail validation.
var ErrValidation = errors.New("invalid profile fields", errors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(errors.CodeBadRequest)

// ErrInvalidTransition is returned when a sync state change is not allowed.
var ErrInvalidTransition = errors.New("invalid sync state transition", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(errors.CodeBadRequest)

// ErrEngineStopped is returned by operations on a stopped engine.
var ErrEngineStopped = errors.New("session engine stopped", errors.CategoryOperation).
	WithTextCode(TextCodeEngineStopped).
	WithCode(errors.CodeInternal)

// ErrNoIdentity is returned by operations that need a resolved identity.
var ErrNoIdentity = errors.New("no resolved identity", errors.CategoryAuth).
	WithTextCode(TextCodeNoIdentity).
	WithCode(errors.CodeUnauthorized)

// HasTextCode reports whether err is a rich error carrying the text code.
func HasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

// ProviderError captures a failed call to the authentication or identity backend.
type ProviderError struct {
	Provider  string
	Operation string
	Status    int
	Err       error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}

	scope := "provider"
	if e.Provider != "" && e.Operation != "" {
		scope = fmt.Sprintf("%s %s", e.Provider, e.Operation)
	} else if e.Operation != "" {
		scope = e.Operation
	}

	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}
	return fmt.Sprintf("%s failed", scope)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ProviderError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{}
	if e.Provider != "" {
		meta["provider"] = e.Provider
	}
	if e.Operation != "" {
		meta["operation"] = e.Operation
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	return meta
}

// wrapFailure clones a sentinel and attaches the source error and metadata.
func wrapFailure(base *errors.Error, err error, meta map[string]any) error {
	clone := base.Clone()
	if clone == nil {
		clone = base
	}

	merged := map[string]any{}
	var perr *ProviderError
	if stderrors.As(err, &perr) && perr != nil {
		for k, v := range perr.Metadata() {
			merged[k] = v
		}
	} else if err != nil {
		merged["error"] = err.Error()
	}
	for k, v := range meta {
		merged[k] = v
	}

	if err != nil {
		clone.Source = err
	}
	if len(merged) > 0 {
		clone.WithMetadata(merged)
	}
	return clone
}
