package notification

import "github.com/goliatone/go-errors"

const (
	TextCodeFetchFailed        = "NOTIFICATION_FETCH_FAILED"
	TextCodeUpdateFailed       = "NOTIFICATION_UPDATE_FAILED"
	TextCodeSubscriptionFailed = "NOTIFICATION_SUBSCRIPTION_FAILED"
	TextCodeNoOwner            = "NOTIFICATION_NO_OWNER"
)

// ErrFetchFailed is returned when the snapshot load fails. Held records are kept.
var ErrFetchFailed = errors.New("failed to load notifications", errors.CategoryExternal).
	WithTextCode(TextCodeFetchFailed).
	WithCode(errors.CodeInternal)

// ErrUpdateFailed is returned when the store rejects a read-state change.
var ErrUpdateFailed = errors.New("failed to update notification", errors.CategoryOperation).
	WithTextCode(TextCodeUpdateFailed).
	WithCode(errors.CodeInternal)

// ErrSubscriptionFailed is returned or reported when the live channel fails.
var ErrSubscriptionFailed = errors.New("notification live channel failed", errors.CategoryExternal).
	WithTextCode(TextCodeSubscriptionFailed).
	WithCode(errors.CodeInternal)

// ErrNoOwner is returned by operations on a feed that is not bound to an identity.
var ErrNoOwner = errors.New("notification feed has no owner", errors.CategoryValidation).
	WithTextCode(TextCodeNoOwner).
	WithCode(errors.CodeBadRequest)

func wrap(base *errors.Error, err error, meta map[string]any) *errors.Error {
	clone := base.Clone()
	clone.Source = err
	if err != nil {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["error"] = err.Error()
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}
