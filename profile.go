package authsync

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is used to parse phone numbers without a country prefix.
const DefaultPhoneRegion = "US"

// IdentitySource exposes the resolved identity and a way to re-resolve it.
// *Engine implements it.
type IdentitySource interface {
	CurrentIdentity() *Identity
	Refresh(ctx context.Context) error
}

// UpdateProfileMessage asks to change the display attributes of an identity.
// An empty IdentityID targets the currently resolved identity.
type UpdateProfileMessage struct {
	IdentityID string  `json:"identity_id,omitempty"`
	Name       *string `json:"name,omitempty"`
	Avatar     *string `json:"avatar,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Region     string  `json:"region,omitempty"`
}

func (m UpdateProfileMessage) Type() string { return "session.profile.update" }

// Validate checks the fields that are present.
func (m UpdateProfileMessage) Validate() error {
	err := validation.ValidateStruct(&m,
		validation.Field(&m.Name, validation.By(notBlank), validation.Length(1, 200)),
		validation.Field(&m.Avatar, validation.Length(0, 2048), is.URL),
		validation.Field(&m.Phone, validation.By(validPhone(m.region()))),
	)
	if err == nil {
		return nil
	}

	fields := map[string]string{}
	if verrs, ok := err.(validation.Errors); ok {
		for field, ferr := range verrs {
			fields[field] = ferr.Error()
		}
	} else {
		fields["form"] = err.Error()
	}

	verr := errors.NewValidationFromMap("invalid profile fields", fields)
	verr.TextCode = TextCodeValidation
	verr.Code = errors.CodeBadRequest
	return verr
}

// Fields returns the normalized ProfileFields. Phone numbers are formatted
// as E.164.
func (m UpdateProfileMessage) Fields() ProfileFields {
	fields := ProfileFields{}
	if m.Name != nil {
		name := strings.TrimSpace(*m.Name)
		fields.Name = &name
	}
	if m.Avatar != nil {
		avatar := strings.TrimSpace(*m.Avatar)
		fields.Avatar = &avatar
	}
	if m.Phone != nil {
		phone := normalizePhone(*m.Phone, m.region())
		fields.Phone = &phone
	}
	return fields
}

func (m UpdateProfileMessage) region() string {
	if m.Region == "" {
		return DefaultPhoneRegion
	}
	return strings.ToUpper(m.Region)
}

var (
	errBlank = stderrors.New("cannot be blank")
	errPhone = stderrors.New("must be a valid phone number")
)

func notBlank(value any) error {
	s, ok := value.(*string)
	if !ok || s == nil {
		return nil
	}
	if strings.TrimSpace(*s) == "" {
		return errBlank
	}
	return nil
}

func validPhone(region string) validation.RuleFunc {
	return func(value any) error {
		s, ok := value.(*string)
		if !ok || s == nil || strings.TrimSpace(*s) == "" {
			// an empty phone clears the stored number
			return nil
		}
		num, err := phonenumbers.Parse(*s, region)
		if err != nil || !phonenumbers.IsValidNumber(num) {
			return errPhone
		}
		return nil
	}
}

func normalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

// UpdateProfileHandler persists profile changes and then re-resolves the
// identity so the engine publishes the server's view. The local identity is
// never patched directly.
type UpdateProfileHandler struct {
	source       IdentitySource
	mutator      ProfileMutator
	logger       Logger
	activitySink ActivitySink
	region       string
	now          func() time.Time
}

// ProfileHandlerOption customizes UpdateProfileHandler.
type ProfileHandlerOption func(*UpdateProfileHandler)

// WithProfileLogger overrides the handler logger.
func WithProfileLogger(logger Logger) ProfileHandlerOption {
	return func(h *UpdateProfileHandler) {
		if logger != nil {
			_, h.logger = ResolveLogger("authsync.profile", nil, logger)
		}
	}
}

// WithProfileActivitySink records profile updates.
func WithProfileActivitySink(sink ActivitySink) ProfileHandlerOption {
	return func(h *UpdateProfileHandler) {
		h.activitySink = normalizeActivitySink(sink)
	}
}

// WithProfileRegion sets the phone region used when a message has none.
func WithProfileRegion(region string) ProfileHandlerOption {
	return func(h *UpdateProfileHandler) {
		h.region = region
	}
}

// NewUpdateProfileHandler builds the handler.
func NewUpdateProfileHandler(source IdentitySource, mutator ProfileMutator, opts ...ProfileHandlerOption) *UpdateProfileHandler {
	h := &UpdateProfileHandler{
		source:       source,
		mutator:      mutator,
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
	_, h.logger = ResolveLogger("authsync.profile", nil, nil)
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *UpdateProfileHandler) Execute(ctx context.Context, msg UpdateProfileMessage) error {
	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.CategoryOperation, "context cancelled during profile update")
	default:
		return h.execute(ctx, msg)
	}
}

func (h *UpdateProfileHandler) execute(ctx context.Context, msg UpdateProfileMessage) error {
	identityID := msg.IdentityID
	if identityID == "" {
		if identity, ok := IdentityFromContext(ctx); ok {
			identityID = identity.ID
		} else if current := h.source.CurrentIdentity(); current != nil {
			identityID = current.ID
		} else {
			return ErrNoIdentity
		}
	}

	if msg.Region == "" {
		msg.Region = h.region
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	fields := msg.Fields()
	if fields.IsEmpty() {
		return nil
	}

	if err := h.mutator.MutateProfile(ctx, identityID, fields); err != nil {
		h.logger.Error("profile mutation failed", "error", err, "identity_id", identityID)
		return wrapFailure(ErrMutationFailed, err, map[string]any{
			"identity_id": identityID,
		})
	}

	if err := h.activitySink.Record(ctx, ActivityEvent{
		EventType:  ActivityEventProfileUpdated,
		IdentityID: identityID,
		OccurredAt: h.now(),
	}); err != nil {
		h.logger.Warn("profile activity sink error", "error", err)
	}

	if err := h.source.Refresh(ctx); err != nil {
		h.logger.Warn("profile updated but refresh failed", "error", err, "identity_id", identityID)
		return err
	}
	return nil
}
