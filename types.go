package authsync

import (
	"context"
	"time"
)

// AuthEvent is a session lifecycle event emitted by the authentication provider.
type AuthEvent string

const (
	EventInitialSession AuthEvent = "INITIAL_SESSION"
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
)

// IsValid reports whether the event is one the engine understands.
func (e AuthEvent) IsValid() bool {
	switch e {
	case EventInitialSession, EventSignedIn, EventTokenRefreshed, EventUserUpdated, EventSignedOut:
		return true
	default:
		return false
	}
}

// Session is the raw authentication state owned by the provider.
type Session struct {
	UserID         string
	Email          string
	EmailConfirmed bool
	AccessToken    string
	ExpiresAt      *time.Time
}

// Expired reports whether the session carries an expiry in the past.
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.ExpiresAt == nil {
		return false
	}
	return !now.Before(*s.ExpiresAt)
}

// Subscription is a handle to an open provider callback registration.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a function to the Subscription interface.
type SubscriptionFunc func()

// Unsubscribe implements Subscription.
func (f SubscriptionFunc) Unsubscribe() {
	if f != nil {
		f()
	}
}

// AuthStateListener receives provider events in emission order.
type AuthStateListener func(event AuthEvent, session *Session)

// SessionStore is the authentication provider boundary.
type SessionStore interface {
	// GetSession returns the current session or nil when signed out.
	GetSession(ctx context.Context) (*Session, error)
	// OnAuthStateChange registers a listener for lifecycle events.
	OnAuthStateChange(listener AuthStateListener) Subscription
	// SignOut asks the provider to terminate the session.
	SignOut(ctx context.Context) error
}

// IdentityResolver fetches the identity context for a session. A nil context
// with a nil error means the backend has not provisioned the profile yet.
type IdentityResolver interface {
	ResolveIdentityContext(ctx context.Context, session *Session) (*IdentityContext, error)
}

// IdentityResolverFunc adapts a function to the IdentityResolver interface.
type IdentityResolverFunc func(ctx context.Context, session *Session) (*IdentityContext, error)

// ResolveIdentityContext implements IdentityResolver.
func (f IdentityResolverFunc) ResolveIdentityContext(ctx context.Context, session *Session) (*IdentityContext, error) {
	return f(ctx, session)
}

// ProfileMutator persists profile changes for an identity.
type ProfileMutator interface {
	MutateProfile(ctx context.Context, identityID string, fields ProfileFields) error
}
