// Package jwtsession is an authsync.SessionStore fed with signed access
// tokens. Each accepted token is turned into a Session and the matching
// lifecycle event is emitted to registered listeners.
package jwtsession

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	authsync "github.com/goliatone/go-auth-sync"
	"github.com/goliatone/go-errors"
)

const (
	TextCodeTokenExpired   = "TOKEN_EXPIRED"
	TextCodeTokenMalformed = "TOKEN_MALFORMED"

	// DefaultTTL is the lifetime of tokens minted by Issue.
	DefaultTTL = time.Hour
)

var (
	ErrTokenExpired = errors.New("token expired", errors.CategoryAuth).
			WithTextCode(TextCodeTokenExpired).
			WithCode(errors.CodeUnauthorized)

	ErrTokenMalformed = errors.New("malformed token", errors.CategoryAuth).
				WithTextCode(TextCodeTokenMalformed).
				WithCode(errors.CodeUnauthorized)
)

// Store implements authsync.SessionStore over HMAC signed tokens.
type Store struct {
	signingKey []byte
	issuer     string
	audience   jwt.ClaimStrings
	ttl        time.Duration
	now        func() time.Time
	logger     authsync.Logger

	// emit serializes state changes with listener delivery so listeners see
	// events in the order the state changed.
	emit sync.Mutex

	mu        sync.Mutex
	session   *authsync.Session
	listeners map[int]authsync.AuthStateListener
	next      int
}

var _ authsync.SessionStore = (*Store)(nil)

// Option customizes Store.
type Option func(*Store)

// WithIssuer requires and stamps the iss claim.
func WithIssuer(issuer string) Option {
	return func(s *Store) {
		s.issuer = issuer
	}
}

// WithAudience requires and stamps the aud claim.
func WithAudience(audience ...string) Option {
	return func(s *Store) {
		s.audience = append(jwt.ClaimStrings(nil), audience...)
	}
}

// WithTTL sets the lifetime of issued tokens.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock injects a clock used for validation and issuing.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger authsync.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			_, s.logger = authsync.ResolveLogger("jwtsession", nil, logger)
		}
	}
}

// New builds a Store that verifies tokens with signingKey.
func New(signingKey []byte, opts ...Option) *Store {
	s := &Store{
		signingKey: signingKey,
		ttl:        DefaultTTL,
		now:        time.Now,
		listeners:  make(map[int]authsync.AuthStateListener),
	}
	_, s.logger = authsync.ResolveLogger("jwtsession", nil, nil)
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Issue mints a signed token for the given user.
func (s *Store) Issue(opts IssueOptions) (string, time.Time, error) {
	if opts.UserID == "" {
		return "", time.Time{}, errors.New("user id is required", errors.CategoryBadInput)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   opts.UserID,
			Issuer:    s.issuer,
			Audience:  s.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UID:           opts.UserID,
		Email:         opts.Email,
		EmailVerified: opts.EmailVerified,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}
	return signed, expiresAt, nil
}

// Validate parses and verifies a token.
func (s *Store) Validate(token string) (*Claims, error) {
	parserOptions := []jwt.ParserOption{jwt.WithTimeFunc(s.now)}
	if s.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(s.issuer))
	}
	if len(s.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(s.audience...))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, parserOptions...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode).
			WithCode(ErrTokenMalformed.Code)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID() == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// SetToken accepts a new access token. The first token for a user emits
// SIGNED_IN, a replacement for the same user emits TOKEN_REFRESHED, or
// USER_UPDATED when the email or its confirmation changed.
func (s *Store) SetToken(ctx context.Context, token string) (*authsync.Session, error) {
	claims, err := s.Validate(token)
	if err != nil {
		s.logger.Warn("rejected access token", "error", err)
		return nil, err
	}
	next := claims.session(token)

	s.emit.Lock()
	defer s.emit.Unlock()

	s.mu.Lock()
	prev := s.session
	s.session = next
	s.mu.Unlock()

	event := authsync.EventSignedIn
	switch {
	case prev == nil || prev.UserID != next.UserID:
	case prev.Email != next.Email || prev.EmailConfirmed != next.EmailConfirmed:
		event = authsync.EventUserUpdated
	default:
		event = authsync.EventTokenRefreshed
	}

	s.logger.Debug("session token accepted", "event", event, "user_id", next.UserID)
	s.notify(event, next)
	return copySession(next), nil
}

// GetSession implements authsync.SessionStore. An expired session is
// reported as no session.
func (s *Store) GetSession(ctx context.Context) (*authsync.Session, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.session.Expired(s.now()) {
		return nil, nil
	}
	return copySession(s.session), nil
}

// OnAuthStateChange implements authsync.SessionStore.
func (s *Store) OnAuthStateChange(listener authsync.AuthStateListener) authsync.Subscription {
	if listener == nil {
		return authsync.SubscriptionFunc(nil)
	}

	s.mu.Lock()
	id := s.next
	s.next++
	s.listeners[id] = listener
	s.mu.Unlock()

	return authsync.SubscriptionFunc(func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	})
}

// SignOut implements authsync.SessionStore.
func (s *Store) SignOut(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.emit.Lock()
	defer s.emit.Unlock()

	s.mu.Lock()
	had := s.session != nil
	s.session = nil
	s.mu.Unlock()

	if had {
		s.notify(authsync.EventSignedOut, nil)
	}
	return nil
}

// Listeners returns the number of registered listeners.
func (s *Store) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *Store) notify(event authsync.AuthEvent, session *authsync.Session) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]authsync.AuthStateListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(event, copySession(session))
	}
}

func copySession(s *authsync.Session) *authsync.Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.ExpiresAt != nil {
		exp := *s.ExpiresAt
		c.ExpiresAt = &exp
	}
	return &c
}
