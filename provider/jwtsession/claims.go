package jwtsession

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	authsync "github.com/goliatone/go-auth-sync"
)

// Claims is the access token payload the store understands.
type Claims struct {
	jwt.RegisteredClaims
	UID           string `json:"uid,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
}

// UserID returns the uid claim, falling back to the subject.
func (c *Claims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject
}

func (c *Claims) session(token string) *authsync.Session {
	s := &authsync.Session{
		UserID:         c.UserID(),
		Email:          c.Email,
		EmailConfirmed: c.EmailVerified,
		AccessToken:    token,
	}
	if c.ExpiresAt != nil {
		exp := c.ExpiresAt.Time
		s.ExpiresAt = &exp
	}
	return s
}

// IssueOptions controls Issue.
type IssueOptions struct {
	UserID        string
	Email         string
	EmailVerified bool
	// TTL overrides the store default. Zero uses the default.
	TTL time.Duration
}
