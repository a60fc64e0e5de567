package authsync

import "strings"

// Identity is the resolved, role-bearing representation of the signed in actor.
// It is replaced wholesale on every successful resolution.
type Identity struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Name       string     `json:"name,omitempty"`
	Avatar     string     `json:"avatar,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	Role       Role       `json:"role"`
	AdminLevel AdminLevel `json:"admin_level,omitempty"`
	Verified   bool       `json:"verified"`
}

// IsAdmin reports whether the identity carries the admin role.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// Clone returns a copy safe to hand to readers.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// WorkerStats is aggregate data attached to worker identities. It is forwarded
// to presentation without interpretation.
type WorkerStats map[string]any

// Clone returns a shallow copy of the stats payload.
func (w WorkerStats) Clone() WorkerStats {
	if w == nil {
		return nil
	}
	out := make(WorkerStats, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// ContextUser is the user block returned by the identity backend.
type ContextUser struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	Role      string `json:"role"`
	Verified  bool   `json:"verified"`
	AvatarURL string `json:"avatar_url"`
	Phone     string `json:"phone"`
}

// IdentityContext is the payload returned by IdentityResolver.
type IdentityContext struct {
	User        *ContextUser `json:"user"`
	AdminLevel  string       `json:"admin_level,omitempty"`
	WorkerStats WorkerStats  `json:"worker_stats,omitempty"`
}

// Empty reports whether the context lacks a materialized profile.
func (c *IdentityContext) Empty() bool {
	return c == nil || c.User == nil || strings.TrimSpace(c.User.ID) == ""
}

// ToIdentity maps the backend payload into an Identity. Unknown roles are
// rejected so an unexpected payload never grants access.
func (c *IdentityContext) ToIdentity(session *Session) (*Identity, WorkerStats, error) {
	if c.Empty() {
		return nil, nil, ErrEmptyContext
	}

	role, ok := ParseRole(c.User.Role)
	if !ok {
		return nil, nil, ErrInvalidRole.Clone().WithMetadata(map[string]any{
			"role":    c.User.Role,
			"user_id": c.User.ID,
		})
	}

	email := c.User.Email
	if email == "" && session != nil {
		email = session.Email
	}

	identity := &Identity{
		ID:       c.User.ID,
		Email:    email,
		Name:     c.User.FullName,
		Avatar:   c.User.AvatarURL,
		Phone:    c.User.Phone,
		Role:     role,
		Verified: c.User.Verified,
	}

	if role == RoleAdmin {
		level, ok := ParseAdminLevel(c.AdminLevel)
		if !ok {
			level = AdminLevelSupport
		}
		identity.AdminLevel = level
	}

	var stats WorkerStats
	if role == RoleWorker {
		stats = c.WorkerStats.Clone()
	}

	return identity, stats, nil
}

// ProfileFields holds the mutable display attributes of an identity. Nil
// fields are left untouched.
type ProfileFields struct {
	Name   *string `json:"name,omitempty"`
	Avatar *string `json:"avatar,omitempty"`
	Phone  *string `json:"phone,omitempty"`
}

// IsEmpty reports whether no field is set.
func (p ProfileFields) IsEmpty() bool {
	return p.Name == nil && p.Avatar == nil && p.Phone == nil
}
