// Package repository stores the profiles that identities are resolved from.
package repository

import (
	"context"
	"strings"
	"time"

	authsync "github.com/goliatone/go-auth-sync"
	"github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Profiles implements authsync.IdentityResolver and authsync.ProfileMutator
// using Bun.
type Profiles struct {
	repository.Repository[*ProfileModel]
	db  *bun.DB
	now func() time.Time
}

var (
	_ authsync.IdentityResolver = (*Profiles)(nil)
	_ authsync.ProfileMutator   = (*Profiles)(nil)
)

// NewProfiles creates the profile repository.
func NewProfiles(db *bun.DB) *Profiles {
	repo := repository.NewRepository[*ProfileModel](db, repository.ModelHandlers[*ProfileModel]{
		NewRecord: func() *ProfileModel { return &ProfileModel{} },
		GetID: func(p *ProfileModel) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *ProfileModel, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
	})

	return &Profiles{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
}

// Provision creates a profile. Without an id one is derived from the email
// so provisioning twice for the same address lands on the same row.
func (r *Profiles) Provision(ctx context.Context, profile *ProfileModel) (*ProfileModel, error) {
	return r.ProvisionTx(ctx, r.db, profile)
}

// ProvisionTx is Provision inside tx.
func (r *Profiles) ProvisionTx(ctx context.Context, tx bun.IDB, profile *ProfileModel) (*ProfileModel, error) {
	if profile == nil {
		return nil, errors.New("profile is required", errors.CategoryBadInput)
	}
	if _, ok := authsync.ParseRole(profile.Role); !ok {
		return nil, authsync.ErrInvalidRole.Clone().WithMetadata(map[string]any{"role": profile.Role})
	}

	if profile.ID == uuid.Nil && profile.Email != "" {
		if id, err := hashid.NewUUID(strings.ToLower(profile.Email)); err == nil {
			profile.ID = id
		}
	}
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}

	now := r.now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	created, err := r.Repository.CreateTx(ctx, tx, profile)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryConflict, "could not provision profile")
	}
	return created, nil
}

// SetWorkerStats replaces the stats payload of a worker profile.
func (r *Profiles) SetWorkerStats(ctx context.Context, profileID uuid.UUID, stats map[string]any) error {
	model := &WorkerStatsModel{
		ProfileID: profileID,
		Stats:     stats,
		UpdatedAt: r.now().UTC(),
	}
	_, err := r.db.NewInsert().
		Model(model).
		On("CONFLICT (profile_id) DO UPDATE").
		Set("stats = EXCLUDED.stats").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// ResolveIdentityContext implements authsync.IdentityResolver. A session
// whose profile has not been provisioned yet yields a nil context.
func (r *Profiles) ResolveIdentityContext(ctx context.Context, session *authsync.Session) (*authsync.IdentityContext, error) {
	if session == nil || session.UserID == "" {
		return nil, nil
	}

	profile := &ProfileModel{}
	err := r.db.NewSelect().
		Model(profile).
		Where("id = ?", session.UserID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	out := &authsync.IdentityContext{
		User: &authsync.ContextUser{
			ID:        profile.ID.String(),
			Email:     profile.Email,
			FullName:  profile.FullName,
			Role:      profile.Role,
			Verified:  profile.Verified,
			AvatarURL: profile.AvatarURL,
			Phone:     profile.Phone,
		},
		AdminLevel: profile.AdminLevel,
	}

	if profile.Role == string(authsync.RoleWorker) {
		stats := &WorkerStatsModel{}
		err := r.db.NewSelect().
			Model(stats).
			Where("profile_id = ?", profile.ID.String()).
			Limit(1).
			Scan(ctx)
		switch {
		case err == nil:
			out.WorkerStats = authsync.WorkerStats(stats.Stats)
		case repository.IsRecordNotFound(err):
			out.WorkerStats = authsync.WorkerStats{}
		default:
			return nil, err
		}
	}

	return out, nil
}

// MutateProfile implements authsync.ProfileMutator.
func (r *Profiles) MutateProfile(ctx context.Context, identityID string, fields authsync.ProfileFields) error {
	if fields.IsEmpty() {
		return nil
	}

	q := r.db.NewUpdate().
		Model((*ProfileModel)(nil)).
		Set("updated_at = ?", r.now().UTC()).
		Where("id = ?", identityID)

	if fields.Name != nil {
		q = q.Set("full_name = ?", *fields.Name)
	}
	if fields.Avatar != nil {
		q = q.Set("avatar_url = ?", *fields.Avatar)
	}
	if fields.Phone != nil {
		q = q.Set("phone = ?", *fields.Phone)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": identityID,
			})
	}
	return nil
}
