package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-auth-sync/internal/migrations"
	notifications "github.com/goliatone/go-auth-sync/notification/repository"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// Manager groups the repositories that share a database.
type Manager struct {
	db            *bun.DB
	profiles      *Profiles
	notifications *notifications.Store
}

// NewManager builds the repositories over db.
func NewManager(db *bun.DB, opts ...notifications.StoreOption) *Manager {
	return &Manager{
		db:            db,
		profiles:      NewProfiles(db),
		notifications: notifications.NewStore(db, opts...),
	}
}

func (m *Manager) Validate() error {
	if m.profiles == nil {
		return errors.New("repository profiles should be initialized")
	}

	if m.notifications == nil {
		return errors.New("repository notifications should be initialized")
	}

	return nil
}

func (m *Manager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

// Migrate applies the profile and notification migrations for the database
// dialect in one run. Applied versions are recorded in bun_migrations.
func (m *Manager) Migrate(ctx context.Context) error {
	name := m.db.Dialect().Name()
	set := migrate.NewMigrations()
	if err := migrations.Discover(set, migrationsFS, migrationsRoot, name); err != nil {
		return err
	}
	if err := notifications.DiscoverMigrations(set, name); err != nil {
		return err
	}
	_, err := migrations.Run(ctx, m.db, set)
	return err
}

func (m *Manager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m *Manager) Profiles() *Profiles {
	return m.profiles
}

func (m *Manager) Notifications() *notifications.Store {
	return m.notifications
}
