package repository

import (
	"context"

	"github.com/goliatone/go-auth-sync/internal/migrations"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/migrate"
)

const migrationsRoot = "data/sql/migrations"

// DiscoverMigrations adds the notifications table migrations for the dialect
// to set.
func DiscoverMigrations(set *migrate.Migrations, name dialect.Name) error {
	return migrations.Discover(set, migrationsFS, migrationsRoot, name)
}

// Migrate applies the notifications migrations on their own. Services that
// share the database with profiles run them through repository.Manager.
func Migrate(ctx context.Context, db *bun.DB) error {
	set := migrate.NewMigrations()
	if err := DiscoverMigrations(set, db.Dialect().Name()); err != nil {
		return err
	}
	_, err := migrations.Run(ctx, db, set)
	return err
}
