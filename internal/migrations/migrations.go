// Package migrations applies embedded SQL migrations with bun/migrate.
// Files live under <root>/<dialect>/ and follow bun's
// <version>_<name>.up.sql naming.
package migrations

import (
	"context"
	"io/fs"
	"path"

	"github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/migrate"
)

const TextCodeUnsupportedDialect = "MIGRATION_DIALECT_UNSUPPORTED"

var ErrUnsupportedDialect = errors.New("no migrations for database dialect", errors.CategoryInternal).
	WithTextCode(TextCodeUnsupportedDialect).
	WithCode(errors.CodeInternal)

// DialectDir maps a bun dialect to the directory holding its files.
func DialectDir(name dialect.Name) (string, error) {
	switch name {
	case dialect.SQLite:
		return "sqlite", nil
	case dialect.PG:
		return "postgres", nil
	}
	return "", ErrUnsupportedDialect.Clone().WithMetadata(map[string]any{
		"dialect": name.String(),
	})
}

// Discover registers the migrations found under root for the dialect on set.
func Discover(set *migrate.Migrations, fsys fs.FS, root string, name dialect.Name) error {
	dir, err := DialectDir(name)
	if err != nil {
		return err
	}
	sub, err := fs.Sub(fsys, path.Join(root, dir))
	if err != nil {
		return err
	}
	return set.Discover(sub)
}

// Run applies the pending migrations of set while holding the migration lock.
// Applied migrations are skipped, so Run is safe to call on every start.
func Run(ctx context.Context, db *bun.DB, set *migrate.Migrations) (group *migrate.MigrationGroup, err error) {
	migrator := migrate.NewMigrator(db, set)
	if err := migrator.Init(ctx); err != nil {
		return nil, err
	}
	if err := migrator.Lock(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if uerr := migrator.Unlock(ctx); uerr != nil && err == nil {
			err = uerr
		}
	}()

	return migrator.Migrate(ctx)
}
