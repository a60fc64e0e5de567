// Package repository persists notifications with Bun and fans new ones out
// to live subscribers.
package repository

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-auth-sync/internal/logging"
	"github.com/goliatone/go-auth-sync/notification"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Publisher pushes a stored record to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, record notification.Record) error
}

// Store implements notification.Store on top of a Bun database.
type Store struct {
	repository.Repository[*NotificationModel]
	db        *bun.DB
	publisher Publisher
	logger    glog.Logger
	now       func() time.Time
}

var _ notification.Store = (*Store)(nil)

// StoreOption customizes Store.
type StoreOption func(*Store)

// WithPublisher sets where new notifications are pushed after insert.
func WithPublisher(p Publisher) StoreOption {
	return func(s *Store) {
		s.publisher = p
	}
}

// WithStoreLogger sets the store logger.
func WithStoreLogger(logger glog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			_, s.logger = logging.Resolve("notification.repository", nil, logger)
		}
	}
}

// WithStoreClock injects a clock.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore builds a Store.
func NewStore(db *bun.DB, opts ...StoreOption) *Store {
	repo := repository.NewRepository[*NotificationModel](db, repository.ModelHandlers[*NotificationModel]{
		NewRecord: func() *NotificationModel { return &NotificationModel{} },
		GetID: func(m *NotificationModel) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			return m.ID
		},
		SetID: func(m *NotificationModel, id uuid.UUID) {
			if m != nil {
				m.ID = id
			}
		},
	})

	s := &Store{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
	_, s.logger = logging.Resolve("notification.repository", nil, nil)

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// List implements notification.Store.
func (s *Store) List(ctx context.Context, ownerID string, limit int) ([]notification.Record, error) {
	if limit <= 0 || limit > notification.DefaultLimit {
		limit = notification.DefaultLimit
	}

	var models []*NotificationModel
	err := s.db.NewSelect().
		Model(&models).
		Where("owner_id = ?", ownerID).
		OrderExpr("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return []notification.Record{}, nil
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to list notifications")
	}
	return toRecords(models), nil
}

// MarkRead implements notification.Store.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return errors.New("invalid notification id", errors.CategoryBadInput).
			WithCode(errors.CodeBadRequest).
			WithMetadata(map[string]any{"id": id})
	}

	now := s.now()
	res, err := s.db.NewUpdate().
		Model((*NotificationModel)(nil)).
		Set("read = ?", true).
		Set("read_at = COALESCE(read_at, ?)", now).
		Where("id = ?", parsed.String()).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to mark notification read")
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.NewRecordNotFound().WithMetadata(map[string]any{"id": id})
	}
	return nil
}

// MarkAllRead implements notification.Store.
func (s *Store) MarkAllRead(ctx context.Context, ownerID string) error {
	_, err := s.db.NewUpdate().
		Model((*NotificationModel)(nil)).
		Set("read = ?", true).
		Set("read_at = ?", s.now()).
		Where("owner_id = ?", ownerID).
		Where("read = ?", false).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to mark notifications read")
	}
	return nil
}

// Publish stores a new notification and pushes it to live subscribers.
// Publishing again with the same DedupKey returns the stored record.
func (s *Store) Publish(ctx context.Context, n NewNotification) (notification.Record, error) {
	if strings.TrimSpace(n.OwnerID) == "" || strings.TrimSpace(n.Title) == "" {
		return notification.Record{}, errors.New("owner and title are required", errors.CategoryValidation).
			WithCode(errors.CodeBadRequest)
	}

	id := uuid.New()
	if n.DedupKey != "" {
		derived, err := hashid.NewUUID(n.OwnerID + ":" + n.DedupKey)
		if err != nil {
			return notification.Record{}, errors.Wrap(err, errors.CategoryInternal, "failed to derive notification id")
		}
		id = derived

		existing := &NotificationModel{}
		err = s.db.NewSelect().Model(existing).Where("id = ?", id.String()).Limit(1).Scan(ctx)
		if err == nil {
			s.logger.Debug("notification already published", "id", id, "owner_id", n.OwnerID)
			return existing.toRecord(), nil
		}
		if !repository.IsRecordNotFound(err) {
			return notification.Record{}, errors.Wrap(err, errors.CategoryInternal, "failed to look up notification")
		}
	}

	meta := n.Metadata
	if meta == nil {
		meta = map[string]any{}
	}

	model, err := s.Repository.CreateTx(ctx, s.db, &NotificationModel{
		ID:        id,
		OwnerID:   n.OwnerID,
		Title:     n.Title,
		Body:      n.Body,
		Metadata:  meta,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return notification.Record{}, errors.Wrap(err, errors.CategoryConflict, "could not create notification")
	}

	record := model.toRecord()
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, record); err != nil {
			// stored records show up on the next snapshot load
			s.logger.Warn("failed to publish notification", "error", err, "id", record.ID)
		}
	}
	return record, nil
}
