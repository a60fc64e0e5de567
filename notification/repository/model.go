package repository

import (
	"time"

	"github.com/goliatone/go-auth-sync/notification"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// NotificationModel is the Bun model for notifications.
type NotificationModel struct {
	bun.BaseModel `bun:"table:notifications"`

	ID        uuid.UUID      `bun:"id,pk,nullzero,type:uuid"`
	OwnerID   string         `bun:"owner_id,notnull"`
	Title     string         `bun:"title,notnull"`
	Body      string         `bun:"body"`
	Metadata  map[string]any `bun:"metadata,type:jsonb"`
	Read      bool           `bun:"read,notnull"`
	ReadAt    *time.Time     `bun:"read_at"`
	CreatedAt time.Time      `bun:"created_at,notnull"`
}

// NewNotification is the producer side payload for Publish. A non empty
// DedupKey makes the id deterministic for the owner, so producers can retry
// without creating duplicates.
type NewNotification struct {
	OwnerID  string         `json:"owner_id"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Metadata map[string]any `json:"metadata,omitempty"`
	DedupKey string         `json:"dedup_key,omitempty"`
}

func (m *NotificationModel) toRecord() notification.Record {
	r := notification.Record{
		ID:        m.ID.String(),
		OwnerID:   m.OwnerID,
		Title:     m.Title,
		Body:      m.Body,
		Metadata:  m.Metadata,
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
	}
	return r.Clone()
}

func toRecords(models []*NotificationModel) []notification.Record {
	out := make([]notification.Record, 0, len(models))
	for _, m := range models {
		out = append(out, m.toRecord())
	}
	return out
}
