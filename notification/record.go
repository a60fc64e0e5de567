// Package notification keeps the locally held notification set of an identity
// in sync with the notification backend: a snapshot load followed by a live,
// at-least-once channel of inserts.
package notification

import (
	"context"
	"time"
)

// DefaultLimit is the maximum number of records fetched by a snapshot load.
const DefaultLimit = 50

// Record is a single notification owned by an identity.
type Record struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"owner_id"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"created_at"`
}

// Clone returns a copy that does not share metadata with r.
func (r Record) Clone() Record {
	if r.Metadata != nil {
		meta := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		r.Metadata = meta
	}
	return r
}

// FeedState is the published view of a Feed.
type FeedState struct {
	OwnerID string   `json:"owner_id,omitempty"`
	Records []Record `json:"records"`
	Live    bool     `json:"live"`
	Loading bool     `json:"loading"`
	Unread  int      `json:"unread"`
}

// Store is the durable notification backend.
type Store interface {
	// List returns up to limit records for ownerID, newest first.
	List(ctx context.Context, ownerID string, limit int) ([]Record, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context, ownerID string) error
}

// Subscription is an open live channel.
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

// LiveHandlers receive live channel callbacks. OnDrop is called at most once
// when the channel stops delivering for a reason other than Unsubscribe.
type LiveHandlers struct {
	OnInsert func(Record)
	OnDrop   func(error)
}

// Deliver calls OnInsert if set.
func (h LiveHandlers) Deliver(r Record) {
	if h.OnInsert != nil {
		h.OnInsert(r)
	}
}

// Dropped calls OnDrop if set.
func (h LiveHandlers) Dropped(err error) {
	if h.OnDrop != nil {
		h.OnDrop(err)
	}
}

// LiveSource opens live channels scoped to an owner.
type LiveSource interface {
	Open(ctx context.Context, ownerID string, handlers LiveHandlers) (Subscription, error)
}
