package repository

import (
	"context"
	"sync"

	"github.com/goliatone/go-auth-sync/internal/logging"
	"github.com/goliatone/go-auth-sync/notification"
	"github.com/goliatone/go-logger/glog"
)

const hubBuffer = 64

// Hub is an in-process notification.LiveSource keyed by owner. Store
// publishes into it after every insert.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int]*hubSub
	next   int
	logger glog.Logger
}

type hubSub struct {
	ch   chan notification.Record
	stop chan struct{}
	once sync.Once
}

func (s *hubSub) close() {
	s.once.Do(func() { close(s.stop) })
}

var (
	_ notification.LiveSource = (*Hub)(nil)
	_ Publisher               = (*Hub)(nil)
)

// NewHub builds an empty hub.
func NewHub(logger glog.Logger) *Hub {
	_, logger = logging.Resolve("notification.hub", nil, logger)
	return &Hub{
		subs:   make(map[string]map[int]*hubSub),
		logger: logger,
	}
}

// Open registers handlers for ownerID until the returned subscription is
// released or ctx is done. A done ctx is reported to handlers as a drop.
func (h *Hub) Open(ctx context.Context, ownerID string, handlers notification.LiveHandlers) (notification.Subscription, error) {
	if ownerID == "" {
		return nil, notification.ErrNoOwner
	}

	sub := &hubSub{
		ch:   make(chan notification.Record, hubBuffer),
		stop: make(chan struct{}),
	}

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[ownerID] == nil {
		h.subs[ownerID] = make(map[int]*hubSub)
	}
	h.subs[ownerID][id] = sub
	h.mu.Unlock()

	remove := func() {
		h.mu.Lock()
		if owned, ok := h.subs[ownerID]; ok {
			delete(owned, id)
			if len(owned) == 0 {
				delete(h.subs, ownerID)
			}
		}
		h.mu.Unlock()
		sub.close()
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				select {
				case <-sub.stop:
					return
				default:
				}
				remove()
				handlers.Dropped(ctx.Err())
				return
			case <-sub.stop:
				return
			case r := <-sub.ch:
				handlers.Deliver(r)
			}
		}
	}()

	return notification.SubscriptionFunc(remove), nil
}

// Publish delivers record to every subscriber of its owner. Slow
// subscribers miss the record and pick it up on their next snapshot load.
func (h *Hub) Publish(_ context.Context, record notification.Record) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, sub := range h.subs[record.OwnerID] {
		select {
		case sub.ch <- record.Clone():
		default:
			h.logger.Warn("dropping live notification for slow subscriber", "owner_id", record.OwnerID, "subscriber", id, "id", record.ID)
		}
	}
	return nil
}

// Subscribers returns the number of open channels for ownerID.
func (h *Hub) Subscribers(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[ownerID])
}
