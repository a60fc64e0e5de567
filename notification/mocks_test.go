package notification_test

import (
	"context"
	"sync"

	"github.com/goliatone/go-auth-sync/notification"
	"github.com/stretchr/testify/mock"
)

// MockStore implements notification.Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) List(ctx context.Context, ownerID string, limit int) ([]notification.Record, error) {
	args := m.Called(ctx, ownerID, limit)
	records, _ := args.Get(0).([]notification.Record)
	return records, args.Error(1)
}

func (m *MockStore) MarkRead(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) MarkAllRead(ctx context.Context, ownerID string) error {
	args := m.Called(ctx, ownerID)
	return args.Error(0)
}

// fakeLive is an in-memory LiveSource that lets tests push records.
type fakeLive struct {
	mu      sync.Mutex
	opens   []string
	open    map[string]notification.LiveHandlers
	openErr error
}

func newFakeLive() *fakeLive {
	return &fakeLive{open: map[string]notification.LiveHandlers{}}
}

func (l *fakeLive) Open(_ context.Context, ownerID string, handlers notification.LiveHandlers) (notification.Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opens = append(l.opens, ownerID)
	if l.openErr != nil {
		return nil, l.openErr
	}
	l.open[ownerID] = handlers
	return notification.SubscriptionFunc(func() {
		l.mu.Lock()
		delete(l.open, ownerID)
		l.mu.Unlock()
	}), nil
}

func (l *fakeLive) Push(ownerID string, r notification.Record) bool {
	l.mu.Lock()
	h, ok := l.open[ownerID]
	l.mu.Unlock()
	if ok {
		h.Deliver(r)
	}
	return ok
}

func (l *fakeLive) Drop(ownerID string, err error) {
	l.mu.Lock()
	h, ok := l.open[ownerID]
	delete(l.open, ownerID)
	l.mu.Unlock()
	if ok {
		h.Dropped(err)
	}
}

func (l *fakeLive) Handlers(ownerID string) notification.LiveHandlers {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open[ownerID]
}

func (l *fakeLive) IsOpen(ownerID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.open[ownerID]
	return ok
}

func (l *fakeLive) Opens() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.opens...)
}
