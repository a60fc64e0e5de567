// Package redislive carries live notification inserts over Redis pub/sub.
// Each owner has its own channel and payloads are JSON encoded records.
package redislive

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/goliatone/go-auth-sync/internal/logging"
	"github.com/goliatone/go-auth-sync/notification"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix is prepended to the owner id to build the channel name.
const DefaultPrefix = "notifications:"

// ErrSourceClosed is reported to open channels when the source shuts down.
var ErrSourceClosed = errors.New("live source closed", errors.CategoryExternal).
	WithTextCode("LIVE_SOURCE_CLOSED")

// Source implements notification.LiveSource and the repository Publisher
// on top of a Redis client.
type Source struct {
	rdb    redis.UniversalClient
	prefix string
	logger glog.Logger

	mu     sync.Mutex
	open   map[*redis.PubSub]struct{}
	closed bool
}

var _ notification.LiveSource = (*Source)(nil)

// Option customizes Source.
type Option func(*Source)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Source) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithLogger sets the source logger.
func WithLogger(logger glog.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			_, s.logger = logging.Resolve("notification.redis", nil, logger)
		}
	}
}

// New builds a Source over rdb.
func New(rdb redis.UniversalClient, opts ...Option) *Source {
	s := &Source{
		rdb:    rdb,
		prefix: DefaultPrefix,
		open:   make(map[*redis.PubSub]struct{}),
	}
	_, s.logger = logging.Resolve("notification.redis", nil, nil)
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Channel returns the pub/sub channel for ownerID.
func (s *Source) Channel(ownerID string) string {
	return s.prefix + ownerID
}

// Open subscribes to the owner channel. It returns once Redis has confirmed
// the subscription. Cancelling ctx closes the channel and reports a drop.
func (s *Source) Open(ctx context.Context, ownerID string, handlers notification.LiveHandlers) (notification.Subscription, error) {
	if ownerID == "" {
		return nil, notification.ErrNoOwner
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSourceClosed
	}
	s.mu.Unlock()

	ps := s.rdb.Subscribe(ctx, s.Channel(ownerID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Wrap(err, errors.CategoryExternal, "failed to subscribe to notification channel").
			WithMetadata(map[string]any{"owner_id": ownerID})
	}

	s.mu.Lock()
	s.open[ps] = struct{}{}
	s.mu.Unlock()

	stop := make(chan struct{})
	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			s.forget(ps)
			_ = ps.Close()
		})
	}

	msgs := ps.Channel()
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				select {
				case <-stop:
					return
				default:
				}
				release()
				handlers.Dropped(ctx.Err())
				return
			case msg, ok := <-msgs:
				if !ok {
					select {
					case <-stop:
					default:
						s.logger.Warn("notification channel closed", "owner_id", ownerID)
						handlers.Dropped(ErrSourceClosed)
					}
					return
				}

				var record notification.Record
				if err := json.Unmarshal([]byte(msg.Payload), &record); err != nil {
					s.logger.Warn("skipping malformed notification payload", "error", err, "channel", msg.Channel)
					continue
				}
				handlers.Deliver(record)
			}
		}
	}()

	return notification.SubscriptionFunc(release), nil
}

// Publish sends record to its owner channel.
func (s *Source) Publish(ctx context.Context, record notification.Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to encode notification")
	}
	if err := s.rdb.Publish(ctx, s.Channel(record.OwnerID), payload).Err(); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "failed to publish notification").
			WithMetadata(map[string]any{"owner_id": record.OwnerID, "id": record.ID})
	}
	return nil
}

// Close shuts every open channel. Their handlers see a drop.
func (s *Source) Close() error {
	s.mu.Lock()
	s.closed = true
	open := s.open
	s.open = make(map[*redis.PubSub]struct{})
	s.mu.Unlock()

	for ps := range open {
		_ = ps.Close()
	}
	return nil
}

func (s *Source) forget(ps *redis.PubSub) {
	s.mu.Lock()
	delete(s.open, ps)
	s.mu.Unlock()
}
