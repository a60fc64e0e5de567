package notification

import (
	"context"
	"slices"
	"sync"

	"github.com/goliatone/go-auth-sync/internal/broadcast"
	"github.com/goliatone/go-auth-sync/internal/logging"
	"github.com/goliatone/go-logger/glog"
)

// Feed holds the notification set of a single owner. Only the feed writes
// its records; readers get copies.
//
// Every owner switch or Dispose bumps a generation. Async results (snapshot
// loads, store confirmations, live inserts) that belong to an older
// generation are dropped, so records never leak across owners.
type Feed struct {
	store    Store
	live     LiveSource
	limit    int
	logger   glog.Logger
	provider glog.LoggerProvider

	mu          sync.Mutex
	ownerID     string
	records     []Record
	isLive      bool
	loading     bool
	subscribing bool
	sub         Subscription
	generation  uint64

	watchers *broadcast.Broadcaster[FeedState]
}

// FeedOption customizes a Feed.
type FeedOption func(*Feed)

// WithLimit sets the snapshot size. Values outside 1..DefaultLimit are ignored.
func WithLimit(limit int) FeedOption {
	return func(f *Feed) {
		if limit > 0 && limit <= DefaultLimit {
			f.limit = limit
		}
	}
}

// WithLogger sets the feed logger.
func WithLogger(logger glog.Logger) FeedOption {
	return func(f *Feed) {
		if logger != nil {
			f.provider, f.logger = logging.Resolve("notification.feed", nil, logger)
		}
	}
}

// WithLoggerProvider resolves the feed logger from provider.
func WithLoggerProvider(provider glog.LoggerProvider) FeedOption {
	return func(f *Feed) {
		if provider != nil {
			f.provider, f.logger = logging.Resolve("notification.feed", provider, f.logger)
		}
	}
}

// NewFeed builds an unbound feed. live may be nil, in which case Subscribe
// only records the owner.
func NewFeed(store Store, live LiveSource, opts ...FeedOption) *Feed {
	f := &Feed{
		store:    store,
		live:     live,
		limit:    DefaultLimit,
		watchers: broadcast.New[FeedState](),
	}
	f.provider, f.logger = logging.Resolve("notification.feed", nil, nil)

	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}

	f.watchers.Publish(FeedState{Records: []Record{}})
	return f
}

// Load fetches the most recent records for ownerID and replaces the held set.
// On failure the held set is left untouched.
func (f *Feed) Load(ctx context.Context, ownerID string) ([]Record, error) {
	if ownerID == "" {
		return nil, ErrNoOwner
	}

	f.mu.Lock()
	old := f.switchOwnerLocked(ownerID)
	gen := f.generation
	f.loading = true
	f.publishLocked()
	f.mu.Unlock()
	release(old)

	records, err := f.store.List(ctx, ownerID, f.limit)

	f.mu.Lock()
	defer f.mu.Unlock()

	if gen != f.generation {
		f.logger.Debug("discarding stale notification snapshot", "owner_id", ownerID)
		return nil, nil
	}
	f.loading = false

	if err != nil {
		f.publishLocked()
		f.logger.Error("notification snapshot failed", "error", err, "owner_id", ownerID)
		return nil, wrap(ErrFetchFailed, err, map[string]any{"owner_id": ownerID})
	}

	snapshot := make([]Record, 0, min(len(records), f.limit))
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if len(snapshot) == f.limit {
			break
		}
		if r.OwnerID != "" && r.OwnerID != ownerID {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		snapshot = append(snapshot, r.Clone())
	}
	slices.SortStableFunc(snapshot, func(a, b Record) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	f.records = snapshot
	f.publishLocked()

	return cloneRecords(f.records), nil
}

// Subscribe opens the live channel for ownerID. Subscribing again for the
// owner that is already live is a no-op. Subscribing for a different owner
// disposes the previous channel and records first.
func (f *Feed) Subscribe(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return ErrNoOwner
	}

	f.mu.Lock()
	if ownerID == f.ownerID && (f.subscribing || f.sub != nil) {
		f.mu.Unlock()
		return nil
	}
	old := f.switchOwnerLocked(ownerID)
	if f.live == nil {
		f.mu.Unlock()
		release(old)
		return nil
	}
	f.subscribing = true
	gen := f.generation
	f.mu.Unlock()
	release(old)

	sub, err := f.live.Open(ctx, ownerID, LiveHandlers{
		OnInsert: func(r Record) { f.insert(gen, ownerID, r) },
		OnDrop:   func(err error) { f.dropped(gen, ownerID, err) },
	})

	f.mu.Lock()
	defer f.mu.Unlock()

	if gen != f.generation {
		// owner changed while the channel was opening
		go release(sub)
		return nil
	}
	f.subscribing = false

	if err != nil {
		f.isLive = false
		f.publishLocked()
		f.logger.Error("failed to open notification channel", "error", err, "owner_id", ownerID)
		return wrap(ErrSubscriptionFailed, err, map[string]any{"owner_id": ownerID})
	}

	f.sub = sub
	f.isLive = true
	f.publishLocked()
	f.logger.Debug("notification channel open", "owner_id", ownerID)
	return nil
}

// Attach loads the snapshot for ownerID and then opens its live channel. The
// channel is opened even when the snapshot fails; the load error is returned.
func (f *Feed) Attach(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return ErrNoOwner
	}
	_, loadErr := f.Load(ctx, ownerID)
	if err := f.Subscribe(ctx, ownerID); err != nil {
		return err
	}
	return loadErr
}

// MarkRead asks the store to mark id read and flips the local flag only once
// the store confirms. Unknown ids are ignored.
func (f *Feed) MarkRead(ctx context.Context, id string) error {
	f.mu.Lock()
	idx := f.indexLocked(id)
	if idx < 0 {
		f.mu.Unlock()
		return nil
	}
	if f.records[idx].Read {
		f.mu.Unlock()
		return nil
	}
	gen := f.generation
	f.mu.Unlock()

	if err := f.store.MarkRead(ctx, id); err != nil {
		f.logger.Warn("mark read rejected", "error", err, "id", id)
		return wrap(ErrUpdateFailed, err, map[string]any{"id": id})
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.generation {
		return nil
	}
	if idx = f.indexLocked(id); idx >= 0 {
		f.records[idx].Read = true
		f.publishLocked()
	}
	return nil
}

// MarkAllRead asks the store to mark every record of the owner read and
// then flips, in a single update, the records that were unread when the
// call started. Records inserted live meanwhile keep their flag.
func (f *Feed) MarkAllRead(ctx context.Context) error {
	f.mu.Lock()
	ownerID := f.ownerID
	gen := f.generation
	pending := make(map[string]struct{}, len(f.records))
	for _, r := range f.records {
		if !r.Read {
			pending[r.ID] = struct{}{}
		}
	}
	f.mu.Unlock()

	if ownerID == "" {
		return ErrNoOwner
	}

	if err := f.store.MarkAllRead(ctx, ownerID); err != nil {
		f.logger.Warn("mark all read rejected", "error", err, "owner_id", ownerID)
		return wrap(ErrUpdateFailed, err, map[string]any{"owner_id": ownerID})
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.generation {
		return nil
	}
	for i := range f.records {
		if _, ok := pending[f.records[i].ID]; ok {
			f.records[i].Read = true
		}
	}
	f.publishLocked()
	return nil
}

// Dispose closes the live channel and drops the held records.
func (f *Feed) Dispose() {
	f.mu.Lock()
	if f.ownerID == "" && f.sub == nil {
		f.mu.Unlock()
		return
	}
	old := f.switchOwnerLocked("")
	f.publishLocked()
	f.mu.Unlock()
	release(old)
}

// Close disposes the feed and closes every watcher.
func (f *Feed) Close() {
	f.Dispose()
	f.watchers.Close()
}

// Notifications returns a read-only copy of the held records, newest first.
func (f *Feed) Notifications() []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneRecords(f.records)
}

// UnreadCount derives the unread count from the held records.
func (f *Feed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return UnreadCount(f.records)
}

// IsLive reports whether the live channel is delivering.
func (f *Feed) IsLive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isLive
}

// OwnerID returns the identity the feed is bound to.
func (f *Feed) OwnerID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ownerID
}

// State returns the current FeedState.
func (f *Feed) State() FeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateLocked()
}

// Watch returns a channel carrying the latest FeedState after each change.
func (f *Feed) Watch(ctx context.Context) <-chan FeedState {
	return f.watchers.Subscribe(ctx)
}

func (f *Feed) insert(gen uint64, ownerID string, r Record) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if gen != f.generation || ownerID != f.ownerID {
		f.logger.Debug("dropping live notification for previous owner", "owner_id", ownerID, "id", r.ID)
		return
	}
	if r.OwnerID != "" && r.OwnerID != ownerID {
		f.logger.Warn("dropping live notification for another owner", "owner_id", r.OwnerID, "id", r.ID)
		return
	}
	if r.ID == "" {
		f.logger.Warn("dropping live notification without id", "owner_id", ownerID)
		return
	}

	r = r.Clone()
	if idx := f.indexLocked(r.ID); idx >= 0 {
		// redelivery: a record that is read stays read
		r.Read = r.Read || f.records[idx].Read
		f.records[idx] = r
	} else {
		f.records = append([]Record{r}, f.records...)
	}
	f.publishLocked()
}

func (f *Feed) dropped(gen uint64, ownerID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if gen != f.generation {
		return
	}
	f.logger.Warn("notification channel dropped", "error", err, "owner_id", ownerID)
	f.sub = nil
	f.isLive = false
	f.publishLocked()
}

// switchOwnerLocked rebinds the feed. A change of owner detaches the live
// channel and clears the records before anything for the new owner arrives.
// The detached subscription is returned so it can be released without
// holding the lock.
func (f *Feed) switchOwnerLocked(ownerID string) Subscription {
	if ownerID == f.ownerID && ownerID != "" {
		return nil
	}
	old := f.sub
	f.sub = nil
	f.generation++
	f.ownerID = ownerID
	f.records = nil
	f.isLive = false
	f.loading = false
	f.subscribing = false
	return old
}

func release(sub Subscription) {
	if sub != nil {
		sub.Unsubscribe()
	}
}

func (f *Feed) indexLocked(id string) int {
	for i := range f.records {
		if f.records[i].ID == id {
			return i
		}
	}
	return -1
}

func (f *Feed) stateLocked() FeedState {
	return FeedState{
		OwnerID: f.ownerID,
		Records: cloneRecords(f.records),
		Live:    f.isLive,
		Loading: f.loading,
		Unread:  UnreadCount(f.records),
	}
}

func (f *Feed) publishLocked() {
	f.watchers.Publish(f.stateLocked())
}

func cloneRecords(records []Record) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}
