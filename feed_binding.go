package authsync

import "context"

// SnapshotWatcher publishes engine snapshots. *Engine implements it.
type SnapshotWatcher interface {
	Watch(ctx context.Context) <-chan Snapshot
}

// FeedAttacher is the part of a notification feed driven by the identity
// lifecycle. *notification.Feed implements it.
type FeedAttacher interface {
	Attach(ctx context.Context, ownerID string) error
	Dispose()
}

// BindFeed keeps feed attached to the current identity: it attaches when an
// identity appears, re-attaches when the identity changes owner and disposes
// when the identity goes away. The feed is disposed when ctx ends. The
// returned channel closes once the binding has stopped.
func BindFeed(ctx context.Context, engine SnapshotWatcher, feed FeedAttacher, logger Logger) <-chan struct{} {
	_, logger = ResolveLogger("authsync.feed_binding", nil, logger)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer feed.Dispose()

		bound := ""
		updates := engine.Watch(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-updates:
				if !ok {
					return
				}

				target := ""
				if snap.Identity != nil {
					target = snap.Identity.ID
				}
				if target == bound {
					continue
				}

				if target == "" {
					logger.Debug("identity gone, disposing notification feed", "owner_id", bound)
					feed.Dispose()
					bound = ""
					continue
				}

				bound = target
				if err := feed.Attach(ctx, target); err != nil {
					logger.Error("failed to attach notification feed", "error", err, "owner_id", target)
				}
			}
		}
	}()

	return done
}
