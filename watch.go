package authsync

import "context"

// Snapshot is the published state of the engine. Readers get copies.
type Snapshot struct {
	State                  SyncState   `json:"state"`
	Identity               *Identity   `json:"identity,omitempty"`
	WorkerStats            WorkerStats `json:"worker_stats,omitempty"`
	Attempt                int         `json:"attempt"`
	Generation             uint64      `json:"generation"`
	Loading                bool        `json:"loading"`
	Initializing           bool        `json:"initializing"`
	NeedsEmailVerification bool        `json:"needs_email_verification"`
	LastError              error       `json:"-"`
}

func (s Snapshot) clone() Snapshot {
	s.Identity = s.Identity.Clone()
	s.WorkerStats = s.WorkerStats.Clone()
	return s
}

// Watch returns a channel carrying the latest snapshot after every change.
func (e *Engine) Watch(ctx context.Context) <-chan Snapshot {
	return e.watchers.Subscribe(ctx)
}
