// Package metrics exposes session and notification state as Prometheus
// collectors.
package metrics

import (
	"context"
	"net/http"

	authsync "github.com/goliatone/go-auth-sync"
	"github.com/goliatone/go-auth-sync/notification"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements authsync.ActivitySink and mirrors engine and feed
// snapshots into gauges.
type Collector struct {
	activity  *prometheus.CounterVec
	retries   prometheus.Counter
	state     *prometheus.GaugeVec
	unread    prometheus.Gauge
	held      prometheus.Gauge
	live      prometheus.Gauge
	engineGen prometheus.Gauge
}

var _ authsync.ActivitySink = (*Collector)(nil)

// New builds the collectors under namespace.
func New(namespace string) *Collector {
	return &Collector{
		activity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_activity_total",
			Help:      "Session activity events by type.",
		}, []string{"event"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_resolution_retries_total",
			Help:      "Identity resolution retries scheduled.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current session sync state.",
		}, []string{"state"}),
		unread: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notifications_unread",
			Help:      "Unread notifications held by the feed.",
		}),
		held: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notifications_held",
			Help:      "Notifications held by the feed.",
		}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notifications_live",
			Help:      "1 while the live notification channel is open.",
		}),
		engineGen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_generation",
			Help:      "Current resolution generation.",
		}),
	}
}

// Register adds every collector to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.activity, c.retries, c.state, c.unread, c.held, c.live, c.engineGen} {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// Record implements authsync.ActivitySink.
func (c *Collector) Record(_ context.Context, event authsync.ActivityEvent) error {
	c.activity.WithLabelValues(string(event.EventType)).Inc()
	if event.EventType == authsync.ActivityEventResolutionRetry {
		c.retries.Inc()
	}
	return nil
}

// ObserveSnapshot updates the session gauges.
func (c *Collector) ObserveSnapshot(s authsync.Snapshot) {
	for _, state := range authsync.AllStates() {
		v := 0.0
		if state == s.State {
			v = 1
		}
		c.state.WithLabelValues(string(state)).Set(v)
	}
	c.engineGen.Set(float64(s.Generation))
}

// ObserveFeed updates the notification gauges.
func (c *Collector) ObserveFeed(s notification.FeedState) {
	c.unread.Set(float64(s.Unread))
	c.held.Set(float64(len(s.Records)))
	if s.Live {
		c.live.Set(1)
	} else {
		c.live.Set(0)
	}
}

// FeedWatcher is implemented by *notification.Feed.
type FeedWatcher interface {
	Watch(ctx context.Context) <-chan notification.FeedState
}

// Follow mirrors engine and feed snapshots until ctx is done.
func (c *Collector) Follow(ctx context.Context, engine authsync.SnapshotWatcher, feed FeedWatcher) {
	if engine != nil {
		go func() {
			for s := range engine.Watch(ctx) {
				c.ObserveSnapshot(s)
			}
		}()
	}
	if feed != nil {
		go func() {
			for s := range feed.Watch(ctx) {
				c.ObserveFeed(s)
			}
		}()
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
