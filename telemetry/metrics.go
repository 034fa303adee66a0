// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	AuthAttempts       *prometheus.CounterVec // label: result
	MessagesPublished  prometheus.Counter
	PublishRejected    *prometheus.CounterVec // label: reason
	SubscribersDropped prometheus.Counter
	ArchiveDropped     prometheus.Counter
	ArchiveWritten     prometheus.Counter

	// Histograms (seconds)
	VerifyDuration prometheus.Observer
	FanoutDuration prometheus.Observer

	// Gauges
	SessionsActive prometheus.Gauge
	RoomsActive    prometheus.Gauge
	Connections    prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_auth_attempts_total", Help: "Signature handshakes by result"}, []string{"result"})
		MessagesPublished = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_published_total", Help: "Messages accepted into a room"})
		PublishRejected = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_publish_rejected_total", Help: "Publish attempts rejected by reason"}, []string{"reason"})
		SubscribersDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_subscribers_dropped_total", Help: "Subscribers removed after a failed delivery"})
		ArchiveDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_archive_dropped_total", Help: "Messages not archived because the queue was full"})
		ArchiveWritten = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_archive_written_total", Help: "Messages written to the archive"})
		VerifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_verify_duration_seconds", Help: "Signature verification duration seconds (registry lookup included)", Buckets: prometheus.DefBuckets})
		FanoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_fanout_duration_seconds", Help: "Time spent delivering one message to a room", Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1}})
		SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_sessions_active", Help: "Sessions currently held by the store"})
		RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_rooms_active", Help: "Rooms currently held by the broker"})
		Connections = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_ws_connections", Help: "Open websocket connections"})
	})
}

// RecordAuth counts a handshake outcome.
func RecordAuth(result string) {
	if AuthAttempts != nil {
		AuthAttempts.WithLabelValues(result).Inc()
	}
}

// RecordPublish counts an accepted message.
func RecordPublish() {
	if MessagesPublished != nil {
		MessagesPublished.Inc()
	}
}

// RecordRejected counts a rejected publish.
func RecordRejected(reason string) {
	if PublishRejected != nil {
		PublishRejected.WithLabelValues(reason).Inc()
	}
}

// RecordDropped counts a subscriber evicted after a failed delivery.
func RecordDropped() {
	if SubscribersDropped != nil {
		SubscribersDropped.Inc()
	}
}

// RecordArchive counts archive writes (ok=true) or queue drops.
func RecordArchive(ok bool) {
	if ok {
		if ArchiveWritten != nil {
			ArchiveWritten.Inc()
		}
		return
	}
	if ArchiveDropped != nil {
		ArchiveDropped.Inc()
	}
}

// SetSessions records the current session count.
func SetSessions(n int) {
	if SessionsActive != nil {
		SessionsActive.Set(float64(n))
	}
}

// SetRooms records the current room count.
func SetRooms(n int) {
	if RoomsActive != nil {
		RoomsActive.Set(float64(n))
	}
}

// AddConnections moves the websocket connection gauge by delta.
func AddConnections(delta int) {
	if Connections != nil {
		Connections.Add(float64(delta))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
