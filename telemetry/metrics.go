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
	BurstsStarted      prometheus.Counter
	BurstsSkipped      prometheus.Counter
	TurnsCommitted     prometheus.Counter
	LinesDiscarded     prometheus.Counter
	GenerationFailures prometheus.Counter
	AnalysisFailures   prometheus.Counter
	IdleTicks          prometheus.Counter
	TriggersDropped    prometheus.Counter

	// Histograms (seconds)
	GenerationDuration prometheus.Observer
	BurstDuration      prometheus.Observer

	// Gauges
	RoomCountGauge    prometheus.Gauge
	ActiveBurstsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		BurstsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "ensemble_bursts_started_total", Help: "Number of auto-chat bursts started"})
		BurstsSkipped = promauto.NewCounter(prometheus.CounterOpts{Name: "ensemble_bursts_skipped_total", Help: "Number of bursts skipped by the min-interval guard"})
		TurnsCommitted = promauto.NewCounter(prometheus.CounterOpts{Name: "ensemble_turns_committed_total", Help: "Number of persona messages committed to rooms"})
		LinesDiscarded = promauto.NewCounter(prometheus.CounterOpts{Name: "ensemble_lines_discarded_total", Help: "Number of generated lines discarded by the repetition guard"})
		GenerationFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "ensemble_generation_failures_total", Help: "Number of failed line-generation calls"})
		AnalysisFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "ensemble_analysis_failures_total", Help: "Number of failed content-analysis calls"})
		IdleTicks = promauto.NewCounter(prometheus.CounterOpts{Name: "ensemble_idle_ticks_total", Help: "Number of idle scheduler ticks"})
		TriggersDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "ensemble_triggers_dropped_total", Help: "Number of burst triggers dropped because a burst was already queued"})
		GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "ensemble_generation_duration_seconds", Help: "Line generation call duration seconds", Buckets: prometheus.DefBuckets})
		BurstDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "ensemble_burst_duration_seconds", Help: "Burst duration seconds", Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120}})
		RoomCountGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "ensemble_rooms", Help: "Current number of registered rooms"})
		ActiveBurstsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "ensemble_active_bursts", Help: "Number of bursts currently in flight"})
	})
}

// SetRoomCount records the current number of rooms.
func SetRoomCount(n int) {
	if RoomCountGauge != nil {
		RoomCountGauge.Set(float64(n))
	}
}

// BurstInFlight adjusts the active-bursts gauge by delta (+1/-1).
func BurstInFlight(delta float64) {
	if ActiveBurstsGauge != nil {
		ActiveBurstsGauge.Add(delta)
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

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
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
