// Package telemetry provides Prometheus metrics, tracing setup, and
// correlation-id aware logging helpers.
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
	SchedulerTicks prometheus.Counter
	FetchFailures  prometheus.Counter
	SendFailures   prometheus.Counter
	CheckOutcomes  *prometheus.CounterVec

	// Histograms (seconds)
	SendDuration prometheus.Observer

	// Gauges
	ScheduleEntriesGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SchedulerTicks = promauto.NewCounter(prometheus.CounterOpts{Name: "rubus_scheduler_ticks_total", Help: "Number of scheduler wake-up cycles"})
		FetchFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "rubus_fetch_failures_total", Help: "Number of failed strip fetches"})
		SendFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "rubus_send_failures_total", Help: "Number of failed chat sends"})
		CheckOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rubus_check_outcomes_total", Help: "Delivery check outcomes"}, []string{"outcome"})
		SendDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "rubus_send_duration_seconds", Help: "Chat send duration seconds", Buckets: prometheus.DefBuckets})
		ScheduleEntriesGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "rubus_schedule_entries", Help: "Number of configured schedule entries"})
	})
}

// CountOutcome increments the outcome-labeled check counter.
func CountOutcome(outcome string) {
	if CheckOutcomes != nil {
		CheckOutcomes.WithLabelValues(outcome).Inc()
	}
}

// ObserveSend records a chat send duration.
func ObserveSend(d time.Duration) {
	if SendDuration != nil {
		SendDuration.Observe(d.Seconds())
	}
}

// SetScheduleEntries records the configured entry count.
func SetScheduleEntries(n int) {
	if ScheduleEntriesGauge != nil {
		ScheduleEntriesGauge.Set(float64(n))
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
