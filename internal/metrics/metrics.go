// ============================================================================
// Sweep Metrics - Prometheus instrumentation
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: expose what a sweep is doing while it runs.
//
// Metrics:
//
//   1. Counters:
//      - sweep_accounts_processed_total{status}: final outcomes by status
//      - sweep_attempts_total: login attempts started
//      - sweep_workers_blocked_total: workers stopped by a Blocked failure
//      - sweep_overlay_elements_removed_total: DOM nodes removed by the purge
//
//   2. Histogram:
//      - sweep_account_duration_seconds: wall time from first attempt to verdict
//        * buckets 5s .. 20m, a login takes tens of seconds
//
//   3. Gauge:
//      - sweep_queue_remaining: accounts not yet handed to a worker
//
// Example queries:
//
//   # outcomes so far
//   sum by (status) (sweep_accounts_processed_total)
//
//   # attempts per finished account (retry pressure)
//   sweep_attempts_total / scalar(sum(sweep_accounts_processed_total))
//
// HTTP endpoint:
//   /metrics on the configured port, served only when metrics are enabled.
//
// ============================================================================

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DurationBuckets cover one account from a quick OTP bail-out to a fully
// retried balance timeout.
var DurationBuckets = []float64{5, 10, 20, 30, 60, 90, 120, 180, 300, 600, 1200}

// Collector holds the sweep's Prometheus metrics.
type Collector struct {
	processed      *prometheus.CounterVec
	attempts       prometheus.Counter
	blocked        prometheus.Counter
	overlayRemoved prometheus.Counter
	duration       prometheus.Histogram
	remaining      prometheus.Gauge
}

// NewCollector creates the metrics and registers them on reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweep_accounts_processed_total",
			Help: "Accounts that reached a final outcome, by status",
		}, []string{"status"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sweep_attempts_total",
			Help: "Login attempts started",
		}),
		blocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sweep_workers_blocked_total",
			Help: "Workers stopped because the site blocked them",
		}),
		overlayRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sweep_overlay_elements_removed_total",
			Help: "Overlay elements removed from pages",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sweep_account_duration_seconds",
			Help:    "Time from first attempt to final outcome per account",
			Buckets: DurationBuckets,
		}),
		remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sweep_queue_remaining",
			Help: "Accounts not yet handed to a worker",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.processed, c.attempts, c.blocked, c.overlayRemoved, c.duration, c.remaining,
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return c, nil
}

// RecordAttempt counts one login attempt.
func (c *Collector) RecordAttempt() {
	c.attempts.Inc()
}

// RecordOutcome counts a final outcome and its duration.
func (c *Collector) RecordOutcome(status string, elapsed time.Duration) {
	c.processed.WithLabelValues(status).Inc()
	c.duration.Observe(elapsed.Seconds())
}

// RecordBlocked counts a worker stopped by the site.
func (c *Collector) RecordBlocked() {
	c.blocked.Inc()
}

// RecordOverlayRemoved adds purged overlay elements.
func (c *Collector) RecordOverlayRemoved(n int) {
	if n > 0 {
		c.overlayRemoved.Add(float64(n))
	}
}

// SetQueueRemaining updates the queue depth gauge.
func (c *Collector) SetQueueRemaining(n int) {
	c.remaining.Set(float64(n))
}

// StartServer serves /metrics from g on addr until ctx is done. It returns nil
// after a clean shutdown.
func StartServer(ctx context.Context, addr string, g prometheus.Gatherer, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		<-errCh
		logger.Info("metrics server stopped")
		return nil
	}
}
