// Package recovery watches for sagas that stopped moving. The scanner never
// re-drives a saga on its own; it surfaces stalled and broken sagas through
// logs and gauges so operators decide, since blindly re-running steps against
// external services is worse than a paged human.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/earlyexpress/order-fulfillment/internal/domain"
	"github.com/earlyexpress/order-fulfillment/internal/repository"
)

var (
	// stuckSagas tracks non-terminal sagas whose last update is older than
	// the stuck threshold.
	stuckSagas = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "saga_stuck_total",
			Help: "Number of non-terminal sagas with no progress past the stuck threshold",
		},
		[]string{"status"},
	)

	// brokenSagas tracks sagas whose compensation could not fully unwind.
	brokenSagas = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "saga_compensation_failed_total",
			Help: "Number of sagas awaiting manual intervention after partial compensation",
		},
	)

	// archivableSagas tracks terminal sagas past the archive age.
	archivableSagas = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "saga_archivable_total",
			Help: "Number of terminal sagas old enough to archive",
		},
	)
)

// Config tunes the scanner.
type Config struct {
	// Interval is how often a sweep runs.
	Interval time.Duration
	// StuckThreshold is how long a non-terminal saga may sit without an
	// update before it is reported.
	StuckThreshold time.Duration
	// ArchiveAfter is the age past which terminal sagas count as archivable.
	ArchiveAfter time.Duration
	// BatchLimit caps how many stuck sagas one sweep lists per status.
	BatchLimit int
}

// DefaultConfig returns the standard scanner settings.
func DefaultConfig() Config {
	return Config{
		Interval:       time.Minute,
		StuckThreshold: 10 * time.Minute,
		ArchiveAfter:   30 * 24 * time.Hour,
		BatchLimit:     100,
	}
}

// DailyResetter is invoked once per UTC day change, between sweeps. The
// order-number generator hangs off this so a quiet service does not carry
// yesterday's sequence.
type DailyResetter interface {
	Reset()
}

// Scanner periodically sweeps the saga table for stalled work.
type Scanner struct {
	sagas   repository.SagaRepository
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	daily   DailyResetter
	lastDay string
}

// NewScanner creates a scanner over the saga repository. daily may be nil.
func NewScanner(sagas repository.SagaRepository, cfg Config, daily DailyResetter, logger *slog.Logger) *Scanner {
	return &Scanner{
		sagas:  sagas,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		daily:  daily,
	}
}

// Run sweeps immediately and then on every tick until the context is
// cancelled.
func (s *Scanner) Run(ctx context.Context) {
	s.Sweep(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass: stalled in-progress and compensating sagas are
// reported, partially compensated sagas are flagged for intervention, and
// the archivable backlog is measured.
func (s *Scanner) Sweep(ctx context.Context) {
	now := s.now().UTC()
	cutoff := now.Add(-s.cfg.StuckThreshold)

	if day := now.Format("20060102"); day != s.lastDay {
		if s.lastDay != "" && s.daily != nil {
			s.daily.Reset()
			s.logger.InfoContext(ctx, "daily reset triggered", "day", day)
		}
		s.lastDay = day
	}

	for _, status := range []string{domain.SagaStatusInProgress, domain.SagaStatusCompensating} {
		stuck, err := s.sagas.ListByStatusOlderThan(ctx, status, cutoff, s.cfg.BatchLimit)
		if err != nil {
			s.logger.ErrorContext(ctx, "recovery sweep failed to list sagas",
				"status", status,
				"error", err.Error(),
			)
			continue
		}
		stuckSagas.WithLabelValues(status).Set(float64(len(stuck)))
		for _, saga := range stuck {
			s.logger.WarnContext(ctx, "saga stalled",
				"saga_id", saga.ID,
				"order_id", saga.OrderID,
				"status", saga.Status,
				"current_step", saga.CurrentStep,
				"stalled_for", now.Sub(saga.UpdatedAt).String(),
			)
		}
	}

	broken, err := s.sagas.ListByStatusOlderThan(ctx, domain.SagaStatusCompensationFailed, now, s.cfg.BatchLimit)
	if err != nil {
		s.logger.ErrorContext(ctx, "recovery sweep failed to list broken sagas", "error", err.Error())
	} else {
		brokenSagas.Set(float64(len(broken)))
		for _, saga := range broken {
			s.logger.ErrorContext(ctx, "saga needs manual intervention",
				"saga_id", saga.ID,
				"order_id", saga.OrderID,
				"failure_reason", saga.FailureReason,
			)
		}
	}

	archivable, err := s.sagas.CountTerminalOlderThan(ctx, now.Add(-s.cfg.ArchiveAfter))
	if err != nil {
		s.logger.ErrorContext(ctx, "recovery sweep failed to count archivable sagas", "error", err.Error())
		return
	}
	archivableSagas.Set(float64(archivable))
}
