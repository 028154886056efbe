package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"payment-failure-alerts/internal/alerting"
	"payment-failure-alerts/internal/analytics"
	"payment-failure-alerts/internal/rules"
	"payment-failure-alerts/internal/scheduler"
	"payment-failure-alerts/internal/storage"
)

// Pruner removes expired attempt samples.
type Pruner interface {
	Prune(ctx context.Context) error
}

// MaintenanceOptions tune the periodic housekeeping job.
type MaintenanceOptions struct {
	Retention      time.Duration
	Interval       time.Duration
	LockKey        int64
	SummaryEnabled bool
}

// Maintenance runs retention cleanup and the daily summary dispatch on the
// scheduler cadence. A Postgres advisory lock keeps multiple instances from
// running the same tick.
type Maintenance struct {
	sched  *scheduler.Scheduler
	store  storage.FailureStore
	alerts storage.AlertStore
	pruner Pruner
	locker storage.AdvisoryLocker
	sink   alerting.Sink
	engine *analytics.Engine
	opts   MaintenanceOptions
	logger zerolog.Logger
}

// NewMaintenance constructs the maintenance job. Locker, pruner, sink, and
// engine are each optional; missing collaborators skip their step.
func NewMaintenance(sched *scheduler.Scheduler, store storage.FailureStore, alerts storage.AlertStore, pruner Pruner, locker storage.AdvisoryLocker, sink alerting.Sink, engine *analytics.Engine, opts MaintenanceOptions, logger zerolog.Logger) *Maintenance {
	return &Maintenance{
		sched:  sched,
		store:  store,
		alerts: alerts,
		pruner: pruner,
		locker: locker,
		sink:   sink,
		engine: engine,
		opts:   opts,
		logger: logger.With().Str("component", "maintenance").Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (m *Maintenance) Run(ctx context.Context) error {
	if m.sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return m.sched.Run(ctx, m.tick)
}

func (m *Maintenance) tick(ctx context.Context, at time.Time) error {
	if m.locker != nil && m.opts.LockKey != 0 {
		unlock, acquired, err := m.locker.TryAdvisoryLock(ctx, m.opts.LockKey)
		if err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !acquired {
			m.logger.Debug().Time("tick", at).Msg("skip maintenance tick because advisory lock held elsewhere")
			return nil
		}
		defer unlock()
	}

	m.cleanup(ctx, at)

	if m.opts.SummaryEnabled {
		m.dispatchSummary(ctx, at)
	}
	return nil
}

func (m *Maintenance) cleanup(ctx context.Context, at time.Time) {
	horizon := at.Add(-m.opts.Retention)

	if m.store != nil {
		removed, err := m.store.DeleteFailuresBefore(ctx, horizon)
		if err != nil {
			m.logger.Error().Err(err).Msg("failed to prune failure events")
		} else if removed > 0 {
			m.logger.Info().Int64("removed", removed).Time("horizon", horizon).Msg("pruned failure events")
		}
	}

	if m.alerts != nil {
		if err := m.alerts.DeleteAlertsBefore(ctx, horizon); err != nil {
			m.logger.Error().Err(err).Msg("failed to prune alert records")
		}
	}

	if m.pruner != nil {
		if err := m.pruner.Prune(ctx); err != nil {
			m.logger.Error().Err(err).Msg("failed to prune attempt samples")
		}
	}
}

// dispatchSummary delivers an info-severity digest of the last 24 hours
// through the alert sink. The summary bypasses cooldown state; the scheduler
// cadence already bounds its frequency.
func (m *Maintenance) dispatchSummary(ctx context.Context, at time.Time) {
	if m.sink == nil || m.engine == nil {
		return
	}

	report, err := m.engine.Report(ctx, analytics.TimeframeDay, "")
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to build daily summary")
		return
	}

	current := report.Overview.Current
	record := storage.AlertRecord{
		ID:       uuid.NewString(),
		Rule:     "daily_summary",
		Severity: string(rules.SeverityInfo),
		Message: fmt.Sprintf("Daily summary: %d failures across %d gateways, %s lost, failure rate %.2f%%",
			current.TotalFailures,
			report.Gateways.Summary.TotalGateways,
			current.TotalAmountLost.StringFixed(2),
			current.FailureRate),
		Thresholds: map[string]string{
			"total_failures": fmt.Sprintf("%d", current.TotalFailures),
			"failure_rate":   fmt.Sprintf("%.2f", current.FailureRate),
		},
		FiredAt: at,
	}

	if err := m.sink.Deliver(ctx, record); err != nil {
		m.logger.Error().Err(err).Msg("failed to deliver daily summary")
	}
}
