package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"payment-failure-alerts/internal/aggregate"
	"payment-failure-alerts/internal/analytics"
	"payment-failure-alerts/internal/rules"
	"payment-failure-alerts/internal/storage"
)

// ErrInvalidEvent rejects malformed ingestion payloads.
var ErrInvalidEvent = errors.New("service: invalid event")

// AttemptRecorder accepts checkout attempt samples.
type AttemptRecorder interface {
	Record(ctx context.Context, sample storage.AttemptSample) error
}

// Monitor is the ingestion and query front of the detection core. Failure
// events flow through the rule evaluator synchronously; queries are pure
// reads over the aggregator and analytics engine.
type Monitor struct {
	store      storage.FailureStore
	alerts     storage.AlertStore
	attempts   AttemptRecorder
	evaluator  *rules.Evaluator
	aggregator *aggregate.Aggregator
	engine     *analytics.Engine
	logger     zerolog.Logger
	now        func() time.Time
}

// NewMonitor constructs the monitor. The evaluator may be nil when alerting
// is disabled; ingestion then records events without evaluating rules.
func NewMonitor(store storage.FailureStore, alerts storage.AlertStore, attempts AttemptRecorder, evaluator *rules.Evaluator, aggregator *aggregate.Aggregator, engine *analytics.Engine, logger zerolog.Logger) *Monitor {
	return &Monitor{
		store:      store,
		alerts:     alerts,
		attempts:   attempts,
		evaluator:  evaluator,
		aggregator: aggregator,
		engine:     engine,
		logger:     logger.With().Str("component", "monitor").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RecordFailure persists a failure event and evaluates alert rules against
// it. Returns the assigned event ID and any alerts that fired.
func (m *Monitor) RecordFailure(ctx context.Context, event storage.FailureEvent) (int64, []storage.AlertRecord, error) {
	if err := validateFailure(event); err != nil {
		return 0, nil, err
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now()
	}

	id, err := m.store.InsertFailure(ctx, event)
	if err != nil {
		return 0, nil, fmt.Errorf("record failure: %w", err)
	}
	event.ID = id

	m.logger.Info().Int64("event_id", id).
		Str("gateway", event.Gateway).
		Str("error_code", event.ErrorCode).
		Str("amount", event.Amount.String()).
		Msg("failure recorded")

	var fired []storage.AlertRecord
	if m.evaluator != nil {
		fired = m.evaluator.Evaluate(ctx, event)
	}
	return id, fired, nil
}

// RecordAttempt stores a checkout attempt sample.
func (m *Monitor) RecordAttempt(ctx context.Context, sample storage.AttemptSample) error {
	if sample.Gateway == "" {
		return fmt.Errorf("%w: gateway is required", ErrInvalidEvent)
	}
	if !sample.Outcome.Valid() {
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidEvent, sample.Outcome)
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = m.now()
	}

	if err := m.attempts.Record(ctx, sample); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// Aggregate exposes windowed aggregation to query collaborators.
func (m *Monitor) Aggregate(ctx context.Context, q aggregate.TimeWindow) ([]aggregate.Bucket, error) {
	return m.aggregator.Aggregate(ctx, q)
}

// Analytics composes the dashboard report.
func (m *Monitor) Analytics(ctx context.Context, timeframe analytics.Timeframe, gateway string) (analytics.Report, error) {
	return m.engine.Report(ctx, timeframe, gateway)
}

// RecentAlerts lists the most recently fired alerts.
func (m *Monitor) RecentAlerts(ctx context.Context, limit int) ([]storage.AlertRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return m.alerts.ListRecentAlerts(ctx, limit)
}

func validateFailure(event storage.FailureEvent) error {
	if event.Gateway == "" {
		return fmt.Errorf("%w: gateway is required", ErrInvalidEvent)
	}
	if event.OrderID == "" {
		return fmt.Errorf("%w: order_id is required", ErrInvalidEvent)
	}
	if event.Amount.IsNegative() {
		return fmt.Errorf("%w: amount cannot be negative", ErrInvalidEvent)
	}
	if len(event.Currency) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidEvent)
	}
	return nil
}
