package rules

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"payment-failure-alerts/internal/alerting"
	"payment-failure-alerts/internal/storage"
)

// Queries is the slice of the aggregator contract the evaluator reads.
type Queries interface {
	RecentFailureCount(ctx context.Context, gateway string, window time.Duration) (int, error)
	RecentErrorCount(ctx context.Context, errorCode string, window time.Duration) (int, error)
	FailureRate(ctx context.Context, gateway string, window time.Duration) (float64, int, error)
	IsGatewayDown(ctx context.Context, gateway string, consecutive int) (bool, error)
}

// HighValueSource lists the most recent failures above an amount floor.
type HighValueSource interface {
	ListRecentHighValue(ctx context.Context, minAmount decimal.Decimal, limit int) ([]storage.FailureEvent, error)
}

// Evaluator runs the six rule checks against each new failure event and owns
// the cooldown state that deduplicates repeated fires per scope key.
type Evaluator struct {
	queries   Queries
	highValue HighValueSource
	sink      alerting.Sink
	alerts    storage.AlertStore
	snapshot  func() RuleSet
	logger    zerolog.Logger
	now       func() time.Time

	mu        sync.Mutex
	lastFired map[string]time.Time
}

// NewEvaluator constructs an Evaluator. The snapshot func is called once per
// evaluation so rule configuration may be hot-reloaded between events. The
// alert store and sink are optional; a nil sink means decisions are made but
// nothing is delivered.
func NewEvaluator(queries Queries, highValue HighValueSource, sink alerting.Sink, alerts storage.AlertStore, snapshot func() RuleSet, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		queries:   queries,
		highValue: highValue,
		sink:      sink,
		alerts:    alerts,
		snapshot:  snapshot,
		logger:    logger.With().Str("component", "evaluator").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
		lastFired: make(map[string]time.Time),
	}
}

// candidate is a rule check result that met its threshold and is awaiting the
// cooldown decision.
type candidate struct {
	rule       Rule
	scopeKey   string
	message    string
	gateway    string
	errorCode  string
	thresholds map[string]string
	failureIDs []int64
}

type checkFunc func(ctx context.Context, rs RuleSet, event storage.FailureEvent) (*candidate, error)

// Evaluate runs every rule check for the event. Checks are independent: one
// check failing or firing never short-circuits the others. Returns the alert
// records that fired (passed their cooldown).
func (e *Evaluator) Evaluate(ctx context.Context, event storage.FailureEvent) []storage.AlertRecord {
	rs := e.snapshot()

	checks := []checkFunc{
		e.checkRapidFailures,
		e.checkGatewayDown,
		e.checkHighValueFailure,
		e.checkElevatedFailureRate,
		e.checkGatewayDegradation,
		e.checkUnusualErrorSpike,
	}

	var fired []storage.AlertRecord
	for _, check := range checks {
		cand, err := check(ctx, rs, event)
		if err != nil {
			e.logger.Warn().Err(err).Int64("event_id", event.ID).Msg("rule check skipped")
			continue
		}
		if cand == nil {
			continue
		}

		record, ok := e.fire(ctx, *cand)
		if !ok {
			e.logger.Debug().Str("rule", string(cand.rule.Kind)).
				Str("scope", cand.scopeKey).
				Msg("alert suppressed by cooldown")
			continue
		}
		fired = append(fired, record)
	}
	return fired
}

// fire applies the cooldown gate and, when it passes, persists and delivers
// the alert. The cooldown timestamp is committed before delivery so a sink
// outage cannot cause an alert storm on retry.
func (e *Evaluator) fire(ctx context.Context, cand candidate) (storage.AlertRecord, bool) {
	firedAt, ok := e.tryAcquire(cand.scopeKey, cand.rule.Cooldown)
	if !ok {
		return storage.AlertRecord{}, false
	}

	record := storage.AlertRecord{
		ID:         uuid.NewString(),
		Rule:       string(cand.rule.Kind),
		Severity:   string(cand.rule.Severity),
		Message:    cand.message,
		Gateway:    cand.gateway,
		ErrorCode:  cand.errorCode,
		Thresholds: cand.thresholds,
		FailureIDs: cand.failureIDs,
		FiredAt:    firedAt,
	}

	if e.alerts != nil {
		persisted, err := e.alerts.InsertAlert(ctx, record)
		if err != nil {
			e.logger.Error().Err(err).Str("rule", record.Rule).Msg("failed to persist alert record")
		} else {
			record = persisted
		}
	}

	if e.sink != nil {
		if err := e.sink.Deliver(ctx, record); err != nil {
			e.logger.Error().Err(err).Str("rule", record.Rule).Msg("failed to deliver alert")
		}
	}

	return record, true
}

// tryAcquire is the per-scope-key atomic cooldown check-and-set. Two
// concurrent evaluations of the same scope cannot both pass.
func (e *Evaluator) tryAcquire(scopeKey string, cooldown time.Duration) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if last, ok := e.lastFired[scopeKey]; ok && now.Sub(last) < cooldown {
		return time.Time{}, false
	}
	e.lastFired[scopeKey] = now
	return now, true
}

func (e *Evaluator) checkRapidFailures(ctx context.Context, rs RuleSet, event storage.FailureEvent) (*candidate, error) {
	rule, ok := rs.Rule(KindRapidFailures)
	if !ok {
		return nil, nil
	}

	count, err := e.queries.RecentFailureCount(ctx, event.Gateway, rule.Window)
	if err != nil {
		return nil, fmt.Errorf("rapid failures: %w", err)
	}
	if count < rule.Threshold {
		return nil, nil
	}

	return &candidate{
		rule:     rule,
		scopeKey: scopeKey(KindRapidFailures, event.Gateway),
		message: fmt.Sprintf("%d payment failures detected for %s gateway in the last %d minutes",
			count, event.Gateway, int(rule.Window.Minutes())),
		gateway: event.Gateway,
		thresholds: map[string]string{
			"threshold": strconv.Itoa(rule.Threshold),
			"actual":    strconv.Itoa(count),
			"window":    rule.Window.String(),
			"gateway":   event.Gateway,
		},
		failureIDs: []int64{event.ID},
	}, nil
}

func (e *Evaluator) checkGatewayDown(ctx context.Context, rs RuleSet, event storage.FailureEvent) (*candidate, error) {
	rule, ok := rs.Rule(KindGatewayDown)
	if !ok {
		return nil, nil
	}

	down, err := e.queries.IsGatewayDown(ctx, event.Gateway, rule.Threshold)
	if err != nil {
		return nil, fmt.Errorf("gateway down: %w", err)
	}
	if !down {
		return nil, nil
	}

	return &candidate{
		rule:     rule,
		scopeKey: scopeKey(KindGatewayDown, event.Gateway),
		message: fmt.Sprintf("Gateway %s appears to be down: %d consecutive failures detected",
			event.Gateway, rule.Threshold),
		gateway: event.Gateway,
		thresholds: map[string]string{
			"threshold": strconv.Itoa(rule.Threshold),
			"window":    rule.Window.String(),
			"gateway":   event.Gateway,
		},
		failureIDs: []int64{event.ID},
	}, nil
}

func (e *Evaluator) checkHighValueFailure(ctx context.Context, rs RuleSet, event storage.FailureEvent) (*candidate, error) {
	rule, ok := rs.Rule(KindHighValueFailure)
	if !ok {
		return nil, nil
	}
	if event.Amount.LessThan(rule.ThresholdAmount) {
		return nil, nil
	}

	recent, err := e.highValue.ListRecentHighValue(ctx, rule.ThresholdAmount, rule.Consecutive)
	if err != nil {
		return nil, fmt.Errorf("high value failure: %w", err)
	}
	if len(recent) < rule.Consecutive {
		return nil, nil
	}

	total := decimal.Zero
	ids := make([]int64, 0, len(recent))
	for _, failure := range recent {
		total = total.Add(failure.Amount)
		ids = append(ids, failure.ID)
	}

	return &candidate{
		rule:     rule,
		scopeKey: string(KindHighValueFailure),
		message: fmt.Sprintf("%d consecutive high-value payment failures detected, total amount %s %s",
			len(recent), total.StringFixed(2), event.Currency),
		thresholds: map[string]string{
			"threshold_amount":     rule.ThresholdAmount.String(),
			"consecutive_required": strconv.Itoa(rule.Consecutive),
			"actual_consecutive":   strconv.Itoa(len(recent)),
			"total_amount":         total.String(),
		},
		failureIDs: ids,
	}, nil
}

func (e *Evaluator) checkElevatedFailureRate(ctx context.Context, rs RuleSet, event storage.FailureEvent) (*candidate, error) {
	return e.checkRate(ctx, rs, event, KindElevatedFailureRate,
		"Elevated failure rate for %s gateway: %.1f%% over the last %d minutes")
}

func (e *Evaluator) checkGatewayDegradation(ctx context.Context, rs RuleSet, event storage.FailureEvent) (*candidate, error) {
	return e.checkRate(ctx, rs, event, KindGatewayDegradation,
		"Gateway %s performance degradation: %.1f%% failure rate in the last %d minutes")
}

func (e *Evaluator) checkRate(ctx context.Context, rs RuleSet, event storage.FailureEvent, kind Kind, format string) (*candidate, error) {
	rule, ok := rs.Rule(kind)
	if !ok {
		return nil, nil
	}

	rate, attempts, err := e.queries.FailureRate(ctx, event.Gateway, rule.Window)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	if attempts < rule.MinimumAttempts || rate < rule.ThresholdPct {
		return nil, nil
	}

	return &candidate{
		rule:     rule,
		scopeKey: scopeKey(kind, event.Gateway),
		message:  fmt.Sprintf(format, event.Gateway, rate, int(rule.Window.Minutes())),
		gateway:  event.Gateway,
		thresholds: map[string]string{
			"threshold_pct": strconv.FormatFloat(rule.ThresholdPct, 'f', -1, 64),
			"actual_pct":    strconv.FormatFloat(rate, 'f', -1, 64),
			"attempts":      strconv.Itoa(attempts),
			"window":        rule.Window.String(),
			"gateway":       event.Gateway,
		},
		failureIDs: []int64{event.ID},
	}, nil
}

func (e *Evaluator) checkUnusualErrorSpike(ctx context.Context, rs RuleSet, event storage.FailureEvent) (*candidate, error) {
	rule, ok := rs.Rule(KindUnusualErrorSpike)
	if !ok || event.ErrorCode == "" {
		return nil, nil
	}

	count, err := e.queries.RecentErrorCount(ctx, event.ErrorCode, rule.Window)
	if err != nil {
		return nil, fmt.Errorf("unusual error spike: %w", err)
	}
	if count < rule.Threshold {
		return nil, nil
	}

	return &candidate{
		rule:      rule,
		scopeKey:  scopeKey(KindUnusualErrorSpike, event.ErrorCode),
		message:   fmt.Sprintf("Unusual error spike: %q occurred %d times in the last %d minutes", event.ErrorCode, count, int(rule.Window.Minutes())),
		errorCode: event.ErrorCode,
		thresholds: map[string]string{
			"threshold":  strconv.Itoa(rule.Threshold),
			"actual":     strconv.Itoa(count),
			"error_code": event.ErrorCode,
			"window":     rule.Window.String(),
		},
		failureIDs: []int64{event.ID},
	}, nil
}

func scopeKey(kind Kind, scope string) string {
	return string(kind) + ":" + scope
}
