package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"payment-failure-alerts/internal/config"
	"payment-failure-alerts/internal/storage"
)

type fakeQueries struct {
	failureCount int
	errorCount   int
	rate         float64
	attempts     int
	down         bool

	failureErr error
	downErr    error
}

func (f *fakeQueries) RecentFailureCount(ctx context.Context, gateway string, window time.Duration) (int, error) {
	return f.failureCount, f.failureErr
}

func (f *fakeQueries) RecentErrorCount(ctx context.Context, errorCode string, window time.Duration) (int, error) {
	return f.errorCount, nil
}

func (f *fakeQueries) FailureRate(ctx context.Context, gateway string, window time.Duration) (float64, int, error) {
	return f.rate, f.attempts, nil
}

func (f *fakeQueries) IsGatewayDown(ctx context.Context, gateway string, consecutive int) (bool, error) {
	return f.down, f.downErr
}

type fakeHighValue struct {
	events []storage.FailureEvent
}

func (f *fakeHighValue) ListRecentHighValue(ctx context.Context, minAmount decimal.Decimal, limit int) ([]storage.FailureEvent, error) {
	if len(f.events) > limit {
		return f.events[:limit], nil
	}
	return f.events, nil
}

type memSink struct {
	delivered []storage.AlertRecord
	err       error
}

func (s *memSink) Deliver(ctx context.Context, alert storage.AlertRecord) error {
	if s.err != nil {
		return s.err
	}
	s.delivered = append(s.delivered, alert)
	return nil
}

type memAlerts struct {
	inserted []storage.AlertRecord
}

func (s *memAlerts) InsertAlert(ctx context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	s.inserted = append(s.inserted, alert)
	return alert, nil
}

func (s *memAlerts) ListRecentAlerts(ctx context.Context, limit int) ([]storage.AlertRecord, error) {
	return s.inserted, nil
}

func (s *memAlerts) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	return nil
}

func newTestEvaluator(queries *fakeQueries, highValue *fakeHighValue, sink *memSink, cfg config.RulesConfig) (*Evaluator, *memAlerts, *time.Time) {
	if highValue == nil {
		highValue = &fakeHighValue{}
	}
	alerts := &memAlerts{}
	set := FromConfig(cfg, zerolog.Nop())
	evaluator := NewEvaluator(queries, highValue, sink, alerts, func() RuleSet { return set }, zerolog.Nop())

	current := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	evaluator.now = func() time.Time { return current }
	return evaluator, alerts, &current
}

func onlyRapidFailures() config.RulesConfig {
	return config.RulesConfig{
		RapidFailures: config.CountRuleConfig{Enabled: true, Threshold: 5, Window: 10 * time.Minute, Cooldown: 30 * time.Minute},
	}
}

func stripeEvent(id int64) storage.FailureEvent {
	return storage.FailureEvent{
		ID:        id,
		Gateway:   "stripe",
		OrderID:   "o-1",
		ErrorCode: "card_declined",
		Amount:    decimal.NewFromInt(40),
		Currency:  "USD",
	}
}

func TestEvaluateBelowThreshold(t *testing.T) {
	queries := &fakeQueries{failureCount: 4}
	sink := &memSink{}
	evaluator, _, _ := newTestEvaluator(queries, nil, sink, onlyRapidFailures())

	fired := evaluator.Evaluate(context.Background(), stripeEvent(1))
	if len(fired) != 0 {
		t.Fatalf("no alert should fire below threshold, got %d", len(fired))
	}
	if len(sink.delivered) != 0 {
		t.Fatal("nothing should be delivered below threshold")
	}
}

func TestEvaluateCooldownDeduplicates(t *testing.T) {
	queries := &fakeQueries{failureCount: 5}
	sink := &memSink{}
	evaluator, alerts, current := newTestEvaluator(queries, nil, sink, onlyRapidFailures())

	fired := evaluator.Evaluate(context.Background(), stripeEvent(5))
	if len(fired) != 1 {
		t.Fatalf("threshold met, expected 1 alert, got %d", len(fired))
	}
	if fired[0].Rule != string(KindRapidFailures) || fired[0].Severity != string(SeverityCritical) {
		t.Fatalf("unexpected record: %+v", fired[0])
	}
	if fired[0].Message != "5 payment failures detected for stripe gateway in the last 10 minutes" {
		t.Fatalf("unexpected message: %s", fired[0].Message)
	}

	queries.failureCount = 6
	*current = current.Add(time.Minute)
	fired = evaluator.Evaluate(context.Background(), stripeEvent(6))
	if len(fired) != 0 {
		t.Fatalf("alert within cooldown must be suppressed, got %d", len(fired))
	}

	*current = current.Add(31 * time.Minute)
	fired = evaluator.Evaluate(context.Background(), stripeEvent(7))
	if len(fired) != 1 {
		t.Fatalf("cooldown elapsed, expected 1 alert, got %d", len(fired))
	}

	if len(alerts.inserted) != 2 {
		t.Fatalf("expected 2 persisted alerts, got %d", len(alerts.inserted))
	}
	if len(sink.delivered) != 2 {
		t.Fatalf("expected 2 delivered alerts, got %d", len(sink.delivered))
	}
}

func TestEvaluateCooldownPerGateway(t *testing.T) {
	queries := &fakeQueries{failureCount: 5}
	sink := &memSink{}
	evaluator, _, _ := newTestEvaluator(queries, nil, sink, onlyRapidFailures())

	if fired := evaluator.Evaluate(context.Background(), stripeEvent(1)); len(fired) != 1 {
		t.Fatalf("expected stripe alert, got %d", len(fired))
	}

	other := stripeEvent(2)
	other.Gateway = "paypal"
	if fired := evaluator.Evaluate(context.Background(), other); len(fired) != 1 {
		t.Fatal("cooldown is scoped per gateway; paypal must fire independently")
	}
}

func TestEvaluateCheckIndependence(t *testing.T) {
	cfg := onlyRapidFailures()
	cfg.GatewayDown = config.CountRuleConfig{Enabled: true, Threshold: 3, Window: 5 * time.Minute, Cooldown: 30 * time.Minute}

	queries := &fakeQueries{failureCount: 5, downErr: errors.New("store unavailable")}
	sink := &memSink{}
	evaluator, _, _ := newTestEvaluator(queries, nil, sink, cfg)

	fired := evaluator.Evaluate(context.Background(), stripeEvent(1))
	if len(fired) != 1 {
		t.Fatalf("a failing check must not short-circuit the others, got %d alerts", len(fired))
	}
	if fired[0].Rule != string(KindRapidFailures) {
		t.Fatalf("unexpected rule: %s", fired[0].Rule)
	}
}

func TestEvaluateHighValueGlobalScope(t *testing.T) {
	cfg := config.RulesConfig{
		HighValueFailure: config.AmountRuleConfig{Enabled: true, Amount: 500, Consecutive: 2, Cooldown: 30 * time.Minute},
	}
	highValue := &fakeHighValue{events: []storage.FailureEvent{
		{ID: 10, Amount: decimal.NewFromInt(600)},
		{ID: 11, Amount: decimal.NewFromInt(700)},
	}}
	queries := &fakeQueries{}
	sink := &memSink{}
	evaluator, _, _ := newTestEvaluator(queries, highValue, sink, cfg)

	event := stripeEvent(11)
	event.Amount = decimal.NewFromInt(700)
	fired := evaluator.Evaluate(context.Background(), event)
	if len(fired) != 1 {
		t.Fatalf("expected high value alert, got %d", len(fired))
	}
	if fired[0].Message != "2 consecutive high-value payment failures detected, total amount 1300.00 USD" {
		t.Fatalf("unexpected message: %s", fired[0].Message)
	}
	if len(fired[0].FailureIDs) != 2 {
		t.Fatalf("expected both contributing failure ids, got %v", fired[0].FailureIDs)
	}

	// Same scope regardless of gateway: a second fire is suppressed.
	event.Gateway = "paypal"
	if fired := evaluator.Evaluate(context.Background(), event); len(fired) != 0 {
		t.Fatal("high value cooldown is global, second alert must be suppressed")
	}
}

func TestEvaluateCheapEventSkipsHighValue(t *testing.T) {
	cfg := config.RulesConfig{
		HighValueFailure: config.AmountRuleConfig{Enabled: true, Amount: 500, Consecutive: 2, Cooldown: 30 * time.Minute},
	}
	highValue := &fakeHighValue{events: []storage.FailureEvent{
		{ID: 10, Amount: decimal.NewFromInt(600)},
		{ID: 11, Amount: decimal.NewFromInt(700)},
	}}
	evaluator, _, _ := newTestEvaluator(&fakeQueries{}, highValue, &memSink{}, cfg)

	event := stripeEvent(12)
	event.Amount = decimal.NewFromInt(20)
	if fired := evaluator.Evaluate(context.Background(), event); len(fired) != 0 {
		t.Fatal("an event below the amount floor must not trigger the high value rule")
	}
}

func TestEvaluateRateRules(t *testing.T) {
	cfg := config.RulesConfig{
		ElevatedFailureRate: config.RateRuleConfig{Enabled: true, ThresholdPct: 15, Window: time.Hour, MinimumAttempts: 10, Cooldown: time.Hour},
	}

	t.Run("insufficient attempts", func(t *testing.T) {
		queries := &fakeQueries{rate: 50, attempts: 4}
		evaluator, _, _ := newTestEvaluator(queries, nil, &memSink{}, cfg)
		if fired := evaluator.Evaluate(context.Background(), stripeEvent(1)); len(fired) != 0 {
			t.Fatal("below minimum attempts the rate rule must stay quiet")
		}
	})

	t.Run("threshold met", func(t *testing.T) {
		queries := &fakeQueries{rate: 18.5, attempts: 40}
		evaluator, _, _ := newTestEvaluator(queries, nil, &memSink{}, cfg)
		fired := evaluator.Evaluate(context.Background(), stripeEvent(1))
		if len(fired) != 1 {
			t.Fatalf("expected rate alert, got %d", len(fired))
		}
		if fired[0].Message != "Elevated failure rate for stripe gateway: 18.5% over the last 60 minutes" {
			t.Fatalf("unexpected message: %s", fired[0].Message)
		}
	})
}

func TestEvaluateErrorSpikeNeedsCode(t *testing.T) {
	cfg := config.RulesConfig{
		UnusualErrorSpike: config.CountRuleConfig{Enabled: true, Threshold: 3, Window: 30 * time.Minute, Cooldown: 30 * time.Minute},
	}
	queries := &fakeQueries{errorCount: 5}
	evaluator, _, _ := newTestEvaluator(queries, nil, &memSink{}, cfg)

	event := stripeEvent(1)
	event.ErrorCode = ""
	if fired := evaluator.Evaluate(context.Background(), event); len(fired) != 0 {
		t.Fatal("events without an error code cannot spike")
	}

	event.ErrorCode = "card_declined"
	fired := evaluator.Evaluate(context.Background(), event)
	if len(fired) != 1 {
		t.Fatalf("expected spike alert, got %d", len(fired))
	}
	if fired[0].ErrorCode != "card_declined" {
		t.Fatalf("unexpected error code: %s", fired[0].ErrorCode)
	}
}

func TestEvaluateSinkFailureStillFires(t *testing.T) {
	queries := &fakeQueries{failureCount: 5}
	sink := &memSink{err: errors.New("webhook down")}
	evaluator, alerts, _ := newTestEvaluator(queries, nil, sink, onlyRapidFailures())

	fired := evaluator.Evaluate(context.Background(), stripeEvent(1))
	if len(fired) != 1 {
		t.Fatalf("delivery failure must not undo the fire decision, got %d", len(fired))
	}
	if len(alerts.inserted) != 1 {
		t.Fatal("alert record must still be persisted")
	}
}
