package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"payment-failure-alerts/internal/aggregate"
	"payment-failure-alerts/internal/rules"
	"payment-failure-alerts/internal/storage"
)

// SimulateAlert 用一条合成的失败事件走一遍完整的规则评估流程。
// The synthetic event is evaluated against live data but never persisted,
// and neither is the resulting alert.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	sink := a.newSink()
	if sink == nil {
		return errors.New("未配置任何告警通道")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot simulate")
	}
	if closeStore != nil {
		defer closeStore()
	}

	counter, redisCounter, err := a.newCounter()
	if err != nil {
		return err
	}
	if redisCounter != nil {
		defer redisCounter.Close()
	}

	aggregator := aggregate.New(store, counter, a.Logger)
	ruleSet := rules.FromConfig(a.Config.Alerting.Rules, a.Logger)
	evaluator := rules.NewEvaluator(aggregator, store, sink, discardAlerts{}, func() rules.RuleSet { return ruleSet }, a.Logger)

	currency := opts.Currency
	if currency == "" {
		currency = "USD"
	}
	event := storage.FailureEvent{
		OrderID:      fmt.Sprintf("sim-%d", time.Now().Unix()),
		Gateway:      opts.Gateway,
		ErrorCode:    opts.ErrorCode,
		ErrorMessage: "simulated failure",
		Amount:       decimal.NewFromFloat(opts.Amount),
		Currency:     currency,
		OccurredAt:   time.Now().UTC(),
	}

	fired := evaluator.Evaluate(ctx, event)
	if len(fired) == 0 {
		fmt.Fprintln(os.Stdout, "no rules fired")
		return nil
	}

	for _, record := range fired {
		fmt.Fprintf(os.Stdout, "[%s] %s: %s\n", record.Severity, record.Rule, record.Message)
	}
	return nil
}

// discardAlerts keeps simulated alerts out of the database.
type discardAlerts struct{}

func (discardAlerts) InsertAlert(ctx context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	return alert, nil
}

func (discardAlerts) ListRecentAlerts(ctx context.Context, limit int) ([]storage.AlertRecord, error) {
	return nil, nil
}

func (discardAlerts) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	return nil
}

var _ storage.AlertStore = discardAlerts{}
