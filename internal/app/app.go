package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"payment-failure-alerts/internal/aggregate"
	"payment-failure-alerts/internal/alerting"
	"payment-failure-alerts/internal/analytics"
	"payment-failure-alerts/internal/attempts"
	"payment-failure-alerts/internal/config"
	"payment-failure-alerts/internal/rules"
	"payment-failure-alerts/internal/scheduler"
	"payment-failure-alerts/internal/server"
	"payment-failure-alerts/internal/service"
	"payment-failure-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newCounter() (aggregate.AttemptCounter, *attempts.RedisCounter, error) {
	if a.Config.Redis.URL == "" {
		a.Logger.Warn().Msg("redis.url not configured; attempt counting disabled, failure rates read as zero")
		return attempts.Noop{}, nil, nil
	}
	counter, err := attempts.NewRedisCounter(a.Config.Redis.URL, a.Config.Redis.Retention, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	return counter, counter, nil
}

func (a *App) newSink() alerting.Sink {
	if a.Config.Alerting.Webhook.Enabled {
		cfg := a.Config.Alerting.Webhook
		return alerting.NewWebhookSink(cfg.URL, cfg.Timeout, a.Logger)
	}
	return nil
}

// Run executes the long-running ingestion service: HTTP API plus the
// scheduled maintenance job.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required to run the monitor")
	}
	defer closeStore()

	counter, redisCounter, err := a.newCounter()
	if err != nil {
		return err
	}
	if redisCounter != nil {
		defer redisCounter.Close()
	}

	aggregator := aggregate.New(store, counter, a.Logger)
	sink := a.newSink()

	var evaluator *rules.Evaluator
	if a.Config.Alerting.Enabled {
		ruleSet := rules.FromConfig(a.Config.Alerting.Rules, a.Logger)
		snapshot := func() rules.RuleSet { return ruleSet }
		evaluator = rules.NewEvaluator(aggregator, store, sink, store, snapshot, a.Logger)
	} else {
		a.Logger.Warn().Msg("alerting disabled; events will be recorded without rule evaluation")
	}

	engine := analytics.NewEngine(aggregator, store, counter, a.Config.Analytics.MovingAverageWindow, a.Logger)
	monitor := service.NewMonitor(store, store, counterRecorder(redisCounter), evaluator, aggregator, engine, a.Logger)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Retention.CleanupInterval,
		AlignToStart: true,
	}, a.Logger)

	var pruner service.Pruner
	if redisCounter != nil {
		pruner = redisCounter
	}
	maintenance := service.NewMaintenance(sched, store, store, pruner, store, sink, engine, service.MaintenanceOptions{
		Retention:      time.Duration(a.Config.Retention.Days) * 24 * time.Hour,
		Interval:       a.Config.Retention.CleanupInterval,
		LockKey:        a.Config.Retention.AdvisoryLockKey,
		SummaryEnabled: a.Config.Alerting.Rules.Maintenance.Enabled,
	}, a.Logger)

	go func() {
		if err := maintenance.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Error().Err(err).Msg("maintenance job terminated")
		}
	}()

	srv := server.New(monitor, a.Config.Server, a.Logger)

	a.Logger.Info().Msg("starting payment failure monitor")
	err = srv.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("server terminated with error")
		return err
	}

	a.Logger.Info().Msg("payment failure monitor stopped")
	return nil
}

// counterRecorder adapts the optional redis counter to the monitor's
// recorder dependency; a missing counter drops samples with a warning at
// startup rather than per call.
func counterRecorder(counter *attempts.RedisCounter) service.AttemptRecorder {
	if counter == nil {
		return attempts.Noop{}
	}
	return counter
}

// ExportOptions hold parameters for exporting historical failures.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	Gateway   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}

// SimulateOptions describe the synthetic failure event.
type SimulateOptions struct {
	Gateway   string
	ErrorCode string
	Amount    float64
	Currency  string
}
