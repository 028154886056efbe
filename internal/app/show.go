package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"payment-failure-alerts/internal/storage"
)

type failureLister interface {
	ListRecentFailures(ctx context.Context, gateway string, limit int) ([]storage.FailureEvent, error)
}

type alertLister interface {
	ListRecentAlerts(ctx context.Context, limit int) ([]storage.AlertRecord, error)
}

// Show prints recent failures, or recent alerts with --alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show records")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Alerts {
		return a.showAlerts(ctx, store, opts.Limit)
	}
	return a.showFailures(ctx, store, opts.Limit)
}

func (a *App) showFailures(ctx context.Context, store failureLister, limit int) error {
	events, err := store.ListRecentFailures(ctx, "", limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no failures found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tGateway\tError\tAmount\tCurrency\tOrder\tMessage")

	for _, event := range events {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			event.OccurredAt.UTC().Format(time.RFC3339),
			event.Gateway,
			event.ErrorCode,
			formatDecimal(event.Amount, 2),
			event.Currency,
			event.OrderID,
			sanitizeInline(event.ErrorMessage),
		)
	}

	writer.Flush()
	return nil
}

func (a *App) showAlerts(ctx context.Context, store alertLister, limit int) error {
	alerts, err := store.ListRecentAlerts(ctx, limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fired (UTC)\tRule\tSeverity\tGateway\tMessage")

	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			alert.FiredAt.UTC().Format(time.RFC3339),
			alert.Rule,
			alert.Severity,
			alert.Gateway,
			sanitizeInline(alert.Message),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
