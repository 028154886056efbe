package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"payment-failure-alerts/internal/aggregate"
	"payment-failure-alerts/internal/attempts"
	"payment-failure-alerts/internal/storage"
)

const exportBucketLayout = "2006-01-02 15:00"

// Export renders historical failure data as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-7 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	events, err := store.ListFailuresBetween(ctx, from, to, storage.FailureFilter{Gateway: opts.Gateway})
	if err != nil {
		return err
	}
	if len(events) == 0 {
		a.Logger.Info().Msg("no failures found for export window")
		return nil
	}

	a.Logger.Info().Int("total", len(events)).Msg("exporting failures")

	if opts.CSVPath != "" {
		downsampled := downsampleEvents(events, opts.MaxPoints)
		if err := writeFailuresCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		aggregator := aggregate.New(store, attempts.Noop{}, a.Logger)
		buckets, err := aggregator.Aggregate(ctx, aggregate.TimeWindow{
			From:    from,
			To:      to,
			Gateway: opts.Gateway,
			GroupBy: aggregate.GroupHour,
		})
		if err != nil {
			return err
		}
		if err := writeFailuresPNG(opts.PNGPath, buckets); err != nil {
			return err
		}
	}

	return nil
}

func downsampleEvents(events []storage.FailureEvent, max int) []storage.FailureEvent {
	if max <= 0 || len(events) <= max {
		return events
	}

	result := make([]storage.FailureEvent, 0, max)
	step := float64(len(events)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(events) {
			idx = len(events) - 1
		}
		result = append(result, events[idx])
	}
	return result
}

func writeFailuresCSV(path string, events []storage.FailureEvent) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"occurred_at", "gateway", "error_code", "amount", "currency", "order_id", "customer_id"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, event := range events {
		record := []string{
			event.OccurredAt.UTC().Format(time.RFC3339),
			event.Gateway,
			event.ErrorCode,
			event.Amount.String(),
			event.Currency,
			event.OrderID,
			event.CustomerID,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeFailuresPNG(path string, buckets []aggregate.Bucket) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	if len(buckets) < 2 {
		return errors.New("need at least two hourly buckets to render a chart")
	}

	x := make([]time.Time, len(buckets))
	counts := make([]float64, len(buckets))
	amounts := make([]float64, len(buckets))

	for i, bucket := range buckets {
		ts, err := time.Parse(exportBucketLayout, bucket.Key)
		if err != nil {
			return err
		}
		x[i] = ts
		counts[i] = float64(bucket.FailureCount)
		amounts[i] = bucket.TotalAmount.InexactFloat64()
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Failures per hour",
			ValueFormatter: countFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name: "Amount lost",
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Failures",
				XValues: x,
				YValues: counts,
			},
			chart.TimeSeries{
				Name:    "Amount lost",
				XValues: x,
				YValues: amounts,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
