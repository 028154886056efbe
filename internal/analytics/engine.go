package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"payment-failure-alerts/internal/aggregate"
	"payment-failure-alerts/internal/stats"
	"payment-failure-alerts/internal/storage"
)

const topErrorLimit = 10

// Bucketer is the aggregation contract the engine composes reports from.
type Bucketer interface {
	Aggregate(ctx context.Context, q aggregate.TimeWindow) ([]aggregate.Bucket, error)
}

// Engine composes the dashboard report from aggregator output and the raw
// event stream. All queries are pure reads.
type Engine struct {
	buckets  Bucketer
	source   aggregate.FailureSource
	attempts aggregate.AttemptCounter
	maWindow int
	logger   zerolog.Logger
	now      func() time.Time
}

// NewEngine constructs an analytics engine. maWindow tunes the trailing mean
// width; values below one fall back to the default.
func NewEngine(buckets Bucketer, source aggregate.FailureSource, attempts aggregate.AttemptCounter, maWindow int, logger zerolog.Logger) *Engine {
	if maWindow < 1 {
		maWindow = stats.DefaultMovingAverageWindow
	}
	return &Engine{
		buckets:  buckets,
		source:   source,
		attempts: attempts,
		maWindow: maWindow,
		logger:   logger.With().Str("component", "analytics").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Report builds the composed analytics payload for the timeframe, optionally
// filtered to a single gateway.
func (e *Engine) Report(ctx context.Context, timeframe Timeframe, gateway string) (Report, error) {
	if !timeframe.Valid() {
		timeframe = TimeframeWeek
	}

	now := e.now()
	duration := timeframe.Duration()
	from := now.Add(-duration)
	prevFrom := now.Add(-2 * duration)

	events, err := e.source.ListFailuresBetween(ctx, from, now, storage.FailureFilter{Gateway: gateway})
	if err != nil {
		return Report{}, fmt.Errorf("analytics events: %w", err)
	}
	prevEvents, err := e.source.ListFailuresBetween(ctx, prevFrom, from, storage.FailureFilter{Gateway: gateway})
	if err != nil {
		return Report{}, fmt.Errorf("analytics previous events: %w", err)
	}

	current, err := e.periodMetrics(ctx, events, gateway, from, now)
	if err != nil {
		return Report{}, err
	}
	previous, err := e.periodMetrics(ctx, prevEvents, gateway, prevFrom, from)
	if err != nil {
		return Report{}, err
	}

	trends, err := e.trendAnalysis(ctx, timeframe, gateway, from, now, events)
	if err != nil {
		return Report{}, err
	}

	gateways, err := e.gatewayAnalysis(ctx, from, now, gateway)
	if err != nil {
		return Report{}, err
	}

	errorReport, err := e.errorAnalysis(ctx, from, now, gateway)
	if err != nil {
		return Report{}, err
	}

	return Report{
		Timeframe: timeframe,
		Gateway:   gateway,
		Overview: Overview{
			Current:  current,
			Previous: previous,
			Trends: OverviewTrends{
				Failures:  stats.PercentageChange(float64(current.TotalFailures), float64(previous.TotalFailures)),
				Amount:    stats.PercentageChange(current.TotalAmountLost.InexactFloat64(), previous.TotalAmountLost.InexactFloat64()),
				AvgAmount: stats.PercentageChange(current.AvgFailureAmount.InexactFloat64(), previous.AvgFailureAmount.InexactFloat64()),
				Rate:      stats.AbsoluteChange(current.FailureRate, previous.FailureRate),
			},
			CurrentFrom:  from,
			CurrentTo:    now,
			PreviousFrom: prevFrom,
			PreviousTo:   from,
		},
		Trends:   trends,
		Gateways: gateways,
		Errors:   errorReport,
		Patterns: Patterns{
			Time:   seasonality(events),
			Amount: amountPatterns(events),
		},
	}, nil
}

func (e *Engine) periodMetrics(ctx context.Context, events []storage.FailureEvent, gateway string, from, to time.Time) (PeriodMetrics, error) {
	metrics := PeriodMetrics{TotalFailures: len(events)}

	orders := make(map[string]struct{})
	customers := make(map[string]struct{})
	gateways := make(map[string]struct{})
	for _, event := range events {
		metrics.TotalAmountLost = metrics.TotalAmountLost.Add(event.Amount)
		orders[event.OrderID] = struct{}{}
		gateways[event.Gateway] = struct{}{}
		if event.CustomerID != "" {
			customers[event.CustomerID] = struct{}{}
		}
	}
	metrics.UniqueOrders = len(orders)
	metrics.UniqueCustomers = len(customers)
	if len(events) > 0 {
		metrics.AvgFailureAmount = metrics.TotalAmountLost.DivRound(decimal.NewFromInt(int64(len(events))), 2)
	}

	attempts, err := e.countAttempts(ctx, gateway, gateways, from, to)
	if err != nil {
		return PeriodMetrics{}, err
	}
	metrics.TotalAttempts = attempts
	if attempts > 0 {
		rate := float64(metrics.TotalFailures) / float64(attempts) * 100
		metrics.FailureRate = math.Round(rate*100) / 100
	}

	return metrics, nil
}

// countAttempts sums the attempt denominator. Without a gateway filter the
// sum covers only gateways that appear in the failure stream; gateways with
// zero failures contribute nothing to an overall failure rate anyway.
func (e *Engine) countAttempts(ctx context.Context, gateway string, seen map[string]struct{}, from, to time.Time) (int, error) {
	if gateway != "" {
		count, err := e.attempts.CountAttempts(ctx, gateway, from, to)
		if err != nil {
			return 0, fmt.Errorf("count attempts: %w", err)
		}
		return count, nil
	}

	total := 0
	for gw := range seen {
		count, err := e.attempts.CountAttempts(ctx, gw, from, to)
		if err != nil {
			return 0, fmt.Errorf("count attempts for %s: %w", gw, err)
		}
		total += count
	}
	return total, nil
}

func (e *Engine) trendAnalysis(ctx context.Context, timeframe Timeframe, gateway string, from, to time.Time, events []storage.FailureEvent) (Trends, error) {
	timeline, err := e.buckets.Aggregate(ctx, aggregate.TimeWindow{
		From:    from,
		To:      to,
		Gateway: gateway,
		GroupBy: timeframe.GroupBy(),
	})
	if err != nil {
		return Trends{}, fmt.Errorf("trend timeline: %w", err)
	}

	return Trends{
		Timeline:      timeline,
		MovingAverage: stats.MovingAverage(timeline, e.maWindow),
		Anomalies:     stats.DetectAnomalies(timeline),
		Seasonality:   seasonality(events),
	}, nil
}

func (e *Engine) gatewayAnalysis(ctx context.Context, from, to time.Time, gateway string) (GatewayReport, error) {
	buckets, err := e.buckets.Aggregate(ctx, aggregate.TimeWindow{
		From:    from,
		To:      to,
		Gateway: gateway,
		GroupBy: aggregate.GroupGateway,
	})
	if err != nil {
		return GatewayReport{}, fmt.Errorf("gateway buckets: %w", err)
	}

	analysed := make([]GatewayAnalysis, 0, len(buckets))
	for _, bucket := range buckets {
		attempts, err := e.attempts.CountAttempts(ctx, bucket.Key, from, to)
		if err != nil {
			return GatewayReport{}, fmt.Errorf("gateway attempts for %s: %w", bucket.Key, err)
		}

		successRate := 0.0
		if attempts > 0 {
			successful := attempts - bucket.FailureCount
			if successful < 0 {
				successful = 0
			}
			successRate = math.Round(float64(successful)/float64(attempts)*10000) / 100
		}

		analysed = append(analysed, GatewayAnalysis{
			Gateway:          bucket.Key,
			FailureCount:     bucket.FailureCount,
			TotalAmount:      bucket.TotalAmount,
			AvgAmount:        bucket.AvgAmount,
			UniqueOrders:     bucket.UniqueOrders,
			TotalAttempts:    attempts,
			SuccessRate:      successRate,
			PerformanceScore: stats.PerformanceScore(successRate, bucket.FailureCount, bucket.AvgAmount),
			Status:           stats.GatewayStatus(successRate, bucket.FailureCount),
		})
	}

	sort.SliceStable(analysed, func(i, j int) bool {
		return analysed[i].PerformanceScore > analysed[j].PerformanceScore
	})

	return GatewayReport{
		Gateways: analysed,
		Summary:  gatewaySummary(analysed),
	}, nil
}

func gatewaySummary(gateways []GatewayAnalysis) GatewaySummary {
	summary := GatewaySummary{TotalGateways: len(gateways)}
	if len(gateways) == 0 {
		return summary
	}

	scoreSum := 0.0
	for _, gw := range gateways {
		summary.TotalFailures += gw.FailureCount
		summary.TotalAmountLost = summary.TotalAmountLost.Add(gw.TotalAmount)
		scoreSum += gw.PerformanceScore
	}
	summary.AvgPerformanceScore = math.Round(scoreSum/float64(len(gateways))*10) / 10
	summary.BestPerforming = gateways[0].Gateway
	summary.WorstPerforming = gateways[len(gateways)-1].Gateway
	return summary
}

func (e *Engine) errorAnalysis(ctx context.Context, from, to time.Time, gateway string) (ErrorReport, error) {
	buckets, err := e.buckets.Aggregate(ctx, aggregate.TimeWindow{
		From:    from,
		To:      to,
		Gateway: gateway,
		GroupBy: aggregate.GroupErrorCode,
	})
	if err != nil {
		return ErrorReport{}, fmt.Errorf("error buckets: %w", err)
	}

	total := 0
	counts := make([]int, 0, len(buckets))
	for _, bucket := range buckets {
		total += bucket.FailureCount
		counts = append(counts, bucket.FailureCount)
	}

	analysed := make([]ErrorAnalysis, 0, len(buckets))
	for _, bucket := range buckets {
		percentage := 0.0
		if total > 0 {
			percentage = math.Round(float64(bucket.FailureCount)/float64(total)*1000) / 10
		}
		analysed = append(analysed, ErrorAnalysis{
			ErrorCode:   bucket.Key,
			Count:       bucket.FailureCount,
			TotalAmount: bucket.TotalAmount,
			AvgAmount:   bucket.AvgAmount,
			Percentage:  percentage,
			Severity:    classifyErrorSeverity(bucket.Key, bucket.FailureCount),
		})
	}

	sort.SliceStable(analysed, func(i, j int) bool {
		return analysed[i].Count > analysed[j].Count
	})

	report := ErrorReport{
		TotalUniqueErrors: len(analysed),
		DiversityIndex:    stats.DiversityIndex(counts),
	}
	if len(analysed) > topErrorLimit {
		analysed = analysed[:topErrorLimit]
	}
	report.Errors = analysed
	return report, nil
}

var (
	criticalErrorPatterns = []string{"gateway_down", "connection_failed", "timeout", "server_error"}
	highErrorPatterns     = []string{"card_declined", "insufficient_funds", "invalid_card"}
)

// classifyErrorSeverity tiers an error code by known patterns and volume.
func classifyErrorSeverity(errorCode string, count int) string {
	lowered := strings.ToLower(errorCode)

	for _, pattern := range criticalErrorPatterns {
		if strings.Contains(lowered, pattern) {
			return "critical"
		}
	}
	for _, pattern := range highErrorPatterns {
		if strings.Contains(lowered, pattern) {
			if count > 10 {
				return "high"
			}
			return "medium"
		}
	}

	switch {
	case count > 20:
		return "high"
	case count > 5:
		return "medium"
	default:
		return "low"
	}
}

func seasonality(events []storage.FailureEvent) Seasonality {
	result := Seasonality{
		Hourly: make(map[int]int),
		Daily:  make(map[time.Weekday]int),
	}

	for _, event := range events {
		at := event.OccurredAt.UTC()
		result.Hourly[at.Hour()]++
		result.Daily[at.Weekday()]++
	}

	peakHourCount := -1
	for hour, count := range result.Hourly {
		if count > peakHourCount || (count == peakHourCount && hour < result.PeakHour) {
			result.PeakHour = hour
			peakHourCount = count
		}
	}

	peakDayCount := -1
	for day, count := range result.Daily {
		if count > peakDayCount || (count == peakDayCount && day < result.PeakDay) {
			result.PeakDay = day
			peakDayCount = count
		}
	}

	return result
}

func amountPatterns(events []storage.FailureEvent) AmountPatterns {
	if len(events) == 0 {
		return AmountPatterns{}
	}

	patterns := AmountPatterns{Min: events[0].Amount, Max: events[0].Amount}
	total := decimal.Zero
	for _, event := range events {
		total = total.Add(event.Amount)
		if event.Amount.LessThan(patterns.Min) {
			patterns.Min = event.Amount
		}
		if event.Amount.GreaterThan(patterns.Max) {
			patterns.Max = event.Amount
		}
	}
	patterns.Avg = total.DivRound(decimal.NewFromInt(int64(len(events))), 2)

	highValueFloor := patterns.Avg.Mul(decimal.NewFromInt(2))
	for _, event := range events {
		if event.Amount.GreaterThanOrEqual(highValueFloor) && event.Amount.GreaterThan(decimal.Zero) {
			patterns.HighValueCount++
		}
	}

	return patterns
}
