package analytics

import (
	"time"

	"github.com/shopspring/decimal"

	"payment-failure-alerts/internal/aggregate"
	"payment-failure-alerts/internal/stats"
)

// Timeframe selects the reporting window.
type Timeframe string

const (
	TimeframeHour  Timeframe = "1h"
	TimeframeDay   Timeframe = "24h"
	TimeframeWeek  Timeframe = "7d"
	TimeframeMonth Timeframe = "30d"
)

// Valid reports whether the timeframe is one of the supported windows.
func (t Timeframe) Valid() bool {
	switch t {
	case TimeframeHour, TimeframeDay, TimeframeWeek, TimeframeMonth:
		return true
	}
	return false
}

// Duration returns the window length.
func (t Timeframe) Duration() time.Duration {
	switch t {
	case TimeframeHour:
		return time.Hour
	case TimeframeDay:
		return 24 * time.Hour
	case TimeframeMonth:
		return 30 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// GroupBy returns the bucketing used for timelines at this timeframe.
func (t Timeframe) GroupBy() aggregate.GroupBy {
	switch t {
	case TimeframeHour, TimeframeDay:
		return aggregate.GroupHour
	default:
		return aggregate.GroupDay
	}
}

// Report is the composed dashboard payload.
type Report struct {
	Timeframe Timeframe     `json:"timeframe"`
	Gateway   string        `json:"gateway,omitempty"`
	Overview  Overview      `json:"overview"`
	Trends    Trends        `json:"trends"`
	Gateways  GatewayReport `json:"gateways"`
	Errors    ErrorReport   `json:"errors"`
	Patterns  Patterns      `json:"patterns"`
}

// PeriodMetrics summarises one reporting period.
type PeriodMetrics struct {
	TotalFailures    int             `json:"total_failures"`
	TotalAmountLost  decimal.Decimal `json:"total_amount_lost"`
	AvgFailureAmount decimal.Decimal `json:"avg_failure_amount"`
	UniqueOrders     int             `json:"unique_orders"`
	UniqueCustomers  int             `json:"unique_customers"`
	TotalAttempts    int             `json:"total_attempts"`
	FailureRate      float64         `json:"failure_rate"`
}

// Overview compares the current period against the one before it.
type Overview struct {
	Current      PeriodMetrics  `json:"current"`
	Previous     PeriodMetrics  `json:"previous"`
	Trends       OverviewTrends `json:"trends"`
	CurrentFrom  time.Time      `json:"current_from"`
	CurrentTo    time.Time      `json:"current_to"`
	PreviousFrom time.Time      `json:"previous_from"`
	PreviousTo   time.Time      `json:"previous_to"`
}

// OverviewTrends carries the period-over-period deltas.
type OverviewTrends struct {
	Failures  stats.Change `json:"failures"`
	Amount    stats.Change `json:"amount"`
	AvgAmount stats.Change `json:"avg_amount"`
	Rate      stats.Change `json:"rate"`
}

// Trends is the timeline section of the report.
type Trends struct {
	Timeline      []aggregate.Bucket `json:"timeline"`
	MovingAverage []float64          `json:"moving_average"`
	Anomalies     []stats.Anomaly    `json:"anomalies"`
	Seasonality   Seasonality        `json:"seasonality"`
}

// Seasonality histograms failure counts by hour of day and day of week.
type Seasonality struct {
	Hourly   map[int]int          `json:"hourly"`
	Daily    map[time.Weekday]int `json:"daily"`
	PeakHour int                  `json:"peak_hour"`
	PeakDay  time.Weekday         `json:"peak_day"`
}

// GatewayAnalysis scores one gateway for the period.
type GatewayAnalysis struct {
	Gateway          string          `json:"gateway"`
	FailureCount     int             `json:"failure_count"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	AvgAmount        decimal.Decimal `json:"avg_amount"`
	UniqueOrders     int             `json:"unique_orders"`
	TotalAttempts    int             `json:"total_attempts"`
	SuccessRate      float64         `json:"success_rate"`
	PerformanceScore float64         `json:"performance_score"`
	Status           string          `json:"status"`
}

// GatewayReport lists analysed gateways best-first with a rollup.
type GatewayReport struct {
	Gateways []GatewayAnalysis `json:"gateways"`
	Summary  GatewaySummary    `json:"summary"`
}

// GatewaySummary rolls up the gateway section.
type GatewaySummary struct {
	TotalGateways       int             `json:"total_gateways"`
	TotalFailures       int             `json:"total_failures"`
	TotalAmountLost     decimal.Decimal `json:"total_amount_lost"`
	AvgPerformanceScore float64         `json:"avg_performance_score"`
	BestPerforming      string          `json:"best_performing,omitempty"`
	WorstPerforming     string          `json:"worst_performing,omitempty"`
}

// ErrorAnalysis summarises one error code for the period.
type ErrorAnalysis struct {
	ErrorCode   string          `json:"error_code"`
	Count       int             `json:"count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	AvgAmount   decimal.Decimal `json:"avg_amount"`
	Percentage  float64         `json:"percentage"`
	Severity    string          `json:"severity"`
}

// ErrorReport lists the top error codes with a diversity measure.
type ErrorReport struct {
	Errors            []ErrorAnalysis `json:"errors"`
	TotalUniqueErrors int             `json:"total_unique_errors"`
	DiversityIndex    float64         `json:"diversity_index"`
}

// Patterns groups the behavioural sections of the report.
type Patterns struct {
	Time   Seasonality    `json:"time"`
	Amount AmountPatterns `json:"amount"`
}

// AmountPatterns characterises failure amounts for the period.
type AmountPatterns struct {
	Min            decimal.Decimal `json:"min"`
	Max            decimal.Decimal `json:"max"`
	Avg            decimal.Decimal `json:"avg"`
	HighValueCount int             `json:"high_value_count"`
}
