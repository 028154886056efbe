package stats

import (
	"math"

	"github.com/shopspring/decimal"

	"payment-failure-alerts/internal/aggregate"
)

// DefaultMovingAverageWindow is the trailing mean width used by trend reports.
const DefaultMovingAverageWindow = 3

// Change directions.
const (
	DirectionUp      = "up"
	DirectionDown    = "down"
	DirectionNeutral = "neutral"
)

// Anomaly severities.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// Gateway status tiers, best first.
const (
	StatusExcellent = "excellent"
	StatusGood      = "good"
	StatusFair      = "fair"
	StatusPoor      = "poor"
	StatusCritical  = "critical"
)

// MovingAverage computes a simple trailing mean of failure counts over the
// ordered bucket sequence. Fewer buckets than the window yields an empty
// result.
func MovingAverage(buckets []aggregate.Bucket, window int) []float64 {
	if window <= 0 || len(buckets) < window {
		return nil
	}

	averages := make([]float64, 0, len(buckets)-window+1)
	for i := window - 1; i < len(buckets); i++ {
		sum := 0
		for j := 0; j < window; j++ {
			sum += buckets[i-j].FailureCount
		}
		avg := float64(sum) / float64(window)
		averages = append(averages, math.Round(avg*100)/100)
	}
	return averages
}

// Anomaly flags a bucket whose failure count sits above the 2σ band.
type Anomaly struct {
	Key       string
	Value     int
	Threshold float64
	Severity  string
}

// DetectAnomalies flags buckets more than two population standard deviations
// above the mean failure count. Fewer than three buckets is an insufficient
// sample and yields no anomalies.
func DetectAnomalies(buckets []aggregate.Bucket) []Anomaly {
	if len(buckets) < 3 {
		return nil
	}

	mean := 0.0
	for _, b := range buckets {
		mean += float64(b.FailureCount)
	}
	mean /= float64(len(buckets))

	variance := 0.0
	for _, b := range buckets {
		diff := float64(b.FailureCount) - mean
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(len(buckets)))

	threshold := mean + 2*stdDev
	highThreshold := mean + 3*stdDev

	var anomalies []Anomaly
	for _, b := range buckets {
		value := float64(b.FailureCount)
		if value <= threshold {
			continue
		}
		severity := SeverityMedium
		if value > highThreshold {
			severity = SeverityHigh
		}
		anomalies = append(anomalies, Anomaly{
			Key:       b.Key,
			Value:     b.FailureCount,
			Threshold: math.Round(threshold*10) / 10,
			Severity:  severity,
		})
	}
	return anomalies
}

// DiversityIndex computes the Shannon diversity of an error-code count
// distribution, normalised to [0, 1]. Zero or one distinct codes is exactly 0.
func DiversityIndex(counts []int) float64 {
	total := 0
	distinct := 0
	for _, count := range counts {
		if count <= 0 {
			continue
		}
		total += count
		distinct++
	}
	if distinct <= 1 || total == 0 {
		return 0
	}

	diversity := 0.0
	for _, count := range counts {
		if count <= 0 {
			continue
		}
		p := float64(count) / float64(total)
		diversity -= p * math.Log(p)
	}

	return diversity / math.Log(float64(distinct))
}

// Change describes a trend delta between two periods.
type Change struct {
	Value     float64
	Direction string
	Type      string
}

// PercentageChange compares current against previous as a percentage. A zero
// previous with a positive current reads as a 100% first-time increase rather
// than a division fault.
func PercentageChange(current, previous float64) Change {
	if previous == 0 {
		change := Change{Value: 0, Direction: DirectionNeutral, Type: "percentage"}
		if current > 0 {
			change.Value = 100
			change.Direction = DirectionUp
		}
		return change
	}

	delta := (current - previous) / previous * 100
	return Change{
		Value:     math.Round(math.Abs(delta)*10) / 10,
		Direction: direction(delta),
		Type:      "percentage",
	}
}

// AbsoluteChange compares current against previous as a raw delta.
func AbsoluteChange(current, previous float64) Change {
	delta := current - previous
	return Change{
		Value:     math.Round(math.Abs(delta)*100) / 100,
		Direction: direction(delta),
		Type:      "absolute",
	}
}

func direction(delta float64) string {
	switch {
	case delta > 0:
		return DirectionUp
	case delta < 0:
		return DirectionDown
	default:
		return DirectionNeutral
	}
}

var (
	highFailurePenaltyFloor = 50
	someFailurePenaltyFloor = 20
	highValueAvgFloor       = decimal.NewFromInt(100)
)

// PerformanceScore rates a gateway from its success rate with penalties for
// failure volume and expensive failures, clamped to [0, 100].
func PerformanceScore(successRate float64, failureCount int, avgFailureAmount decimal.Decimal) float64 {
	score := successRate

	if failureCount > highFailurePenaltyFloor {
		score -= 10
	} else if failureCount > someFailurePenaltyFloor {
		score -= 5
	}

	if avgFailureAmount.GreaterThan(highValueAvgFloor) {
		score -= 5
	}

	return math.Max(0, math.Min(100, score))
}

// GatewayStatus tiers a gateway by success rate and failure volume. Tiers are
// evaluated best-first; the first match wins.
func GatewayStatus(successRate float64, failureCount int) string {
	switch {
	case successRate >= 98 && failureCount < 5:
		return StatusExcellent
	case successRate >= 95 && failureCount < 20:
		return StatusGood
	case successRate >= 90 && failureCount < 50:
		return StatusFair
	case successRate >= 80:
		return StatusPoor
	default:
		return StatusCritical
	}
}
