package stats

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"payment-failure-alerts/internal/aggregate"
)

func countBuckets(counts ...int) []aggregate.Bucket {
	buckets := make([]aggregate.Bucket, 0, len(counts))
	for i, count := range counts {
		buckets = append(buckets, aggregate.Bucket{Key: string(rune('a' + i)), FailureCount: count})
	}
	return buckets
}

func TestMovingAverage(t *testing.T) {
	assert.Equal(t, []float64{4, 6}, MovingAverage(countBuckets(2, 4, 6, 8), 3))
	assert.Equal(t, []float64{1.67}, MovingAverage(countBuckets(1, 2, 2), 3))
	assert.Nil(t, MovingAverage(countBuckets(1, 2), 3), "fewer buckets than window")
	assert.Nil(t, MovingAverage(countBuckets(1, 2, 3), 0), "non-positive window")
}

func TestDetectAnomaliesInsufficientSample(t *testing.T) {
	assert.Nil(t, DetectAnomalies(countBuckets(1, 100)))
}

func TestDetectAnomaliesFlat(t *testing.T) {
	assert.Empty(t, DetectAnomalies(countBuckets(4, 4, 4, 4, 4)))
}

func TestDetectAnomaliesMedium(t *testing.T) {
	anomalies := DetectAnomalies(countBuckets(1, 1, 1, 1, 1, 20))
	if assert.Len(t, anomalies, 1) {
		assert.Equal(t, 20, anomalies[0].Value)
		assert.Equal(t, SeverityMedium, anomalies[0].Severity)
		assert.InDelta(t, 18.3, anomalies[0].Threshold, 0.001)
	}
}

func TestDetectAnomaliesHigh(t *testing.T) {
	counts := make([]int, 17)
	counts[16] = 17
	anomalies := DetectAnomalies(countBuckets(counts...))
	if assert.Len(t, anomalies, 1) {
		assert.Equal(t, 17, anomalies[0].Value)
		assert.Equal(t, SeverityHigh, anomalies[0].Severity)
	}
}

func TestDiversityIndex(t *testing.T) {
	assert.Zero(t, DiversityIndex(nil))
	assert.Zero(t, DiversityIndex([]int{12}), "single error code carries no diversity")
	assert.Zero(t, DiversityIndex([]int{0, 0}))
	assert.InDelta(t, 1.0, DiversityIndex([]int{5, 5}), 1e-9, "uniform distribution is maximal")
	assert.InDelta(t, 0.469, DiversityIndex([]int{9, 1}), 0.001)
}

func TestPercentageChange(t *testing.T) {
	assert.Equal(t, Change{Value: 0, Direction: DirectionNeutral, Type: "percentage"}, PercentageChange(0, 0))
	assert.Equal(t, Change{Value: 100, Direction: DirectionUp, Type: "percentage"}, PercentageChange(5, 0))
	assert.Equal(t, Change{Value: 20, Direction: DirectionUp, Type: "percentage"}, PercentageChange(120, 100))
	assert.Equal(t, Change{Value: 20, Direction: DirectionDown, Type: "percentage"}, PercentageChange(80, 100))
	assert.Equal(t, Change{Value: 0, Direction: DirectionNeutral, Type: "percentage"}, PercentageChange(100, 100))
}

func TestAbsoluteChange(t *testing.T) {
	assert.Equal(t, Change{Value: 5.25, Direction: DirectionUp, Type: "absolute"}, AbsoluteChange(15.5, 10.25))
	assert.Equal(t, Change{Value: 2, Direction: DirectionDown, Type: "absolute"}, AbsoluteChange(10, 12))
	assert.Equal(t, Change{Value: 0, Direction: DirectionNeutral, Type: "absolute"}, AbsoluteChange(7, 7))
}

func TestPerformanceScore(t *testing.T) {
	cheap := decimal.NewFromInt(50)
	costly := decimal.NewFromInt(150)

	assert.Equal(t, 99.0, PerformanceScore(99, 3, cheap), "no penalties")
	assert.Equal(t, 89.0, PerformanceScore(99, 25, costly), "moderate volume plus costly failures")
	assert.Equal(t, 84.0, PerformanceScore(99, 60, costly), "high volume plus costly failures")
	assert.Equal(t, 0.0, PerformanceScore(5, 100, decimal.NewFromInt(1000)), "clamped at zero")
	assert.Equal(t, 100.0, PerformanceScore(100, 0, decimal.Zero))
}

func TestGatewayStatus(t *testing.T) {
	assert.Equal(t, StatusExcellent, GatewayStatus(99, 2))
	assert.Equal(t, StatusGood, GatewayStatus(99, 10), "high rate but too many failures for excellent")
	assert.Equal(t, StatusGood, GatewayStatus(96, 10))
	assert.Equal(t, StatusFair, GatewayStatus(91, 30))
	assert.Equal(t, StatusPoor, GatewayStatus(85, 100))
	assert.Equal(t, StatusCritical, GatewayStatus(70, 5))
}
