package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"payment-failure-alerts/internal/storage"
)

var (
	// ErrInvalidRange indicates a window whose start is after its end.
	ErrInvalidRange = errors.New("aggregate: window from must not be after to")
)

// GroupBy enumerates the supported bucketing dimensions.
type GroupBy string

const (
	GroupNone      GroupBy = "none"
	GroupHour      GroupBy = "hour"
	GroupDay       GroupBy = "day"
	GroupGateway   GroupBy = "gateway"
	GroupErrorCode GroupBy = "error_code"
)

// Valid reports whether the grouping is one of the enumerated kinds.
func (g GroupBy) Valid() bool {
	switch g {
	case GroupNone, GroupHour, GroupDay, GroupGateway, GroupErrorCode:
		return true
	}
	return false
}

// TimeWindow describes a half-open [From, To) aggregation query.
// Gateway and ErrorCode are optional exact-match filters.
type TimeWindow struct {
	From      time.Time
	To        time.Time
	Gateway   string
	ErrorCode string
	GroupBy   GroupBy
}

// Bucket is one row of an aggregation result.
type Bucket struct {
	Key          string
	FailureCount int
	TotalAmount  decimal.Decimal
	AvgAmount    decimal.Decimal
	UniqueOrders int
}

// FailureSource is the slice of the event store contract the aggregator reads.
type FailureSource interface {
	ListFailuresBetween(ctx context.Context, from, to time.Time, filter storage.FailureFilter) ([]storage.FailureEvent, error)
	ListRecentFailures(ctx context.Context, gateway string, limit int) ([]storage.FailureEvent, error)
}

// AttemptCounter counts checkout attempts for a gateway in a window.
type AttemptCounter interface {
	CountAttempts(ctx context.Context, gateway string, from, to time.Time) (int, error)
}

// Aggregator computes windowed failure metrics over the event store.
// Queries are pure reads and safe to run concurrently with ingestion.
type Aggregator struct {
	source   FailureSource
	attempts AttemptCounter
	logger   zerolog.Logger
	now      func() time.Time
}

// New constructs an Aggregator.
func New(source FailureSource, attempts AttemptCounter, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		source:   source,
		attempts: attempts,
		logger:   logger.With().Str("component", "aggregator").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Aggregate buckets failures with occurred_at in [From, To) by the requested
// grouping. An empty window yields an empty slice, not an error.
func (a *Aggregator) Aggregate(ctx context.Context, q TimeWindow) ([]Bucket, error) {
	if q.From.After(q.To) {
		return nil, ErrInvalidRange
	}
	if !q.GroupBy.Valid() {
		return nil, fmt.Errorf("aggregate: unknown group_by %q", q.GroupBy)
	}

	events, err := a.source.ListFailuresBetween(ctx, q.From, q.To, storage.FailureFilter{
		Gateway:   q.Gateway,
		ErrorCode: q.ErrorCode,
	})
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}

	return bucketize(events, q.GroupBy), nil
}

func bucketize(events []storage.FailureEvent, groupBy GroupBy) []Bucket {
	type accum struct {
		count  int
		total  decimal.Decimal
		orders map[string]struct{}
	}

	groups := make(map[string]*accum)
	order := make([]string, 0)

	for _, event := range events {
		key, ok := bucketKey(event, groupBy)
		if !ok {
			continue
		}
		acc, exists := groups[key]
		if !exists {
			acc = &accum{orders: make(map[string]struct{})}
			groups[key] = acc
			order = append(order, key)
		}
		acc.count++
		acc.total = acc.total.Add(event.Amount)
		acc.orders[event.OrderID] = struct{}{}
	}

	if groupBy == GroupHour || groupBy == GroupDay {
		sort.Strings(order)
	}

	buckets := make([]Bucket, 0, len(order))
	for _, key := range order {
		acc := groups[key]
		bucket := Bucket{
			Key:          key,
			FailureCount: acc.count,
			TotalAmount:  acc.total,
			UniqueOrders: len(acc.orders),
		}
		if acc.count > 0 {
			bucket.AvgAmount = acc.total.DivRound(decimal.NewFromInt(int64(acc.count)), 2)
		}
		buckets = append(buckets, bucket)
	}
	return buckets
}

func bucketKey(event storage.FailureEvent, groupBy GroupBy) (string, bool) {
	switch groupBy {
	case GroupHour:
		return event.OccurredAt.UTC().Truncate(time.Hour).Format("2006-01-02 15:00"), true
	case GroupDay:
		return event.OccurredAt.UTC().Format("2006-01-02"), true
	case GroupGateway:
		return event.Gateway, true
	case GroupErrorCode:
		// events without an error code carry no signal for this grouping
		if event.ErrorCode == "" {
			return "", false
		}
		return event.ErrorCode, true
	default:
		return "total", true
	}
}
