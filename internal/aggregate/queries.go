package aggregate

import (
	"context"
	"fmt"
	"math"
	"time"

	"payment-failure-alerts/internal/storage"
)

// downWindow bounds how far back consecutive failures may reach before a
// gateway stops counting as down.
const downWindow = 5 * time.Minute

// RecentFailureCount counts failures for gateway in [now-window, now).
func (a *Aggregator) RecentFailureCount(ctx context.Context, gateway string, window time.Duration) (int, error) {
	now := a.now()
	events, err := a.source.ListFailuresBetween(ctx, now.Add(-window), now, storage.FailureFilter{Gateway: gateway})
	if err != nil {
		return 0, fmt.Errorf("recent failure count: %w", err)
	}
	return len(events), nil
}

// RecentErrorCount counts failures carrying errorCode in [now-window, now).
func (a *Aggregator) RecentErrorCount(ctx context.Context, errorCode string, window time.Duration) (int, error) {
	now := a.now()
	events, err := a.source.ListFailuresBetween(ctx, now.Add(-window), now, storage.FailureFilter{ErrorCode: errorCode})
	if err != nil {
		return 0, fmt.Errorf("recent error count: %w", err)
	}
	return len(events), nil
}

// FailureRate returns the failure percentage for gateway over the window,
// along with the attempt count used as the denominator. A gateway with no
// recorded attempts has no measurable rate and yields 0.
func (a *Aggregator) FailureRate(ctx context.Context, gateway string, window time.Duration) (float64, int, error) {
	now := a.now()
	from := now.Add(-window)

	failures, err := a.source.ListFailuresBetween(ctx, from, now, storage.FailureFilter{Gateway: gateway})
	if err != nil {
		return 0, 0, fmt.Errorf("failure rate failures: %w", err)
	}

	attempts, err := a.attempts.CountAttempts(ctx, gateway, from, now)
	if err != nil {
		return 0, 0, fmt.Errorf("failure rate attempts: %w", err)
	}
	if attempts == 0 {
		return 0, 0, nil
	}

	rate := float64(len(failures)) / float64(attempts) * 100
	return math.Round(rate*100) / 100, attempts, nil
}

// IsGatewayDown reports whether the most recent consecutive failures for
// gateway all occurred within the last five minutes. Fewer than consecutive
// records is insufficient evidence, not an outage.
func (a *Aggregator) IsGatewayDown(ctx context.Context, gateway string, consecutive int) (bool, error) {
	if consecutive <= 0 {
		return false, nil
	}

	events, err := a.source.ListRecentFailures(ctx, gateway, consecutive)
	if err != nil {
		return false, fmt.Errorf("gateway down check: %w", err)
	}
	if len(events) < consecutive {
		return false, nil
	}

	cutoff := a.now().Add(-downWindow)
	for _, event := range events {
		if event.OccurredAt.Before(cutoff) {
			return false, nil
		}
	}
	return true, nil
}
