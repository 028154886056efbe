package attempts

import (
	"context"
	"time"

	"payment-failure-alerts/internal/storage"
)

// Noop stands in for the redis counter when no redis instance is
// configured. Samples are discarded and counts read as zero, which makes
// every failure rate resolve to zero.
type Noop struct{}

func (Noop) Record(ctx context.Context, sample storage.AttemptSample) error { return nil }

func (Noop) CountAttempts(ctx context.Context, gateway string, from, to time.Time) (int, error) {
	return 0, nil
}

func (Noop) Prune(ctx context.Context) error { return nil }
