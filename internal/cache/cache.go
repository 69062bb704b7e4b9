package cache

import (
	"context"
	"time"
)

// AnalyticsCache stores encoded analytics snapshots. Keys carry the ledger
// version they were computed at, so entries never need explicit invalidation.
type AnalyticsCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

type NoopAnalyticsCache struct{}

func (NoopAnalyticsCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopAnalyticsCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}
