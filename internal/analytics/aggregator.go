package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"posledger/internal/cache"
	"posledger/internal/domain"
)

// History is the bill source the aggregator reads. Revision must change
// whenever the bills do.
type History interface {
	Revision() string
	History() ([]domain.Bill, string)
}

// Aggregator serves the bill reports through a cache keyed by history
// revision, so an unchanged history always yields the same snapshot.
type Aggregator struct {
	history History
	cache   cache.AnalyticsCache
	ttl     time.Duration
	log     *slog.Logger
}

func NewAggregator(history History, c cache.AnalyticsCache, ttl time.Duration, log *slog.Logger) *Aggregator {
	if c == nil {
		c = cache.NoopAnalyticsCache{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{history: history, cache: c, ttl: ttl, log: log}
}

func (a *Aggregator) Payments(ctx context.Context) (domain.PaymentAnalytics, error) {
	return cached(ctx, a, "payments", PaymentAnalytics)
}

func (a *Aggregator) Profit(ctx context.Context) (domain.ProfitAnalytics, error) {
	return cached(ctx, a, "profit", ProfitAnalytics)
}

func cached[T any](ctx context.Context, a *Aggregator, kind string, compute func([]domain.Bill) T) (T, error) {
	var out T
	if payload, ok, err := a.cache.Get(ctx, kind+":"+a.history.Revision()); err != nil {
		// a broken cache degrades to recomputation
		a.log.Warn("analytics cache read failed", "kind", kind, "error", err)
	} else if ok {
		if err := json.Unmarshal(payload, &out); err == nil {
			return out, nil
		}
		a.log.Warn("analytics cache entry unreadable", "kind", kind)
	}

	bills, revision := a.history.History()
	out = compute(bills)

	payload, err := json.Marshal(out)
	if err != nil {
		return out, err
	}
	if err := a.cache.Set(ctx, kind+":"+revision, payload, a.ttl); err != nil {
		a.log.Warn("analytics cache write failed", "kind", kind, "error", err)
	}
	return out, nil
}
