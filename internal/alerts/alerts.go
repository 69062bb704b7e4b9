// Package alerts derives stock, margin and price alerts from catalogue items.
package alerts

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"posledger/internal/domain"
	"posledger/internal/store"
	"posledger/internal/xid"
)

type key struct {
	itemID string
	kind   domain.AlertType
}

// Condition is one alert an item qualifies for right now.
type Condition struct {
	ItemID   string
	Type     domain.AlertType
	Severity domain.Severity
	Message  string
}

type Generator struct {
	mu     sync.RWMutex
	alerts []domain.PriceAlert
	index  map[string]int
	open   map[key]int
	// acked remembers the severity a condition had when it was acknowledged;
	// the same condition stays quiet until it clears or gets worse.
	acked map[key]domain.Severity
	ids   xid.Generator
	now   func() time.Time
	log   *slog.Logger
}

type Option func(*Generator)

func WithIDs(g xid.Generator) Option {
	return func(a *Generator) { a.ids = g }
}

func WithClock(now func() time.Time) Option {
	return func(a *Generator) { a.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Generator) { a.log = l }
}

func New(existing []domain.PriceAlert, opts ...Option) *Generator {
	g := &Generator{
		index: make(map[string]int, len(existing)),
		open:  make(map[key]int),
		acked: make(map[key]domain.Severity),
		ids:   xid.Random{},
		now:   func() time.Time { return time.Now().UTC() },
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}

	sorted := append([]domain.PriceAlert(nil), existing...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })
	for _, alert := range sorted {
		g.index[alert.ID] = len(g.alerts)
		k := key{alert.ItemID, alert.Type}
		if alert.Acknowledged {
			g.acked[k] = alert.Severity
		} else {
			g.open[k] = len(g.alerts)
		}
		g.alerts = append(g.alerts, alert)
	}
	return g
}

// Evaluate lists the conditions an item currently meets. Deleted items meet none.
func Evaluate(item domain.Item) []Condition {
	if !item.Active {
		return nil
	}
	var out []Condition

	switch {
	case item.Quantity == 0:
		out = append(out, Condition{item.ID, domain.AlertStock, domain.SeverityHigh,
			fmt.Sprintf("%s is out of stock", item.Name)})
	case item.Quantity <= item.ReorderPoint:
		out = append(out, Condition{item.ID, domain.AlertStock, domain.SeverityMedium,
			fmt.Sprintf("%s is low on stock: %d left, reorder point %d", item.Name, item.Quantity, item.ReorderPoint)})
	}

	if item.SellingPriceCents > 0 && item.MinMargin > 0 {
		margin := item.Margin()
		if shortfall := item.MinMargin - margin; shortfall > 0 {
			out = append(out, Condition{item.ID, domain.AlertMargin, marginSeverity(shortfall),
				fmt.Sprintf("%s margin %.1f%% is below the minimum %.1f%%", item.Name, margin*100, item.MinMargin*100)})
		}
	}

	if item.SellingPriceCents <= item.PurchasePriceCents && (item.SellingPriceCents > 0 || item.PurchasePriceCents > 0) {
		out = append(out, Condition{item.ID, domain.AlertPrice, domain.SeverityHigh,
			fmt.Sprintf("%s sells at or below its purchase price", item.Name)})
	}
	return out
}

func marginSeverity(shortfall float64) domain.Severity {
	switch {
	case shortfall < 0.05:
		return domain.SeverityLow
	case shortfall < 0.15:
		return domain.SeverityMedium
	default:
		return domain.SeverityHigh
	}
}

func rank(s domain.Severity) int {
	switch s {
	case domain.SeverityHigh:
		return 3
	case domain.SeverityMedium:
		return 2
	case domain.SeverityLow:
		return 1
	default:
		return 0
	}
}

var kinds = []domain.AlertType{domain.AlertStock, domain.AlertMargin, domain.AlertPrice}

// Scan evaluates the given items and returns every alert it created or
// refreshed. An outstanding alert for the same item and type is refreshed in
// place rather than duplicated.
func (g *Generator) Scan(items []domain.Item) []domain.PriceAlert {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	changed := make([]domain.PriceAlert, 0)
	for _, item := range items {
		found := make(map[domain.AlertType]Condition, len(kinds))
		for _, c := range Evaluate(item) {
			found[c.Type] = c
		}

		for _, kind := range kinds {
			k := key{item.ID, kind}
			c, qualifies := found[kind]
			if !qualifies {
				delete(g.acked, k)
				continue
			}

			if idx, ok := g.open[k]; ok {
				alert := &g.alerts[idx]
				alert.Severity = c.Severity
				alert.Message = c.Message
				alert.Date = now
				changed = append(changed, *alert)
				continue
			}
			if sev, ok := g.acked[k]; ok && rank(c.Severity) <= rank(sev) {
				continue
			}
			delete(g.acked, k)

			alert := domain.PriceAlert{
				ID:       g.ids.New("alert"),
				ItemID:   item.ID,
				Type:     kind,
				Severity: c.Severity,
				Message:  c.Message,
				Date:     now,
			}
			g.index[alert.ID] = len(g.alerts)
			g.open[k] = len(g.alerts)
			g.alerts = append(g.alerts, alert)
			changed = append(changed, alert)
			g.log.Info("alert raised", "item_id", item.ID, "type", kind, "severity", c.Severity)
		}
	}
	return changed
}

func (g *Generator) Acknowledge(id string) (domain.PriceAlert, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx, ok := g.index[id]
	if !ok {
		return domain.PriceAlert{}, store.NotFound("alert", id)
	}
	alert := &g.alerts[idx]
	if !alert.Acknowledged {
		alert.Acknowledged = true
		k := key{alert.ItemID, alert.Type}
		if g.open[k] == idx {
			delete(g.open, k)
		}
		g.acked[k] = alert.Severity
	}
	return *alert, nil
}

// Unacknowledged lists outstanding alerts, newest first.
func (g *Generator) Unacknowledged() []domain.PriceAlert {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]domain.PriceAlert, 0, len(g.open))
	for i := len(g.alerts) - 1; i >= 0; i-- {
		if !g.alerts[i].Acknowledged {
			out = append(out, g.alerts[i])
		}
	}
	return out
}

// All lists every alert ever raised, newest first.
func (g *Generator) All() []domain.PriceAlert {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]domain.PriceAlert, 0, len(g.alerts))
	for i := len(g.alerts) - 1; i >= 0; i-- {
		out = append(out, g.alerts[i])
	}
	return out
}
