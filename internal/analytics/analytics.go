// Package analytics computes read-only reports over the bill history and the
// catalogue. Every function is pure and only counts completed bills.
package analytics

import (
	"sort"
	"time"

	"posledger/internal/domain"
	"posledger/internal/money"
)

const performerLimit = 5

func completed(bills []domain.Bill) []domain.Bill {
	out := make([]domain.Bill, 0, len(bills))
	for _, b := range bills {
		if b.Status == domain.BillCompleted {
			out = append(out, b)
		}
	}
	return out
}

func PaymentAnalytics(bills []domain.Bill) domain.PaymentAnalytics {
	bills = completed(bills)

	var out domain.PaymentAnalytics
	sales := make(map[string]*domain.ItemSales)
	for _, b := range bills {
		out.TotalSalesCents += b.TotalCents
		switch b.PaymentMethod {
		case domain.PaymentCash:
			out.PaymentMethods.CashCents += b.TotalCents
		case domain.PaymentCard:
			out.PaymentMethods.CardCents += b.TotalCents
		case domain.PaymentUPI:
			out.PaymentMethods.UPICents += b.TotalCents
		}
		for _, line := range b.Items {
			s, ok := sales[line.ID]
			if !ok {
				s = &domain.ItemSales{ItemID: line.ID, Name: line.Name}
				sales[line.ID] = s
			}
			s.Quantity += line.BillQuantity
			// ranked by list price; overrides show up in bill totals and profit
			s.RevenueCents += line.SellingPriceCents * int64(line.BillQuantity)
		}
	}
	out.BillCount = len(bills)
	out.AverageTransactionValueCents = money.Average(out.TotalSalesCents, len(bills))

	ranked := make([]domain.ItemSales, 0, len(sales))
	for _, s := range sales {
		ranked = append(ranked, *s)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].RevenueCents != ranked[j].RevenueCents {
			return ranked[i].RevenueCents > ranked[j].RevenueCents
		}
		if ranked[i].Quantity != ranked[j].Quantity {
			return ranked[i].Quantity > ranked[j].Quantity
		}
		return ranked[i].ItemID < ranked[j].ItemID
	})
	if len(ranked) > performerLimit {
		ranked = ranked[:performerLimit]
	}
	out.TopSellingItems = ranked
	return out
}

type categoryStats struct {
	profit    int64
	marginSum float64
	items     int
}

func ProfitAnalytics(bills []domain.Bill) domain.ProfitAnalytics {
	bills = completed(bills)

	var out domain.ProfitAnalytics
	perItem := make(map[string]*domain.ItemPerformance)
	type day struct{ profit, revenue int64 }
	days := make(map[string]*day)

	var marginSum float64
	for _, b := range bills {
		out.TotalProfitCents += b.TotalProfitCents
		marginSum += b.ProfitMargin

		key := b.Date.UTC().Format(time.DateOnly)
		d, ok := days[key]
		if !ok {
			d = &day{}
			days[key] = d
		}
		d.profit += b.TotalProfitCents
		d.revenue += b.SubtotalCents

		for _, line := range b.Items {
			p, ok := perItem[line.ID]
			if !ok {
				p = &domain.ItemPerformance{ItemID: line.ID, Name: line.Name, Category: line.Category}
				perItem[line.ID] = p
			}
			p.Quantity += line.BillQuantity
			p.RevenueCents += line.LineTotalCents()
			p.ProfitCents += line.LineProfitCents()
		}
	}
	if len(bills) > 0 {
		out.AverageMargin = roundFraction(marginSum / float64(len(bills)))
	}

	performers := make([]domain.ItemPerformance, 0, len(perItem))
	for _, p := range perItem {
		p.Margin = money.Ratio(p.ProfitCents, p.RevenueCents)
		performers = append(performers, *p)
	}
	sort.Slice(performers, func(i, j int) bool {
		if performers[i].ProfitCents != performers[j].ProfitCents {
			return performers[i].ProfitCents > performers[j].ProfitCents
		}
		return performers[i].ItemID < performers[j].ItemID
	})
	out.TopPerformers = head(performers)

	// walk the sorted slice so float sums always add in the same order
	categories := make(map[string]*categoryStats)
	for _, p := range performers {
		category := p.Category
		if category == "" {
			category = domain.DefaultCategory
		}
		c, ok := categories[category]
		if !ok {
			c = &categoryStats{}
			categories[category] = c
		}
		c.profit += p.ProfitCents
		c.marginSum += p.Margin
		c.items++
	}

	bottom := append([]domain.ItemPerformance(nil), performers...)
	sort.Slice(bottom, func(i, j int) bool {
		if bottom[i].ProfitCents != bottom[j].ProfitCents {
			return bottom[i].ProfitCents < bottom[j].ProfitCents
		}
		return bottom[i].ItemID < bottom[j].ItemID
	})
	out.BottomPerformers = head(bottom)

	out.ProfitTrend = make([]domain.ProfitPoint, 0, len(days))
	for date, d := range days {
		out.ProfitTrend = append(out.ProfitTrend, domain.ProfitPoint{
			Date:        date,
			ProfitCents: d.profit,
			Margin:      money.Ratio(d.profit, d.revenue),
		})
	}
	sort.Slice(out.ProfitTrend, func(i, j int) bool { return out.ProfitTrend[i].Date < out.ProfitTrend[j].Date })

	out.CategoryPerformance = make([]domain.CategoryPerformance, 0, len(categories))
	for name, c := range categories {
		out.CategoryPerformance = append(out.CategoryPerformance, domain.CategoryPerformance{
			Category:    name,
			ProfitCents: c.profit,
			Margin:      roundFraction(c.marginSum / float64(c.items)),
			ItemCount:   c.items,
		})
	}
	sort.Slice(out.CategoryPerformance, func(i, j int) bool {
		a, b := out.CategoryPerformance[i], out.CategoryPerformance[j]
		if a.ProfitCents != b.ProfitCents {
			return a.ProfitCents > b.ProfitCents
		}
		return a.Category < b.Category
	})
	return out
}

// InventoryValue is the book value of active stock at purchase price.
func InventoryValue(items []domain.Item, asOf time.Time) domain.InventoryValue {
	out := domain.InventoryValue{AsOf: asOf}
	byCategory := make(map[string]int64)
	for _, item := range items {
		if !item.Active {
			continue
		}
		value := int64(item.Quantity) * item.PurchasePriceCents
		out.TotalValueCents += value

		category := item.Category
		if category == "" {
			category = domain.DefaultCategory
		}
		byCategory[category] += value
	}

	out.ByCategory = make([]domain.CategoryValue, 0, len(byCategory))
	for name, value := range byCategory {
		out.ByCategory = append(out.ByCategory, domain.CategoryValue{Category: name, ValueCents: value})
	}
	sort.Slice(out.ByCategory, func(i, j int) bool { return out.ByCategory[i].Category < out.ByCategory[j].Category })
	return out
}

func head(p []domain.ItemPerformance) []domain.ItemPerformance {
	if len(p) > performerLimit {
		p = p[:performerLimit]
	}
	return append([]domain.ItemPerformance(nil), p...)
}

// roundFraction matches the six places money.Ratio reports.
func roundFraction(f float64) float64 {
	return money.Round(f, 6)
}
