package service

import (
	"context"
	"log/slog"
	"time"

	"posledger/internal/domain"
	"posledger/internal/money"
)

const notifyTimeout = 10 * time.Second

// Notifier delivers a finalized bill to its customer (receipt by email, SMS
// or both). It runs after the checkout has returned, so it never delays or
// fails a sale.
type Notifier interface {
	Notify(ctx context.Context, bill domain.Bill) error
}

// LogNotifier records the receipt that would have been sent.
type LogNotifier struct {
	Log      *slog.Logger
	Currency string
}

func (n LogNotifier) Notify(_ context.Context, bill domain.Bill) error {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"bill_id", bill.ID, "invoice", bill.InvoiceNumber, "total", money.Format(bill.TotalCents, n.Currency)}
	if bill.Customer != nil {
		attrs = append(attrs, "customer", bill.Customer.Name, "contact", bill.Customer.PreferredContact)
	}
	log.Info("receipt ready", attrs...)
	return nil
}

func (s *Service) notify(ctx context.Context, bill domain.Bill) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, bill.Clone()); err != nil {
			s.log.Warn("bill notification failed", "bill_id", bill.ID, "error", err)
		}
	}()
}
