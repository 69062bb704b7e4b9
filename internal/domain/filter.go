package domain

import "strings"

// Match reports whether b passes every populated field of the filter. Term
// matches the customer name, invoice number or any item name, case-insensitive.
func (f BillFilter) Match(b Bill) bool {
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.PaymentMethod != "" && b.PaymentMethod != f.PaymentMethod {
		return false
	}
	if f.From != nil && b.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && !b.Date.Before(*f.To) {
		return false
	}

	term := strings.ToLower(strings.TrimSpace(f.Term))
	if term == "" {
		return true
	}
	if b.Customer != nil && strings.Contains(strings.ToLower(b.Customer.Name), term) {
		return true
	}
	if strings.Contains(strings.ToLower(b.InvoiceNumber), term) {
		return true
	}
	for _, item := range b.Items {
		if strings.Contains(strings.ToLower(item.Name), term) {
			return true
		}
	}
	return false
}
