package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"posledger/internal/domain"
	"posledger/internal/store"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates any missing tables. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) LoadCatalogue(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, quantity, unit, selling_price_cents, purchase_price_cents,
		       barcode, category, image, min_margin, reorder_point, active, last_updated
		FROM items
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 128)
	index := make(map[string]int)
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.Quantity, &item.Unit, &item.SellingPriceCents, &item.PurchasePriceCents,
			&item.Barcode, &item.Category, &item.Image, &item.MinMargin, &item.ReorderPoint, &item.Active, &item.LastUpdated); err != nil {
			return nil, err
		}
		item.LastUpdated = item.LastUpdated.UTC()
		index[item.ID] = len(items)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	histRows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, purchase_price_cents, selling_price_cents, changed_at, reason
		FROM item_price_history
		ORDER BY item_id, seq
	`)
	if err != nil {
		return nil, err
	}
	defer histRows.Close()

	for histRows.Next() {
		var h domain.PriceHistory
		if err := histRows.Scan(&h.ID, &h.ItemID, &h.PurchasePriceCents, &h.SellingPriceCents, &h.ChangedAt, &h.Reason); err != nil {
			return nil, err
		}
		h.ChangedAt = h.ChangedAt.UTC()
		if idx, ok := index[h.ItemID]; ok {
			items[idx].PriceHistory = append(items[idx].PriceHistory, h)
		}
	}
	if err := histRows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// SaveItem upserts the item row and appends any history entries not yet
// stored. Stored history rows are never rewritten.
func (s *Store) SaveItem(ctx context.Context, item domain.Item) error {
	if item.ID == "" {
		return store.Invalid("item without id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO items (id, name, quantity, unit, selling_price_cents, purchase_price_cents,
		                   barcode, category, image, min_margin, reorder_point, active, last_updated)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			quantity = EXCLUDED.quantity,
			unit = EXCLUDED.unit,
			selling_price_cents = EXCLUDED.selling_price_cents,
			purchase_price_cents = EXCLUDED.purchase_price_cents,
			barcode = EXCLUDED.barcode,
			category = EXCLUDED.category,
			image = EXCLUDED.image,
			min_margin = EXCLUDED.min_margin,
			reorder_point = EXCLUDED.reorder_point,
			active = EXCLUDED.active,
			last_updated = EXCLUDED.last_updated
	`, item.ID, item.Name, item.Quantity, string(item.Unit), item.SellingPriceCents, item.PurchasePriceCents,
		item.Barcode, item.Category, item.Image, item.MinMargin, item.ReorderPoint, item.Active, item.LastUpdated)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("barcode %s: %w", item.Barcode, store.ErrDuplicateBarcode)
		}
		return err
	}

	for _, h := range item.PriceHistory {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO item_price_history (id, item_id, purchase_price_cents, selling_price_cents, changed_at, reason)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (id) DO NOTHING
		`, h.ID, item.ID, h.PurchasePriceCents, h.SellingPriceCents, h.ChangedAt, h.Reason); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) AppendBill(ctx context.Context, bill domain.Bill) error {
	payload, err := json.Marshal(bill)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bills (id, sequence, invoice_number, status, payment_method, total_cents, bill_date, payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, bill.ID, bill.Sequence, bill.InvoiceNumber, string(bill.Status), string(bill.PaymentMethod), bill.TotalCents, bill.Date, payload)
	if err != nil {
		if isUniqueViolation(err) {
			return store.Invalid(fmt.Sprintf("bill %s or invoice %s already stored", bill.ID, bill.InvoiceNumber))
		}
		return err
	}
	return nil
}

// UpdateBillStatus is the only write bills see after insertion. The status
// column and the stored payload are updated together.
func (s *Store) UpdateBillStatus(ctx context.Context, id string, status domain.BillStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bills
		SET status = $2,
		    payload = jsonb_set(payload, '{status}', to_jsonb($2::text)),
		    updated_at = now()
		WHERE id = $1
	`, id, string(status))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.NotFound("bill", id)
	}
	return nil
}

func (s *Store) ListBills(ctx context.Context, filter domain.BillFilter) ([]domain.Bill, error) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 4)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.PaymentMethod != "" {
		add("payment_method = $%d", string(filter.PaymentMethod))
	}
	if filter.From != nil {
		add("bill_date >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("bill_date < $%d", *filter.To)
	}

	query := `SELECT payload FROM bills`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY sequence ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, 64)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var bill domain.Bill
		if err := json.Unmarshal(payload, &bill); err != nil {
			return nil, fmt.Errorf("decode bill: %w", err)
		}
		// the term spans customer, invoice and item names inside the payload
		if filter.Match(bill) {
			bills = append(bills, bill)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if filter.Limit > 0 && len(bills) > filter.Limit {
		bills = bills[len(bills)-filter.Limit:]
	}
	return bills, nil
}

func (s *Store) SaveAlert(ctx context.Context, alert domain.PriceAlert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_alerts (id, item_id, type, severity, message, alert_date, acknowledged)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			severity = EXCLUDED.severity,
			message = EXCLUDED.message,
			alert_date = EXCLUDED.alert_date,
			acknowledged = EXCLUDED.acknowledged
	`, alert.ID, alert.ItemID, string(alert.Type), string(alert.Severity), alert.Message, alert.Date, alert.Acknowledged)
	return err
}

func (s *Store) ListAlerts(ctx context.Context) ([]domain.PriceAlert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, type, severity, message, alert_date, acknowledged
		FROM price_alerts
		ORDER BY alert_date ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := make([]domain.PriceAlert, 0, 32)
	for rows.Next() {
		var a domain.PriceAlert
		if err := rows.Scan(&a.ID, &a.ItemID, &a.Type, &a.Severity, &a.Message, &a.Date, &a.Acknowledged); err != nil {
			return nil, err
		}
		a.Date = a.Date.UTC()
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.Invalid("username and password are required")
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.Invalid("user " + user.Username + " already exists")
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.Invalid("username and password are required")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.NotFound("user", username)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
