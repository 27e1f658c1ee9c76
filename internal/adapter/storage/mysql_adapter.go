package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-engine/internal/core/domain"
	"github.com/rl1809/pos-engine/internal/port"
)

const mysqlDuplicateEntry = 1062

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

// withTx commits only when fn returns nil. The deferred rollback also runs
// when fn panics, and is a no-op after a successful commit.
func (m *MySQLAdapter) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

func (m *MySQLAdapter) WithinOrderTx(ctx context.Context, fn func(ctx context.Context, tx port.OrderTx) error) error {
	return m.withTx(ctx, func(tx *sql.Tx) error {
		return fn(ctx, &mysqlOrderTx{tx: tx})
	})
}

type mysqlOrderTx struct {
	tx *sql.Tx
}

// NextOrderSequence upserts the day's counter row. The upsert takes the row
// lock, which is held until the surrounding transaction ends.
func (t *mysqlOrderTx) NextOrderSequence(ctx context.Context, restaurantID int64, day string) (int, error) {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO order_number_sequences (restaurant_id, day, last_value)
		VALUES (?, ?, 1)
		ON DUPLICATE KEY UPDATE last_value = last_value + 1`,
		restaurantID, day,
	)
	if err != nil {
		return 0, fmt.Errorf("bump order sequence: %w", err)
	}

	var seq int
	err = t.tx.QueryRowContext(ctx, `
		SELECT last_value FROM order_number_sequences
		WHERE restaurant_id = ? AND day = ?`,
		restaurantID, day,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("read order sequence: %w", err)
	}
	return seq, nil
}

func (t *mysqlOrderTx) MaxOrderSequence(ctx context.Context, restaurantID int64, day string) (int, error) {
	prefix := strings.TrimSuffix(domain.FormatOrderNumber(day, 0), "0000")

	var seq int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(CAST(SUBSTRING(order_number, ?) AS UNSIGNED)), 0)
		FROM orders
		WHERE restaurant_id = ? AND order_number LIKE ?`,
		len(prefix)+1, restaurantID, prefix+"%",
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query max order sequence: %w", err)
	}
	return seq, nil
}

func (t *mysqlOrderTx) InsertOrder(ctx context.Context, order *domain.Order) error {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (restaurant_id, user_id, customer_name, customer_phone, order_number,
			status, total_amount, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.RestaurantID, order.WaiterID, order.CustomerName, nullString(order.CustomerPhone), order.OrderNumber,
		order.Status, order.TotalAmount, nullString(order.Notes), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return fmt.Errorf("insert order %s: %w", order.OrderNumber, port.ErrDuplicateOrderNumber)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	order.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("order id: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		result, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, menu_item_id, item_name, quantity, price_at_time, subtotal, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			item.OrderID, item.MenuItemID, item.Name, item.Quantity, item.PriceAtTime, item.Subtotal, nullString(item.Notes),
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
		if item.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("order item id: %w", err)
		}
	}
	return nil
}

const orderColumns = `id, restaurant_id, COALESCE(user_id, 0), customer_name, customer_phone, order_number, status,
	total_amount, payment_amount, change_amount, payment_method, notes,
	completed_at, paid_at, cancelled_at, cancellation_reason, created_at, updated_at`

func scanOrder(row scanner) (*domain.Order, error) {
	var (
		o                                domain.Order
		phone, method, notes, reason     sql.NullString
		paymentAmount, changeAmount      decimal.NullDecimal
		completedAt, paidAt, cancelledAt sql.NullTime
		createdAt, updatedAt             sql.NullTime
	)
	err := row.Scan(
		&o.ID, &o.RestaurantID, &o.WaiterID, &o.CustomerName, &phone, &o.OrderNumber, &o.Status,
		&o.TotalAmount, &paymentAmount, &changeAmount, &method, &notes,
		&completedAt, &paidAt, &cancelledAt, &reason, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.CustomerPhone = phone.String
	o.PaymentMethod = domain.PaymentMethod(method.String)
	o.Notes = notes.String
	o.CancellationReason = reason.String
	o.PaymentAmount = decimalPtr(paymentAmount)
	o.ChangeAmount = decimalPtr(changeAmount)
	o.CompletedAt = timePtr(completedAt)
	o.PaidAt = timePtr(paidAt)
	o.CancelledAt = timePtr(cancelledAt)
	o.CreatedAt = createdAt.Time
	o.UpdatedAt = updatedAt.Time
	return &o, nil
}

func (t *mysqlOrderTx) LockOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ? FOR UPDATE`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}
	return o, nil
}

func (t *mysqlOrderTx) UpdateOrder(ctx context.Context, order *domain.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, payment_amount = ?, change_amount = ?, payment_method = ?,
			completed_at = ?, paid_at = ?, cancelled_at = ?, cancellation_reason = ?, updated_at = ?
		WHERE id = ?`,
		order.Status, nullDecimal(order.PaymentAmount), nullDecimal(order.ChangeAmount), nullString(string(order.PaymentMethod)),
		order.CompletedAt, order.PaidAt, order.CancelledAt, nullString(order.CancellationReason), order.UpdatedAt,
		order.ID,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

func (t *mysqlOrderTx) AppendStatusLog(ctx context.Context, entry *domain.StatusLogEntry) error {
	var old sql.NullString
	if entry.OldStatus != nil {
		old = sql.NullString{String: string(*entry.OldStatus), Valid: true}
	}
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO order_status_logs (order_id, old_status, new_status, changed_by, changed_at, notes)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.OrderID, old, entry.NewStatus, entry.ChangedBy, entry.ChangedAt, nullString(entry.Note),
	)
	if err != nil {
		return fmt.Errorf("insert status log: %w", err)
	}
	if entry.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("status log id: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	o, err := scanOrder(m.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, order_id, menu_item_id, item_name, quantity, price_at_time, subtotal, notes
		FROM order_items WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.OrderLineItem
		var notes sql.NullString
		if err := rows.Scan(&item.ID, &item.OrderID, &item.MenuItemID, &item.Name, &item.Quantity, &item.PriceAtTime, &item.Subtotal, &notes); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.Notes = notes.String
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	logs, err := m.db.QueryContext(ctx, `
		SELECT id, order_id, old_status, new_status, COALESCE(changed_by, 0), changed_at, notes
		FROM order_status_logs WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query status logs: %w", err)
	}
	defer logs.Close()
	for logs.Next() {
		var entry domain.StatusLogEntry
		var old, notes sql.NullString
		if err := logs.Scan(&entry.ID, &entry.OrderID, &old, &entry.NewStatus, &entry.ChangedBy, &entry.ChangedAt, &notes); err != nil {
			return nil, fmt.Errorf("scan status log: %w", err)
		}
		if old.Valid {
			s := domain.OrderStatus(old.String)
			entry.OldStatus = &s
		}
		entry.Note = notes.String
		o.StatusLog = append(o.StatusLog, entry)
	}
	if err := logs.Err(); err != nil {
		return nil, fmt.Errorf("iterate status logs: %w", err)
	}
	return o, nil
}

var orderSorts = map[domain.OrderSort]string{
	domain.SortNewestFirst:    "created_at DESC, id DESC",
	domain.SortOldestFirst:    "created_at ASC, id ASC",
	domain.SortCompletedFirst: "completed_at ASC, id ASC",
}

func (m *MySQLAdapter) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int, error) {
	var conds []string
	var args []any
	if filter.RestaurantID != nil {
		conds = append(conds, "restaurant_id = ?")
		args = append(args, *filter.RestaurantID)
	}
	if len(filter.Statuses) > 0 {
		conds = append(conds, "status IN (?"+strings.Repeat(", ?", len(filter.Statuses)-1)+")")
		for _, s := range filter.Statuses {
			args = append(args, s)
		}
	}
	if filter.DateFrom != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conds = append(conds, "created_at < ?")
		args = append(args, *filter.DateTo)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	page := filter.Page.Normalize()
	query := `SELECT ` + orderColumns + ` FROM orders` + where + ` ORDER BY ` + orderSorts[filter.Sort] + ` LIMIT ? OFFSET ?`
	rows, err := m.db.QueryContext(ctx, query, append(args, page.PerPage, page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, total, nil
}

func (m *MySQLAdapter) GetMenuItem(ctx context.Context, menuItemID int64) (*domain.MenuItem, error) {
	var item domain.MenuItem
	err := m.db.QueryRowContext(ctx, `
		SELECT id, restaurant_id, name, price, is_available
		FROM menu_items WHERE id = ? AND deleted_at IS NULL`, menuItemID,
	).Scan(&item.ID, &item.RestaurantID, &item.Name, &item.Price, &item.IsAvailable)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMenuItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query menu item: %w", err)
	}
	return &item, nil
}

func (m *MySQLAdapter) ActiveStaff(ctx context.Context, restaurantID int64, role domain.Role) ([]int64, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id FROM users
		WHERE restaurant_id = ? AND role = ? AND is_active = TRUE AND deleted_at IS NULL`,
		restaurantID, role,
	)
	if err != nil {
		return nil, fmt.Errorf("query staff: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan staff: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
