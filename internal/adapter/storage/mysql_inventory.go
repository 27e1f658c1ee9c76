package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-engine/internal/core/domain"
	"github.com/rl1809/pos-engine/internal/port"
)

func (m *MySQLAdapter) WithinInventoryTx(ctx context.Context, fn func(ctx context.Context, tx port.InventoryTx) error) error {
	return m.withTx(ctx, func(tx *sql.Tx) error {
		return fn(ctx, &mysqlInventoryTx{tx: tx})
	})
}

type mysqlInventoryTx struct {
	tx *sql.Tx
}

func (t *mysqlInventoryTx) InsertItem(ctx context.Context, item *domain.InventoryItem) error {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory_items (restaurant_id, name, unit, min_stock, current_stock, unit_cost,
			supplier_name, supplier_phone, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.RestaurantID, item.Name, item.Unit, item.MinStock, item.CurrentStock, item.UnitCost,
		nullString(item.SupplierName), nullString(item.SupplierPhone), item.IsActive, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert inventory item: %w", err)
	}
	if item.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("inventory item id: %w", err)
	}
	return nil
}

const itemColumns = `id, restaurant_id, name, unit, min_stock, current_stock, unit_cost,
	supplier_name, supplier_phone, is_active, created_at, updated_at`

func scanItem(row scanner) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	var supplier, phone sql.NullString
	var createdAt, updatedAt sql.NullTime
	err := row.Scan(
		&item.ID, &item.RestaurantID, &item.Name, &item.Unit, &item.MinStock, &item.CurrentStock, &item.UnitCost,
		&supplier, &phone, &item.IsActive, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.SupplierName = supplier.String
	item.SupplierPhone = phone.String
	item.CreatedAt = createdAt.Time
	item.UpdatedAt = updatedAt.Time
	return &item, nil
}

func (t *mysqlInventoryTx) LockItem(ctx context.Context, itemID int64) (*domain.InventoryItem, error) {
	item, err := scanItem(t.tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = ? FOR UPDATE`, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock inventory item: %w", err)
	}
	return item, nil
}

// ApplyMovement writes the balance change as one statement. An out movement
// carries its own guard in the WHERE clause, so the check and the decrement
// cannot be separated even without the row lock.
func (t *mysqlInventoryTx) ApplyMovement(ctx context.Context, itemID int64, movement domain.MovementType, quantity decimal.Decimal) (decimal.Decimal, error) {
	var (
		result sql.Result
		err    error
	)
	switch movement {
	case domain.MovementIn:
		result, err = t.tx.ExecContext(ctx, `
			UPDATE inventory_items SET current_stock = current_stock + ?, updated_at = NOW()
			WHERE id = ?`, quantity, itemID)
	case domain.MovementOut:
		result, err = t.tx.ExecContext(ctx, `
			UPDATE inventory_items SET current_stock = current_stock - ?, updated_at = NOW()
			WHERE id = ? AND current_stock >= ?`, quantity, itemID, quantity)
	case domain.MovementAdjustment:
		result, err = t.tx.ExecContext(ctx, `
			UPDATE inventory_items SET current_stock = ?, updated_at = NOW()
			WHERE id = ?`, quantity, itemID)
	default:
		return decimal.Zero, domain.ErrInvalidMovementType
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("update stock: %w", err)
	}

	if movement == domain.MovementOut {
		rows, err := result.RowsAffected()
		if err != nil {
			return decimal.Zero, fmt.Errorf("update stock: %w", err)
		}
		if rows == 0 {
			return decimal.Zero, t.insufficient(ctx, itemID, quantity)
		}
	}

	var balance decimal.Decimal
	err = t.tx.QueryRowContext(ctx, `SELECT current_stock FROM inventory_items WHERE id = ?`, itemID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, domain.ErrItemNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read stock: %w", err)
	}
	return balance, nil
}

func (t *mysqlInventoryTx) insufficient(ctx context.Context, itemID int64, quantity decimal.Decimal) error {
	var balance decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `SELECT current_stock FROM inventory_items WHERE id = ?`, itemID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrItemNotFound
	}
	if err != nil {
		return fmt.Errorf("read stock: %w", err)
	}
	return domain.Detail(domain.ErrInsufficientStock, "insufficient stock: have %s, need %s", balance.String(), quantity.String())
}

func (t *mysqlInventoryTx) AppendLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	var refID sql.NullInt64
	if entry.ReferenceID != nil {
		refID = sql.NullInt64{Int64: *entry.ReferenceID, Valid: true}
	}
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory_transactions (restaurant_id, inventory_item_id, type, quantity, unit_cost, total_cost,
			reference_type, reference_id, notes, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RestaurantID, entry.InventoryItemID, entry.Type, entry.Quantity, entry.UnitCost, entry.TotalCost,
		nullString(entry.ReferenceType), refID, nullString(entry.Notes), entry.CreatedBy, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	if entry.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("ledger entry id: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetItem(ctx context.Context, itemID int64) (*domain.InventoryItem, error) {
	item, err := scanItem(m.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = ?`, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory item: %w", err)
	}
	return item, nil
}

func (m *MySQLAdapter) ListItems(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryItem, int, error) {
	var conds []string
	var args []any
	if filter.RestaurantID != nil {
		conds = append(conds, "restaurant_id = ?")
		args = append(args, *filter.RestaurantID)
	}
	if filter.LowStockOnly {
		conds = append(conds, "is_active = TRUE", "current_stock <= min_stock")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inventory_items`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count inventory items: %w", err)
	}

	page := filter.Page.Normalize()
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM inventory_items`+where+` ORDER BY name, id LIMIT ? OFFSET ?`,
		append(args, page.PerPage, page.Offset())...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query inventory items: %w", err)
	}
	defer rows.Close()

	items := []domain.InventoryItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan inventory item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate inventory items: %w", err)
	}
	return items, total, nil
}

func (m *MySQLAdapter) ListLedger(ctx context.Context, itemID int64, page domain.Page) ([]domain.LedgerEntry, int, error) {
	var total int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inventory_transactions WHERE inventory_item_id = ?`, itemID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ledger entries: %w", err)
	}

	page = page.Normalize()
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, restaurant_id, inventory_item_id, type, quantity, unit_cost, total_cost,
			reference_type, reference_id, notes, COALESCE(created_by, 0), created_at
		FROM inventory_transactions
		WHERE inventory_item_id = ?
		ORDER BY id DESC
		LIMIT ? OFFSET ?`,
		itemID, page.PerPage, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.LedgerEntry{}
	for rows.Next() {
		var e domain.LedgerEntry
		var refType, notes sql.NullString
		var refID sql.NullInt64
		var createdAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.RestaurantID, &e.InventoryItemID, &e.Type, &e.Quantity, &e.UnitCost, &e.TotalCost,
			&refType, &refID, &notes, &e.CreatedBy, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.ReferenceType = refType.String
		if refID.Valid {
			id := refID.Int64
			e.ReferenceID = &id
		}
		e.Notes = notes.String
		e.CreatedAt = createdAt.Time
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, total, nil
}
