package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type MovementType string

const (
	MovementIn         MovementType = "in"
	MovementOut        MovementType = "out"
	MovementAdjustment MovementType = "adjustment"
)

func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementAdjustment:
		return true
	}
	return false
}

// ReferenceOpeningBalance marks the ledger entry written when an item is
// created with a non-zero stock.
const ReferenceOpeningBalance = "opening_balance"

type InventoryItem struct {
	ID            int64
	RestaurantID  int64
	Name          string
	Unit          string
	MinStock      decimal.Decimal
	CurrentStock  decimal.Decimal
	UnitCost      decimal.Decimal
	SupplierName  string
	SupplierPhone string
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsLowStock reports current_stock <= min_stock.
func (i InventoryItem) IsLowStock() bool {
	return i.CurrentStock.LessThanOrEqual(i.MinStock)
}

// Apply returns the balance after a movement, or ErrInsufficientStock when
// an out movement would take the balance below zero.
func (t MovementType) Apply(balance, quantity decimal.Decimal) (decimal.Decimal, error) {
	switch t {
	case MovementIn:
		return balance.Add(quantity), nil
	case MovementOut:
		if balance.LessThan(quantity) {
			return balance, Detail(ErrInsufficientStock, "insufficient stock: have %s, need %s", balance.String(), quantity.String())
		}
		return balance.Sub(quantity), nil
	case MovementAdjustment:
		return quantity, nil
	}
	return balance, ErrInvalidMovementType
}

type LedgerEntry struct {
	ID              int64
	RestaurantID    int64
	InventoryItemID int64
	Type            MovementType
	Quantity        decimal.Decimal
	UnitCost        decimal.Decimal
	TotalCost       decimal.Decimal
	ReferenceType   string
	ReferenceID     *int64
	Notes           string
	CreatedBy       int64
	CreatedAt       time.Time
}

// Replay folds entries (oldest first) into a balance starting from zero.
func Replay(entries []LedgerEntry) decimal.Decimal {
	balance := decimal.Zero
	for _, e := range entries {
		next, err := e.Type.Apply(balance, e.Quantity)
		if err != nil {
			continue
		}
		balance = next
	}
	return balance
}

type InventoryFilter struct {
	RestaurantID *int64
	LowStockOnly bool
	Page         Page
}
