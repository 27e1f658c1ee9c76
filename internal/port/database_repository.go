package port

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-engine/internal/core/domain"
)

// ErrDuplicateOrderNumber is returned by InsertOrder when the unique
// constraint on order_number rejects the row.
var ErrDuplicateOrderNumber = errors.New("duplicate order number")

type OrderRepository interface {
	// WithinOrderTx runs fn as one unit of work. Returning an error, a panic,
	// or a cancelled context before commit discards every staged write.
	WithinOrderTx(ctx context.Context, fn func(ctx context.Context, tx OrderTx) error) error

	// GetOrder loads an order with its line items and status log.
	GetOrder(ctx context.Context, orderID int64) (*domain.Order, error)

	// ListOrders returns one page of orders (without children) and the total match count.
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int, error)
}

type OrderTx interface {
	// NextOrderSequence atomically increments the (restaurant, day) counter.
	NextOrderSequence(ctx context.Context, restaurantID int64, day string) (int, error)

	// MaxOrderSequence reads the highest suffix already used for the day.
	MaxOrderSequence(ctx context.Context, restaurantID int64, day string) (int, error)

	// InsertOrder writes the order row and its line items, assigning IDs.
	InsertOrder(ctx context.Context, order *domain.Order) error

	// LockOrder reads an order row and holds its lock until the unit ends.
	LockOrder(ctx context.Context, orderID int64) (*domain.Order, error)

	UpdateOrder(ctx context.Context, order *domain.Order) error

	AppendStatusLog(ctx context.Context, entry *domain.StatusLogEntry) error
}

type InventoryRepository interface {
	WithinInventoryTx(ctx context.Context, fn func(ctx context.Context, tx InventoryTx) error) error

	GetItem(ctx context.Context, itemID int64) (*domain.InventoryItem, error)

	ListItems(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryItem, int, error)

	// ListLedger returns entries newest first.
	ListLedger(ctx context.Context, itemID int64, page domain.Page) ([]domain.LedgerEntry, int, error)
}

type InventoryTx interface {
	InsertItem(ctx context.Context, item *domain.InventoryItem) error

	// LockItem reads an item row and holds its lock until the unit ends.
	LockItem(ctx context.Context, itemID int64) (*domain.InventoryItem, error)

	// ApplyMovement changes the cached balance as one conditional write and
	// returns the new balance. An out movement larger than the balance
	// fails with domain.ErrInsufficientStock and changes nothing.
	ApplyMovement(ctx context.Context, itemID int64, movement domain.MovementType, quantity decimal.Decimal) (decimal.Decimal, error)

	AppendLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error
}
