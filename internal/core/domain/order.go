package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCooking   OrderStatus = "cooking"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// kitchenTransitions lists the moves the kitchen may drive. Payment and
// cancellation have their own operations and are not in this table.
var kitchenTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusCooking, OrderStatusCompleted},
	OrderStatusCooking: {OrderStatusCompleted},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusCooking, OrderStatusCompleted, OrderStatusPaid, OrderStatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusPaid || s == OrderStatusCancelled
}

// CanTransition reports whether the kitchen may move an order from s to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range kitchenTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentQRIS     PaymentMethod = "qris"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentDebit    PaymentMethod = "debit"
	PaymentCredit   PaymentMethod = "credit"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentQRIS, PaymentTransfer, PaymentDebit, PaymentCredit:
		return true
	}
	return false
}

type Order struct {
	ID            int64
	RestaurantID  int64
	WaiterID      int64
	CustomerName  string
	CustomerPhone string
	OrderNumber   string
	Status        OrderStatus
	TotalAmount   decimal.Decimal
	PaymentAmount *decimal.Decimal
	ChangeAmount  *decimal.Decimal
	PaymentMethod PaymentMethod
	Notes         string

	CompletedAt        *time.Time
	PaidAt             *time.Time
	CancelledAt        *time.Time
	CancellationReason string

	Items     []OrderLineItem
	StatusLog []StatusLogEntry

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecomputeTotal sums the line subtotals.
func (o *Order) RecomputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal)
	}
	return total
}

// Transition applies a kitchen status change and returns the log entry for it.
func (o *Order) Transition(next OrderStatus, actorID int64, note string, at time.Time) (StatusLogEntry, error) {
	if !o.Status.CanTransition(next) {
		return StatusLogEntry{}, Detail(ErrInvalidTransition, "cannot change status from %s to %s", o.Status, next)
	}
	old := o.Status
	o.Status = next
	if next == OrderStatusCompleted && o.CompletedAt == nil {
		t := at
		o.CompletedAt = &t
	}
	o.UpdatedAt = at
	return o.logEntry(&old, next, actorID, note, at), nil
}

// Cancel moves any non-terminal order to cancelled.
func (o *Order) Cancel(actorID int64, reason string, at time.Time) (StatusLogEntry, error) {
	if o.Status.Terminal() {
		return StatusLogEntry{}, Detail(ErrAlreadyTerminal, "order with status %s cannot be cancelled", o.Status)
	}
	old := o.Status
	o.Status = OrderStatusCancelled
	t := at
	o.CancelledAt = &t
	o.CancellationReason = reason
	o.UpdatedAt = at
	return o.logEntry(&old, OrderStatusCancelled, actorID, reason, at), nil
}

// Settle records payment on a completed order and computes change. The
// amount is checked before the status so an underpayment is reported as
// such regardless of where the order is in the kitchen.
func (o *Order) Settle(amount decimal.Decimal, method PaymentMethod, actorID int64, at time.Time) (StatusLogEntry, error) {
	if amount.LessThan(o.TotalAmount) {
		return StatusLogEntry{}, Detail(ErrInsufficientPayment, "payment %s is less than total %s", amount.StringFixed(2), o.TotalAmount.StringFixed(2))
	}
	if o.Status != OrderStatusCompleted {
		return StatusLogEntry{}, Detail(ErrNotReadyForPayment, "order with status %s cannot be paid", o.Status)
	}
	change := amount.Sub(o.TotalAmount)
	paid := amount
	t := at
	o.Status = OrderStatusPaid
	o.PaymentAmount = &paid
	o.ChangeAmount = &change
	o.PaymentMethod = method
	o.PaidAt = &t
	o.UpdatedAt = at
	old := OrderStatusCompleted
	return o.logEntry(&old, OrderStatusPaid, actorID, fmt.Sprintf("Payment via %s.", method), at), nil
}

func (o *Order) logEntry(old *OrderStatus, next OrderStatus, actorID int64, note string, at time.Time) StatusLogEntry {
	return StatusLogEntry{
		OrderID:   o.ID,
		OldStatus: old,
		NewStatus: next,
		ChangedBy: actorID,
		ChangedAt: at,
		Note:      note,
	}
}

type OrderLineItem struct {
	ID          int64
	OrderID     int64
	MenuItemID  int64
	Name        string
	Quantity    int
	PriceAtTime decimal.Decimal
	Subtotal    decimal.Decimal
	Notes       string
}

// NewLineItem snapshots the catalog price into a line item.
func NewLineItem(menu MenuItem, quantity int, notes string) OrderLineItem {
	return OrderLineItem{
		MenuItemID:  menu.ID,
		Name:        menu.Name,
		Quantity:    quantity,
		PriceAtTime: menu.Price,
		Subtotal:    menu.Price.Mul(decimal.NewFromInt(int64(quantity))),
		Notes:       notes,
	}
}

type StatusLogEntry struct {
	ID        int64
	OrderID   int64
	OldStatus *OrderStatus // nil for the creation entry
	NewStatus OrderStatus
	ChangedBy int64
	ChangedAt time.Time
	Note      string
}

// MenuItem is the read-only catalog view the engine needs.
type MenuItem struct {
	ID           int64
	RestaurantID int64
	Name         string
	Price        decimal.Decimal
	IsAvailable  bool
}

const orderNumberPrefix = "ORD"

// OrderNumberDay is the date component of an order number, YYYYMMDD.
func OrderNumberDay(t time.Time) string {
	return t.Format("20060102")
}

// FormatOrderNumber renders ORD-YYYYMMDD-NNNN. Sequences past 9999 keep
// growing in width rather than wrapping.
func FormatOrderNumber(day string, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", orderNumberPrefix, day, seq)
}

// OrderFilter narrows order listings. A nil RestaurantID means every
// restaurant and is only produced for privileged actors.
type OrderFilter struct {
	RestaurantID *int64
	Statuses     []OrderStatus
	DateFrom     *time.Time
	DateTo       *time.Time
	Sort         OrderSort
	Page         Page
}

type OrderSort int

const (
	SortNewestFirst OrderSort = iota
	SortOldestFirst
	SortCompletedFirst
)

type Page struct {
	Number  int
	PerPage int
}

const DefaultPerPage = 15

func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > 100 {
		p.PerPage = 100
	}
	return p
}

func (p Page) Offset() int {
	return (p.Number - 1) * p.PerPage
}
