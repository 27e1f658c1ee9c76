package domain

import "time"

type EventKind string

const (
	EventNewOrder       EventKind = "new_order"
	EventOrderCompleted EventKind = "order_completed"
)

// OrderEvent is emitted after an order commit. Recipients are resolved by
// the dispatcher, off the request path.
type OrderEvent struct {
	ID           string
	Kind         EventKind
	RestaurantID int64
	OrderID      int64
	OrderNumber  string
	CustomerName string
	WaiterID     int64
	OccurredAt   time.Time
}

// Notification is one delivery to one user.
type Notification struct {
	EventID      string         `json:"event_id"`
	RestaurantID int64          `json:"restaurant_id"`
	UserID       int64          `json:"user_id"`
	Kind         EventKind      `json:"type"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	Payload      map[string]any `json:"data"`
	CreatedAt    time.Time      `json:"created_at"`
}
