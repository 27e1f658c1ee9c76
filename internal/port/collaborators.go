package port

import (
	"context"

	"github.com/rl1809/pos-engine/internal/core/domain"
)

// Catalog is the read-only menu lookup. It returns domain.ErrMenuItemNotFound
// for unknown ids.
type Catalog interface {
	GetMenuItem(ctx context.Context, menuItemID int64) (*domain.MenuItem, error)
}

type StaffDirectory interface {
	// ActiveStaff lists ids of active users holding role in the restaurant.
	ActiveStaff(ctx context.Context, restaurantID int64, role domain.Role) ([]int64, error)
}

// NotificationSink delivers one notification. The engine does not retry.
type NotificationSink interface {
	Notify(ctx context.Context, n domain.Notification) error
}
