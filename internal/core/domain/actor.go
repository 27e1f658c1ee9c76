package domain

type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleWaiter  Role = "waiter"
	RoleKitchen Role = "kitchen"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleManager, RoleWaiter, RoleKitchen:
		return true
	}
	return false
}

// Actor is the authenticated caller of an engine operation. It is built by
// the transport layer from verified identity claims and never mutated here.
type Actor struct {
	ID           int64
	RestaurantID int64
	Roles        []Role
}

func (a Actor) Has(roles ...Role) bool {
	for _, have := range a.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

func (a Actor) CanViewAllRestaurants() bool { return a.Has(RoleOwner, RoleAdmin) }
func (a Actor) CanManageInventory() bool    { return a.Has(RoleOwner, RoleAdmin, RoleManager) }
func (a Actor) CanCreateOrders() bool       { return a.Has(RoleWaiter) }
func (a Actor) CanSettlePayments() bool     { return a.Has(RoleWaiter) }
func (a Actor) CanDriveKitchen() bool       { return a.Has(RoleKitchen) }
func (a Actor) CanViewKitchenQueue() bool   { return a.Has(RoleOwner, RoleAdmin, RoleManager, RoleKitchen) }
func (a Actor) CanCancelOrders() bool       { return a.Has(RoleOwner, RoleAdmin, RoleManager, RoleWaiter) }

// CanCancelAnyOrder is false for actors whose only cancel right comes from
// the waiter role; they are limited to orders they created.
func (a Actor) CanCancelAnyOrder() bool { return a.Has(RoleOwner, RoleAdmin, RoleManager) }

// Scope resolves the restaurant filter for reads. requested is honoured only
// for actors that may see every restaurant; nil means no restriction.
func (a Actor) Scope(requested *int64) *int64 {
	if a.CanViewAllRestaurants() {
		return requested
	}
	id := a.RestaurantID
	return &id
}

// CanRead reports whether a restaurant-owned record is visible to the actor.
func (a Actor) CanRead(restaurantID int64) bool {
	return a.CanViewAllRestaurants() || a.RestaurantID == restaurantID
}
