package port

import "context"

type IdempotencyCache interface {
	// Reserve claims key, returns false if it is already claimed
	Reserve(ctx context.Context, key string) (bool, error)

	// Complete records the order created under a claimed key
	Complete(ctx context.Context, key string, orderID int64) error

	// Release drops a claim after a failed attempt so the caller can retry
	Release(ctx context.Context, key string) error

	// Lookup returns the order recorded for key, done is false while in flight
	Lookup(ctx context.Context, key string) (orderID int64, done bool, err error)
}

type SequenceCounter interface {
	// Next increments the (restaurant, day) counter, seeding it with floor
	// when the counter does not exist yet
	Next(ctx context.Context, restaurantID int64, day string, floor int) (int, error)
}
