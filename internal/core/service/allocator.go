package service

import (
	"context"
	"fmt"

	"github.com/rl1809/pos-engine/internal/core/domain"
	"github.com/rl1809/pos-engine/internal/port"
)

// OrderNumberAllocator hands out ORD-YYYYMMDD-NNNN numbers. It is always
// called inside the unit of work that inserts the order.
type OrderNumberAllocator interface {
	Allocate(ctx context.Context, tx port.OrderTx, restaurantID int64, day string) (string, error)
}

// StoreSequenceAllocator bumps a counter row in the same transaction as the
// order insert, so the number and the order commit or roll back together.
type StoreSequenceAllocator struct{}

func NewStoreSequenceAllocator() *StoreSequenceAllocator {
	return &StoreSequenceAllocator{}
}

func (a *StoreSequenceAllocator) Allocate(ctx context.Context, tx port.OrderTx, restaurantID int64, day string) (string, error) {
	seq, err := tx.NextOrderSequence(ctx, restaurantID, day)
	if err != nil {
		return "", fmt.Errorf("next order sequence: %w", err)
	}
	return domain.FormatOrderNumber(day, seq), nil
}

// CounterAllocator takes numbers from an external atomic counter. The
// counter is seeded from the highest stored suffix the first time a day is
// seen; the unique constraint on order numbers catches anything the seed
// missed and the caller retries.
type CounterAllocator struct {
	counter port.SequenceCounter
}

func NewCounterAllocator(counter port.SequenceCounter) *CounterAllocator {
	return &CounterAllocator{counter: counter}
}

func (a *CounterAllocator) Allocate(ctx context.Context, tx port.OrderTx, restaurantID int64, day string) (string, error) {
	floor, err := tx.MaxOrderSequence(ctx, restaurantID, day)
	if err != nil {
		return "", fmt.Errorf("max order sequence: %w", err)
	}
	seq, err := a.counter.Next(ctx, restaurantID, day, floor)
	if err != nil {
		return "", fmt.Errorf("counter next: %w", err)
	}
	if seq <= floor {
		seq = floor + 1
	}
	return domain.FormatOrderNumber(day, seq), nil
}
