package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pos-engine/internal/core/domain"
	"github.com/rl1809/pos-engine/internal/port"
)

func seedOrder(t *testing.T, store *MemoryStore, number string) *domain.Order {
	t.Helper()
	o := &domain.Order{RestaurantID: 1, WaiterID: 10, CustomerName: "Budi", OrderNumber: number, Status: domain.OrderStatusPending, CreatedAt: testTime}
	err := store.WithinOrderTx(context.Background(), func(ctx context.Context, tx port.OrderTx) error {
		return tx.InsertOrder(ctx, o)
	})
	require.NoError(t, err)
	return o
}

func seedItem(t *testing.T, store *MemoryStore, stock int64) *domain.InventoryItem {
	t.Helper()
	item := &domain.InventoryItem{RestaurantID: 1, Name: "Rice", Unit: "kg", MinStock: decimal.NewFromInt(5), IsActive: true}
	err := store.WithinInventoryTx(context.Background(), func(ctx context.Context, tx port.InventoryTx) error {
		if err := tx.InsertItem(ctx, item); err != nil {
			return err
		}
		_, err := tx.ApplyMovement(ctx, item.ID, domain.MovementAdjustment, decimal.NewFromInt(stock))
		return err
	})
	require.NoError(t, err)
	return item
}

func TestMemoryOrderTx_ErrorDiscardsWrites(t *testing.T) {
	store := NewMemoryStore()
	o := seedOrder(t, store, "ORD-20240315-0001")

	boom := errors.New("boom")
	err := store.WithinOrderTx(context.Background(), func(ctx context.Context, tx port.OrderTx) error {
		locked, err := tx.LockOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		locked.Status = domain.OrderStatusCooking
		if err := tx.UpdateOrder(ctx, locked); err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, &domain.Order{RestaurantID: 1, OrderNumber: "ORD-20240315-0002"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	stored, err := store.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, stored.Status)

	_, total, err := store.ListOrders(context.Background(), domain.OrderFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestMemoryOrderTx_PanicReleasesLocks(t *testing.T) {
	store := NewMemoryStore()
	o := seedOrder(t, store, "ORD-20240315-0001")

	func() {
		defer func() { recover() }()
		store.WithinOrderTx(context.Background(), func(ctx context.Context, tx port.OrderTx) error {
			if _, err := tx.LockOrder(ctx, o.ID); err != nil {
				return err
			}
			panic("boom")
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := store.WithinOrderTx(ctx, func(ctx context.Context, tx port.OrderTx) error {
		_, err := tx.LockOrder(ctx, o.ID)
		return err
	})
	assert.NoError(t, err)
}

func TestMemoryOrderTx_LockWaitHonoursContext(t *testing.T) {
	store := NewMemoryStore()
	o := seedOrder(t, store, "ORD-20240315-0001")

	locked := make(chan struct{})
	done := make(chan struct{})
	go func() {
		store.WithinOrderTx(context.Background(), func(ctx context.Context, tx port.OrderTx) error {
			if _, err := tx.LockOrder(ctx, o.ID); err != nil {
				return err
			}
			close(locked)
			<-done
			return nil
		})
	}()
	<-locked

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := store.WithinOrderTx(ctx, func(ctx context.Context, tx port.OrderTx) error {
		_, err := tx.LockOrder(ctx, o.ID)
		return err
	})
	close(done)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryOrderTx_CancelledBeforeCommit(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	err := store.WithinOrderTx(ctx, func(ctx context.Context, tx port.OrderTx) error {
		if err := tx.InsertOrder(ctx, &domain.Order{RestaurantID: 1, OrderNumber: "ORD-20240315-0001"}); err != nil {
			return err
		}
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	_, total, _ := store.ListOrders(context.Background(), domain.OrderFilter{})
	assert.Zero(t, total)
}

func TestMemoryOrderTx_DuplicateNumber(t *testing.T) {
	store := NewMemoryStore()
	seedOrder(t, store, "ORD-20240315-0001")

	err := store.WithinOrderTx(context.Background(), func(ctx context.Context, tx port.OrderTx) error {
		return tx.InsertOrder(ctx, &domain.Order{RestaurantID: 1, OrderNumber: "ORD-20240315-0001"})
	})
	assert.ErrorIs(t, err, port.ErrDuplicateOrderNumber)

	// same number, other restaurant
	err = store.WithinOrderTx(context.Background(), func(ctx context.Context, tx port.OrderTx) error {
		return tx.InsertOrder(ctx, &domain.Order{RestaurantID: 2, OrderNumber: "ORD-20240315-0001"})
	})
	assert.NoError(t, err)
}

func TestMemoryOrderTx_SequencesSerialize(t *testing.T) {
	store := NewMemoryStore()

	var mu sync.Mutex
	seen := map[int]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithinOrderTx(context.Background(), func(ctx context.Context, tx port.OrderTx) error {
				seq, err := tx.NextOrderSequence(ctx, 1, "20240315")
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				assert.False(t, seen[seq], "sequence %d issued twice", seq)
				seen[seq] = true
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 30)
	assert.True(t, seen[30])
}

func TestMemoryOrderTx_MaxOrderSequence(t *testing.T) {
	store := NewMemoryStore()
	seedOrder(t, store, "ORD-20240315-0002")
	seedOrder(t, store, "ORD-20240315-0011")
	seedOrder(t, store, "ORD-20240316-0040")

	var highest int
	err := store.WithinOrderTx(context.Background(), func(ctx context.Context, tx port.OrderTx) error {
		var err error
		highest, err = tx.MaxOrderSequence(ctx, 1, "20240315")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 11, highest)
}

func TestMemoryStore_ListOrdersFilterAndSort(t *testing.T) {
	store := NewMemoryStore()
	base := testTime
	for i, status := range []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusCooking, domain.OrderStatusPaid} {
		o := &domain.Order{RestaurantID: 1, OrderNumber: domain.FormatOrderNumber("20240315", i+1), Status: status, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, store.WithinOrderTx(context.Background(), func(ctx context.Context, tx port.OrderTx) error {
			return tx.InsertOrder(ctx, o)
		}))
	}

	restaurantID := int64(1)
	orders, total, err := store.ListOrders(context.Background(), domain.OrderFilter{
		RestaurantID: &restaurantID,
		Statuses:     []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusCooking},
		Sort:         domain.SortOldestFirst,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, orders, 2)
	assert.Equal(t, "ORD-20240315-0001", orders[0].OrderNumber)

	orders, _, _ = store.ListOrders(context.Background(), domain.OrderFilter{Page: domain.Page{Number: 2, PerPage: 2}})
	require.Len(t, orders, 1)
	assert.Equal(t, "ORD-20240315-0001", orders[0].OrderNumber)
}

func TestMemoryInventoryTx_InsufficientStockChangesNothing(t *testing.T) {
	store := NewMemoryStore()
	item := seedItem(t, store, 10)

	err := store.WithinInventoryTx(context.Background(), func(ctx context.Context, tx port.InventoryTx) error {
		if _, err := tx.LockItem(ctx, item.ID); err != nil {
			return err
		}
		_, err := tx.ApplyMovement(ctx, item.ID, domain.MovementOut, decimal.NewFromInt(12))
		return err
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	stored, err := store.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.True(t, stored.CurrentStock.Equal(decimal.NewFromInt(10)))
}

func TestMemoryInventoryTx_LockSeesStagedBalance(t *testing.T) {
	store := NewMemoryStore()
	item := seedItem(t, store, 10)

	err := store.WithinInventoryTx(context.Background(), func(ctx context.Context, tx port.InventoryTx) error {
		if _, err := tx.ApplyMovement(ctx, item.ID, domain.MovementIn, decimal.NewFromInt(5)); err != nil {
			return err
		}
		locked, err := tx.LockItem(ctx, item.ID)
		if err != nil {
			return err
		}
		assert.True(t, locked.CurrentStock.Equal(decimal.NewFromInt(15)))
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_ListLedgerNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	item := seedItem(t, store, 0)

	for _, q := range []int64{3, 4} {
		require.NoError(t, store.WithinInventoryTx(context.Background(), func(ctx context.Context, tx port.InventoryTx) error {
			return tx.AppendLedgerEntry(ctx, &domain.LedgerEntry{InventoryItemID: item.ID, Type: domain.MovementIn, Quantity: decimal.NewFromInt(q)})
		}))
	}

	entries, total, err := store.ListLedger(context.Background(), item.ID, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.True(t, entries[0].Quantity.Equal(decimal.NewFromInt(4)))
}

func TestMemoryIdempotency(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryIdempotency()

	ok, _ := c.Reserve(ctx, "k")
	assert.True(t, ok)
	ok, _ = c.Reserve(ctx, "k")
	assert.False(t, ok)

	_, done, _ := c.Lookup(ctx, "k")
	assert.False(t, done)

	require.NoError(t, c.Complete(ctx, "k", 7))
	id, done, _ := c.Lookup(ctx, "k")
	assert.True(t, done)
	assert.Equal(t, int64(7), id)

	require.NoError(t, c.Release(ctx, "k"))
	ok, _ = c.Reserve(ctx, "k")
	assert.True(t, ok)
}
