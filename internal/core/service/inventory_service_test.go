package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pos-engine/internal/adapter/storage"
	"github.com/rl1809/pos-engine/internal/core/domain"
)

func newInventoryService(t *testing.T) *InventoryService {
	t.Helper()
	return NewInventoryService(storage.NewMemoryStore(), WithClock(func() time.Time { return fixedNow }))
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func createRice(t *testing.T, svc *InventoryService, stock int64) *domain.InventoryItem {
	t.Helper()
	item, err := svc.CreateItem(context.Background(), manager, CreateItemCommand{
		Name:         "Rice",
		Unit:         "kg",
		MinStock:     dec(5),
		OpeningStock: dec(stock),
		UnitCost:     dec(12000),
	})
	require.NoError(t, err)
	return item
}

func out(qty int64) MovementCommand {
	return MovementCommand{Type: domain.MovementOut, Quantity: dec(qty)}
}

func TestRecordMovement_RiceScenario(t *testing.T) {
	svc := newInventoryService(t)
	ctx := context.Background()
	rice := createRice(t, svc, 10)

	_, _, err := svc.RecordMovement(ctx, manager, rice.ID, out(12))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	item, err := svc.GetItem(ctx, manager, rice.ID)
	require.NoError(t, err)
	assert.True(t, dec(10).Equal(item.CurrentStock))

	_, item, err = svc.RecordMovement(ctx, manager, rice.ID, out(4))
	require.NoError(t, err)
	assert.True(t, dec(6).Equal(item.CurrentStock))
	assert.False(t, item.IsLowStock())

	_, item, err = svc.RecordMovement(ctx, manager, rice.ID, out(2))
	require.NoError(t, err)
	assert.True(t, dec(4).Equal(item.CurrentStock))
	assert.True(t, item.IsLowStock())

	entries, total, err := svc.ListLedger(ctx, manager, rice.ID, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, 3, total, "opening balance plus two outs")
	assert.Equal(t, domain.ReferenceOpeningBalance, entries[2].ReferenceType)

	low, err := svc.LowStockItems(ctx, manager, nil)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, rice.ID, low[0].ID)
}

func TestRecordMovement_LedgerReplayMatchesBalance(t *testing.T) {
	svc := newInventoryService(t)
	ctx := context.Background()
	item := createRice(t, svc, 0)

	moves := []MovementCommand{
		{Type: domain.MovementIn, Quantity: dec(20)},
		out(3),
		{Type: domain.MovementAdjustment, Quantity: dec(7)},
		{Type: domain.MovementIn, Quantity: decimal.RequireFromString("2.5")},
		out(1),
	}
	for _, m := range moves {
		_, _, err := svc.RecordMovement(ctx, manager, item.ID, m)
		require.NoError(t, err)
	}

	stored, err := svc.GetItem(ctx, manager, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "8.5", stored.CurrentStock.String())

	entries, _, err := svc.ListLedger(ctx, manager, item.ID, domain.Page{PerPage: 100})
	require.NoError(t, err)
	oldestFirst := make([]domain.LedgerEntry, len(entries))
	for i, e := range entries {
		oldestFirst[len(entries)-1-i] = e
	}
	assert.True(t, stored.CurrentStock.Equal(domain.Replay(oldestFirst)))
}

func TestRecordMovement_CostDefaults(t *testing.T) {
	svc := newInventoryService(t)
	item := createRice(t, svc, 0)

	entry, _, err := svc.RecordMovement(context.Background(), manager, item.ID, MovementCommand{Type: domain.MovementIn, Quantity: dec(3)})
	require.NoError(t, err)
	assert.True(t, dec(12000).Equal(entry.UnitCost))
	assert.True(t, dec(36000).Equal(entry.TotalCost))

	cost := dec(15000)
	ref := int64(77)
	entry, _, err = svc.RecordMovement(context.Background(), manager, item.ID, MovementCommand{
		Type: domain.MovementIn, Quantity: dec(2), UnitCost: &cost, ReferenceType: "purchase", ReferenceID: &ref, Notes: "supplier delivery",
	})
	require.NoError(t, err)
	assert.True(t, dec(30000).Equal(entry.TotalCost))
	assert.Equal(t, "purchase", entry.ReferenceType)
	assert.Equal(t, &ref, entry.ReferenceID)
	assert.Equal(t, manager.ID, entry.CreatedBy)
}

func TestRecordMovement_Rejections(t *testing.T) {
	svc := newInventoryService(t)
	item := createRice(t, svc, 10)
	ctx := context.Background()

	_, _, err := svc.RecordMovement(ctx, manager, item.ID, MovementCommand{Type: domain.MovementIn, Quantity: dec(0)})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, _, err = svc.RecordMovement(ctx, manager, item.ID, MovementCommand{Type: "transfer", Quantity: dec(1)})
	assert.ErrorIs(t, err, domain.ErrInvalidMovementType)

	_, _, err = svc.RecordMovement(ctx, waiterA, item.ID, out(1))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, _, err = svc.RecordMovement(ctx, outsider, item.ID, out(1))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, _, err = svc.RecordMovement(ctx, manager, 999, out(1))
	assert.ErrorIs(t, err, domain.ErrItemNotFound)

	_, total, err := svc.ListLedger(ctx, manager, item.ID, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestRecordMovement_ConcurrentOutNeverNegative(t *testing.T) {
	svc := newInventoryService(t)
	item := createRice(t, svc, 10)

	const workers = 11
	var wg sync.WaitGroup
	var successCount, stockFailures atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.RecordMovement(context.Background(), manager, item.ID, out(1))
			switch {
			case err == nil:
				successCount.Add(1)
			case domain.KindOf(err) == domain.KindConflict:
				stockFailures.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), successCount.Load())
	assert.Equal(t, int32(1), stockFailures.Load())
	stored, err := svc.GetItem(context.Background(), manager, item.ID)
	require.NoError(t, err)
	assert.True(t, stored.CurrentStock.IsZero())

	_, total, err := svc.ListLedger(context.Background(), manager, item.ID, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, 11, total)
}

func TestCreateItem(t *testing.T) {
	svc := newInventoryService(t)
	ctx := context.Background()

	_, err := svc.CreateItem(ctx, manager, CreateItemCommand{Name: "", Unit: "kg", MinStock: dec(-1)})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Contains(t, domain.FieldsOf(err), "name")

	_, err = svc.CreateItem(ctx, manager, CreateItemCommand{Name: "Oil", Unit: "l", MinStock: dec(-1)})
	assert.Contains(t, domain.FieldsOf(err), "min_stock")

	_, err = svc.CreateItem(ctx, waiterA, CreateItemCommand{Name: "Oil", Unit: "l"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	other := int64(2)
	item, err := svc.CreateItem(ctx, manager, CreateItemCommand{Name: "Oil", Unit: "l", RestaurantID: &other})
	require.NoError(t, err)
	assert.Equal(t, restaurantID, item.RestaurantID, "managers stay in their own restaurant")
	assert.True(t, item.IsActive)
	assert.True(t, item.CurrentStock.IsZero())

	_, total, err := svc.ListLedger(ctx, manager, item.ID, domain.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)

	item, err = svc.CreateItem(ctx, owner, CreateItemCommand{Name: "Sugar", Unit: "kg", RestaurantID: &other})
	require.NoError(t, err)
	assert.Equal(t, other, item.RestaurantID)
}

func TestListItems_Scoped(t *testing.T) {
	svc := newInventoryService(t)
	ctx := context.Background()
	createRice(t, svc, 10)
	other := int64(2)
	_, err := svc.CreateItem(ctx, owner, CreateItemCommand{Name: "Flour", Unit: "kg", RestaurantID: &other})
	require.NoError(t, err)

	items, total, err := svc.ListItems(ctx, manager, domain.InventoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Rice", items[0].Name)

	_, total, err = svc.ListItems(ctx, owner, domain.InventoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	_, total, err = svc.ListItems(ctx, owner, domain.InventoryFilter{RestaurantID: &other})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestRecordMovement_RejectsValuesTheStoreWouldRound(t *testing.T) {
	svc := newInventoryService(t)
	item := createRice(t, svc, 10)
	ctx := context.Background()

	_, _, err := svc.RecordMovement(ctx, manager, item.ID, MovementCommand{Type: domain.MovementOut, Quantity: decimal.RequireFromString("0.004")})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Contains(t, domain.FieldsOf(err), "quantity")

	cost := decimal.RequireFromString("1.255")
	_, _, err = svc.RecordMovement(ctx, manager, item.ID, MovementCommand{Type: domain.MovementIn, Quantity: dec(1), UnitCost: &cost})
	assert.Contains(t, domain.FieldsOf(err), "unit_cost")

	// trailing zeros are not extra precision
	_, got, err := svc.RecordMovement(ctx, manager, item.ID, MovementCommand{Type: domain.MovementOut, Quantity: decimal.RequireFromString("0.500")})
	require.NoError(t, err)
	assert.True(t, got.CurrentStock.Equal(decimal.RequireFromString("9.5")))

	_, total, err := svc.ListLedger(ctx, manager, item.ID, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	_, err = svc.CreateItem(ctx, manager, CreateItemCommand{Name: "Salt", Unit: "kg", OpeningStock: decimal.RequireFromString("2.001")})
	assert.Contains(t, domain.FieldsOf(err), "current_stock")
}
