package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-engine/internal/adapter/storage"
	"github.com/rl1809/pos-engine/internal/core/domain"
	"github.com/rl1809/pos-engine/internal/core/service"
	"github.com/rl1809/pos-engine/internal/port"
)

const (
	initialStock  = 20
	totalRequests = 50
	restaurantID  = int64(1)
)

var (
	manager = domain.Actor{ID: 1, RestaurantID: restaurantID, Roles: []domain.Role{domain.RoleManager}}
	waiter  = domain.Actor{ID: 2, RestaurantID: restaurantID, Roles: []domain.Role{domain.RoleWaiter}}
)

type store interface {
	port.OrderRepository
	port.InventoryRepository
	port.Catalog
}

func main() {
	driver := flag.String("store", "memory", "memory or mysql")
	dsn := flag.String("dsn", "root:root@tcp(localhost:3306)/pos?parseTime=true", "MySQL DSN, needs migrations and menu item 1")
	flag.Parse()

	ctx := context.Background()

	var st store
	switch *driver {
	case "memory":
		mem := storage.NewMemoryStore()
		mem.PutMenuItem(domain.MenuItem{ID: 1, RestaurantID: restaurantID, Name: "Nasi Goreng", Price: decimal.NewFromInt(25000), IsAvailable: true})
		st = mem
	case "mysql":
		db, err := sql.Open("mysql", *dsn)
		if err != nil {
			log.Fatalf("failed to connect mysql: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("failed to ping mysql: %v", err)
		}
		st = storage.NewMySQLAdapter(db)
	default:
		log.Fatalf("unknown store %q", *driver)
	}

	inventory := service.NewInventoryService(st)
	orders := service.NewOrderService(st, st, service.NewStoreSequenceAllocator(), nil)

	passed := stressStockOut(ctx, inventory) && stressOrderNumbers(ctx, orders)
	if !passed {
		log.Fatal("stress test failed")
	}
}

func stressStockOut(ctx context.Context, inventory *service.InventoryService) bool {
	item, err := inventory.CreateItem(ctx, manager, service.CreateItemCommand{
		Name:         fmt.Sprintf("stress-rice-%d", time.Now().UnixNano()),
		Unit:         "kg",
		MinStock:     decimal.NewFromInt(5),
		OpeningStock: decimal.NewFromInt(initialStock),
	})
	if err != nil {
		log.Fatalf("failed to create item: %v", err)
	}

	var successCount, insufficientCount, otherCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := inventory.RecordMovement(ctx, manager, item.ID, service.MovementCommand{
				Type:     domain.MovementOut,
				Quantity: decimal.NewFromInt(1),
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				insufficientCount.Add(1)
			default:
				otherCount.Add(1)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	success, insufficient, other := successCount.Load(), insufficientCount.Load(), otherCount.Load()

	fmt.Println("========== STOCK OUT RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Insufficient:     %d\n", insufficient)
	fmt.Printf("Other Errors:     %d\n", other)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("========================================")

	ok := true
	if success == initialStock && insufficient == totalRequests-initialStock && other == 0 {
		fmt.Printf("PASS: Exactly %d movements succeeded, %d failed\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d insufficient, got %d/%d (other %d)\n",
			initialStock, totalRequests-initialStock, success, insufficient, other)
		ok = false
	}

	final, err := inventory.GetItem(ctx, manager, item.ID)
	if err != nil {
		log.Fatalf("failed to read item: %v", err)
	}
	entries, _, err := inventory.ListLedger(ctx, manager, item.ID, domain.Page{Number: 1, PerPage: 100})
	if err != nil {
		log.Fatalf("failed to read ledger: %v", err)
	}
	oldestFirst := make([]domain.LedgerEntry, len(entries))
	for i, e := range entries {
		oldestFirst[len(entries)-1-i] = e
	}
	replayed := domain.Replay(oldestFirst)

	fmt.Printf("Final Stock:      %s\n", final.CurrentStock)
	fmt.Printf("Ledger Replay:    %s\n", replayed)
	if final.CurrentStock.IsZero() && replayed.Equal(final.CurrentStock) {
		fmt.Println("PASS: Stock depleted to 0 and ledger replays to the same balance")
	} else {
		fmt.Println("FAIL: Stock and ledger disagree")
		ok = false
	}
	return ok
}

func stressOrderNumbers(ctx context.Context, orders *service.OrderService) bool {
	var mu sync.Mutex
	numbers := make(map[string]int)
	var failCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			order, err := orders.Create(ctx, waiter, service.CreateOrderCommand{
				CustomerName: fmt.Sprintf("customer-%d", n),
				Items:        []service.CreateOrderLine{{MenuItemID: 1, Quantity: 1}},
			})
			if err != nil {
				failCount.Add(1)
				return
			}
			mu.Lock()
			numbers[order.OrderNumber]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	duplicates := 0
	for _, count := range numbers {
		if count > 1 {
			duplicates += count - 1
		}
	}

	fmt.Println("========== ORDER NUMBER RESULTS ==========")
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Created:          %d\n", len(numbers)+duplicates)
	fmt.Printf("Failed:           %d\n", failCount.Load())
	fmt.Printf("Duplicates:       %d\n", duplicates)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("===========================================")

	if failCount.Load() == 0 && duplicates == 0 && len(numbers) == totalRequests {
		fmt.Printf("PASS: %d orders with unique numbers\n", totalRequests)
		return true
	}
	fmt.Println("FAIL: order numbers were lost or reissued")
	return false
}
