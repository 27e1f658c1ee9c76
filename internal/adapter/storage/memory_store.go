package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-engine/internal/core/domain"
	"github.com/rl1809/pos-engine/internal/port"
)

// keyedLocks hands out one mutex per key. Waiting honours ctx so a caller
// that gives up before it holds the lock never touches the row.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]chan struct{})}
}

func (k *keyedLocks) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	ch, ok := k.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.locks[key] = ch
	}
	k.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type seqKey struct {
	restaurantID int64
	day          string
}

type staffMember struct {
	userID int64
	role   domain.Role
	active bool
}

// MemoryStore implements the order, inventory, catalog and staff ports in
// process. Writes are staged per unit of work and applied under one mutex
// at commit, so readers never see half of a unit.
type MemoryStore struct {
	mu        sync.RWMutex
	orders    map[int64]*domain.Order
	logs      map[int64][]domain.StatusLogEntry
	numbers   map[string]int64
	sequences map[seqKey]int
	items     map[int64]*domain.InventoryItem
	ledger    map[int64][]domain.LedgerEntry
	menu      map[int64]domain.MenuItem
	staff     map[int64][]staffMember

	ids struct {
		sync.Mutex
		order, line, log, item, entry int64
	}

	orderLocks *keyedLocks
	itemLocks  *keyedLocks
	seqLocks   *keyedLocks
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:     make(map[int64]*domain.Order),
		logs:       make(map[int64][]domain.StatusLogEntry),
		numbers:    make(map[string]int64),
		sequences:  make(map[seqKey]int),
		items:      make(map[int64]*domain.InventoryItem),
		ledger:     make(map[int64][]domain.LedgerEntry),
		menu:       make(map[int64]domain.MenuItem),
		staff:      make(map[int64][]staffMember),
		orderLocks: newKeyedLocks(),
		itemLocks:  newKeyedLocks(),
		seqLocks:   newKeyedLocks(),
	}
}

func (m *MemoryStore) nextID(counter *int64) int64 {
	m.ids.Lock()
	defer m.ids.Unlock()
	*counter++
	return *counter
}

// PutMenuItem adds or replaces a catalog entry.
func (m *MemoryStore) PutMenuItem(item domain.MenuItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.menu[item.ID] = item
}

// AddStaff registers a user under a role in a restaurant.
func (m *MemoryStore) AddStaff(restaurantID, userID int64, role domain.Role, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staff[restaurantID] = append(m.staff[restaurantID], staffMember{userID: userID, role: role, active: active})
}

func (m *MemoryStore) GetMenuItem(_ context.Context, menuItemID int64) (*domain.MenuItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.menu[menuItemID]
	if !ok {
		return nil, domain.ErrMenuItemNotFound
	}
	return &item, nil
}

func (m *MemoryStore) ActiveStaff(_ context.Context, restaurantID int64, role domain.Role) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []int64
	for _, s := range m.staff[restaurantID] {
		if s.active && s.role == role {
			ids = append(ids, s.userID)
		}
	}
	return ids, nil
}

// unit tracks the locks held by one unit of work.
type unit struct {
	releases []func()
}

func (u *unit) hold(release func()) {
	u.releases = append(u.releases, release)
}

func (u *unit) release() {
	for i := len(u.releases) - 1; i >= 0; i-- {
		u.releases[i]()
	}
	u.releases = nil
}

// run executes fn and calls commit only if fn succeeded and ctx is still
// live. Locks are released on every path, including a panic in fn.
func run(ctx context.Context, u *unit, fn func() error, commit func() error) error {
	defer u.release()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin unit: %w", err)
	}
	if err := fn(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit unit: %w", err)
	}
	return commit()
}

type memOrderTx struct {
	store     *MemoryStore
	unit      *unit
	inserted  map[int64]*domain.Order
	updated   map[int64]*domain.Order
	logs      []domain.StatusLogEntry
	sequences map[seqKey]int
}

func (m *MemoryStore) WithinOrderTx(ctx context.Context, fn func(ctx context.Context, tx port.OrderTx) error) error {
	tx := &memOrderTx{
		store:     m,
		unit:      &unit{},
		inserted:  make(map[int64]*domain.Order),
		updated:   make(map[int64]*domain.Order),
		sequences: make(map[seqKey]int),
	}
	return run(ctx, tx.unit, func() error { return fn(ctx, tx) }, tx.commit)
}

func (tx *memOrderTx) NextOrderSequence(ctx context.Context, restaurantID int64, day string) (int, error) {
	key := seqKey{restaurantID: restaurantID, day: day}
	if seq, ok := tx.sequences[key]; ok {
		tx.sequences[key] = seq + 1
		return seq + 1, nil
	}
	release, err := tx.store.seqLocks.lock(ctx, fmt.Sprintf("%d:%s", restaurantID, day))
	if err != nil {
		return 0, fmt.Errorf("lock order sequence: %w", err)
	}
	tx.unit.hold(release)

	tx.store.mu.RLock()
	seq := tx.store.sequences[key] + 1
	tx.store.mu.RUnlock()
	tx.sequences[key] = seq
	return seq, nil
}

func (tx *memOrderTx) MaxOrderSequence(_ context.Context, restaurantID int64, day string) (int, error) {
	prefix := domain.FormatOrderNumber(day, 0)
	prefix = prefix[:strings.LastIndexByte(prefix, '-')+1]

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	highest := 0
	for _, o := range tx.store.orders {
		if o.RestaurantID != restaurantID || !strings.HasPrefix(o.OrderNumber, prefix) {
			continue
		}
		var seq int
		if _, err := fmt.Sscanf(o.OrderNumber[len(prefix):], "%d", &seq); err == nil && seq > highest {
			highest = seq
		}
	}
	return highest, nil
}

func (tx *memOrderTx) InsertOrder(_ context.Context, order *domain.Order) error {
	key := numberKey(order.RestaurantID, order.OrderNumber)
	tx.store.mu.RLock()
	_, taken := tx.store.numbers[key]
	tx.store.mu.RUnlock()
	if taken {
		return fmt.Errorf("insert order %s: %w", order.OrderNumber, port.ErrDuplicateOrderNumber)
	}

	order.ID = tx.store.nextID(&tx.store.ids.order)
	for i := range order.Items {
		order.Items[i].ID = tx.store.nextID(&tx.store.ids.line)
		order.Items[i].OrderID = order.ID
	}
	tx.inserted[order.ID] = cloneOrder(order)
	return nil
}

func (tx *memOrderTx) LockOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	if o, ok := tx.inserted[orderID]; ok {
		return cloneOrder(o), nil
	}
	if o, ok := tx.updated[orderID]; ok {
		return cloneOrder(o), nil
	}

	release, err := tx.store.orderLocks.lock(ctx, fmt.Sprint(orderID))
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}
	tx.unit.hold(release)

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	o, ok := tx.store.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (tx *memOrderTx) UpdateOrder(_ context.Context, order *domain.Order) error {
	if _, ok := tx.inserted[order.ID]; ok {
		tx.inserted[order.ID] = cloneOrder(order)
		return nil
	}
	tx.updated[order.ID] = cloneOrder(order)
	return nil
}

func (tx *memOrderTx) AppendStatusLog(_ context.Context, entry *domain.StatusLogEntry) error {
	entry.ID = tx.store.nextID(&tx.store.ids.log)
	tx.logs = append(tx.logs, *entry)
	return nil
}

func (tx *memOrderTx) commit() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range tx.inserted {
		if _, taken := s.numbers[numberKey(o.RestaurantID, o.OrderNumber)]; taken {
			return fmt.Errorf("commit order %s: %w", o.OrderNumber, port.ErrDuplicateOrderNumber)
		}
	}
	for _, o := range tx.inserted {
		s.orders[o.ID] = o
		s.numbers[numberKey(o.RestaurantID, o.OrderNumber)] = o.ID
	}
	for id, o := range tx.updated {
		current, ok := s.orders[id]
		if !ok {
			return fmt.Errorf("commit order %d: %w", id, domain.ErrOrderNotFound)
		}
		o.Items = current.Items
		s.orders[id] = o
	}
	for _, e := range tx.logs {
		s.logs[e.OrderID] = append(s.logs[e.OrderID], e)
	}
	for k, v := range tx.sequences {
		s.sequences[k] = v
	}
	return nil
}

func numberKey(restaurantID int64, number string) string {
	return fmt.Sprintf("%d/%s", restaurantID, number)
}

func (m *MemoryStore) GetOrder(_ context.Context, orderID int64) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	out := cloneOrder(o)
	out.StatusLog = append([]domain.StatusLogEntry(nil), m.logs[orderID]...)
	return out, nil
}

func (m *MemoryStore) ListOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, int, error) {
	m.mu.RLock()
	var matched []domain.Order
	for _, o := range m.orders {
		if matchOrder(o, filter) {
			c := cloneOrder(o)
			c.Items = nil
			matched = append(matched, *c)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		switch filter.Sort {
		case domain.SortOldestFirst:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		case domain.SortCompletedFirst:
			ta, tb := timeOrZero(a.CompletedAt), timeOrZero(b.CompletedAt)
			if !ta.Equal(tb) {
				return ta.Before(tb)
			}
			return a.ID < b.ID
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.ID > b.ID
		}
	})
	return paginate(matched, filter.Page), len(matched), nil
}

func matchOrder(o *domain.Order, f domain.OrderFilter) bool {
	if f.RestaurantID != nil && o.RestaurantID != *f.RestaurantID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if o.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.DateFrom != nil && o.CreatedAt.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && !o.CreatedAt.Before(*f.DateTo) {
		return false
	}
	return true
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func paginate[T any](rows []T, page domain.Page) []T {
	page = page.Normalize()
	start := page.Offset()
	if start >= len(rows) {
		return []T{}
	}
	end := start + page.PerPage
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = append([]domain.OrderLineItem(nil), o.Items...)
	c.StatusLog = nil
	return &c
}

type memInventoryTx struct {
	store    *MemoryStore
	unit     *unit
	inserted map[int64]*domain.InventoryItem
	balances map[int64]decimal.Decimal
	entries  []domain.LedgerEntry
}

func (m *MemoryStore) WithinInventoryTx(ctx context.Context, fn func(ctx context.Context, tx port.InventoryTx) error) error {
	tx := &memInventoryTx{
		store:    m,
		unit:     &unit{},
		inserted: make(map[int64]*domain.InventoryItem),
		balances: make(map[int64]decimal.Decimal),
	}
	return run(ctx, tx.unit, func() error { return fn(ctx, tx) }, tx.commit)
}

func (tx *memInventoryTx) InsertItem(_ context.Context, item *domain.InventoryItem) error {
	item.ID = tx.store.nextID(&tx.store.ids.item)
	c := *item
	tx.inserted[item.ID] = &c
	return nil
}

func (tx *memInventoryTx) LockItem(ctx context.Context, itemID int64) (*domain.InventoryItem, error) {
	if item, ok := tx.inserted[itemID]; ok {
		c := *item
		return &c, nil
	}

	release, err := tx.store.itemLocks.lock(ctx, fmt.Sprint(itemID))
	if err != nil {
		return nil, fmt.Errorf("lock inventory item: %w", err)
	}
	tx.unit.hold(release)

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	item, ok := tx.store.items[itemID]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	c := *item
	if b, ok := tx.balances[itemID]; ok {
		c.CurrentStock = b
	}
	return &c, nil
}

func (tx *memInventoryTx) ApplyMovement(_ context.Context, itemID int64, movement domain.MovementType, quantity decimal.Decimal) (decimal.Decimal, error) {
	balance, ok := tx.balances[itemID]
	if !ok {
		if item, staged := tx.inserted[itemID]; staged {
			balance = item.CurrentStock
		} else {
			tx.store.mu.RLock()
			item, found := tx.store.items[itemID]
			if found {
				balance = item.CurrentStock
			}
			tx.store.mu.RUnlock()
			if !found {
				return decimal.Zero, domain.ErrItemNotFound
			}
		}
	}
	next, err := movement.Apply(balance, quantity)
	if err != nil {
		return balance, err
	}
	tx.balances[itemID] = next
	return next, nil
}

func (tx *memInventoryTx) AppendLedgerEntry(_ context.Context, entry *domain.LedgerEntry) error {
	entry.ID = tx.store.nextID(&tx.store.ids.entry)
	tx.entries = append(tx.entries, *entry)
	return nil
}

func (tx *memInventoryTx) commit() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, item := range tx.inserted {
		s.items[id] = item
	}
	for id, balance := range tx.balances {
		item, ok := s.items[id]
		if !ok {
			return fmt.Errorf("commit inventory item %d: %w", id, domain.ErrItemNotFound)
		}
		item.CurrentStock = balance
		item.UpdatedAt = time.Now()
	}
	for _, e := range tx.entries {
		s.ledger[e.InventoryItemID] = append(s.ledger[e.InventoryItemID], e)
	}
	return nil
}

func (m *MemoryStore) GetItem(_ context.Context, itemID int64) (*domain.InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[itemID]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	c := *item
	return &c, nil
}

func (m *MemoryStore) ListItems(_ context.Context, filter domain.InventoryFilter) ([]domain.InventoryItem, int, error) {
	m.mu.RLock()
	var matched []domain.InventoryItem
	for _, item := range m.items {
		if filter.RestaurantID != nil && item.RestaurantID != *filter.RestaurantID {
			continue
		}
		if filter.LowStockOnly && (!item.IsActive || !item.IsLowStock()) {
			continue
		}
		matched = append(matched, *item)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Name != matched[j].Name {
			return matched[i].Name < matched[j].Name
		}
		return matched[i].ID < matched[j].ID
	})
	return paginate(matched, filter.Page), len(matched), nil
}

func (m *MemoryStore) ListLedger(_ context.Context, itemID int64, page domain.Page) ([]domain.LedgerEntry, int, error) {
	m.mu.RLock()
	entries := m.ledger[itemID]
	newest := make([]domain.LedgerEntry, len(entries))
	for i, e := range entries {
		newest[len(entries)-1-i] = e
	}
	m.mu.RUnlock()
	return paginate(newest, page), len(newest), nil
}

// MemoryIdempotency is an in-process port.IdempotencyCache without expiry.
type MemoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]int64
}

func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{keys: make(map[string]int64)}
}

func (c *MemoryIdempotency) Reserve(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys[key]; ok {
		return false, nil
	}
	c.keys[key] = 0
	return true, nil
}

func (c *MemoryIdempotency) Complete(_ context.Context, key string, orderID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[key] = orderID
	return nil
}

func (c *MemoryIdempotency) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	return nil
}

func (c *MemoryIdempotency) Lookup(_ context.Context, key string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.keys[key]
	return id, ok && id != 0, nil
}
