package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/pos-engine/internal/core/domain"
	"github.com/rl1809/pos-engine/internal/port"
)

const (
	maxAllocationAttempts = 3
	queuePageSize         = 100
	createdNote           = "Order created by waiter."
	kitchenNote           = "Status changed by kitchen."
)

type CreateOrderLine struct {
	MenuItemID int64  `json:"menu_item_id" validate:"required,gt=0"`
	Quantity   int    `json:"quantity" validate:"required,min=1"`
	Notes      string `json:"notes"`
}

type CreateOrderCommand struct {
	RequestID     string            `json:"request_id" validate:"omitempty,max=64"`
	CustomerName  string            `json:"customer_name" validate:"required,max=255"`
	CustomerPhone string            `json:"customer_phone" validate:"omitempty,max=20"`
	Notes         string            `json:"notes"`
	Items         []CreateOrderLine `json:"items" validate:"required,min=1,dive"`
}

type OrderService struct {
	options
	orders    port.OrderRepository
	catalog   port.Catalog
	allocator OrderNumberAllocator
	events    EventPublisher
}

func NewOrderService(orders port.OrderRepository, catalog port.Catalog, allocator OrderNumberAllocator, events EventPublisher, opts ...Option) *OrderService {
	o := buildOptions(opts)
	o.logger = o.logger.Named("order")
	return &OrderService{
		options:   o,
		orders:    orders,
		catalog:   catalog,
		allocator: allocator,
		events:    events,
	}
}

// Create validates the request against the catalog, then writes the order,
// its line items and the first status log entry as one unit. Kitchen staff
// are notified after commit.
func (s *OrderService) Create(ctx context.Context, actor domain.Actor, cmd CreateOrderCommand) (order *domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.Create")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int64("restaurant.id", actor.RestaurantID), attribute.Int("order.lines", len(cmd.Items)))

	if !actor.CanCreateOrders() {
		return nil, domain.Detail(domain.ErrForbidden, "only waiters can create orders")
	}
	if len(cmd.Items) == 0 {
		return nil, domain.ErrEmptyOrder
	}
	if err := validateStruct(cmd); err != nil {
		return nil, err
	}

	idemKey := ""
	if cmd.RequestID != "" && s.idempotency != nil {
		idemKey = fmt.Sprintf("idempotency:order:%d:%s", actor.RestaurantID, cmd.RequestID)
		existing, claimErr := s.claimRequest(ctx, actor, idemKey)
		if claimErr != nil || existing != nil {
			return existing, claimErr
		}
		defer func() {
			if err != nil {
				if relErr := s.idempotency.Release(context.WithoutCancel(ctx), idemKey); relErr != nil {
					s.logger.Warn("failed to release idempotency key", zap.String("key", idemKey), zap.Error(relErr))
				}
			}
		}()
	}

	lines, err := s.priceLines(ctx, actor.RestaurantID, cmd.Items)
	if err != nil {
		return nil, err
	}

	now := s.now()
	day := domain.OrderNumberDay(now.In(s.location))

	for attempt := 1; ; attempt++ {
		order, err = s.insertOrder(ctx, actor, cmd, lines, day, now)
		if err == nil {
			break
		}
		if !errors.Is(err, port.ErrDuplicateOrderNumber) || attempt >= maxAllocationAttempts {
			return nil, domain.AsEngineError("create order", err)
		}
		s.logger.Warn("order number collision, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}

	if idemKey != "" {
		if err := s.idempotency.Complete(context.WithoutCancel(ctx), idemKey, order.ID); err != nil {
			s.logger.Warn("failed to record idempotency key", zap.String("key", idemKey), zap.Error(err))
		}
	}

	s.publish(domain.OrderEvent{
		Kind:         domain.EventNewOrder,
		RestaurantID: order.RestaurantID,
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		CustomerName: order.CustomerName,
		WaiterID:     order.WaiterID,
		OccurredAt:   now,
	})

	span.SetAttributes(attribute.Int64("order.id", order.ID), attribute.String("order.number", order.OrderNumber))
	s.logger.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("restaurant_id", order.RestaurantID),
		zap.String("total", order.TotalAmount.StringFixed(2)),
	)
	return order, nil
}

// claimRequest returns the committed order for a replayed request, or
// ErrDuplicateRequest while the first attempt is still in flight.
func (s *OrderService) claimRequest(ctx context.Context, actor domain.Actor, key string) (*domain.Order, error) {
	ok, err := s.idempotency.Reserve(ctx, key)
	if err != nil {
		return nil, domain.Internal("idempotency check failed", err)
	}
	if ok {
		return nil, nil
	}
	orderID, done, err := s.idempotency.Lookup(ctx, key)
	if err != nil {
		return nil, domain.Internal("idempotency lookup failed", err)
	}
	if !done {
		return nil, domain.ErrDuplicateRequest
	}
	return s.GetOrder(ctx, actor, orderID)
}

func (s *OrderService) priceLines(ctx context.Context, restaurantID int64, requested []CreateOrderLine) ([]domain.OrderLineItem, error) {
	lines := make([]domain.OrderLineItem, 0, len(requested))
	for i, line := range requested {
		menu, err := s.catalog.GetMenuItem(ctx, line.MenuItemID)
		if err != nil {
			if errors.Is(err, domain.ErrMenuItemNotFound) {
				return nil, domain.Detail(domain.ErrMenuItemNotFound, "menu item %d not found (items[%d])", line.MenuItemID, i)
			}
			return nil, domain.AsEngineError("catalog lookup", err)
		}
		if menu.RestaurantID != restaurantID {
			return nil, domain.Detail(domain.ErrMenuItemNotFound, "menu item %d not found (items[%d])", line.MenuItemID, i)
		}
		if !menu.IsAvailable {
			return nil, domain.Detail(domain.ErrItemUnavailable, "menu item '%s' is not available", menu.Name)
		}
		lines = append(lines, domain.NewLineItem(*menu, line.Quantity, line.Notes))
	}
	return lines, nil
}

func (s *OrderService) insertOrder(ctx context.Context, actor domain.Actor, cmd CreateOrderCommand, lines []domain.OrderLineItem, day string, now time.Time) (*domain.Order, error) {
	var created *domain.Order
	err := s.orders.WithinOrderTx(ctx, func(ctx context.Context, tx port.OrderTx) error {
		number, err := s.allocator.Allocate(ctx, tx, actor.RestaurantID, day)
		if err != nil {
			return err
		}

		order := &domain.Order{
			RestaurantID:  actor.RestaurantID,
			WaiterID:      actor.ID,
			CustomerName:  cmd.CustomerName,
			CustomerPhone: cmd.CustomerPhone,
			OrderNumber:   number,
			Status:        domain.OrderStatusPending,
			Notes:         cmd.Notes,
			Items:         append([]domain.OrderLineItem(nil), lines...),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		order.TotalAmount = order.RecomputeTotal()

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}

		entry := domain.StatusLogEntry{
			OrderID:   order.ID,
			NewStatus: domain.OrderStatusPending,
			ChangedBy: actor.ID,
			ChangedAt: now,
			Note:      createdNote,
		}
		if err := tx.AppendStatusLog(ctx, &entry); err != nil {
			return err
		}
		order.StatusLog = []domain.StatusLogEntry{entry}
		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// TransitionStatus applies a kitchen transition under the order's lock.
func (s *OrderService) TransitionStatus(ctx context.Context, actor domain.Actor, orderID int64, next domain.OrderStatus, note string) (order *domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.TransitionStatus")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int64("order.id", orderID), attribute.String("order.status.requested", string(next)))

	if !actor.CanDriveKitchen() {
		return nil, domain.Detail(domain.ErrForbidden, "only kitchen staff can change order status")
	}
	if !next.Valid() {
		return nil, domain.Validation(map[string]string{"status": fmt.Sprintf("unknown status %q", next)})
	}
	if note == "" {
		note = kitchenNote
	}

	var old domain.OrderStatus
	order, err = s.mutate(ctx, actor, orderID, func(o *domain.Order, at time.Time) (domain.StatusLogEntry, error) {
		old = o.Status
		return o.Transition(next, actor.ID, note, at)
	})
	if err != nil {
		return nil, err
	}

	if next == domain.OrderStatusCompleted {
		s.publish(domain.OrderEvent{
			Kind:         domain.EventOrderCompleted,
			RestaurantID: order.RestaurantID,
			OrderID:      order.ID,
			OrderNumber:  order.OrderNumber,
			CustomerName: order.CustomerName,
			WaiterID:     order.WaiterID,
			OccurredAt:   order.UpdatedAt,
		})
	}

	s.logger.Info("order status changed",
		zap.Int64("order_id", order.ID),
		zap.String("from", string(old)),
		zap.String("to", string(next)),
		zap.Int64("actor_id", actor.ID),
	)
	return order, nil
}

// Cancel moves a non-terminal order to cancelled. Waiters may only cancel
// orders they created.
func (s *OrderService) Cancel(ctx context.Context, actor domain.Actor, orderID int64, reason string) (order *domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.Cancel")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int64("order.id", orderID))

	if !actor.CanCancelOrders() {
		return nil, domain.Detail(domain.ErrForbidden, "actor cannot cancel orders")
	}
	if reason == "" {
		return nil, domain.Validation(map[string]string{"cancellation_reason": "is required"})
	}

	order, err = s.mutate(ctx, actor, orderID, func(o *domain.Order, at time.Time) (domain.StatusLogEntry, error) {
		if !actor.CanCancelAnyOrder() && o.WaiterID != actor.ID {
			return domain.StatusLogEntry{}, domain.ErrForbiddenOwner
		}
		return o.Cancel(actor.ID, reason, at)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order cancelled", zap.Int64("order_id", order.ID), zap.Int64("actor_id", actor.ID), zap.String("reason", reason))
	return order, nil
}

// mutate locks the order, applies change and writes the order row and the
// returned log entry in one unit of work.
func (s *OrderService) mutate(ctx context.Context, actor domain.Actor, orderID int64, change func(o *domain.Order, at time.Time) (domain.StatusLogEntry, error)) (*domain.Order, error) {
	var updated *domain.Order
	err := s.orders.WithinOrderTx(ctx, func(ctx context.Context, tx port.OrderTx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.RestaurantID != actor.RestaurantID {
			return domain.Detail(domain.ErrForbidden, "order belongs to another restaurant")
		}

		entry, err := change(o, s.now())
		if err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.AppendStatusLog(ctx, &entry); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, domain.AsEngineError("update order", err)
	}
	return s.reload(ctx, updated), nil
}

// reload returns the full read model after commit. The commit stands even
// if the read fails, so the locked copy is returned in that case.
func (s *OrderService) reload(ctx context.Context, fallback *domain.Order) *domain.Order {
	full, err := s.orders.GetOrder(ctx, fallback.ID)
	if err != nil {
		s.logger.Warn("failed to reload order after commit", zap.Int64("order_id", fallback.ID), zap.Error(err))
		return fallback
	}
	return full
}

func (s *OrderService) publish(event domain.OrderEvent) {
	if s.events == nil {
		return
	}
	event.ID = uuid.NewString()
	s.events.Publish(event)
}

func (s *OrderService) GetOrder(ctx context.Context, actor domain.Actor, orderID int64) (*domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, domain.AsEngineError("get order", err)
	}
	if !actor.CanRead(order.RestaurantID) {
		return nil, domain.Detail(domain.ErrForbidden, "order belongs to another restaurant")
	}
	return order, nil
}

// ListOrders applies the actor's restaurant scope to filter.
func (s *OrderService) ListOrders(ctx context.Context, actor domain.Actor, filter domain.OrderFilter) ([]domain.Order, int, error) {
	filter.RestaurantID = actor.Scope(filter.RestaurantID)
	filter.Page = filter.Page.Normalize()
	orders, total, err := s.orders.ListOrders(ctx, filter)
	if err != nil {
		return nil, 0, domain.AsEngineError("list orders", err)
	}
	return orders, total, nil
}

// KitchenQueue lists every pending and cooking order of the actor's
// restaurant, oldest first.
func (s *OrderService) KitchenQueue(ctx context.Context, actor domain.Actor) ([]domain.Order, error) {
	if !actor.CanViewKitchenQueue() {
		return nil, domain.Detail(domain.ErrForbidden, "actor cannot view the kitchen queue")
	}
	restaurantID := actor.RestaurantID
	orders, err := s.allOrders(ctx, domain.OrderFilter{
		RestaurantID: &restaurantID,
		Statuses:     []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusCooking},
		Sort:         domain.SortOldestFirst,
	})
	if err != nil {
		return nil, domain.AsEngineError("kitchen queue", err)
	}
	return orders, nil
}

// ReadyForPayment lists every completed order of the actor's restaurant in
// completion order.
func (s *OrderService) ReadyForPayment(ctx context.Context, actor domain.Actor) ([]domain.Order, error) {
	if !actor.CanSettlePayments() {
		return nil, domain.Detail(domain.ErrForbidden, "only waiters can view orders awaiting payment")
	}
	restaurantID := actor.RestaurantID
	orders, err := s.allOrders(ctx, domain.OrderFilter{
		RestaurantID: &restaurantID,
		Statuses:     []domain.OrderStatus{domain.OrderStatusCompleted},
		Sort:         domain.SortCompletedFirst,
	})
	if err != nil {
		return nil, domain.AsEngineError("ready for payment", err)
	}
	return orders, nil
}

// allOrders walks every page of filter.
func (s *OrderService) allOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	all := []domain.Order{}
	for page := 1; ; page++ {
		filter.Page = domain.Page{Number: page, PerPage: queuePageSize}
		orders, total, err := s.orders.ListOrders(ctx, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, orders...)
		if len(orders) < queuePageSize || len(all) >= total {
			return all, nil
		}
	}
}
