package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/pos-engine/internal/core/domain"
	"github.com/rl1809/pos-engine/internal/port"
)

// EventPublisher accepts order events after commit. Publish must not block.
type EventPublisher interface {
	Publish(event domain.OrderEvent)
}

// Dispatcher queues order events and delivers them to users through a
// sink from a fixed pool of workers. Delivery is best effort: failures are
// logged and dropped.
type Dispatcher struct {
	staff   port.StaffDirectory
	sink    port.NotificationSink
	queue   chan domain.OrderEvent
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(staff port.StaffDirectory, sink port.NotificationSink, queueSize int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		staff:   staff,
		sink:    sink,
		queue:   make(chan domain.OrderEvent, queueSize),
		logger:  logger.Named("dispatcher"),
		timeout: 5 * time.Second,
	}
}

// Publish enqueues event, dropping it when the queue is full or closed.
func (d *Dispatcher) Publish(event domain.OrderEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("dispatcher closed, dropping event", zap.String("event_id", event.ID), zap.String("kind", string(event.Kind)))
		return
	}
	select {
	case d.queue <- event:
	default:
		d.logger.Warn("notification queue full, dropping event",
			zap.String("event_id", event.ID),
			zap.String("kind", string(event.Kind)),
			zap.Int64("order_id", event.OrderID),
		)
	}
}

// Run starts workers and blocks until the queue is closed and drained or
// ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, workers int) error {
	if workers < 1 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		id := i
		g.Go(func() error {
			d.workerLoop(ctx, id)
			return nil
		})
	}
	return g.Wait()
}

// Close stops accepting events. Workers exit once the queue drains.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.queue)
}

func (d *Dispatcher) workerLoop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-d.queue:
			if !ok {
				return
			}
			deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
			d.Deliver(deliverCtx, event)
			cancel()
		}
	}
}

// Deliver resolves the recipients of event and sends one notification to
// each. It never returns an error; failures are logged.
func (d *Dispatcher) Deliver(ctx context.Context, event domain.OrderEvent) {
	log := d.logger.With(
		zap.String("event_id", event.ID),
		zap.String("kind", string(event.Kind)),
		zap.Int64("order_id", event.OrderID),
	)

	recipients, err := d.recipients(ctx, event)
	if err != nil {
		log.Warn("failed to resolve notification recipients", zap.Error(err))
		return
	}

	title, message := renderEvent(event)
	for _, userID := range recipients {
		n := domain.Notification{
			EventID:      event.ID,
			RestaurantID: event.RestaurantID,
			UserID:       userID,
			Kind:         event.Kind,
			Title:        title,
			Message:      message,
			Payload:      map[string]any{"order_id": event.OrderID, "order_number": event.OrderNumber},
			CreatedAt:    event.OccurredAt,
		}
		if err := d.sink.Notify(ctx, n); err != nil {
			log.Warn("notification delivery failed", zap.Int64("user_id", userID), zap.Error(err))
			continue
		}
		log.Debug("notification delivered", zap.Int64("user_id", userID))
	}
}

func (d *Dispatcher) recipients(ctx context.Context, event domain.OrderEvent) ([]int64, error) {
	switch event.Kind {
	case domain.EventNewOrder:
		return d.staff.ActiveStaff(ctx, event.RestaurantID, domain.RoleKitchen)
	case domain.EventOrderCompleted:
		if event.WaiterID == 0 {
			return nil, nil
		}
		return []int64{event.WaiterID}, nil
	}
	return nil, fmt.Errorf("unknown event kind %q", event.Kind)
}

func renderEvent(event domain.OrderEvent) (title, message string) {
	switch event.Kind {
	case domain.EventNewOrder:
		return "New order!", fmt.Sprintf("Order #%s from %s", event.OrderNumber, event.CustomerName)
	case domain.EventOrderCompleted:
		return "Order ready!", fmt.Sprintf("Order #%s for %s is completed.", event.OrderNumber, event.CustomerName)
	}
	return string(event.Kind), event.OrderNumber
}
