package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/pos-engine/internal/core/domain"
)

type PayCommand struct {
	Amount decimal.Decimal      `json:"payment_amount"`
	Method domain.PaymentMethod `json:"payment_method" validate:"required,oneof=cash qris transfer debit credit"`
}

// PaymentService settles completed orders. It shares the order lock with
// OrderService, so a payment never races a kitchen transition or a cancel.
type PaymentService struct {
	options
	orders *OrderService
}

func NewPaymentService(orders *OrderService, opts ...Option) *PaymentService {
	o := buildOptions(opts)
	o.logger = o.logger.Named("payment")
	return &PaymentService{options: o, orders: orders}
}

func (s *PaymentService) Pay(ctx context.Context, actor domain.Actor, orderID int64, cmd PayCommand) (order *domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.Pay")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int64("order.id", orderID), attribute.String("payment.method", string(cmd.Method)))

	if !actor.CanSettlePayments() {
		return nil, domain.Detail(domain.ErrForbidden, "only waiters can settle payments")
	}
	if err := validateStruct(cmd); err != nil {
		return nil, err
	}
	fields := map[string]string{}
	checkScale(fields, "payment_amount", cmd.Amount)
	if !cmd.Amount.IsPositive() {
		fields["payment_amount"] = "must be greater than 0"
	}
	if len(fields) > 0 {
		return nil, domain.Validation(fields)
	}

	order, err = s.orders.mutate(ctx, actor, orderID, func(o *domain.Order, at time.Time) (domain.StatusLogEntry, error) {
		return o.Settle(cmd.Amount, cmd.Method, actor.ID, at)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order paid",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("method", string(cmd.Method)),
		zap.String("amount", cmd.Amount.StringFixed(2)),
		zap.String("change", order.ChangeAmount.StringFixed(2)),
	)
	return order, nil
}

// Receipt returns a paid order for receipt rendering.
func (s *PaymentService) Receipt(ctx context.Context, actor domain.Actor, orderID int64) (*domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusPaid {
		return nil, domain.Detail(domain.ErrNotReadyForPayment, "order %s has not been paid", order.OrderNumber)
	}
	return order, nil
}
