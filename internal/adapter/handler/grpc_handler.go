package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"

	"github.com/rl1809/pos-engine/internal/core/domain"
	"github.com/rl1809/pos-engine/internal/core/service"
)

// jsonCodec carries plain Go structs over gRPC. Clients select it with
// grpc.CallContentSubtype(JSONCodecName).
type jsonCodec struct{}

const JSONCodecName = "json"

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type CreateOrderRequest struct {
	service.CreateOrderCommand
}

type UpdateStatusRequest struct {
	OrderID int64              `json:"order_id"`
	Status  domain.OrderStatus `json:"status"`
	Notes   string             `json:"notes"`
}

type CancelOrderRequest struct {
	OrderID int64  `json:"order_id"`
	Reason  string `json:"cancellation_reason"`
}

type PayOrderRequest struct {
	OrderID int64                `json:"order_id"`
	Amount  decimal.Decimal      `json:"payment_amount"`
	Method  domain.PaymentMethod `json:"payment_method"`
}

type GetOrderRequest struct {
	OrderID int64 `json:"order_id"`
}

type RecordMovementRequest struct {
	ItemID int64 `json:"inventory_item_id"`
	service.MovementCommand
}

type OrderReply = orderResponse

type MovementReply = movementResponse

type OrderEngineServer interface {
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderReply, error)
	UpdateStatus(ctx context.Context, req *UpdateStatusRequest) (*OrderReply, error)
	CancelOrder(ctx context.Context, req *CancelOrderRequest) (*OrderReply, error)
	PayOrder(ctx context.Context, req *PayOrderRequest) (*OrderReply, error)
	GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderReply, error)
	RecordMovement(ctx context.Context, req *RecordMovementRequest) (*MovementReply, error)
}

const orderEngineService = "pos.v1.OrderEngine"

func unaryMethod[Req, Resp any](name string, call func(OrderEngineServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + orderEngineService + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OrderEngineServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(OrderEngineServer), ctx, req.(*Req))
			})
		},
	}
}

var OrderEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: orderEngineService,
	HandlerType: (*OrderEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CreateOrder", OrderEngineServer.CreateOrder),
		unaryMethod("UpdateStatus", OrderEngineServer.UpdateStatus),
		unaryMethod("CancelOrder", OrderEngineServer.CancelOrder),
		unaryMethod("PayOrder", OrderEngineServer.PayOrder),
		unaryMethod("GetOrder", OrderEngineServer.GetOrder),
		unaryMethod("RecordMovement", OrderEngineServer.RecordMovement),
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterOrderEngineServer(s grpc.ServiceRegistrar, srv OrderEngineServer) {
	s.RegisterService(&OrderEngineServiceDesc, srv)
}

type GRPCHandler struct {
	Services
	auth   *Authenticator
	logger *zap.Logger
}

func NewGRPCHandler(svc Services, auth *Authenticator, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{Services: svc, auth: auth, logger: logger.Named("grpc")}
}

func (h *GRPCHandler) actor(ctx context.Context) (domain.Actor, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	var token string
	if values := md.Get("authorization"); len(values) > 0 {
		token = bearerToken(values[0])
	}
	actor, err := h.auth.Actor(token)
	if err != nil {
		return domain.Actor{}, status.Error(codes.Unauthenticated, err.Error())
	}
	return actor, nil
}

func (h *GRPCHandler) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderReply, error) {
	actor, err := h.actor(ctx)
	if err != nil {
		return nil, err
	}
	order, err := h.Orders.Create(ctx, actor, req.CreateOrderCommand)
	return h.orderReply(order, err)
}

func (h *GRPCHandler) UpdateStatus(ctx context.Context, req *UpdateStatusRequest) (*OrderReply, error) {
	actor, err := h.actor(ctx)
	if err != nil {
		return nil, err
	}
	order, err := h.Orders.TransitionStatus(ctx, actor, req.OrderID, req.Status, req.Notes)
	return h.orderReply(order, err)
}

func (h *GRPCHandler) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*OrderReply, error) {
	actor, err := h.actor(ctx)
	if err != nil {
		return nil, err
	}
	order, err := h.Orders.Cancel(ctx, actor, req.OrderID, req.Reason)
	return h.orderReply(order, err)
}

func (h *GRPCHandler) PayOrder(ctx context.Context, req *PayOrderRequest) (*OrderReply, error) {
	actor, err := h.actor(ctx)
	if err != nil {
		return nil, err
	}
	order, err := h.Payments.Pay(ctx, actor, req.OrderID, service.PayCommand{Amount: req.Amount, Method: req.Method})
	return h.orderReply(order, err)
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderReply, error) {
	actor, err := h.actor(ctx)
	if err != nil {
		return nil, err
	}
	order, err := h.Orders.GetOrder(ctx, actor, req.OrderID)
	return h.orderReply(order, err)
}

func (h *GRPCHandler) RecordMovement(ctx context.Context, req *RecordMovementRequest) (*MovementReply, error) {
	actor, err := h.actor(ctx)
	if err != nil {
		return nil, err
	}
	entry, item, err := h.Inventory.RecordMovement(ctx, actor, req.ItemID, req.MovementCommand)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &MovementReply{Entry: toLedgerResponse(entry), Item: toItemResponse(item)}, nil
}

func (h *GRPCHandler) orderReply(order *domain.Order, err error) (*OrderReply, error) {
	if err != nil {
		return nil, h.toStatus(err)
	}
	reply := toOrderResponse(order)
	return &reply, nil
}

func grpcCode(kind domain.Kind) codes.Code {
	switch kind {
	case domain.KindValidation:
		return codes.InvalidArgument
	case domain.KindNotFound:
		return codes.NotFound
	case domain.KindForbidden:
		return codes.PermissionDenied
	case domain.KindConflict:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

// toStatus maps an engine error onto a gRPC status. The error code goes in
// ErrorInfo.Reason and validation fields become BadRequest violations.
func (h *GRPCHandler) toStatus(err error) error {
	kind := domain.KindOf(err)
	var e *domain.Error
	if kind == domain.KindInternal || !errors.As(err, &e) {
		h.logger.Error("rpc failed", zap.Error(err))
		return status.Error(codes.Internal, domain.ErrInternal.Message)
	}

	st := status.New(grpcCode(kind), e.Message)
	details := []protoadapt.MessageV1{&errdetails.ErrorInfo{Reason: e.Code, Domain: orderEngineService}}
	if len(e.Fields) > 0 {
		br := &errdetails.BadRequest{}
		for field, msg := range e.Fields {
			br.FieldViolations = append(br.FieldViolations, &errdetails.BadRequest_FieldViolation{Field: field, Description: msg})
		}
		details = append(details, br)
	}
	if withDetails, derr := st.WithDetails(details...); derr == nil {
		st = withDetails
	}
	return st.Err()
}

// OrderEngineClient calls the service with the JSON codec.
type OrderEngineClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderEngineClient(cc grpc.ClientConnInterface) *OrderEngineClient {
	return &OrderEngineClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append(opts, grpc.CallContentSubtype(JSONCodecName))
	if err := cc.Invoke(ctx, "/"+orderEngineService+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderEngineClient) CreateOrder(ctx context.Context, req *CreateOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	return invoke[OrderReply](ctx, c.cc, "CreateOrder", req, opts...)
}

func (c *OrderEngineClient) UpdateStatus(ctx context.Context, req *UpdateStatusRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	return invoke[OrderReply](ctx, c.cc, "UpdateStatus", req, opts...)
}

func (c *OrderEngineClient) CancelOrder(ctx context.Context, req *CancelOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	return invoke[OrderReply](ctx, c.cc, "CancelOrder", req, opts...)
}

func (c *OrderEngineClient) PayOrder(ctx context.Context, req *PayOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	return invoke[OrderReply](ctx, c.cc, "PayOrder", req, opts...)
}

func (c *OrderEngineClient) GetOrder(ctx context.Context, req *GetOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	return invoke[OrderReply](ctx, c.cc, "GetOrder", req, opts...)
}

func (c *OrderEngineClient) RecordMovement(ctx context.Context, req *RecordMovementRequest, opts ...grpc.CallOption) (*MovementReply, error) {
	return invoke[MovementReply](ctx, c.cc, "RecordMovement", req, opts...)
}
