package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/rl1809/pos-engine/internal/adapter/notify"
	"github.com/rl1809/pos-engine/internal/core/domain"
	"github.com/rl1809/pos-engine/internal/core/service"
)

type Services struct {
	Orders    *service.OrderService
	Payments  *service.PaymentService
	Inventory *service.InventoryService
}

type HTTPHandler struct {
	Services
	auth     *Authenticator
	hub      *notify.Hub
	location *time.Location
	logger   *zap.Logger
}

type statusRequest struct {
	Status domain.OrderStatus `json:"status"`
	Notes  string             `json:"notes"`
}

type cancelRequest struct {
	Reason string `json:"cancellation_reason"`
}

// NewHTTPHandler wires the REST API. hub may be nil, in which case the
// websocket endpoint is not served. loc is the zone date filters are read in.
func NewHTTPHandler(svc Services, auth *Authenticator, hub *notify.Hub, loc *time.Location, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &HTTPHandler{Services: svc, auth: auth, hub: hub, location: loc, logger: logger.Named("http")}
}

func (h *HTTPHandler) Router(allowedOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	if h.hub != nil {
		r.Handle("/ws", h.authenticate(http.HandlerFunc(h.Websocket))).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.authenticate)

	api.HandleFunc("/orders", h.CreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders", h.ListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id:[0-9]+}", h.GetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id:[0-9]+}/status", h.UpdateStatus).Methods(http.MethodPatch)
	api.HandleFunc("/orders/{id:[0-9]+}/cancel", h.CancelOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id:[0-9]+}/pay", h.PayOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id:[0-9]+}/receipt.png", h.Receipt).Methods(http.MethodGet)
	api.HandleFunc("/kitchen/orders", h.KitchenQueue).Methods(http.MethodGet)
	api.HandleFunc("/payments/ready", h.ReadyForPayment).Methods(http.MethodGet)

	api.HandleFunc("/inventory", h.CreateItem).Methods(http.MethodPost)
	api.HandleFunc("/inventory", h.ListItems).Methods(http.MethodGet)
	api.HandleFunc("/inventory/low-stock", h.LowStock).Methods(http.MethodGet)
	api.HandleFunc("/inventory/{id:[0-9]+}", h.GetItem).Methods(http.MethodGet)
	api.HandleFunc("/inventory/{id:[0-9]+}/movements", h.RecordMovement).Methods(http.MethodPost)
	api.HandleFunc("/inventory/{id:[0-9]+}/movements", h.ListLedger).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(r)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var cmd service.CreateOrderCommand
	if !decodeBody(w, r, &cmd) {
		return
	}
	actor, _ := actorFrom(r.Context())
	order, err := h.Orders.Create(r.Context(), actor, cmd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	order, err := h.Orders.GetOrder(r.Context(), actor, pathID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	filter, err := h.orderFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	actor, _ := actorFrom(r.Context())
	orders, total, err := h.Orders.ListOrders(r.Context(), actor, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(toOrderList(orders), total, filter.Page))
}

func (h *HTTPHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	actor, _ := actorFrom(r.Context())
	order, err := h.Orders.TransitionStatus(r.Context(), actor, pathID(r), req.Status, req.Notes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	actor, _ := actorFrom(r.Context())
	order, err := h.Orders.Cancel(r.Context(), actor, pathID(r), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) PayOrder(w http.ResponseWriter, r *http.Request) {
	var cmd service.PayCommand
	if !decodeBody(w, r, &cmd) {
		return
	}
	actor, _ := actorFrom(r.Context())
	order, err := h.Payments.Pay(r.Context(), actor, pathID(r), cmd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) Receipt(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	order, err := h.Payments.Receipt(r.Context(), actor, pathID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	png, err := receiptQR(order)
	if err != nil {
		h.writeError(w, r, domain.Internal("encode receipt", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *HTTPHandler) KitchenQueue(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	orders, err := h.Orders.KitchenQueue(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderList(orders))
}

func (h *HTTPHandler) ReadyForPayment(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	orders, err := h.Orders.ReadyForPayment(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderList(orders))
}

func (h *HTTPHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var cmd service.CreateItemCommand
	if !decodeBody(w, r, &cmd) {
		return
	}
	actor, _ := actorFrom(r.Context())
	item, err := h.Inventory.CreateItem(r.Context(), actor, cmd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemResponse(item))
}

func (h *HTTPHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	item, err := h.Inventory.GetItem(r.Context(), actor, pathID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *HTTPHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	restaurantID, err := queryInt64(q.Get("restaurant_id"), "restaurant_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter := domain.InventoryFilter{
		RestaurantID: restaurantID,
		LowStockOnly: q.Get("low_stock") == "true" || q.Get("low_stock") == "1",
		Page:         queryPage(q.Get("page"), q.Get("per_page")),
	}
	actor, _ := actorFrom(r.Context())
	items, total, err := h.Inventory.ListItems(r.Context(), actor, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(toItemList(items), total, filter.Page))
}

func (h *HTTPHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	restaurantID, err := queryInt64(r.URL.Query().Get("restaurant_id"), "restaurant_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	actor, _ := actorFrom(r.Context())
	items, err := h.Inventory.LowStockItems(r.Context(), actor, restaurantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemList(items))
}

func (h *HTTPHandler) RecordMovement(w http.ResponseWriter, r *http.Request) {
	var cmd service.MovementCommand
	if !decodeBody(w, r, &cmd) {
		return
	}
	actor, _ := actorFrom(r.Context())
	entry, item, err := h.Inventory.RecordMovement(r.Context(), actor, pathID(r), cmd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, movementResponse{Entry: toLedgerResponse(entry), Item: toItemResponse(item)})
}

func (h *HTTPHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryPage(q.Get("page"), q.Get("per_page"))
	actor, _ := actorFrom(r.Context())
	entries, total, err := h.Inventory.ListLedger(r.Context(), actor, pathID(r), page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]ledgerEntryResponse, len(entries))
	for i := range entries {
		out[i] = toLedgerResponse(&entries[i])
	}
	writeJSON(w, http.StatusOK, newPage(out, total, page))
}

func (h *HTTPHandler) Websocket(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	if err := h.hub.Serve(w, r, actor.ID); err != nil {
		h.logger.Warn("websocket session failed", zap.Int64("user_id", actor.ID), zap.Error(err))
	}
}

// orderFilter reads status (comma separated), date_from and date_to
// (YYYY-MM-DD, both inclusive), restaurant_id, page and per_page.
func (h *HTTPHandler) orderFilter(r *http.Request) (domain.OrderFilter, error) {
	q := r.URL.Query()
	filter := domain.OrderFilter{Page: queryPage(q.Get("page"), q.Get("per_page"))}
	fields := map[string]string{}

	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := domain.OrderStatus(strings.TrimSpace(part))
			if !status.Valid() {
				fields["status"] = "must be one of [pending cooking completed paid cancelled]"
				break
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := q.Get("date_from"); raw != "" {
		from, err := time.ParseInLocation(time.DateOnly, raw, h.location)
		if err != nil {
			fields["date_from"] = "must be a date (YYYY-MM-DD)"
		} else {
			filter.DateFrom = &from
		}
	}
	if raw := q.Get("date_to"); raw != "" {
		to, err := time.ParseInLocation(time.DateOnly, raw, h.location)
		if err != nil {
			fields["date_to"] = "must be a date (YYYY-MM-DD)"
		} else {
			end := to.AddDate(0, 0, 1)
			filter.DateTo = &end
		}
	}
	if len(fields) > 0 {
		return filter, domain.Validation(fields)
	}

	restaurantID, err := queryInt64(q.Get("restaurant_id"), "restaurant_id")
	if err != nil {
		return filter, err
	}
	filter.RestaurantID = restaurantID
	return filter, nil
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func queryInt64(raw, field string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return nil, domain.Validation(map[string]string{field: "must be a positive integer"})
	}
	return &v, nil
}

func queryPage(page, perPage string) domain.Page {
	p := domain.Page{}
	p.Number, _ = strconv.Atoi(page)
	p.PerPage, _ = strconv.Atoi(perPage)
	return p.Normalize()
}

func newPage(data any, total int, page domain.Page) pageResponse {
	page = page.Normalize()
	return pageResponse{Data: data, Total: total, CurrentPage: page.Number, PerPage: page.PerPage}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Success: false, Code: "bad_request", Message: "invalid request body"})
		return false
	}
	return true
}

func httpStatus(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	resp := errorResponse{Success: false, Code: domain.ErrInternal.Code, Message: domain.ErrInternal.Message}

	var e *domain.Error
	if errors.As(err, &e) && kind != domain.KindInternal {
		resp.Code = e.Code
		resp.Message = e.Message
		resp.Errors = e.Fields
	}
	if kind == domain.KindInternal {
		h.logger.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, httpStatus(kind), resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
