package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-engine/internal/core/domain"
)

type orderItemResponse struct {
	ID          int64  `json:"id"`
	MenuItemID  int64  `json:"menu_item_id"`
	ItemName    string `json:"item_name"`
	Quantity    int    `json:"quantity"`
	PriceAtTime string `json:"price_at_time"`
	Subtotal    string `json:"subtotal"`
	Notes       string `json:"notes,omitempty"`
}

type statusLogResponse struct {
	OldStatus *domain.OrderStatus `json:"old_status"`
	NewStatus domain.OrderStatus  `json:"new_status"`
	ChangedBy int64               `json:"changed_by"`
	ChangedAt time.Time           `json:"changed_at"`
	Notes     string              `json:"notes,omitempty"`
}

type orderResponse struct {
	ID                 int64               `json:"id"`
	RestaurantID       int64               `json:"restaurant_id"`
	UserID             int64               `json:"user_id"`
	OrderNumber        string              `json:"order_number"`
	CustomerName       string              `json:"customer_name"`
	CustomerPhone      string              `json:"customer_phone,omitempty"`
	Status             domain.OrderStatus  `json:"status"`
	TotalAmount        string              `json:"total_amount"`
	PaymentAmount      *string             `json:"payment_amount"`
	ChangeAmount       *string             `json:"change_amount"`
	PaymentMethod      string              `json:"payment_method,omitempty"`
	Notes              string              `json:"notes,omitempty"`
	CompletedAt        *time.Time          `json:"completed_at"`
	PaidAt             *time.Time          `json:"paid_at"`
	CancelledAt        *time.Time          `json:"cancelled_at"`
	CancellationReason string              `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	Items              []orderItemResponse `json:"items,omitempty"`
	StatusLogs         []statusLogResponse `json:"status_logs,omitempty"`
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func optionalMoney(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := money(*d)
	return &s
}

func toOrderResponse(o *domain.Order) orderResponse {
	resp := orderResponse{
		ID:                 o.ID,
		RestaurantID:       o.RestaurantID,
		UserID:             o.WaiterID,
		OrderNumber:        o.OrderNumber,
		CustomerName:       o.CustomerName,
		CustomerPhone:      o.CustomerPhone,
		Status:             o.Status,
		TotalAmount:        money(o.TotalAmount),
		PaymentAmount:      optionalMoney(o.PaymentAmount),
		ChangeAmount:       optionalMoney(o.ChangeAmount),
		PaymentMethod:      string(o.PaymentMethod),
		Notes:              o.Notes,
		CompletedAt:        o.CompletedAt,
		PaidAt:             o.PaidAt,
		CancelledAt:        o.CancelledAt,
		CancellationReason: o.CancellationReason,
		CreatedAt:          o.CreatedAt,
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:          item.ID,
			MenuItemID:  item.MenuItemID,
			ItemName:    item.Name,
			Quantity:    item.Quantity,
			PriceAtTime: money(item.PriceAtTime),
			Subtotal:    money(item.Subtotal),
			Notes:       item.Notes,
		})
	}
	for _, entry := range o.StatusLog {
		resp.StatusLogs = append(resp.StatusLogs, statusLogResponse{
			OldStatus: entry.OldStatus,
			NewStatus: entry.NewStatus,
			ChangedBy: entry.ChangedBy,
			ChangedAt: entry.ChangedAt,
			Notes:     entry.Note,
		})
	}
	return resp
}

func toOrderList(orders []domain.Order) []orderResponse {
	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = toOrderResponse(&orders[i])
	}
	return out
}

type inventoryItemResponse struct {
	ID            int64     `json:"id"`
	RestaurantID  int64     `json:"restaurant_id"`
	Name          string    `json:"name"`
	Unit          string    `json:"unit"`
	CurrentStock  string    `json:"current_stock"`
	MinStock      string    `json:"min_stock"`
	UnitCost      string    `json:"unit_cost"`
	SupplierName  string    `json:"supplier_name,omitempty"`
	SupplierPhone string    `json:"supplier_phone,omitempty"`
	IsActive      bool      `json:"is_active"`
	IsLowStock    bool      `json:"is_low_stock"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toItemResponse(item *domain.InventoryItem) inventoryItemResponse {
	return inventoryItemResponse{
		ID:            item.ID,
		RestaurantID:  item.RestaurantID,
		Name:          item.Name,
		Unit:          item.Unit,
		CurrentStock:  money(item.CurrentStock),
		MinStock:      money(item.MinStock),
		UnitCost:      money(item.UnitCost),
		SupplierName:  item.SupplierName,
		SupplierPhone: item.SupplierPhone,
		IsActive:      item.IsActive,
		IsLowStock:    item.IsLowStock(),
		UpdatedAt:     item.UpdatedAt,
	}
}

func toItemList(items []domain.InventoryItem) []inventoryItemResponse {
	out := make([]inventoryItemResponse, len(items))
	for i := range items {
		out[i] = toItemResponse(&items[i])
	}
	return out
}

type ledgerEntryResponse struct {
	ID            int64               `json:"id"`
	Type          domain.MovementType `json:"type"`
	Quantity      string              `json:"quantity"`
	UnitCost      string              `json:"unit_cost"`
	TotalCost     string              `json:"total_cost"`
	ReferenceType string              `json:"reference_type,omitempty"`
	ReferenceID   *int64              `json:"reference_id,omitempty"`
	Notes         string              `json:"notes,omitempty"`
	CreatedBy     int64               `json:"created_by"`
	CreatedAt     time.Time           `json:"created_at"`
}

func toLedgerResponse(e *domain.LedgerEntry) ledgerEntryResponse {
	return ledgerEntryResponse{
		ID:            e.ID,
		Type:          e.Type,
		Quantity:      money(e.Quantity),
		UnitCost:      money(e.UnitCost),
		TotalCost:     money(e.TotalCost),
		ReferenceType: e.ReferenceType,
		ReferenceID:   e.ReferenceID,
		Notes:         e.Notes,
		CreatedBy:     e.CreatedBy,
		CreatedAt:     e.CreatedAt,
	}
}

type movementResponse struct {
	Entry ledgerEntryResponse   `json:"transaction"`
	Item  inventoryItemResponse `json:"item"`
}

type pageResponse struct {
	Data        any `json:"data"`
	Total       int `json:"total"`
	CurrentPage int `json:"current_page"`
	PerPage     int `json:"per_page"`
}

type errorResponse struct {
	Success bool              `json:"success"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}
