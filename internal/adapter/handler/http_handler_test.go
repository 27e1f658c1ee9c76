package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pos-engine/internal/core/domain"
)

type httpClient struct {
	t      *testing.T
	router http.Handler
}

func newHTTPClient(t *testing.T, env *testEnv) *httpClient {
	h := NewHTTPHandler(env.svc, env.auth, nil, nil, nil)
	return &httpClient{t: t, router: h.Router([]string{"*"})}
}

func (c *httpClient) do(method, path, token string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var newOrderBody = map[string]any{
	"customer_name": "Budi",
	"items": []map[string]any{
		{"menu_item_id": 1, "quantity": 2},
		{"menu_item_id": 2, "quantity": 1},
	},
}

func TestHTTP_OrderLifecycle(t *testing.T) {
	env := newTestEnv(t)
	c := newHTTPClient(t, env)
	waiterToken, cookToken := env.token(t, waiter), env.token(t, cook)

	rec := c.do(http.MethodPost, "/api/orders", waiterToken, newOrderBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[orderResponse](t, rec)
	assert.Equal(t, "60000.00", created.TotalAmount)
	assert.Equal(t, domain.OrderStatusPending, created.Status)
	orderPath := fmt.Sprintf("/api/orders/%d", created.ID)

	rec = c.do(http.MethodPost, orderPath+"/pay", waiterToken, map[string]any{"payment_amount": 50000, "payment_method": "cash"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "insufficient_payment", decode[errorResponse](t, rec).Code)

	rec = c.do(http.MethodPatch, orderPath+"/status", cookToken, map[string]any{"status": "completed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = c.do(http.MethodPost, orderPath+"/pay", waiterToken, map[string]any{"payment_amount": "60000", "payment_method": "cash"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decode[orderResponse](t, rec)
	assert.Equal(t, domain.OrderStatusPaid, paid.Status)
	require.NotNil(t, paid.ChangeAmount)
	assert.Equal(t, "0.00", *paid.ChangeAmount)

	rec = c.do(http.MethodPost, orderPath+"/pay", waiterToken, map[string]any{"payment_amount": 60000, "payment_method": "cash"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_ready_for_payment", decode[errorResponse](t, rec).Code)

	rec = c.do(http.MethodGet, orderPath+"/receipt.png", waiterToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = c.do(http.MethodGet, orderPath, cookToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	full := decode[orderResponse](t, rec)
	assert.Len(t, full.Items, 2)
	assert.Len(t, full.StatusLogs, 3)
}

func TestHTTP_ErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	c := newHTTPClient(t, env)
	waiterToken, cookToken := env.token(t, waiter), env.token(t, cook)

	t.Run("unauthenticated", func(t *testing.T) {
		rec := c.do(http.MethodGet, "/api/orders", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("validation fields", func(t *testing.T) {
		rec := c.do(http.MethodPost, "/api/orders", waiterToken, map[string]any{
			"items": []map[string]any{{"menu_item_id": 1, "quantity": 1}},
		})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		body := decode[errorResponse](t, rec)
		assert.Equal(t, "is required", body.Errors["customer_name"])
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString("{"))
		req.Header.Set("Authorization", "Bearer "+waiterToken)
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("forbidden role", func(t *testing.T) {
		rec := c.do(http.MethodPost, "/api/orders", cookToken, newOrderBody)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("not found", func(t *testing.T) {
		rec := c.do(http.MethodGet, "/api/orders/999", waiterToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "order_not_found", decode[errorResponse](t, rec).Code)
	})

	t.Run("invalid transition", func(t *testing.T) {
		created := decode[orderResponse](t, c.do(http.MethodPost, "/api/orders", waiterToken, newOrderBody))
		path := fmt.Sprintf("/api/orders/%d/status", created.ID)
		require.Equal(t, http.StatusOK, c.do(http.MethodPatch, path, cookToken, map[string]any{"status": "completed"}).Code)

		rec := c.do(http.MethodPatch, path, cookToken, map[string]any{"status": "cooking"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "invalid_transition", decode[errorResponse](t, rec).Code)
	})

	t.Run("bad status filter", func(t *testing.T) {
		rec := c.do(http.MethodGet, "/api/orders?status=served", waiterToken, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestHTTP_CancelOwnership(t *testing.T) {
	env := newTestEnv(t)
	c := newHTTPClient(t, env)
	otherWaiter := domain.Actor{ID: 11, RestaurantID: 1, Roles: []domain.Role{domain.RoleWaiter}}

	created := decode[orderResponse](t, c.do(http.MethodPost, "/api/orders", env.token(t, waiter), newOrderBody))
	path := fmt.Sprintf("/api/orders/%d/cancel", created.ID)
	reason := map[string]any{"cancellation_reason": "customer left"}

	rec := c.do(http.MethodPost, path, env.token(t, otherWaiter), reason)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = c.do(http.MethodPost, path, env.token(t, manager), reason)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decode[orderResponse](t, rec)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, "customer left", cancelled.CancellationReason)
}

func TestHTTP_QueuesAndListing(t *testing.T) {
	env := newTestEnv(t)
	c := newHTTPClient(t, env)
	waiterToken, cookToken := env.token(t, waiter), env.token(t, cook)

	first := decode[orderResponse](t, c.do(http.MethodPost, "/api/orders", waiterToken, newOrderBody))
	decode[orderResponse](t, c.do(http.MethodPost, "/api/orders", waiterToken, newOrderBody))
	c.do(http.MethodPatch, fmt.Sprintf("/api/orders/%d/status", first.ID), cookToken, map[string]any{"status": "completed"})

	queue := decode[[]orderResponse](t, c.do(http.MethodGet, "/api/kitchen/orders", cookToken, nil))
	assert.Len(t, queue, 1)

	ready := decode[[]orderResponse](t, c.do(http.MethodGet, "/api/payments/ready", waiterToken, nil))
	require.Len(t, ready, 1)
	assert.Equal(t, first.ID, ready[0].ID)

	rec := c.do(http.MethodGet, "/api/orders?status=pending,completed&per_page=1", waiterToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Data    []orderResponse `json:"data"`
		Total   int             `json:"total"`
		PerPage int             `json:"per_page"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 1, page.PerPage)
	assert.Len(t, page.Data, 1)
}

func TestHTTP_Inventory(t *testing.T) {
	env := newTestEnv(t)
	c := newHTTPClient(t, env)
	token := env.token(t, manager)

	rec := c.do(http.MethodPost, "/api/inventory", token, map[string]any{
		"name": "Rice", "unit": "kg", "min_stock": 5, "current_stock": 10, "unit_cost": 12000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	item := decode[inventoryItemResponse](t, rec)
	movements := fmt.Sprintf("/api/inventory/%d/movements", item.ID)

	rec = c.do(http.MethodPost, movements, token, map[string]any{"type": "out", "quantity": 12})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "insufficient_stock", decode[errorResponse](t, rec).Code)

	rec = c.do(http.MethodPost, movements, token, map[string]any{"type": "out", "quantity": 4})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	moved := decode[movementResponse](t, rec)
	assert.Equal(t, "6.00", moved.Item.CurrentStock)
	assert.False(t, moved.Item.IsLowStock)

	c.do(http.MethodPost, movements, token, map[string]any{"type": "out", "quantity": 2})

	low := decode[[]inventoryItemResponse](t, c.do(http.MethodGet, "/api/inventory/low-stock", token, nil))
	require.Len(t, low, 1)
	assert.Equal(t, "4.00", low[0].CurrentStock)

	rec = c.do(http.MethodGet, movements, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ledger struct {
		Data  []ledgerEntryResponse `json:"data"`
		Total int                   `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ledger))
	assert.Equal(t, 3, ledger.Total)
	assert.Equal(t, "2.00", ledger.Data[0].Quantity)

	rec = c.do(http.MethodGet, "/api/inventory", env.token(t, waiter), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
