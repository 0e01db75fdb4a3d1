package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rabby420bd/tj/cache"
	apperrors "github.com/rabby420bd/tj/common/errors"
	"github.com/rabby420bd/tj/models"
	"github.com/rabby420bd/tj/repository"
	"github.com/rabby420bd/tj/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockOrderService returns canned results and records its inputs.
type mockOrderService struct {
	mu         sync.Mutex
	placeCalls int
	placeDelay time.Duration
	orderID    string
	err        error
	orders     []models.Order
	query      string
	page       int
	limit      int
}

func (m *mockOrderService) PlaceOrder(ctx context.Context, items []models.CartItem, meta models.OrderMeta) (string, error) {
	m.mu.Lock()
	m.placeCalls++
	m.mu.Unlock()
	if m.placeDelay > 0 {
		time.Sleep(m.placeDelay)
	}
	return m.orderID, m.err
}

func (m *mockOrderService) TrackOrders(ctx context.Context, query string) ([]models.Order, error) {
	m.query = query
	return m.orders, m.err
}

func (m *mockOrderService) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error {
	return m.err
}

func (m *mockOrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Order{OrderID: orderID}, nil
}

func (m *mockOrderService) ListOrders(ctx context.Context, page, limit int) (*services.OrderResponse, error) {
	m.page, m.limit = page, limit
	return &services.OrderResponse{Orders: m.orders}, m.err
}

func (m *mockOrderService) DeleteOrder(ctx context.Context, orderID string) error {
	return m.err
}

func orderRouter(oc *OrderController) *gin.Engine {
	r := gin.New()
	r.Use(apperrors.ErrorMiddleware())
	r.POST("/orders", oc.PlaceOrder)
	r.GET("/orders/track", oc.TrackOrders)
	r.GET("/admin/orders", oc.ListOrders)
	r.GET("/admin/orders/:orderId", oc.GetOrder)
	r.PUT("/admin/orders/:orderId/status", oc.UpdateOrderStatus)
	r.DELETE("/admin/orders/:orderId", oc.DeleteOrder)
	r.GET("/delivery-charges", DeliveryCharges)
	return r
}

func placeBody(t *testing.T, qty int) []byte {
	t.Helper()
	body, err := json.Marshal(PlaceOrderRequest{
		Items: []models.CartItem{{ProductID: "p1", Size: "M", Quantity: qty}},
		Meta: models.OrderMeta{
			CustomerName:   "Karim",
			Phone:          "01712345678",
			Address:        "Mirpur 10",
			Location:       "Inside Dhaka",
			DeliveryCharge: 110,
			TransactionID:  "TX1",
		},
	})
	require.NoError(t, err)
	return body
}

func doJSON(r http.Handler, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestPlaceOrderAgainstMemoryStore(t *testing.T) {
	store := repository.NewMemoryStore()
	require.NoError(t, store.SaveProduct(context.Background(), &models.Product{
		ID: "p1", Name: "Check Shirt", Price: 850, Stock: map[string]int{"M": 1}, Category: models.CategoryShirt,
	}))
	svc := services.NewOrderService(store, zap.NewNop())
	r := orderRouter(NewOrderController(svc, cache.NewMemoryIdempotencyStore(time.Hour)))

	key := map[string]string{IdempotencyHeader: "checkout-1"}

	w := doJSON(r, http.MethodPost, "/orders", placeBody(t, 1), key)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode(t, w)
	orderID, _ := first["orderId"].(string)
	assert.Regexp(t, `^TJ\d+678$`, orderID)
	assert.Nil(t, first["replayed"])

	t.Run("replay returns the same order without placing again", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/orders", placeBody(t, 1), key)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decode(t, w)
		assert.Equal(t, orderID, body["orderId"])
		assert.Equal(t, true, body["replayed"])
	})

	t.Run("new key hits the stock check", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/orders", placeBody(t, 1), map[string]string{IdempotencyHeader: "checkout-2"})
		require.Equal(t, http.StatusConflict, w.Code)
		body := decode(t, w)
		assert.Equal(t, "InsufficientStock", body["kind"])
		details, ok := body["details"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "p1", details["productId"])
		assert.Equal(t, "M", details["size"])
		assert.EqualValues(t, 1, details["requested"])
		assert.EqualValues(t, 0, details["available"])
	})
}

func TestPlaceOrderSharesConcurrentKey(t *testing.T) {
	mock := &mockOrderService{orderID: "TJ000001678", placeDelay: 50 * time.Millisecond}
	r := orderRouter(NewOrderController(mock, cache.NewMemoryIdempotencyStore(time.Hour)))

	body := placeBody(t, 1)
	var created, replayed int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := doJSON(r, http.MethodPost, "/orders", body, map[string]string{IdempotencyHeader: "same"})
			switch w.Code {
			case http.StatusCreated:
				atomic.AddInt32(&created, 1)
			case http.StatusOK:
				atomic.AddInt32(&replayed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created)
	assert.Equal(t, int32(4), replayed)
	assert.Equal(t, 1, mock.placeCalls)
}

func TestPlaceOrderFailureIsNotRemembered(t *testing.T) {
	mock := &mockOrderService{err: &services.ServiceError{Kind: services.KindTransactionConflict, Message: "busy"}}
	idem := cache.NewMemoryIdempotencyStore(time.Hour)
	r := orderRouter(NewOrderController(mock, idem))
	key := map[string]string{IdempotencyHeader: "retry-me"}

	w := doJSON(r, http.MethodPost, "/orders", placeBody(t, 1), key)
	assert.Equal(t, http.StatusConflict, w.Code)

	held, err := idem.Get(context.Background(), "retry-me")
	require.NoError(t, err)
	assert.Empty(t, held, "a failed placement releases its reservation")

	mock.err = nil
	mock.orderID = "TJ000009678"
	w = doJSON(r, http.MethodPost, "/orders", placeBody(t, 1), key)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 2, mock.placeCalls)
}

// gatedIdempotencyStore pauses the first Get after reading, so its caller
// holds a stale "unknown key" answer while another request completes.
type gatedIdempotencyStore struct {
	cache.IdempotencyStore
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (g *gatedIdempotencyStore) Get(ctx context.Context, key string) (string, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()

	v, err := g.IdempotencyStore.Get(ctx, key)
	if first {
		close(g.entered)
		<-g.release
	}
	return v, err
}

func TestPlaceOrderRechecksKeyAfterStaleLookup(t *testing.T) {
	mock := &mockOrderService{orderID: "TJ000001678"}
	idem := &gatedIdempotencyStore{
		IdempotencyStore: cache.NewMemoryIdempotencyStore(time.Hour),
		entered:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	r := orderRouter(NewOrderController(mock, idem))
	body := placeBody(t, 1)
	key := map[string]string{IdempotencyHeader: "late"}

	late := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		late <- doJSON(r, http.MethodPost, "/orders", body, key)
	}()
	<-idem.entered

	w := doJSON(r, http.MethodPost, "/orders", body, key)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	close(idem.release)
	w = <-late
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode(t, w)
	assert.Equal(t, "TJ000001678", got["orderId"])
	assert.Equal(t, true, got["replayed"])
	assert.Equal(t, 1, mock.placeCalls)
}

func TestPlaceOrderKeyHeldByAnotherInstance(t *testing.T) {
	shared := cache.NewMemoryIdempotencyStore(time.Hour)
	mock := &mockOrderService{orderID: "TJ000002678"}
	r := orderRouter(NewOrderController(mock, shared))
	key := map[string]string{IdempotencyHeader: "elsewhere"}

	ok, err := shared.Reserve(context.Background(), "elsewhere")
	require.NoError(t, err)
	require.True(t, ok)

	w := doJSON(r, http.MethodPost, "/orders", placeBody(t, 1), key)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, "TransactionConflict", decode(t, w)["kind"])
	assert.Zero(t, mock.placeCalls)

	require.NoError(t, shared.Set(context.Background(), "elsewhere", "TJ000003678"))
	w = doJSON(r, http.MethodPost, "/orders", placeBody(t, 1), key)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "TJ000003678", decode(t, w)["orderId"])
	assert.Zero(t, mock.placeCalls)
}

func TestPlaceOrderErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
		wantMsg  string
	}{
		{
			name:     "product unavailable",
			err:      &services.ServiceError{Kind: services.KindProductUnavailable, Message: "Product is no longer available", ProductID: "p9"},
			wantCode: http.StatusConflict,
			wantKind: "ProductUnavailable",
			wantMsg:  "Product is no longer available",
		},
		{
			name:     "insufficient stock",
			err:      &services.ServiceError{Kind: services.KindInsufficientStock, Message: "Not enough stock"},
			wantCode: http.StatusConflict,
			wantKind: "InsufficientStock",
			wantMsg:  "Not enough stock",
		},
		{
			name:     "transaction conflict",
			err:      &services.ServiceError{Kind: services.KindTransactionConflict, Message: "Please retry"},
			wantCode: http.StatusConflict,
			wantKind: "TransactionConflict",
			wantMsg:  "Please retry",
		},
		{
			name:     "validation",
			err:      &services.ServiceError{Kind: services.KindValidation, Message: "phone is required", Field: "phone"},
			wantCode: http.StatusBadRequest,
			wantKind: "ValidationError",
			wantMsg:  "phone is required",
		},
		{
			name:     "internal hides the cause",
			err:      &services.ServiceError{Kind: services.KindInternal, Message: "dynamodb: throttled"},
			wantCode: http.StatusInternalServerError,
			wantKind: "Internal",
			wantMsg:  apperrors.ErrInternalServer.Message,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := orderRouter(NewOrderController(&mockOrderService{err: tt.err}, nil))
			w := doJSON(r, http.MethodPost, "/orders", placeBody(t, 1), nil)

			assert.Equal(t, tt.wantCode, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.wantKind, body["kind"])
			assert.Equal(t, tt.wantMsg, body["message"])
			assert.EqualValues(t, tt.wantCode, body["code"])
		})
	}
}

func TestPlaceOrderRejectsMalformedBody(t *testing.T) {
	mock := &mockOrderService{}
	r := orderRouter(NewOrderController(mock, nil))

	w := doJSON(r, http.MethodPost, "/orders", []byte(`{"meta":{}}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ValidationError", decode(t, w)["kind"])
	assert.Zero(t, mock.placeCalls)
}

func TestTrackOrders(t *testing.T) {
	t.Run("missing query", func(t *testing.T) {
		r := orderRouter(NewOrderController(&mockOrderService{}, nil))
		w := doJSON(r, http.MethodGet, "/orders/track?query=%20", nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("no match is an empty array", func(t *testing.T) {
		mock := &mockOrderService{orders: []models.Order{}}
		r := orderRouter(NewOrderController(mock, nil))
		w := doJSON(r, http.MethodGet, "/orders/track?query=tj000001678", nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, w.Body.String())
		assert.Equal(t, "tj000001678", mock.query)
	})
}

func TestListOrdersPagination(t *testing.T) {
	tests := []struct {
		query     string
		wantPage  int
		wantLimit int
	}{
		{"", 1, 10},
		{"?page=3&limit=25", 3, 25},
		{"?page=-1&limit=abc", 1, 10},
		{"?limit=1000", 1, 100},
		{"?page=9223372036854775807&limit=100", services.MaxPage, 100},
		{"?page=99999999999999999999", 1, 10},
	}
	for _, tt := range tests {
		mock := &mockOrderService{}
		r := orderRouter(NewOrderController(mock, nil))
		w := doJSON(r, http.MethodGet, "/admin/orders"+tt.query, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, tt.wantPage, mock.page, tt.query)
		assert.Equal(t, tt.wantLimit, mock.limit, tt.query)
	}
}

func TestOrderAdminHandlers(t *testing.T) {
	mock := &mockOrderService{}
	r := orderRouter(NewOrderController(mock, nil))

	w := doJSON(r, http.MethodGet, "/admin/orders/TJ1", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `"TJ1"`, mustField(t, w, "order", "orderId"))

	w = doJSON(r, http.MethodPut, "/admin/orders/TJ1/status", []byte(`{"status":"Shipped"}`), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Shipped", decode(t, w)["status"])

	w = doJSON(r, http.MethodPut, "/admin/orders/TJ1/status", []byte(`{}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodDelete, "/admin/orders/TJ1", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	mock.err = &services.ServiceError{Kind: services.KindNotFound, Message: "Order not found"}
	w = doJSON(r, http.MethodDelete, "/admin/orders/TJ1", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(r, http.MethodGet, "/delivery-charges", nil, nil)
	assert.JSONEq(t, `{"Inside Dhaka":110,"Outside Dhaka":130}`, w.Body.String())
}

func mustField(t *testing.T, w *httptest.ResponseRecorder, outer, inner string) string {
	t.Helper()
	var body map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return string(body[outer][inner])
}
