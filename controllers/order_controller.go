package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rabby420bd/tj/cache"
	"github.com/rabby420bd/tj/common/logger"
	"github.com/rabby420bd/tj/models"
	"github.com/rabby420bd/tj/services"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const IdempotencyHeader = "Idempotency-Key"

// OrderService is the order surface the HTTP layer needs.
type OrderService interface {
	PlaceOrder(ctx context.Context, items []models.CartItem, meta models.OrderMeta) (string, error)
	TrackOrders(ctx context.Context, query string) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	ListOrders(ctx context.Context, page, limit int) (*services.OrderResponse, error)
	DeleteOrder(ctx context.Context, orderID string) error
}

type OrderController struct {
	orders   OrderService
	idem     cache.IdempotencyStore
	inflight singleflight.Group
}

func NewOrderController(orders OrderService, idem cache.IdempotencyStore) *OrderController {
	return &OrderController{orders: orders, idem: idem}
}

type PlaceOrderRequest struct {
	Items []models.CartItem `json:"items" binding:"required"`
	Meta  models.OrderMeta  `json:"meta"`
}

type UpdateStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

// PlaceOrder handles checkout. A repeated Idempotency-Key returns the order
// the first request created; concurrent requests with the same key share
// one placement.
func (oc *OrderController) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}

	key := strings.TrimSpace(c.GetHeader(IdempotencyHeader))
	if key == "" || oc.idem == nil {
		orderID, err := oc.orders.PlaceOrder(c.Request.Context(), req.Items, req.Meta)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"orderId": orderID})
		return
	}

	if orderID, err := oc.idem.Get(c.Request.Context(), key); err != nil {
		logger.Warn(c, "idempotency lookup failed", zap.Error(err))
	} else if cache.Completed(orderID) {
		c.JSON(http.StatusOK, gin.H{"orderId": orderID, "replayed": true})
		return
	}

	v, err, shared := oc.inflight.Do(key, func() (interface{}, error) {
		return oc.placeOnce(c, key, req)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	p := v.(placement)
	if shared || p.replayed {
		c.JSON(http.StatusOK, gin.H{"orderId": p.orderID, "replayed": true})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"orderId": p.orderID})
}

type placement struct {
	orderID  string
	replayed bool
}

// placeOnce runs inside the singleflight group. The key is read again because
// an earlier flight may have finished after the caller's lookup, then
// reserved so other instances sharing the store cannot place it concurrently.
func (oc *OrderController) placeOnce(c *gin.Context, key string, req PlaceOrderRequest) (placement, error) {
	ctx := c.Request.Context()
	if orderID, err := oc.idem.Get(ctx, key); err == nil && cache.Completed(orderID) {
		return placement{orderID: orderID, replayed: true}, nil
	}

	reserved, err := oc.idem.Reserve(ctx, key)
	if err != nil {
		logger.Warn(c, "idempotency reserve failed", zap.Error(err))
	} else if !reserved {
		if orderID, err := oc.idem.Get(ctx, key); err == nil && cache.Completed(orderID) {
			return placement{orderID: orderID, replayed: true}, nil
		}
		return placement{}, &services.ServiceError{
			Kind:    services.KindTransactionConflict,
			Message: "An order with this Idempotency-Key is already being placed",
		}
	}

	detached := context.WithoutCancel(ctx)
	orderID, err := oc.orders.PlaceOrder(ctx, req.Items, req.Meta)
	if err != nil {
		if relErr := oc.idem.Release(detached, key); relErr != nil {
			logger.Warn(c, "idempotency release failed", zap.Error(relErr))
		}
		return placement{}, err
	}
	if err := oc.idem.Set(detached, key, orderID); err != nil {
		logger.Warn(c, "idempotency store failed", zap.String("order_id", orderID), zap.Error(err))
	}
	return placement{orderID: orderID}, nil
}

// TrackOrders looks orders up by order id or phone number.
func (oc *OrderController) TrackOrders(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		badRequest(c, "Query parameter is required", nil)
		return
	}
	orders, err := oc.orders.TrackOrders(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// ListOrders returns paginated orders for the admin panel.
func (oc *OrderController) ListOrders(c *gin.Context) {
	page, limit := parsePaginationParams(c)
	result, err := oc.orders.ListOrders(c.Request.Context(), page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (oc *OrderController) GetOrder(c *gin.Context) {
	order, err := oc.orders.GetOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (oc *OrderController) UpdateOrderStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}
	orderID := c.Param("orderId")
	if err := oc.orders.UpdateOrderStatus(c.Request.Context(), orderID, req.Status); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order status updated successfully.", "orderId": orderID, "status": req.Status})
}

func (oc *OrderController) DeleteOrder(c *gin.Context) {
	if err := oc.orders.DeleteOrder(c.Request.Context(), c.Param("orderId")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order deleted successfully."})
}

// DeliveryCharges lists the flat charge per delivery zone.
func DeliveryCharges(c *gin.Context) {
	c.JSON(http.StatusOK, models.DeliveryCharges)
}

// parsePaginationParams extracts and validates pagination parameters
func parsePaginationParams(c *gin.Context) (int, int) {
	const (
		defaultPage  = 1
		defaultLimit = 10
	)

	page, limit := defaultPage, defaultLimit
	if p, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil && p > 0 {
		page = min(p, services.MaxPage)
	}
	if l, err := strconv.Atoi(c.DefaultQuery("limit", "10")); err == nil && l > 0 {
		limit = min(l, services.MaxPageLimit)
	}
	return page, limit
}
