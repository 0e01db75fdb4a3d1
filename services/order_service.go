package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rabby420bd/tj/metrics"
	"github.com/rabby420bd/tj/models"
	"github.com/rabby420bd/tj/realtime"
	"github.com/rabby420bd/tj/repository"
	"go.uber.org/zap"
)

// PriceSource decides where the order line snapshot takes name and price from.
type PriceSource string

const (
	// PriceFromCart trusts the name and price the client sent.
	PriceFromCart PriceSource = "cart"
	// PriceFromCatalog uses the product as read inside the transaction.
	PriceFromCatalog PriceSource = "catalog"
)

func ParsePriceSource(s string) (PriceSource, error) {
	switch PriceSource(strings.ToLower(strings.TrimSpace(s))) {
	case "", PriceFromCart:
		return PriceFromCart, nil
	case PriceFromCatalog:
		return PriceFromCatalog, nil
	}
	return "", validationError("PRICE_SOURCE", "must be cart or catalog")
}

const maxOrderIDAttempts = 3

type MetaData struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	TotalOrders int64 `json:"total_orders"`
	TotalPages  int64 `json:"total_pages"`
	HasMore     bool  `json:"has_more"`
}

type OrderResponse struct {
	Orders []models.Order `json:"orders"`
	Meta   MetaData       `json:"meta"`
}

type OrderService struct {
	store       repository.Store
	logger      *zap.Logger
	broker      realtime.Publisher
	notifier    *Notifier
	business    BusinessMetrics
	clock       Clock
	newOrderID  OrderIDFunc
	priceSource PriceSource
}

type OrderServiceOption func(*OrderService)

func WithPublisher(p realtime.Publisher) OrderServiceOption {
	return func(s *OrderService) { s.broker = p }
}

func WithNotifier(n *Notifier) OrderServiceOption {
	return func(s *OrderService) { s.notifier = n }
}

func WithBusinessMetrics(m BusinessMetrics) OrderServiceOption {
	return func(s *OrderService) { s.business = m }
}

func WithClock(c Clock) OrderServiceOption {
	return func(s *OrderService) { s.clock = c }
}

func WithOrderIDFunc(fn OrderIDFunc) OrderServiceOption {
	return func(s *OrderService) { s.newOrderID = fn }
}

func WithPriceSource(p PriceSource) OrderServiceOption {
	return func(s *OrderService) { s.priceSource = p }
}

func NewOrderService(store repository.Store, logger *zap.Logger, opts ...OrderServiceOption) *OrderService {
	s := &OrderService{
		store:       store,
		logger:      logger,
		broker:      realtime.NopPublisher{},
		clock:       NewClock(),
		newOrderID:  DefaultOrderID,
		priceSource: PriceFromCart,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder checks stock, decrements it and creates the order as one
// atomic unit. It returns the order id on success. Nothing is written when
// any line fails.
func (s *OrderService) PlaceOrder(ctx context.Context, items []models.CartItem, meta models.OrderMeta) (string, error) {
	start := time.Now()
	orderID, err := s.placeOrder(ctx, items, meta)
	if err != nil {
		metrics.ObserveOrder(string(KindOf(err)), start)
		s.recordBusiness(ctx, "OrdersFailed", map[string]string{"Reason": string(KindOf(err))})
		return "", err
	}
	metrics.ObserveOrder("success", start)
	s.recordBusiness(ctx, "OrdersCreated", nil)
	return orderID, nil
}

func (s *OrderService) placeOrder(ctx context.Context, items []models.CartItem, meta models.OrderMeta) (string, error) {
	meta = normalizeMeta(meta)
	if err := validateMeta(meta); err != nil {
		return "", err
	}
	lines, err := mergeCartLines(items)
	if err != nil {
		return "", err
	}

	supplied := meta.OrderID != ""
	attempts := maxOrderIDAttempts
	if supplied {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		createdAt := s.clock.Now()
		orderID := meta.OrderID
		if !supplied {
			orderID = s.newOrderID(createdAt, meta.Phone, attempt)
		}

		var placed *models.Order
		err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
			order, err := s.stageOrder(ctx, tx, lines, meta, orderID, createdAt)
			if err != nil {
				return err
			}
			placed = order
			return nil
		})

		switch {
		case err == nil:
			s.afterPlaced(ctx, placed, lines)
			return orderID, nil
		case errors.Is(err, repository.ErrOrderExists):
			lastErr = err
			s.logger.Warn("order id collision",
				zap.String("order_id", orderID),
				zap.Int("attempt", attempt+1),
				zap.Bool("supplied", supplied),
			)
			continue
		case errors.Is(err, repository.ErrConflict):
			return "", conflictError("stock changed while placing the order, please retry", err)
		}

		var se *ServiceError
		if errors.As(err, &se) {
			return "", se
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", conflictError("order placement was interrupted", err)
		}
		s.logger.Error("order transaction failed", zap.String("order_id", orderID), zap.Error(err))
		return "", internalError("failed to place order", err)
	}
	return "", conflictError("could not allocate a unique order id", lastErr)
}

// stageOrder runs inside the transaction: every check happens before any
// write is staged against the order, and all reads come from tx.
func (s *OrderService) stageOrder(ctx context.Context, tx repository.Tx, lines []models.CartItem, meta models.OrderMeta, orderID string, createdAt time.Time) (*models.Order, error) {
	order := &models.Order{
		OrderID:        orderID,
		CustomerName:   meta.CustomerName,
		Phone:          meta.Phone,
		Address:        meta.Address,
		Location:       meta.Location,
		DeliveryCharge: meta.DeliveryCharge,
		TransactionID:  meta.TransactionID,
		CustomerUID:    meta.CustomerUID,
		Items:          make([]models.OrderItem, 0, len(lines)),
		Status:         models.StatusConfirmed,
		Timestamp:      createdAt,
	}

	for _, line := range lines {
		product, err := tx.GetProduct(ctx, line.ProductID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &ServiceError{
				Kind:      KindProductUnavailable,
				Message:   "product is no longer available",
				ProductID: line.ProductID,
				Name:      line.Name,
			}
		}
		if err != nil {
			return nil, err
		}

		available := product.StockFor(line.Size)
		if available < line.Quantity {
			name := line.Name
			if name == "" {
				name = product.Name
			}
			return nil, &ServiceError{
				Kind:      KindInsufficientStock,
				Message:   "not enough stock for the selected size",
				ProductID: line.ProductID,
				Name:      name,
				Size:      line.Size,
				Requested: line.Quantity,
				Available: available,
			}
		}
		tx.SetStock(line.ProductID, line.Size, available-line.Quantity)

		item := models.OrderItem{
			ProductID: line.ProductID,
			Name:      line.Name,
			Size:      line.Size,
			Quantity:  line.Quantity,
			Price:     line.Price,
			Image:     product.PrimaryImage(),
		}
		if s.priceSource == PriceFromCatalog {
			item.Name = product.Name
			item.Price = product.Price
		}
		order.Items = append(order.Items, item)
		order.Subtotal += item.LineTotal()
	}

	order.TotalAmount = order.Subtotal + order.DeliveryCharge
	tx.CreateOrder(order)
	return order, nil
}

func (s *OrderService) afterPlaced(ctx context.Context, order *models.Order, lines []models.CartItem) {
	s.logger.Info("order placed",
		zap.String("order_id", order.OrderID),
		zap.Int("lines", len(order.Items)),
		zap.Float64("total_amount", order.TotalAmount),
	)

	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		if seen[line.ProductID] {
			continue
		}
		seen[line.ProductID] = true
		s.broker.Publish(realtime.Event{Topic: realtime.TopicProducts, Type: EventStockChanged, Key: line.ProductID})
	}
	s.broker.Publish(realtime.Event{Topic: realtime.TopicOrders, Type: EventOrderPlaced, Key: order.OrderID, Data: order})

	s.notify(ctx, OrderEvent{
		Type:        EventOrderPlaced,
		OrderID:     order.OrderID,
		Phone:       order.Phone,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		ItemCount:   len(order.Items),
		OccurredAt:  order.Timestamp,
	})
}

func (s *OrderService) notify(ctx context.Context, evt OrderEvent) {
	if s.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.notifier.Notify(nctx, evt)
}

func (s *OrderService) recordBusiness(ctx context.Context, name string, dims map[string]string) {
	if s.business == nil {
		return
	}
	go func() {
		mctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.business.RecordCount(mctx, name, dims); err != nil {
			s.logger.Debug("business metric failed", zap.String("metric", name), zap.Error(err))
		}
	}()
}

// TrackOrders looks orders up by id when the query starts with TJ (any case)
// and by phone otherwise. Results are newest first; no match is not an error.
func (s *OrderService) TrackOrders(ctx context.Context, query string) ([]models.Order, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return []models.Order{}, nil
	}

	filter := repository.OrderFilter{Phone: q}
	if IsOrderIDQuery(q) {
		filter = repository.OrderFilter{OrderID: strings.ToUpper(q)}
	}
	orders, err := s.store.FindOrders(ctx, filter)
	if err != nil {
		s.logger.Error("track orders failed", zap.Error(err))
		return nil, internalError("failed to track orders", err)
	}
	if orders == nil {
		orders = []models.Order{}
	}
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].Timestamp.After(orders[j].Timestamp) })
	return orders, nil
}

// UpdateOrderStatus overwrites the status. Any known label is accepted
// regardless of the current one.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return validationError("orderId", "order id is required")
	}
	if !status.IsValid() {
		return validationError("status", "unknown order status")
	}

	err := s.store.UpdateOrderStatus(ctx, orderID, status)
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundError("order not found")
	}
	if err != nil {
		s.logger.Error("update order status failed", zap.String("order_id", orderID), zap.Error(err))
		return internalError("failed to update order status", err)
	}

	s.logger.Info("order status updated", zap.String("order_id", orderID), zap.String("status", string(status)))
	s.broker.Publish(realtime.Event{
		Topic: realtime.TopicOrders,
		Type:  EventOrderStatusChanged,
		Key:   orderID,
		Data:  map[string]string{"status": string(status)},
	})
	s.notify(ctx, OrderEvent{Type: EventOrderStatusChanged, OrderID: orderID, Status: status, OccurredAt: s.clock.Now()})
	return nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.store.FindOrderByID(ctx, strings.TrimSpace(orderID))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("order not found")
	}
	if err != nil {
		return nil, internalError("failed to fetch order", err)
	}
	return order, nil
}

// Pagination bounds for admin listings. MaxPage keeps page*limit far from
// int overflow.
const (
	MaxPage      = 10_000
	MaxPageLimit = 100
)

// ListOrders returns every order, newest first, one page at a time.
func (s *OrderService) ListOrders(ctx context.Context, page, limit int) (*OrderResponse, error) {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if limit < 1 {
		limit = 10
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	orders, total, err := s.store.ListOrders(ctx, page, limit)
	if err != nil {
		s.logger.Error("list orders failed", zap.Error(err))
		return nil, internalError("failed to fetch orders", err)
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return &OrderResponse{
		Orders: orders,
		Meta: MetaData{
			Page:        page,
			Limit:       limit,
			TotalOrders: total,
			TotalPages:  calculateTotalPages(total, limit),
			HasMore:     total > int64(page)*int64(limit),
		},
	}, nil
}

// DeleteOrder removes the order record. Stock is not restored.
func (s *OrderService) DeleteOrder(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	err := s.store.DeleteOrder(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundError("order not found")
	}
	if err != nil {
		s.logger.Error("delete order failed", zap.String("order_id", orderID), zap.Error(err))
		return internalError("failed to delete order", err)
	}
	s.logger.Info("order deleted", zap.String("order_id", orderID))
	s.broker.Publish(realtime.Event{Topic: realtime.TopicOrders, Type: EventOrderDeleted, Key: orderID})
	return nil
}

func calculateTotalPages(total int64, limit int) int64 {
	if limit <= 0 {
		return 0
	}
	return (total + int64(limit) - 1) / int64(limit)
}

func normalizeMeta(meta models.OrderMeta) models.OrderMeta {
	meta.OrderID = strings.ToUpper(strings.TrimSpace(meta.OrderID))
	meta.CustomerName = strings.TrimSpace(meta.CustomerName)
	meta.Phone = strings.TrimSpace(meta.Phone)
	meta.Address = strings.TrimSpace(meta.Address)
	meta.Location = strings.TrimSpace(meta.Location)
	meta.TransactionID = strings.TrimSpace(meta.TransactionID)
	return meta
}

func validateMeta(meta models.OrderMeta) error {
	switch {
	case meta.CustomerName == "":
		return validationError("customerName", "customer name is required")
	case meta.Phone == "":
		return validationError("phone", "phone is required")
	case meta.Address == "":
		return validationError("address", "address is required")
	case meta.DeliveryCharge < 0:
		return validationError("deliveryCharge", "delivery charge must not be negative")
	}
	return nil
}

// mergeCartLines validates cart lines, sums duplicates of the same product
// and size, and sorts the result by product id then size so every
// transaction touches products in the same order.
func mergeCartLines(items []models.CartItem) ([]models.CartItem, error) {
	if len(items) == 0 {
		return nil, validationError("items", "cart is empty")
	}

	type lineKey struct{ productID, size string }
	index := make(map[lineKey]int, len(items))
	merged := make([]models.CartItem, 0, len(items))
	for _, it := range items {
		it.ProductID = strings.TrimSpace(it.ProductID)
		it.Size = strings.TrimSpace(it.Size)
		switch {
		case it.ProductID == "":
			return nil, validationError("productId", "every item needs a product id")
		case it.Size == "":
			return nil, validationError("size", "every item needs a size")
		case it.Quantity <= 0:
			return nil, validationError("quantity", "quantity must be greater than zero")
		case it.Price < 0:
			return nil, validationError("price", "price must not be negative")
		}

		k := lineKey{it.ProductID, it.Size}
		if i, ok := index[k]; ok {
			merged[i].Quantity += it.Quantity
			continue
		}
		index[k] = len(merged)
		merged = append(merged, it)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].ProductID != merged[j].ProductID {
			return merged[i].ProductID < merged[j].ProductID
		}
		return merged[i].Size < merged[j].Size
	})
	return merged, nil
}
