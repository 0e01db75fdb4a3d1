package repository

import (
	"context"
	"errors"

	"github.com/rabby420bd/tj/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict means a concurrent write touched a record read by the transaction.
	ErrConflict = errors.New("transaction conflict")
	// ErrOrderExists means the order identifier is already taken.
	ErrOrderExists = errors.New("order id already exists")
)

// ProductFilter narrows FindProducts. Zero value returns every product.
type ProductFilter struct {
	Category models.Category
}

// OrderFilter selects orders by exact field equality. Only one field is used;
// OrderID wins when both are set.
type OrderFilter struct {
	OrderID string
	Phone   string
}

// ProductRepository defines catalog data access.
type ProductRepository interface {
	FindProductByID(ctx context.Context, id string) (*models.Product, error)
	FindProducts(ctx context.Context, filter ProductFilter) ([]models.Product, error)
	// SaveProduct upserts by ID and bumps the product version.
	SaveProduct(ctx context.Context, product *models.Product) error
	DeleteProduct(ctx context.Context, id string) error
}

// OrderRepository defines order data access outside the placement transaction.
type OrderRepository interface {
	FindOrderByID(ctx context.Context, orderID string) (*models.Order, error)
	// FindOrders returns matches sorted by timestamp, newest first.
	FindOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error)
	ListOrders(ctx context.Context, page, limit int) ([]models.Order, int64, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error
	DeleteOrder(ctx context.Context, orderID string) error
}

// ChatRepository defines access to the chat message log.
type ChatRepository interface {
	AppendMessage(ctx context.Context, msg *models.ChatMessage) error
	// FindMessages returns messages oldest first. An empty customerID returns all.
	FindMessages(ctx context.Context, customerID string) ([]models.ChatMessage, error)
	// MarkRead flags every unread message from sender in the conversation and
	// returns how many changed.
	MarkRead(ctx context.Context, customerID string, sender models.Sender) (int, error)
}

// Tx is the read-check-write surface available inside RunInTransaction.
// Writes are staged and only applied when the callback returns nil.
type Tx interface {
	// GetProduct reads a product, including stock changes already staged in this transaction.
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	SetStock(productID, size string, quantity int)
	// CreateOrder stages a create-if-absent write of the order.
	CreateOrder(order *models.Order)
}

// Transactor runs fn as one atomic unit. Either every staged write is
// applied or none is. Conflicts surface as ErrConflict and an occupied order
// id as ErrOrderExists; neither is retried here.
type Transactor interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Store is the full persistence surface used by the services.
type Store interface {
	ProductRepository
	OrderRepository
	ChatRepository
	Transactor
	Close(ctx context.Context) error
}
