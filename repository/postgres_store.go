package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rabby420bd/tj/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresStore implements Store with gorm. Placement locks the product
// rows it reads with SELECT ... FOR UPDATE until commit.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore expects db opened with TranslateError enabled so duplicate
// order ids surface as gorm.ErrDuplicatedKey.
func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// PostgresModels lists the tables to AutoMigrate.
func PostgresModels() []interface{} {
	return []interface{}{&pgProduct{}, &pgOrder{}, &pgChat{}}
}

func (s *PostgresStore) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}

type pgProduct struct {
	ID          string         `gorm:"primaryKey;type:text"`
	Name        string         `gorm:"not null"`
	Slug        string         `gorm:"index"`
	Description string
	Price       float64        `gorm:"not null"`
	OldPrice    *float64
	Images      []string       `gorm:"serializer:json;type:jsonb"`
	Stock       map[string]int `gorm:"serializer:json;type:jsonb"`
	Category    string         `gorm:"index;not null"`
	Version     int64          `gorm:"not null;default:1"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (pgProduct) TableName() string { return "products" }

func (r pgProduct) toModel() *models.Product {
	p := &models.Product{
		ID:          r.ID,
		Name:        r.Name,
		Slug:        r.Slug,
		Description: r.Description,
		Price:       r.Price,
		OldPrice:    r.OldPrice,
		Images:      r.Images,
		Stock:       r.Stock,
		Category:    models.Category(r.Category),
		Version:     r.Version,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if p.Stock == nil {
		p.Stock = map[string]int{}
	}
	return p
}

type pgOrder struct {
	OrderID        string `gorm:"primaryKey;type:text"`
	CustomerName   string
	Phone          string `gorm:"index"`
	Address        string
	Location       string
	DeliveryCharge float64
	TransactionID  string
	CustomerUID    *string
	Items          []models.OrderItem `gorm:"serializer:json;type:jsonb"`
	Subtotal       float64
	TotalAmount    float64
	Status         string    `gorm:"not null"`
	Timestamp      time.Time `gorm:"index"`
}

func (pgOrder) TableName() string { return "orders" }

func (r pgOrder) toModel() models.Order {
	return models.Order{
		OrderID:        r.OrderID,
		CustomerName:   r.CustomerName,
		Phone:          r.Phone,
		Address:        r.Address,
		Location:       r.Location,
		DeliveryCharge: r.DeliveryCharge,
		TransactionID:  r.TransactionID,
		CustomerUID:    r.CustomerUID,
		Items:          r.Items,
		Subtotal:       r.Subtotal,
		TotalAmount:    r.TotalAmount,
		Status:         models.OrderStatus(r.Status),
		Timestamp:      r.Timestamp.UTC(),
	}
}

type pgChat struct {
	ID           string `gorm:"primaryKey;type:text"`
	CustomerID   string `gorm:"index"`
	CustomerName string
	Sender       string
	Text         string
	Timestamp    time.Time `gorm:"index"`
	Read         bool
}

func (pgChat) TableName() string { return "chat_messages" }

func (s *PostgresStore) FindProductByID(ctx context.Context, id string) (*models.Product, error) {
	var row pgProduct
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (s *PostgresStore) FindProducts(ctx context.Context, filter ProductFilter) ([]models.Product, error) {
	query := s.db.WithContext(ctx).Model(&pgProduct{})
	if filter.Category != "" {
		query = query.Where("category = ?", string(filter.Category))
	}
	var rows []pgProduct
	if err := query.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Product, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toModel())
	}
	return out, nil
}

func (s *PostgresStore) SaveProduct(ctx context.Context, product *models.Product) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing pgProduct
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&existing, "id = ?", product.ID).Error
		row := pgProduct{
			ID:          product.ID,
			Name:        product.Name,
			Slug:        product.Slug,
			Description: product.Description,
			Price:       product.Price,
			OldPrice:    product.OldPrice,
			Images:      product.Images,
			Stock:       product.Stock,
			Category:    string(product.Category),
			CreatedAt:   product.CreatedAt,
			UpdatedAt:   product.UpdatedAt,
		}
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row.Version = 1
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			row.Version = existing.Version + 1
			row.CreatedAt = existing.CreatedAt
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
		}
		product.Version = row.Version
		product.CreatedAt = row.CreatedAt
		return nil
	})
}

func (s *PostgresStore) DeleteProduct(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&pgProduct{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	var row pgOrder
	err := s.db.WithContext(ctx).First(&row, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o := row.toModel()
	return &o, nil
}

func (s *PostgresStore) FindOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	query := s.db.WithContext(ctx).Model(&pgOrder{})
	switch {
	case filter.OrderID != "":
		query = query.Where("order_id = ?", filter.OrderID)
	case filter.Phone != "":
		query = query.Where("phone = ?", filter.Phone)
	}
	var rows []pgOrder
	if err := query.Order("timestamp DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return pgOrdersToModels(rows), nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, page, limit int) ([]models.Order, int64, error) {
	var total int64
	query := s.db.WithContext(ctx).Model(&pgOrder{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []pgOrder
	err := query.Order("timestamp DESC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return pgOrdersToModels(rows), total, nil
}

func pgOrdersToModels(rows []pgOrder) []models.Order {
	out := make([]models.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error {
	res := s.db.WithContext(ctx).Model(&pgOrder{}).Where("order_id = ?", orderID).Update("status", string(status))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteOrder(ctx context.Context, orderID string) error {
	res := s.db.WithContext(ctx).Delete(&pgOrder{}, "order_id = ?", orderID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	return s.db.WithContext(ctx).Create(&pgChat{
		ID:           msg.ID,
		CustomerID:   msg.CustomerID,
		CustomerName: msg.CustomerName,
		Sender:       string(msg.Sender),
		Text:         msg.Text,
		Timestamp:    msg.Timestamp,
		Read:         msg.Read,
	}).Error
}

func (s *PostgresStore) FindMessages(ctx context.Context, customerID string) ([]models.ChatMessage, error) {
	query := s.db.WithContext(ctx).Model(&pgChat{})
	if customerID != "" {
		query = query.Where("customer_id = ?", customerID)
	}
	var rows []pgChat
	if err := query.Order("timestamp ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.ChatMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.ChatMessage{
			ID:           r.ID,
			CustomerID:   r.CustomerID,
			CustomerName: r.CustomerName,
			Sender:       models.Sender(r.Sender),
			Text:         r.Text,
			Timestamp:    r.Timestamp.UTC(),
			Read:         r.Read,
		})
	}
	return out, nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, customerID string, sender models.Sender) (int, error) {
	res := s.db.WithContext(ctx).Model(&pgChat{}).
		Where("customer_id = ? AND sender = ? AND read = ?", customerID, string(sender), false).
		Update("read", true)
	return int(res.RowsAffected), res.Error
}

type postgresTx struct {
	*txState
	db *gorm.DB
}

func (t *postgresTx) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	if p, ok := t.cached(id); ok {
		return p, nil
	}
	var row pgProduct
	err := t.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p := row.toModel()
	t.remember(p)
	return p.Clone(), nil
}

func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		tx := &postgresTx{txState: newTxState(), db: db}
		if err := fn(ctx, tx); err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, w := range tx.stockWrites() {
			res := db.Model(&pgProduct{}).
				Where("id = ? AND version = ?", w.ProductID, w.ReadVersion).
				Updates(map[string]interface{}{
					"stock":      pgStock(w.Stock),
					"version":    w.ReadVersion + 1,
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrConflict
			}
		}
		for _, o := range tx.orders {
			row := toPgOrder(o)
			if err := db.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return mapPostgresError(err)
}

// pgStock renders a stock map for a raw column update, where the field
// serializer is not applied.
func pgStock(stock map[string]int) interface{} {
	b, _ := json.Marshal(stock)
	return clause.Expr{SQL: "?::jsonb", Vars: []interface{}{string(b)}}
}

func toPgOrder(o *models.Order) pgOrder {
	return pgOrder{
		OrderID:        o.OrderID,
		CustomerName:   o.CustomerName,
		Phone:          o.Phone,
		Address:        o.Address,
		Location:       o.Location,
		DeliveryCharge: o.DeliveryCharge,
		TransactionID:  o.TransactionID,
		CustomerUID:    o.CustomerUID,
		Items:          o.Items,
		Subtotal:       o.Subtotal,
		TotalAmount:    o.TotalAmount,
		Status:         string(o.Status),
		Timestamp:      o.Timestamp,
	}
}

func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrOrderExists
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrOrderExists
		case "40001", "40P01":
			return ErrConflict
		}
	}
	return err
}
