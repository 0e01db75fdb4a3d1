package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rabby420bd/tj/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// MongoStore implements Store on MongoDB. Placement runs in a
// multi-document session transaction; the deployment must be a replica set.
type MongoStore struct {
	client   *mongo.Client
	products *mongo.Collection
	orders   *mongo.Collection
	chats    *mongo.Collection
}

func NewMongoStore(client *mongo.Client, db *mongo.Database) *MongoStore {
	return &MongoStore{
		client:   client,
		products: db.Collection("products"),
		orders:   db.Collection("orders"),
		chats:    db.Collection("chats"),
	}
}

// EnsureIndexes creates the lookup indexes used by tracking and chat queries.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.orders.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "phone", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
	}); err != nil {
		return fmt.Errorf("create order indexes: %w", err)
	}
	if _, err := s.chats.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "customer_id", Value: 1}, {Key: "timestamp", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create chat indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type mongoProduct struct {
	ID          string         `bson:"_id"`
	Name        string         `bson:"name"`
	Slug        string         `bson:"slug"`
	Description string         `bson:"description"`
	Price       float64        `bson:"price"`
	OldPrice    *float64       `bson:"old_price,omitempty"`
	Images      []string       `bson:"images"`
	Stock       map[string]int `bson:"stock"`
	Category    string         `bson:"category"`
	Version     int64          `bson:"version"`
	CreatedAt   time.Time      `bson:"created_at"`
	UpdatedAt   time.Time      `bson:"updated_at"`
}

func (m mongoProduct) toModel() *models.Product {
	p := &models.Product{
		ID:          m.ID,
		Name:        m.Name,
		Slug:        m.Slug,
		Description: m.Description,
		Price:       m.Price,
		OldPrice:    m.OldPrice,
		Images:      m.Images,
		Stock:       m.Stock,
		Category:    models.Category(m.Category),
		Version:     m.Version,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if p.Stock == nil {
		p.Stock = map[string]int{}
	}
	return p
}

type mongoOrderItem struct {
	ProductID string  `bson:"product_id"`
	Name      string  `bson:"name"`
	Size      string  `bson:"size"`
	Quantity  int     `bson:"quantity"`
	Price     float64 `bson:"price"`
	Image     string  `bson:"image,omitempty"`
}

type mongoOrder struct {
	OrderID        string           `bson:"_id"`
	CustomerName   string           `bson:"customer_name"`
	Phone          string           `bson:"phone"`
	Address        string           `bson:"address"`
	Location       string           `bson:"location"`
	DeliveryCharge float64          `bson:"delivery_charge"`
	TransactionID  string           `bson:"transaction_id"`
	CustomerUID    *string          `bson:"customer_uid,omitempty"`
	Items          []mongoOrderItem `bson:"items"`
	Subtotal       float64          `bson:"subtotal"`
	TotalAmount    float64          `bson:"total_amount"`
	Status         string           `bson:"status"`
	Timestamp      time.Time        `bson:"timestamp"`
}

func toMongoOrder(o *models.Order) mongoOrder {
	items := make([]mongoOrderItem, len(o.Items))
	for i, it := range o.Items {
		items[i] = mongoOrderItem(it)
	}
	return mongoOrder{
		OrderID:        o.OrderID,
		CustomerName:   o.CustomerName,
		Phone:          o.Phone,
		Address:        o.Address,
		Location:       o.Location,
		DeliveryCharge: o.DeliveryCharge,
		TransactionID:  o.TransactionID,
		CustomerUID:    o.CustomerUID,
		Items:          items,
		Subtotal:       o.Subtotal,
		TotalAmount:    o.TotalAmount,
		Status:         string(o.Status),
		Timestamp:      o.Timestamp,
	}
}

func (m mongoOrder) toModel() models.Order {
	items := make([]models.OrderItem, len(m.Items))
	for i, it := range m.Items {
		items[i] = models.OrderItem(it)
	}
	return models.Order{
		OrderID:        m.OrderID,
		CustomerName:   m.CustomerName,
		Phone:          m.Phone,
		Address:        m.Address,
		Location:       m.Location,
		DeliveryCharge: m.DeliveryCharge,
		TransactionID:  m.TransactionID,
		CustomerUID:    m.CustomerUID,
		Items:          items,
		Subtotal:       m.Subtotal,
		TotalAmount:    m.TotalAmount,
		Status:         models.OrderStatus(m.Status),
		Timestamp:      m.Timestamp.UTC(),
	}
}

type mongoChat struct {
	ID           string    `bson:"_id"`
	CustomerID   string    `bson:"customer_id"`
	CustomerName string    `bson:"customer_name,omitempty"`
	Sender       string    `bson:"sender"`
	Text         string    `bson:"text"`
	Timestamp    time.Time `bson:"timestamp"`
	Read         bool      `bson:"read"`
}

func (s *MongoStore) FindProductByID(ctx context.Context, id string) (*models.Product, error) {
	var mp mongoProduct
	err := s.products.FindOne(ctx, bson.M{"_id": id}).Decode(&mp)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find product: %w", err)
	}
	return mp.toModel(), nil
}

func (s *MongoStore) FindProducts(ctx context.Context, filter ProductFilter) ([]models.Product, error) {
	query := bson.M{}
	if filter.Category != "" {
		query["category"] = string(filter.Category)
	}
	cursor, err := s.products.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []mongoProduct
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}
	out := make([]models.Product, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toModel())
	}
	return out, nil
}

func (s *MongoStore) SaveProduct(ctx context.Context, product *models.Product) error {
	existing, err := s.FindProductByID(ctx, product.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	doc := mongoProduct{
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

	if existing == nil {
		doc.Version = 1
		if _, err := s.products.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ErrConflict
			}
			return fmt.Errorf("insert product: %w", err)
		}
		product.Version = doc.Version
		return nil
	}

	doc.Version = existing.Version + 1
	doc.CreatedAt = existing.CreatedAt
	res, err := s.products.ReplaceOne(ctx, bson.M{"_id": product.ID, "version": existing.Version}, doc)
	if err != nil {
		return fmt.Errorf("replace product: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrConflict
	}
	product.Version = doc.Version
	product.CreatedAt = doc.CreatedAt
	return nil
}

func (s *MongoStore) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.products.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) FindOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	var mo mongoOrder
	err := s.orders.FindOne(ctx, bson.M{"_id": orderID}).Decode(&mo)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	o := mo.toModel()
	return &o, nil
}

func (s *MongoStore) findOrders(ctx context.Context, query bson.M, opts *options.FindOptions) ([]models.Order, error) {
	cursor, err := s.orders.Find(ctx, query, opts.SetSort(bson.D{{Key: "timestamp", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("find orders: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []mongoOrder
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	out := make([]models.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *MongoStore) FindOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	query := bson.M{}
	switch {
	case filter.OrderID != "":
		query["_id"] = filter.OrderID
	case filter.Phone != "":
		query["phone"] = filter.Phone
	}
	return s.findOrders(ctx, query, options.Find())
}

func (s *MongoStore) ListOrders(ctx context.Context, page, limit int) ([]models.Order, int64, error) {
	total, err := s.orders.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	opts := options.Find().SetSkip(int64((page - 1) * limit)).SetLimit(int64(limit))
	orders, err := s.findOrders(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (s *MongoStore) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error {
	res, err := s.orders.UpdateOne(ctx, bson.M{"_id": orderID}, bson.M{"$set": bson.M{"status": string(status)}})
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteOrder(ctx context.Context, orderID string) error {
	res, err := s.orders.DeleteOne(ctx, bson.M{"_id": orderID})
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	_, err := s.chats.InsertOne(ctx, mongoChat{
		ID:           msg.ID,
		CustomerID:   msg.CustomerID,
		CustomerName: msg.CustomerName,
		Sender:       string(msg.Sender),
		Text:         msg.Text,
		Timestamp:    msg.Timestamp,
		Read:         msg.Read,
	})
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

func (s *MongoStore) FindMessages(ctx context.Context, customerID string) ([]models.ChatMessage, error) {
	query := bson.M{}
	if customerID != "" {
		query["customer_id"] = customerID
	}
	cursor, err := s.chats.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find chat messages: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []mongoChat
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode chat messages: %w", err)
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

func (s *MongoStore) MarkRead(ctx context.Context, customerID string, sender models.Sender) (int, error) {
	res, err := s.chats.UpdateMany(ctx,
		bson.M{"customer_id": customerID, "sender": string(sender), "read": false},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return 0, fmt.Errorf("mark chat messages read: %w", err)
	}
	return int(res.ModifiedCount), nil
}

type mongoTx struct {
	*txState
	store *MongoStore
}

func (t *mongoTx) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	if p, ok := t.cached(id); ok {
		return p, nil
	}
	p, err := t.store.FindProductByID(ctx, id)
	if err != nil {
		return nil, err
	}
	t.remember(p)
	return p.Clone(), nil
}

// RunInTransaction starts and commits the session transaction by hand
// instead of using WithTransaction, which would retry transient errors.
func (s *MongoStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	return mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		opts := options.Transaction().
			SetReadConcern(readconcern.Snapshot()).
			SetWriteConcern(writeconcern.Majority())
		if err := sess.StartTransaction(opts); err != nil {
			return fmt.Errorf("start transaction: %w", err)
		}
		if err := s.stageAndWrite(sc, fn); err != nil {
			_ = sess.AbortTransaction(context.Background())
			return mapMongoTxError(err)
		}
		if err := sess.CommitTransaction(sc); err != nil {
			_ = sess.AbortTransaction(context.Background())
			return mapMongoTxError(err)
		}
		return nil
	})
}

func (s *MongoStore) stageAndWrite(sc mongo.SessionContext, fn func(ctx context.Context, tx Tx) error) error {
	tx := &mongoTx{txState: newTxState(), store: s}
	if err := fn(sc, tx); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, w := range tx.stockWrites() {
		res, err := s.products.UpdateOne(sc,
			bson.M{"_id": w.ProductID, "version": w.ReadVersion},
			bson.M{"$set": bson.M{"stock": w.Stock, "version": w.ReadVersion + 1, "updated_at": now}},
		)
		if err != nil {
			return fmt.Errorf("update stock: %w", err)
		}
		if res.MatchedCount == 0 {
			return ErrConflict
		}
	}
	for _, o := range tx.orders {
		if _, err := s.orders.InsertOne(sc, toMongoOrder(o)); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ErrOrderExists
			}
			return fmt.Errorf("insert order: %w", err)
		}
	}
	return nil
}

func mapMongoTxError(err error) error {
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) && serverErr.HasErrorLabel("TransientTransactionError") {
		return ErrConflict
	}
	return err
}
