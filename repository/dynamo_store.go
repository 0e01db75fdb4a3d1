package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rabby420bd/tj/models"
)

// DynamoTables names the three tables used by DynamoStore.
type DynamoTables struct {
	Products string
	Orders   string
	Chats    string
}

// DynamoStore implements Store on DynamoDB. Placement commits through
// TransactWriteItems guarded by each product's version attribute.
type DynamoStore struct {
	client *dynamodb.Client
	tables DynamoTables
}

func NewDynamoStore(client *dynamodb.Client, tables DynamoTables) *DynamoStore {
	return &DynamoStore{client: client, tables: tables}
}

func (s *DynamoStore) Close(ctx context.Context) error { return nil }

type ddbProduct struct {
	ID          string         `dynamodbav:"id"`
	Name        string         `dynamodbav:"name"`
	Slug        string         `dynamodbav:"slug"`
	Description string         `dynamodbav:"description"`
	Price       float64        `dynamodbav:"price"`
	OldPrice    *float64       `dynamodbav:"old_price,omitempty"`
	Images      []string       `dynamodbav:"images"`
	Stock       map[string]int `dynamodbav:"stock"`
	Category    string         `dynamodbav:"category"`
	Version     int64          `dynamodbav:"version"`
	CreatedAt   string         `dynamodbav:"created_at"`
	UpdatedAt   string         `dynamodbav:"updated_at"`
}

func toDDBProduct(p *models.Product) ddbProduct {
	return ddbProduct{
		ID:          p.ID,
		Name:        p.Name,
		Slug:        p.Slug,
		Description: p.Description,
		Price:       p.Price,
		OldPrice:    p.OldPrice,
		Images:      p.Images,
		Stock:       p.Stock,
		Category:    string(p.Category),
		Version:     p.Version,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   p.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func (d ddbProduct) toModel() *models.Product {
	p := &models.Product{
		ID:          d.ID,
		Name:        d.Name,
		Slug:        d.Slug,
		Description: d.Description,
		Price:       d.Price,
		OldPrice:    d.OldPrice,
		Images:      d.Images,
		Stock:       d.Stock,
		Category:    models.Category(d.Category),
		Version:     d.Version,
	}
	if p.Stock == nil {
		p.Stock = map[string]int{}
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, d.CreatedAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, d.UpdatedAt)
	return p
}

type ddbOrder struct {
	OrderID        string             `dynamodbav:"order_id"`
	CustomerName   string             `dynamodbav:"customer_name"`
	Phone          string             `dynamodbav:"phone"`
	Address        string             `dynamodbav:"address"`
	Location       string             `dynamodbav:"location"`
	DeliveryCharge float64            `dynamodbav:"delivery_charge"`
	TransactionID  string             `dynamodbav:"transaction_id"`
	CustomerUID    *string            `dynamodbav:"customer_uid,omitempty"`
	Items          []models.OrderItem `dynamodbav:"items"`
	Subtotal       float64            `dynamodbav:"subtotal"`
	TotalAmount    float64            `dynamodbav:"total_amount"`
	Status         string             `dynamodbav:"status"`
	Timestamp      string             `dynamodbav:"timestamp"`
}

func toDDBOrder(o *models.Order) ddbOrder {
	return ddbOrder{
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
		Timestamp:      o.Timestamp.Format(time.RFC3339Nano),
	}
}

func (d ddbOrder) toModel() models.Order {
	o := models.Order{
		OrderID:        d.OrderID,
		CustomerName:   d.CustomerName,
		Phone:          d.Phone,
		Address:        d.Address,
		Location:       d.Location,
		DeliveryCharge: d.DeliveryCharge,
		TransactionID:  d.TransactionID,
		CustomerUID:    d.CustomerUID,
		Items:          d.Items,
		Subtotal:       d.Subtotal,
		TotalAmount:    d.TotalAmount,
		Status:         models.OrderStatus(d.Status),
	}
	o.Timestamp, _ = time.Parse(time.RFC3339Nano, d.Timestamp)
	return o
}

type ddbChat struct {
	ID           string `dynamodbav:"id"`
	CustomerID   string `dynamodbav:"customer_id"`
	CustomerName string `dynamodbav:"customer_name,omitempty"`
	Sender       string `dynamodbav:"sender"`
	Text         string `dynamodbav:"text"`
	Timestamp    string `dynamodbav:"timestamp"`
	Read         bool   `dynamodbav:"read"`
}

func (d ddbChat) toModel() models.ChatMessage {
	m := models.ChatMessage{
		ID:           d.ID,
		CustomerID:   d.CustomerID,
		CustomerName: d.CustomerName,
		Sender:       models.Sender(d.Sender),
		Text:         d.Text,
		Read:         d.Read,
	}
	m.Timestamp, _ = time.Parse(time.RFC3339Nano, d.Timestamp)
	return m
}

func stringKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{name: &types.AttributeValueMemberS{Value: value}}
}

func (s *DynamoStore) FindProductByID(ctx context.Context, id string) (*models.Product, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tables.Products,
		Key:            stringKey("id", id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb GetItem failed: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var dp ddbProduct
	if err := attributevalue.UnmarshalMap(out.Item, &dp); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return dp.toModel(), nil
}

// scanAll pages through a table, optionally with a filter expression.
func (s *DynamoStore) scanAll(ctx context.Context, input *dynamodb.ScanInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb Scan failed: %w", err)
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func (s *DynamoStore) FindProducts(ctx context.Context, filter ProductFilter) ([]models.Product, error) {
	input := &dynamodb.ScanInput{TableName: &s.tables.Products, ConsistentRead: aws.Bool(true)}
	if filter.Category != "" {
		input.FilterExpression = aws.String("#cat = :cat")
		input.ExpressionAttributeNames = map[string]string{"#cat": "category"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":cat": &types.AttributeValueMemberS{Value: string(filter.Category)},
		}
	}
	items, err := s.scanAll(ctx, input)
	if err != nil {
		return nil, err
	}
	var rows []ddbProduct
	if err := attributevalue.UnmarshalListOfMaps(items, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal products: %w", err)
	}
	out := make([]models.Product, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toModel())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *DynamoStore) SaveProduct(ctx context.Context, product *models.Product) error {
	existing, err := s.FindProductByID(ctx, product.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		product.Version = 1
	case err != nil:
		return err
	default:
		product.Version = existing.Version + 1
		product.CreatedAt = existing.CreatedAt
	}

	item, err := attributevalue.MarshalMap(toDDBProduct(product))
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	input := &dynamodb.PutItemInput{TableName: &s.tables.Products, Item: item}
	if existing != nil {
		input.ConditionExpression = aws.String("#v = :v")
		input.ExpressionAttributeNames = map[string]string{"#v": "version"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(existing.Version, 10)},
		}
	} else {
		input.ConditionExpression = aws.String("attribute_not_exists(id)")
	}
	if _, err := s.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrConflict
		}
		return fmt.Errorf("dynamodb PutItem failed: %w", err)
	}
	return nil
}

func (s *DynamoStore) DeleteProduct(ctx context.Context, id string) error {
	return s.deleteExisting(ctx, s.tables.Products, "id", id)
}

func (s *DynamoStore) deleteExisting(ctx context.Context, table, keyName, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                &table,
		Key:                      stringKey(keyName, id),
		ConditionExpression:      aws.String("attribute_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": keyName},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("dynamodb DeleteItem failed: %w", err)
	}
	return nil
}

func (s *DynamoStore) FindOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tables.Orders,
		Key:            stringKey("order_id", orderID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb GetItem failed: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var do ddbOrder
	if err := attributevalue.UnmarshalMap(out.Item, &do); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	o := do.toModel()
	return &o, nil
}

func (s *DynamoStore) FindOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	if filter.OrderID != "" {
		o, err := s.FindOrderByID(ctx, filter.OrderID)
		if errors.Is(err, ErrNotFound) {
			return []models.Order{}, nil
		}
		if err != nil {
			return nil, err
		}
		return []models.Order{*o}, nil
	}

	input := &dynamodb.ScanInput{TableName: &s.tables.Orders, ConsistentRead: aws.Bool(true)}
	if filter.Phone != "" {
		input.FilterExpression = aws.String("#p = :p")
		input.ExpressionAttributeNames = map[string]string{"#p": "phone"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: filter.Phone},
		}
	}
	items, err := s.scanAll(ctx, input)
	if err != nil {
		return nil, err
	}
	var rows []ddbOrder
	if err := attributevalue.UnmarshalListOfMaps(items, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal orders: %w", err)
	}
	out := make([]models.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	sortOrdersNewestFirst(out)
	return out, nil
}

// ListOrders scans the whole table; the order volume of a single storefront
// keeps this within one or two pages.
func (s *DynamoStore) ListOrders(ctx context.Context, page, limit int) ([]models.Order, int64, error) {
	all, err := s.FindOrders(ctx, OrderFilter{})
	if err != nil {
		return nil, 0, err
	}
	return paginate(all, page, limit), int64(len(all)), nil
}

func (s *DynamoStore) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                &s.tables.Orders,
		Key:                      stringKey("order_id", orderID),
		UpdateExpression:         aws.String("SET #s = :s"),
		ConditionExpression:      aws.String("attribute_exists(order_id)"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: string(status)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("update order status failed: %w", err)
	}
	return nil
}

func (s *DynamoStore) DeleteOrder(ctx context.Context, orderID string) error {
	return s.deleteExisting(ctx, s.tables.Orders, "order_id", orderID)
}

func (s *DynamoStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	item, err := attributevalue.MarshalMap(ddbChat{
		ID:           msg.ID,
		CustomerID:   msg.CustomerID,
		CustomerName: msg.CustomerName,
		Sender:       string(msg.Sender),
		Text:         msg.Text,
		Timestamp:    msg.Timestamp.Format(time.RFC3339Nano),
		Read:         msg.Read,
	})
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: &s.tables.Chats, Item: item}); err != nil {
		return fmt.Errorf("dynamodb PutItem failed: %w", err)
	}
	return nil
}

func (s *DynamoStore) FindMessages(ctx context.Context, customerID string) ([]models.ChatMessage, error) {
	input := &dynamodb.ScanInput{TableName: &s.tables.Chats, ConsistentRead: aws.Bool(true)}
	if customerID != "" {
		input.FilterExpression = aws.String("customer_id = :c")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: customerID},
		}
	}
	items, err := s.scanAll(ctx, input)
	if err != nil {
		return nil, err
	}
	var rows []ddbChat
	if err := attributevalue.UnmarshalListOfMaps(items, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal chat messages: %w", err)
	}
	out := make([]models.ChatMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *DynamoStore) MarkRead(ctx context.Context, customerID string, sender models.Sender) (int, error) {
	msgs, err := s.FindMessages(ctx, customerID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range msgs {
		if m.Sender != sender || m.Read {
			continue
		}
		_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 &s.tables.Chats,
			Key:                       stringKey("id", m.ID),
			UpdateExpression:          aws.String("SET #r = :t"),
			ExpressionAttributeNames:  map[string]string{"#r": "read"},
			ExpressionAttributeValues: map[string]types.AttributeValue{":t": &types.AttributeValueMemberBOOL{Value: true}},
		})
		if err != nil {
			return n, fmt.Errorf("mark chat message read: %w", err)
		}
		n++
	}
	return n, nil
}

type dynamoTx struct {
	*txState
	store *DynamoStore
}

func (t *dynamoTx) GetProduct(ctx context.Context, id string) (*models.Product, error) {
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

func (s *DynamoStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &dynamoTx{txState: newTxState(), store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	writes := tx.stockWrites()
	if len(writes) == 0 && len(tx.orders) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	items := make([]types.TransactWriteItem, 0, len(writes)+len(tx.orders))
	for _, w := range writes {
		stock, err := attributevalue.Marshal(w.Stock)
		if err != nil {
			return fmt.Errorf("marshal stock: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName:           &s.tables.Products,
				Key:                 stringKey("id", w.ProductID),
				UpdateExpression:    aws.String("SET #stock = :stock, #v = :next, updated_at = :now"),
				ConditionExpression: aws.String("#v = :read"),
				ExpressionAttributeNames: map[string]string{
					"#stock": "stock",
					"#v":     "version",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":stock": stock,
					":read":  &types.AttributeValueMemberN{Value: strconv.FormatInt(w.ReadVersion, 10)},
					":next":  &types.AttributeValueMemberN{Value: strconv.FormatInt(w.ReadVersion+1, 10)},
					":now":   &types.AttributeValueMemberS{Value: now},
				},
			},
		})
	}
	for _, o := range tx.orders {
		item, err := attributevalue.MarshalMap(toDDBOrder(o))
		if err != nil {
			return fmt.Errorf("marshal order: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           &s.tables.Orders,
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(order_id)"),
			},
		})
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return mapTransactError(err, len(writes))
	}
	return nil
}

// mapTransactError turns a cancelled transaction into ErrOrderExists when
// the order put failed its condition and into ErrConflict otherwise.
// Reasons are positional: stock updates come first, then orders.
func mapTransactError(err error, stockWrites int) error {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for i, reason := range canceled.CancellationReasons {
			if i >= stockWrites && aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return ErrOrderExists
			}
		}
		return ErrConflict
	}
	var inProgress *types.TransactionInProgressException
	if errors.As(err, &inProgress) {
		return ErrConflict
	}
	return fmt.Errorf("dynamodb TransactWriteItems failed: %w", err)
}

func paginate(all []models.Order, page, limit int) []models.Order {
	start := (page - 1) * limit
	if start < 0 || start >= len(all) {
		return []models.Order{}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}
