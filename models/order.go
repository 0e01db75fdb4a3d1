package models

import "time"

// OrderStatus is the fulfilment state shown to customers.
type OrderStatus string

const (
	StatusConfirmed      OrderStatus = "Confirmed"
	StatusPicked         OrderStatus = "Picked"
	StatusInTransit      OrderStatus = "In Transit"
	StatusShipped        OrderStatus = "Shipped"
	StatusOutForDelivery OrderStatus = "Out for delivery"
	StatusDelivered      OrderStatus = "Delivered"
	StatusCancelled      OrderStatus = "Cancelled"
)

// OrderStatuses is the display order of statuses. Cancelled is a terminal side branch.
var OrderStatuses = []OrderStatus{
	StatusConfirmed,
	StatusPicked,
	StatusInTransit,
	StatusShipped,
	StatusOutForDelivery,
	StatusDelivered,
	StatusCancelled,
}

// IsValid reports whether s is one of the known statuses.
func (s OrderStatus) IsValid() bool {
	for _, known := range OrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// OrderIDPrefix marks human-readable order identifiers.
const OrderIDPrefix = "TJ"

// DeliveryCharges maps delivery zone to its flat charge.
var DeliveryCharges = map[string]float64{
	"Inside Dhaka":  110,
	"Outside Dhaka": 130,
}

// OrderItem is the immutable line snapshot stored with an order.
type OrderItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Size      string  `json:"size"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
	// Image is the product's first image at placement time.
	Image string `json:"image,omitempty"`
}

// LineTotal is price times quantity.
func (i OrderItem) LineTotal() float64 {
	return i.Price * float64(i.Quantity)
}

type Order struct {
	OrderID        string      `json:"orderId"`
	CustomerName   string      `json:"customerName"`
	Phone          string      `json:"phone"`
	Address        string      `json:"address"`
	Location       string      `json:"location"`
	DeliveryCharge float64     `json:"deliveryCharge"`
	TransactionID  string      `json:"transactionId"`
	CustomerUID    *string     `json:"customer_uid"`
	Items          []OrderItem `json:"items"`
	Subtotal       float64     `json:"subtotal"`
	TotalAmount    float64     `json:"totalAmount"`
	Status         OrderStatus `json:"status"`
	Timestamp      time.Time   `json:"timestamp"`
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Items = append([]OrderItem(nil), o.Items...)
	if o.CustomerUID != nil {
		uid := *o.CustomerUID
		cp.CustomerUID = &uid
	}
	return &cp
}

// CartItem is one line of a checkout request.
type CartItem struct {
	ProductID string  `json:"productId" binding:"required"`
	Size      string  `json:"size" binding:"required"`
	Quantity  int     `json:"quantity"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
}

// OrderMeta carries the customer and payment details of a checkout.
type OrderMeta struct {
	OrderID        string  `json:"orderId"`
	CustomerName   string  `json:"customerName"`
	Phone          string  `json:"phone"`
	Address        string  `json:"address"`
	Location       string  `json:"location"`
	DeliveryCharge float64 `json:"deliveryCharge"`
	TransactionID  string  `json:"transactionId"`
	CustomerUID    *string `json:"customer_uid,omitempty"`
}
