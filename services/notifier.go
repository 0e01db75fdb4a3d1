package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rabby420bd/tj/models"
	"go.uber.org/zap"
)

// EventPublisher sends a raw message to a topic. pkg/aws.SNSClient satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, topicArn string, message []byte) error
}

// BusinessMetrics records counters to an external sink such as CloudWatch.
type BusinessMetrics interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
}

const (
	EventOrderPlaced        = "order.placed"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderDeleted       = "order.deleted"
	EventStockChanged       = "product.stock_changed"
)

// OrderEvent is the message body sent to the order topic.
type OrderEvent struct {
	Type        string             `json:"type"`
	OrderID     string             `json:"order_id"`
	Phone       string             `json:"phone,omitempty"`
	Status      models.OrderStatus `json:"status,omitempty"`
	TotalAmount float64            `json:"total_amount,omitempty"`
	ItemCount   int                `json:"item_count,omitempty"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

// Notifier publishes order events. Failures are logged and never reach the caller.
type Notifier struct {
	publisher EventPublisher
	topicArn  string
	logger    *zap.Logger
}

// NewNotifier returns nil when no publisher or topic is configured; a nil
// *Notifier is safe to use.
func NewNotifier(publisher EventPublisher, topicArn string, logger *zap.Logger) *Notifier {
	if publisher == nil || topicArn == "" {
		return nil
	}
	return &Notifier{publisher: publisher, topicArn: topicArn, logger: logger}
}

func (n *Notifier) Notify(ctx context.Context, evt OrderEvent) {
	if n == nil {
		return
	}
	body, err := json.Marshal(evt)
	if err != nil {
		n.logger.Error("marshal order event", zap.Error(err))
		return
	}
	if err := n.publisher.Publish(ctx, n.topicArn, body); err != nil {
		n.logger.Warn("order event publish failed",
			zap.String("type", evt.Type),
			zap.String("order_id", evt.OrderID),
			zap.Error(err),
		)
		return
	}
	n.logger.Debug("order event published", zap.String("type", evt.Type), zap.String("order_id", evt.OrderID))
}
