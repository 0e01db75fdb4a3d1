package services

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rabby420bd/tj/models"
	"github.com/rabby420bd/tj/realtime"
	"github.com/rabby420bd/tj/repository"
	"go.uber.org/zap"
)

const maxChatTextLength = 2000

// SendMessageInput is one chat line from a customer or the admin.
type SendMessageInput struct {
	CustomerID   string        `json:"customerId"`
	CustomerName string        `json:"customerName"`
	Sender       models.Sender `json:"sender"`
	Text         string        `json:"text"`
}

type ChatService struct {
	store  repository.ChatRepository
	broker realtime.Publisher
	logger *zap.Logger
	clock  Clock
}

func NewChatService(store repository.ChatRepository, broker realtime.Publisher, logger *zap.Logger) *ChatService {
	if broker == nil {
		broker = realtime.NopPublisher{}
	}
	return &ChatService{store: store, broker: broker, logger: logger, clock: NewClock()}
}

func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput) (*models.ChatMessage, error) {
	in.CustomerID = strings.TrimSpace(in.CustomerID)
	in.Text = strings.TrimSpace(in.Text)
	switch {
	case in.CustomerID == "":
		return nil, validationError("customerId", "customer id is required")
	case !in.Sender.IsValid():
		return nil, validationError("sender", "sender must be customer or admin")
	case in.Text == "":
		return nil, validationError("text", "message text is required")
	case utf8.RuneCountInString(in.Text) > maxChatTextLength:
		return nil, validationError("text", "message is too long")
	}

	msg := &models.ChatMessage{
		ID:           uuid.NewString(),
		CustomerID:   in.CustomerID,
		CustomerName: strings.TrimSpace(in.CustomerName),
		Sender:       in.Sender,
		Text:         in.Text,
		Timestamp:    s.clock.Now(),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		s.logger.Error("append chat message failed", zap.String("customer_id", msg.CustomerID), zap.Error(err))
		return nil, internalError("failed to send message", err)
	}
	s.broker.Publish(realtime.Event{Topic: realtime.TopicChats, Type: "chat.message", Key: msg.CustomerID, Data: msg})
	return msg, nil
}

// Conversation returns one customer's messages, oldest first.
func (s *ChatService) Conversation(ctx context.Context, customerID string) ([]models.ChatMessage, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, validationError("customerId", "customer id is required")
	}
	msgs, err := s.store.FindMessages(ctx, customerID)
	if err != nil {
		return nil, internalError("failed to fetch messages", err)
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	return msgs, nil
}

// Conversations builds the admin inbox: one summary per customer, the most
// recently active first. Unread counts customer messages only.
func (s *ChatService) Conversations(ctx context.Context) ([]models.ChatSummary, error) {
	msgs, err := s.store.FindMessages(ctx, "")
	if err != nil {
		return nil, internalError("failed to fetch conversations", err)
	}

	byCustomer := make(map[string]*models.ChatSummary)
	for _, m := range msgs {
		sum, ok := byCustomer[m.CustomerID]
		if !ok {
			sum = &models.ChatSummary{CustomerID: m.CustomerID}
			byCustomer[m.CustomerID] = sum
		}
		sum.Total++
		if m.CustomerName != "" {
			sum.CustomerName = m.CustomerName
		}
		if m.Sender == models.SenderCustomer && !m.Read {
			sum.Unread++
		}
		if !m.Timestamp.Before(sum.LastMessage.Timestamp) {
			sum.LastMessage = m
		}
	}

	out := make([]models.ChatSummary, 0, len(byCustomer))
	for _, sum := range byCustomer {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessage.Timestamp.After(out[j].LastMessage.Timestamp)
	})
	return out, nil
}

// MarkRead marks the customer's messages in a conversation as read by the admin.
func (s *ChatService) MarkRead(ctx context.Context, customerID string) (int, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return 0, validationError("customerId", "customer id is required")
	}
	n, err := s.store.MarkRead(ctx, customerID, models.SenderCustomer)
	if err != nil {
		return 0, internalError("failed to mark messages read", err)
	}
	if n > 0 {
		s.broker.Publish(realtime.Event{Topic: realtime.TopicChats, Type: "chat.read", Key: customerID})
	}
	return n, nil
}
