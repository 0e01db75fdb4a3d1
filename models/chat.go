package models

import "time"

type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderAdmin    Sender = "admin"
)

func (s Sender) IsValid() bool {
	return s == SenderCustomer || s == SenderAdmin
}

// ChatMessage is one entry of the append-only support chat log.
type ChatMessage struct {
	ID           string    `json:"id"`
	CustomerID   string    `json:"customerId"`
	CustomerName string    `json:"customerName,omitempty"`
	Sender       Sender    `json:"sender"`
	Text         string    `json:"text"`
	Timestamp    time.Time `json:"timestamp"`
	Read         bool      `json:"read"`
}

// ChatSummary is the admin inbox view of one customer's conversation.
type ChatSummary struct {
	CustomerID   string      `json:"customerId"`
	CustomerName string      `json:"customerName,omitempty"`
	LastMessage  ChatMessage `json:"lastMessage"`
	Unread       int         `json:"unread"`
	Total        int         `json:"total"`
}
