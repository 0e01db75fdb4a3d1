package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rabby420bd/tj/models"
	"github.com/rabby420bd/tj/services"
)

type ChatService interface {
	SendMessage(ctx context.Context, in services.SendMessageInput) (*models.ChatMessage, error)
	Conversation(ctx context.Context, customerID string) ([]models.ChatMessage, error)
	Conversations(ctx context.Context) ([]models.ChatSummary, error)
	MarkRead(ctx context.Context, customerID string) (int, error)
}

type ChatController struct {
	chat ChatService
}

func NewChatController(chat ChatService) *ChatController {
	return &ChatController{chat: chat}
}

type ChatMessageRequest struct {
	CustomerID   string `json:"customerId"`
	CustomerName string `json:"customerName"`
	Text         string `json:"text" binding:"required"`
}

// SendCustomerMessage posts a message as the customer.
func (cc *ChatController) SendCustomerMessage(c *gin.Context) {
	var req ChatMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}
	cc.send(c, services.SendMessageInput{
		CustomerID:   req.CustomerID,
		CustomerName: req.CustomerName,
		Sender:       models.SenderCustomer,
		Text:         req.Text,
	})
}

// SendAdminReply posts a message as the admin into a customer's conversation.
func (cc *ChatController) SendAdminReply(c *gin.Context) {
	var req ChatMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}
	cc.send(c, services.SendMessageInput{
		CustomerID: c.Param("customerId"),
		Sender:     models.SenderAdmin,
		Text:       req.Text,
	})
}

func (cc *ChatController) send(c *gin.Context, in services.SendMessageInput) {
	msg, err := cc.chat.SendMessage(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (cc *ChatController) GetConversation(c *gin.Context) {
	msgs, err := cc.chat.Conversation(c.Request.Context(), c.Param("customerId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (cc *ChatController) ListConversations(c *gin.Context) {
	summaries, err := cc.chat.Conversations(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summaries)
}

func (cc *ChatController) MarkRead(c *gin.Context) {
	n, err := cc.chat.MarkRead(c.Request.Context(), c.Param("customerId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}
