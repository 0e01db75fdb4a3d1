package controllers

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rabby420bd/tj/models"
	"github.com/rabby420bd/tj/realtime"
	"github.com/rabby420bd/tj/services"
	"go.uber.org/zap"
)

const (
	streamBuffer     = 64
	defaultHeartbeat = 25 * time.Second

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxSocketFrame = 16 * 1024
)

// Subscriber is the read side of the realtime broker.
type Subscriber interface {
	Subscribe(topic string, fn func(realtime.Event)) func()
}

type StreamController struct {
	broker    Subscriber
	chat      ChatService
	logger    *zap.Logger
	upgrader  websocket.Upgrader
	heartbeat time.Duration
}

// NewStreamController builds the SSE and websocket handlers. Websocket
// upgrades are accepted only from allowedOrigins; "*" accepts any origin.
func NewStreamController(broker Subscriber, chat ChatService, allowedOrigins []string, logger *zap.Logger) *StreamController {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[strings.TrimRight(o, "/")] = true
	}
	return &StreamController{
		broker:    broker,
		chat:      chat,
		logger:    logger,
		heartbeat: defaultHeartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origins["*"] || origins[origin]
			},
		},
	}
}

// Events streams broker events as SSE. ?topics=products,orders narrows the
// subscription; topics outside allowed are rejected.
func (sc *StreamController) Events(allowed ...string) gin.HandlerFunc {
	permitted := make(map[string]bool, len(allowed))
	for _, t := range allowed {
		permitted[t] = true
	}

	return func(c *gin.Context) {
		topics := allowed
		if raw := c.Query("topics"); raw != "" {
			topics = nil
			for _, t := range strings.Split(raw, ",") {
				t = strings.TrimSpace(t)
				if !permitted[t] {
					badRequest(c, "unknown or forbidden topic: "+t, nil)
					return
				}
				topics = append(topics, t)
			}
		}

		events := make(chan realtime.Event, streamBuffer)
		for _, topic := range topics {
			unsubscribe := sc.broker.Subscribe(topic, func(evt realtime.Event) {
				select {
				case events <- evt:
				default:
					sc.logger.Warn("sse client too slow, dropping event",
						zap.String("topic", evt.Topic), zap.String("key", evt.Key))
				}
			})
			defer unsubscribe()
		}

		heartbeat := time.NewTicker(sc.heartbeat)
		defer heartbeat.Stop()

		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.SSEvent("ready", gin.H{"topics": topics})
		c.Writer.Flush()

		ctx := c.Request.Context()
		c.Stream(func(io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case evt := <-events:
				c.SSEvent(evt.Topic, evt)
				return true
			case <-heartbeat.C:
				c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
				return true
			}
		})
	}
}

type socketMessage struct {
	Text         string `json:"text"`
	CustomerName string `json:"customerName"`
}

// ChatSocket upgrades to a websocket bound to ?customerId=. Inbound frames
// are sent as customer messages; chat events for that customer are pushed
// back, including the echo of the customer's own messages.
func (sc *StreamController) ChatSocket(c *gin.Context) {
	customerID := strings.TrimSpace(c.Query("customerId"))
	if customerID == "" {
		badRequest(c, "customerId is required", nil)
		return
	}

	conn, err := sc.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sc.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	send := make(chan interface{}, streamBuffer)
	done := make(chan struct{})
	unsubscribe := sc.broker.Subscribe(realtime.TopicChats, func(evt realtime.Event) {
		if evt.Key != customerID {
			return
		}
		select {
		case send <- evt:
		default:
		}
	})

	go sc.writePump(conn, send, done)
	sc.readPump(c, conn, customerID, send)

	unsubscribe()
	close(done)
}

func (sc *StreamController) readPump(c *gin.Context, conn *websocket.Conn, customerID string, send chan<- interface{}) {
	conn.SetReadLimit(maxSocketFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in socketMessage
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sc.logger.Warn("websocket closed unexpectedly", zap.String("customer_id", customerID), zap.Error(err))
			}
			return
		}
		_, err := sc.chat.SendMessage(c.Request.Context(), services.SendMessageInput{
			CustomerID:   customerID,
			CustomerName: in.CustomerName,
			Sender:       models.SenderCustomer,
			Text:         in.Text,
		})
		if err != nil {
			select {
			case send <- toAppError(err):
			default:
			}
		}
	}
}

func (sc *StreamController) writePump(conn *websocket.Conn, send <-chan interface{}, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
