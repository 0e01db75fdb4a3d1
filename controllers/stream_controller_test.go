package controllers

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rabby420bd/tj/realtime"
	"github.com/rabby420bd/tj/repository"
	"github.com/rabby420bd/tj/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func streamServer(t *testing.T, broker *realtime.Broker, origins []string) *httptest.Server {
	t.Helper()
	chat := services.NewChatService(repository.NewMemoryStore(), broker, zap.NewNop())
	sc := NewStreamController(broker, chat, origins, zap.NewNop())

	r := gin.New()
	r.GET("/stream", sc.Events(realtime.TopicProducts))
	r.GET("/admin/stream", sc.Events(realtime.Topics...))
	r.GET("/chat/ws", sc.ChatSocket)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

// readEvent returns the next "event:" name and its "data:" line.
func readEvent(t *testing.T, sc *bufio.Scanner) (string, string) {
	t.Helper()
	var name, data string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "" && name != "":
			return name, data
		}
	}
	t.Fatalf("stream ended: %v", sc.Err())
	return "", ""
}

func TestEventsDeliversProductChanges(t *testing.T) {
	broker := realtime.NewBroker()
	srv := streamServer(t, broker, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	scanner := bufio.NewScanner(resp.Body)
	name, data := readEvent(t, scanner)
	assert.Equal(t, "ready", name)
	assert.Contains(t, data, "products")

	require.Eventually(t, func() bool { return broker.SubscriberCount(realtime.TopicProducts) == 1 },
		time.Second, 10*time.Millisecond)
	broker.Publish(realtime.Event{Topic: realtime.TopicOrders, Type: "order.placed", Key: "TJ1"})
	broker.Publish(realtime.Event{Topic: realtime.TopicProducts, Type: "product.stock_changed", Key: "p1"})

	name, data = readEvent(t, scanner)
	assert.Equal(t, realtime.TopicProducts, name)
	assert.Contains(t, data, `"key":"p1"`)

	cancel()
	assert.Eventually(t, func() bool { return broker.SubscriberCount(realtime.TopicProducts) == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestEventsRejectsForbiddenTopic(t *testing.T) {
	srv := streamServer(t, realtime.NewBroker(), nil)

	resp, err := http.Get(srv.URL + "/stream?topics=orders")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminEventsFiltersTopics(t *testing.T) {
	broker := realtime.NewBroker()
	srv := streamServer(t, broker, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/admin/stream?topics=orders,chats", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	readEvent(t, scanner)
	require.Eventually(t, func() bool { return broker.SubscriberCount(realtime.TopicChats) == 1 },
		time.Second, 10*time.Millisecond)
	assert.Zero(t, broker.SubscriberCount(realtime.TopicProducts))

	broker.Publish(realtime.Event{Topic: realtime.TopicOrders, Type: "order.placed", Key: "TJ000001678"})
	name, data := readEvent(t, scanner)
	assert.Equal(t, realtime.TopicOrders, name)
	assert.Contains(t, data, "TJ000001678")
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestChatSocketRoundTrip(t *testing.T) {
	broker := realtime.NewBroker()
	srv := streamServer(t, broker, []string{"http://localhost:5173"})

	header := http.Header{"Origin": []string{"http://localhost:5173"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/chat/ws?customerId=c-7"), header)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return broker.SubscriberCount(realtime.TopicChats) == 1 },
		time.Second, 10*time.Millisecond)

	// Another customer's traffic is not forwarded.
	broker.Publish(realtime.Event{Topic: realtime.TopicChats, Type: "chat.message", Key: "c-8"})

	require.NoError(t, conn.WriteJSON(map[string]string{"text": "Panjabi er size ki?", "customerName": "Rafi"}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt struct {
		Type string `json:"type"`
		Key  string `json:"key"`
		Data struct {
			Text   string `json:"text"`
			Sender string `json:"sender"`
		} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, "chat.message", evt.Type)
	assert.Equal(t, "c-7", evt.Key)
	assert.Equal(t, "Panjabi er size ki?", evt.Data.Text)
	assert.Equal(t, "customer", evt.Data.Sender)

	t.Run("invalid message gets an error frame", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(map[string]string{"text": "   "}))
		var body map[string]interface{}
		require.NoError(t, conn.ReadJSON(&body))
		assert.Equal(t, "ValidationError", body["kind"])
	})

	conn.Close()
	assert.Eventually(t, func() bool { return broker.SubscriberCount(realtime.TopicChats) == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestChatSocketRejections(t *testing.T) {
	srv := streamServer(t, realtime.NewBroker(), []string{"http://localhost:5173"})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/chat/ws"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "/chat/ws?customerId=c-1"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
