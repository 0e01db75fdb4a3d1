// Package realtime is the in-process change feed. Services publish after a
// successful write; HTTP streams and websocket clients subscribe.
package realtime

import (
	"sync"
	"time"

	"github.com/rabby420bd/tj/metrics"
)

const (
	TopicProducts = "products"
	TopicOrders   = "orders"
	TopicChats    = "chats"
)

// Topics lists every topic a client may subscribe to.
var Topics = []string{TopicProducts, TopicOrders, TopicChats}

// Event describes one change. Key is the id of the record that changed.
type Event struct {
	Topic string      `json:"topic"`
	Type  string      `json:"type"`
	Key   string      `json:"key"`
	Data  interface{} `json:"data,omitempty"`
	At    time.Time   `json:"at"`
}

// Publisher is what services depend on.
type Publisher interface {
	Publish(evt Event)
}

type subscription struct {
	id int64
	fn func(Event)
}

// Broker fans events out to per-topic callbacks. Callbacks run on the
// publishing goroutine and must not block.
type Broker struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[string][]subscription
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string][]subscription)}
}

// Subscribe registers fn for topic and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (b *Broker) Subscribe(topic string, fn func(Event)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, fn: fn})
	metrics.RealtimeSubscribers.WithLabelValues(topic).Inc()
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(topic, id) })
	}
}

func (b *Broker) unsubscribe(topic string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[topic]
	for i, s := range list {
		if s.id == id {
			b.subs[topic] = append(list[:i:i], list[i+1:]...)
			metrics.RealtimeSubscribers.WithLabelValues(topic).Dec()
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

func (b *Broker) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	b.mu.RLock()
	list := append([]subscription(nil), b.subs[evt.Topic]...)
	b.mu.RUnlock()

	for _, s := range list {
		s.fn(evt)
	}
}

// SubscriberCount returns the number of callbacks registered for topic.
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
