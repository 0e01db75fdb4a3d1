package realtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroker_DeliversToTopicSubscribers(t *testing.T) {
	b := NewBroker()
	var got []Event
	unsub := b.Subscribe(TopicOrders, func(e Event) { got = append(got, e) })
	defer unsub()

	b.Publish(Event{Topic: TopicOrders, Type: "order.placed", Key: "TJ123456789"})
	b.Publish(Event{Topic: TopicProducts, Type: "product.updated", Key: "p1"})

	assert.Len(t, got, 1)
	assert.Equal(t, "TJ123456789", got[0].Key)
	assert.False(t, got[0].At.IsZero())
}

func TestBroker_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	calls := 0
	unsub := b.Subscribe(TopicChats, func(Event) { calls++ })

	b.Publish(Event{Topic: TopicChats})
	unsub()
	unsub()
	b.Publish(Event{Topic: TopicChats})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.SubscriberCount(TopicChats))
}

func TestBroker_UnsubscribeKeepsOthers(t *testing.T) {
	b := NewBroker()
	var a, c int
	unsubA := b.Subscribe(TopicProducts, func(Event) { a++ })
	unsubC := b.Subscribe(TopicProducts, func(Event) { c++ })
	defer unsubC()

	unsubA()
	b.Publish(Event{Topic: TopicProducts})

	assert.Equal(t, 0, a)
	assert.Equal(t, 1, c)
}

func TestBroker_ConcurrentPublishAndSubscribe(t *testing.T) {
	b := NewBroker()
	var mu sync.Mutex
	total := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := b.Subscribe(TopicOrders, func(Event) {
				mu.Lock()
				total++
				mu.Unlock()
			})
			b.Publish(Event{Topic: TopicOrders})
			unsub()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, b.SubscriberCount(TopicOrders))
	assert.GreaterOrEqual(t, total, 20)
}
