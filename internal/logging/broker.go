package logging

import (
	"strconv"
	"sync"
	"time"
)

// Event is one engine event as delivered to SSE subscribers.
type Event struct {
	Time         time.Time      `json:"time"`
	Level        string         `json:"level"`
	Message      string         `json:"message"`
	DeploymentID string         `json:"deployment_id,omitempty"`
	ExecutionID  string         `json:"execution_id,omitempty"`
	Fields       map[string]any `json:"fields,omitempty"`
}

const subscriberBuffer = 64

type subscriber struct {
	ch          chan Event
	executionID string // empty subscribes to all events
}

// Broker fans engine events out to subscribers. Publishing never blocks: a
// subscriber that falls behind loses events rather than stalling the engine.
type Broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]*subscriber
	closed bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]*subscriber)}
}

func (b *Broker) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.executionID != "" && sub.executionID != e.ExecutionID {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// Subscriber buffer full, drop the event for this subscriber.
		}
	}
}

// SubscribeGeneral subscribes to every event. The returned ID must be passed
// to Unsubscribe when the consumer goes away.
func (b *Broker) SubscribeGeneral() (<-chan Event, string) {
	return b.subscribe("")
}

// SubscribeExecution subscribes to events carrying the given execution ID.
func (b *Broker) SubscribeExecution(executionID string) (<-chan Event, string) {
	return b.subscribe(executionID)
}

func (b *Broker) subscribe(executionID string) (<-chan Event, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := strconv.Itoa(b.nextID)
	sub := &subscriber{
		ch:          make(chan Event, subscriberBuffer),
		executionID: executionID,
	}
	if b.closed {
		close(sub.ch)
		return sub.ch, id
	}
	b.subs[id] = sub
	return sub.ch, id
}

func (b *Broker) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
