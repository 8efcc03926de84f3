// Package bus implements the synchronous in-process event bus that wires the
// aegis subsystems together. Delivery is sequential in subscription order on
// the publisher's goroutine; a panicking handler is isolated and logged but
// never prevents delivery to the handlers after it.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"aegis/internal/logging"

	"go.uber.org/zap"
)

// Topic names published by the core.
const (
	TopicAgentRequest    = "agent.request"
	TopicAgentResponse   = "agent.response"
	TopicAgentError      = "agent.error"
	TopicMemoryUpdate    = "memory.update"
	TopicLearningEntry   = "learning.entry"
	TopicLearningFeed    = "learning.feedback"
	TopicHealthCompleted = "health.check.completed"
	TopicHealingSuccess  = "health.healing.success"
	TopicHealingFailed   = "health.healing.failed"
	TopicHealingError    = "health.healing.error"
	TopicAuditCreated    = "audit.log.created"
	TopicToolExecution   = "tool.execution"
	TopicCAGHit          = "cag.hit"
	TopicCAGMiss         = "cag.miss"
	TopicConfigReloaded  = "config.reloaded"
)

// Event is the payload delivered to subscribers.
type Event struct {
	Topic   string
	Time    time.Time
	Payload map[string]any
}

// Handler receives events for a subscribed topic.
type Handler func(ctx context.Context, ev Event)

// Subscription identifies a registered handler for unsubscription.
type Subscription uint64

type entry struct {
	id Subscription
	fn Handler
}

// Bus is the process-wide broker. The zero value is not usable; call New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]entry
	nextID atomic.Uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]entry)}
}

// Subscribe registers a handler for a topic and returns its subscription id.
func (b *Bus) Subscribe(topic string, fn Handler) Subscription {
	id := Subscription(b.nextID.Add(1))
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], entry{id: id, fn: fn})
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a handler. Unknown ids are ignored.
func (b *Bus) Unsubscribe(topic string, id Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[topic]
	for i, e := range list {
		if e.id == id {
			b.subs[topic] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every subscriber of ev.Topic in registration order.
// Handlers run outside the subscription lock so they may subscribe or
// unsubscribe without deadlocking; such changes take effect on the next
// publish, not the current one.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	list := make([]entry, len(b.subs[ev.Topic]))
	copy(list, b.subs[ev.Topic])
	b.mu.RUnlock()

	for _, e := range list {
		b.deliver(ctx, e, ev)
	}
}

func (b *Bus) deliver(ctx context.Context, e entry, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryBus).Error("event handler panicked",
				zap.String("topic", ev.Topic),
				zap.Uint64("subscription", uint64(e.id)),
				zap.Any("panic", r))
		}
	}()
	e.fn(ctx, ev)
}

// SubscriberCount returns the number of handlers on a topic. Used by the
// health monitor's synthetic roundtrip probe.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
