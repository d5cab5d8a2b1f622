// Package events provides a lightweight in-process pub/sub bus. Events are
// informational: trade and trend consumers (API, stores, logging) subscribe,
// while correctness never depends on delivery.
package events

import (
	"sync"
	"time"
)

// EventType represents the kinds of events the engine publishes
type EventType string

const (
	EventTrendChanged    EventType = "TREND_CHANGED"
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventSignalSkipped   EventType = "SIGNAL_SKIPPED"
	EventTradeOpened     EventType = "TRADE_OPENED"
	EventTradeClosed     EventType = "TRADE_CLOSED"
	EventPanicTriggered  EventType = "PANIC_TRIGGERED"
	EventPanicCleared    EventType = "PANIC_CLEARED"
	EventMetricsReady    EventType = "METRICS_READY"
)

// Event is a single bus message
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Bus manages event publishing and subscriptions
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates an empty event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific event type
func (b *Bus) Subscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
}

// SubscribeAll registers a subscriber for every event
func (b *Bus) SubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, sub)
}

// Publish delivers an event to all matching subscribers. Delivery is
// synchronous and in registration order so that subscribers observing a
// backtest see events in replay order.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := b.subscribers[event.Type]
	all := b.allSubs
	b.mu.RUnlock()

	for _, sub := range subs {
		sub(event)
	}
	for _, sub := range all {
		sub(event)
	}
}
