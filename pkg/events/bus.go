package events

import (
	"sync"
	"time"

	"github.com/killallgit/converse/pkg/logger"
)

// Event represents a generic event in the system
type Event struct {
	Type      string
	Payload   interface{}
	Source    string
	Timestamp time.Time

	// flush is closed once every event queued before it has been delivered
	flush chan struct{}
}

// Handler is a function that handles events
type Handler func(event Event)

type subscription struct {
	id      uint64
	handler Handler
}

// EventBus delivers published events to subscribers on a single goroutine,
// in publish order. Handlers must not block for long: they hold up every
// event queued behind them.
type EventBus struct {
	handlers map[string][]subscription
	nextID   uint64
	mutex    sync.RWMutex
	log      *logger.Logger
	buffer   chan Event
	done     chan struct{}
	stopped  chan struct{}
	closed   bool
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	bus := &EventBus{
		handlers: make(map[string][]subscription),
		log:      logger.WithComponent("event_bus"),
		buffer:   make(chan Event, 256),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	go bus.processEvents()

	return bus
}

// Subscribe adds a handler for a specific event type. "*" receives every
// event. The returned function removes exactly this handler.
func (eb *EventBus) Subscribe(eventType string, handler Handler) func() {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.handlers[eventType] = append(eb.handlers[eventType], subscription{id: id, handler: handler})
	eb.log.Debug("Handler %d subscribed to %s", id, eventType)

	var once sync.Once
	return func() {
		once.Do(func() { eb.unsubscribe(eventType, id) })
	}
}

func (eb *EventBus) unsubscribe(eventType string, id uint64) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subs := eb.handlers[eventType]
	for i, sub := range subs {
		if sub.id == id {
			eb.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
			eb.log.Debug("Handler %d unsubscribed from %s", id, eventType)
			return
		}
	}
}

// Publish queues an event for delivery. It blocks while the buffer is full
// rather than dropping, and is a no-op once the bus is closed.
func (eb *EventBus) Publish(eventType string, payload interface{}, source string) {
	eb.enqueue(Event{
		Type:      eventType,
		Payload:   payload,
		Source:    source,
		Timestamp: time.Now(),
	})
}

// Flush blocks until every event published before the call has been handled
func (eb *EventBus) Flush() {
	marker := Event{flush: make(chan struct{})}
	if !eb.enqueue(marker) {
		return
	}
	select {
	case <-marker.flush:
	case <-eb.stopped:
	}
}

func (eb *EventBus) enqueue(event Event) bool {
	eb.mutex.RLock()
	closed := eb.closed
	eb.mutex.RUnlock()

	if closed {
		eb.log.Debug("Bus closed, dropping %s event", event.Type)
		return false
	}

	select {
	case eb.buffer <- event:
		return true
	case <-eb.done:
		return false
	}
}

// processEvents runs in a goroutine and delivers events one at a time
func (eb *EventBus) processEvents() {
	defer close(eb.stopped)
	for {
		select {
		case event := <-eb.buffer:
			eb.dispatch(event)
		case <-eb.done:
			// drain what was accepted before Close
			for {
				select {
				case event := <-eb.buffer:
					eb.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (eb *EventBus) dispatch(event Event) {
	if event.flush != nil {
		close(event.flush)
		return
	}
	eb.deliverEvent(event)
}

// deliverEvent delivers an event to all registered handlers
func (eb *EventBus) deliverEvent(event Event) {
	eb.mutex.RLock()
	handlers := append([]subscription(nil), eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mutex.RUnlock()

	for _, sub := range handlers {
		eb.safeCall(sub, event)
	}
}

func (eb *EventBus) safeCall(sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.log.Error("Event handler %d panicked on %s: %v", sub.id, event.Type, r)
		}
	}()
	sub.handler(event)
}

// Close stops accepting events, delivers what is already queued and waits
// for the dispatch goroutine to exit.
func (eb *EventBus) Close() {
	eb.mutex.Lock()
	if eb.closed {
		eb.mutex.Unlock()
		<-eb.stopped
		return
	}
	eb.closed = true
	close(eb.done)
	eb.mutex.Unlock()

	<-eb.stopped
}

// EventStreamChunk carries one backend.Chunk
const EventStreamChunk = "stream_chunk"
