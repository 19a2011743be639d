package events

import (
	"github.com/killallgit/converse/pkg/backend"
)

// ChunkChannel carries stream chunks over the bus on the stream_chunk topic.
// It is the event surface the store subscribes to and the service emits on.
type ChunkChannel struct {
	bus    *EventBus
	source string
}

var _ backend.Events = (*ChunkChannel)(nil)

func NewChunkChannel(bus *EventBus, source string) *ChunkChannel {
	return &ChunkChannel{bus: bus, source: source}
}

// Emit publishes one chunk. Chunks emitted from one goroutine reach
// subscribers in the same order.
func (c *ChunkChannel) Emit(chunk backend.Chunk) {
	c.bus.Publish(EventStreamChunk, chunk, c.source)
}

func (c *ChunkChannel) Subscribe(handler func(backend.Chunk)) func() {
	return c.bus.Subscribe(EventStreamChunk, func(event Event) {
		chunk, ok := event.Payload.(backend.Chunk)
		if !ok {
			c.bus.log.Warn("Unexpected %T payload on %s", event.Payload, EventStreamChunk)
			return
		}
		handler(chunk)
	})
}

// Flush waits until every chunk emitted so far has been handled
func (c *ChunkChannel) Flush() {
	c.bus.Flush()
}
