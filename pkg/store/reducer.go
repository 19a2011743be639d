package store

import (
	"github.com/killallgit/converse/pkg/backend"
	"github.com/killallgit/converse/pkg/chat"
)

// streamSession accumulates one in-flight reply. Chunks are applied strictly
// in index order; early ones wait in pending until the gap closes.
type streamSession struct {
	id      backend.SessionID
	next    uint64
	pending map[uint64]backend.Chunk
}

func newStreamSession(id backend.SessionID) *streamSession {
	return &streamSession{
		id:      id,
		pending: make(map[uint64]backend.Chunk),
	}
}

// HandleChunk feeds one event from the channel into the reducer. Chunks for
// any session other than the open one are ignored, as are repeats.
func (s *Store) HandleChunk(chunk backend.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.session
	if session == nil || chunk.Session != session.id {
		s.log.Debug("Dropping chunk %d for inactive session %s", chunk.Index, chunk.Session)
		return
	}

	switch {
	case chunk.Index < session.next:
		s.log.Debug("Dropping duplicate chunk %d for %s", chunk.Index, session.id)
		return
	case chunk.Index > session.next:
		if _, parked := session.pending[chunk.Index]; !parked {
			session.pending[chunk.Index] = chunk
			s.log.Debug("Parking chunk %d for %s, waiting for %d", chunk.Index, session.id, session.next)
		}
		return
	}

	s.apply(session, chunk)
	for s.session == session {
		next, ok := session.pending[session.next]
		if !ok {
			break
		}
		delete(session.pending, session.next)
		s.apply(session, next)
	}

	s.notify()
}

func (s *Store) apply(session *streamSession, chunk backend.Chunk) {
	session.next++

	if chunk.Err != "" {
		s.onError(chunk.Err)
		return
	}

	// a done chunk only contributes its delta when it has one
	if chunk.Delta != "" || !chunk.Done {
		s.onDelta(chunk.Delta)
	}
	if chunk.Done {
		s.onDone()
	}
}

// onDelta ends the thinking phase even for an empty delta
func (s *Store) onDelta(text string) {
	s.state.StreamBuffer += text
	s.state.Thinking = false
}

func (s *Store) onDone() {
	content := s.state.StreamBuffer
	current := s.state.CurrentChat

	if content != "" && current != nil {
		assistant := chat.NewAssistantMessage(current.ID, content)
		s.state.Messages = append(s.state.Messages, assistant)
		s.state.StreamBuffer = ""

		if len(s.state.Messages) == 2 && current.HasDefaultTitle() {
			s.startTitle(current.ID, s.state.Messages, content)
		}
	}

	s.state.Sending = false
	s.state.Thinking = false
	s.log.Debug("Closed session %s", s.session.id)
	s.session = nil
}

// onError closes the exchange without committing anything
func (s *Store) onError(reason string) {
	s.log.Error("Generation failed for %s: %s", s.session.id, reason)
	s.state.Error = reason
	s.state.StreamBuffer = ""
	s.state.Sending = false
	s.state.Thinking = false
	s.session = nil
}
