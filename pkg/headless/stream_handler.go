package headless

import (
	"github.com/killallgit/converse/pkg/chat"
	"github.com/killallgit/converse/pkg/process"
	"github.com/killallgit/converse/pkg/store"
)

// streamHandler follows store snapshots for one exchange. It prints the
// part of the reply not yet printed and signals done once the exchange
// closes. It runs as a store listener, so it must not call into the store.
type streamHandler struct {
	output  *Output
	printed int
	active  bool
	phase   process.State
	done    chan string
}

func newStreamHandler(output *Output) *streamHandler {
	return &streamHandler{
		output: output,
		done:   make(chan string, 1),
	}
}

// OnChange receives every snapshot
func (h *streamHandler) OnChange(state store.State) {
	if state.Sending {
		h.active = true
	}
	if !h.active {
		return
	}

	if phase := state.Phase(); phase != h.phase {
		h.phase = phase
		if phase != process.StateStreaming {
			h.output.Phase(phase)
		}
	}

	if state.Sending {
		h.flush(state.StreamBuffer)
		return
	}

	// closed: the buffer was committed, so print what the commit added
	if n := len(state.Messages); state.Error == "" && n > 0 && state.Messages[n-1].Role == chat.RoleAssistant {
		h.flush(state.Messages[n-1].Content)
	}
	h.active = false
	select {
	case h.done <- state.Error:
	default:
	}
}

func (h *streamHandler) flush(text string) {
	if len(text) <= h.printed {
		return
	}
	h.output.Text(text[h.printed:])
	h.printed = len(text)
}

// Done yields the error text of the finished exchange, empty on success
func (h *streamHandler) Done() <-chan string {
	return h.done
}
