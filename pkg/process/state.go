package process

// State represents the phase of the exchange currently in flight
type State string

const (
	// StateIdle indicates no active exchange
	StateIdle State = ""

	// StateSending indicates the message was dispatched and no reply text has arrived
	StateSending State = "sending"

	// StateThinking indicates extended thinking is running before the first delta
	StateThinking State = "thinking"

	// StateStreaming indicates reply text is arriving
	StateStreaming State = "streaming"
)

// Derive maps the store flags onto a phase. thinking wins over a
// non-empty buffer, which never happens in practice since the first
// delta clears thinking.
func Derive(sending, thinking bool, buffered int) State {
	switch {
	case !sending:
		return StateIdle
	case thinking:
		return StateThinking
	case buffered > 0:
		return StateStreaming
	default:
		return StateSending
	}
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsActive reports whether an exchange is in flight
func (s State) IsActive() bool {
	return s != StateIdle
}

// GetIcon returns the appropriate icon for a given process state
func (s State) GetIcon() string {
	switch s {
	case StateSending:
		return "↑"
	case StateStreaming:
		return "↓"
	case StateThinking:
		return "🤔"
	default:
		return ""
	}
}

// GetDisplayName returns a human-readable name for the state
func (s State) GetDisplayName() string {
	switch s {
	case StateSending:
		return "Sending"
	case StateStreaming:
		return "Streaming"
	case StateThinking:
		return "Thinking"
	case StateIdle:
		return "Idle"
	default:
		return ""
	}
}
