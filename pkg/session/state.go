package session

// State is the turn state machine position.
type State int32

const (
	// StateIdle: no connection, nothing playing.
	StateIdle State = iota
	// StateConnecting: dialing and configuring the remote session.
	StateConnecting
	// StateListening: mic open, waiting for the user.
	StateListening
	// StateAssistantSpeaking: response audio streaming to playback.
	StateAssistantSpeaking
	// StateToolExchange: a tool call is being executed.
	StateToolExchange
	// StateTurnEnding: response done, draining playback and deciding
	// whether to listen again.
	StateTurnEnding
	// StateClosed: terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateAssistantSpeaking:
		return "speaking"
	case StateToolExchange:
		return "tool_exchange"
	case StateTurnEnding:
		return "turn_ending"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
