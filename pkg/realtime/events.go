package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Transcript stream discriminators. A response carries its transcript on
// exactly one of these; the session keeps the first one it sees.
const (
	StreamAudio = "audio"
	StreamText  = "text"
)

// ServerEvent is a parsed event from the remote endpoint.
type ServerEvent interface {
	isServerEvent()
}

// ResponseCreated signals the start of a new model response.
type ResponseCreated struct {
	ResponseID string
}

// AudioDelta carries a decoded PCM16 audio fragment.
type AudioDelta struct {
	Audio []byte
}

// TranscriptDelta carries an incremental transcript fragment.
type TranscriptDelta struct {
	Stream string // StreamAudio or StreamText
	Text   string
}

// TranscriptDone carries the final transcript of a stream.
type TranscriptDone struct {
	Stream string
	Text   string
}

// ToolArgsDelta carries an incremental tool-call argument fragment.
type ToolArgsDelta struct {
	CallID string
	Name   string
	Delta  string
}

// ToolArgsDone signals a complete tool call.
type ToolArgsDone struct {
	CallID    string
	Name      string
	Arguments string
}

// ResponseDone signals the end of a model response.
type ResponseDone struct {
	Status       string
	ErrorCode    string
	ErrorMessage string
}

// SpeechStarted signals server-side VAD detected the user speaking.
type SpeechStarted struct{}

// SpeechStopped signals server-side VAD detected the user stopped.
type SpeechStopped struct{}

// Committed signals the input audio buffer was committed as a user turn.
type Committed struct{}

// ServerError is an error event from the remote endpoint.
type ServerError struct {
	Code    string
	Message string
}

// Unknown is any event type the client does not handle. Callers skip it.
type Unknown struct {
	Type string
}

func (ResponseCreated) isServerEvent() {}
func (AudioDelta) isServerEvent()      {}
func (TranscriptDelta) isServerEvent() {}
func (TranscriptDone) isServerEvent()  {}
func (ToolArgsDelta) isServerEvent()   {}
func (ToolArgsDone) isServerEvent()    {}
func (ResponseDone) isServerEvent()    {}
func (SpeechStarted) isServerEvent()   {}
func (SpeechStopped) isServerEvent()   {}
func (Committed) isServerEvent()       {}
func (ServerError) isServerEvent()     {}
func (Unknown) isServerEvent()         {}

// wireEvent is the superset envelope of inbound event fields.
type wireEvent struct {
	Type       string        `json:"type"`
	Delta      string        `json:"delta"`
	Transcript string        `json:"transcript"`
	Text       string        `json:"text"`
	CallID     string        `json:"call_id"`
	Name       string        `json:"name"`
	Arguments  string        `json:"arguments"`
	Response   *wireResponse `json:"response"`
	Error      *wireError    `json:"error"`
}

type wireResponse struct {
	ID            string             `json:"id"`
	Status        string             `json:"status"`
	StatusDetails *wireStatusDetails `json:"status_details"`
}

type wireStatusDetails struct {
	Type  string     `json:"type"`
	Error *wireError `json:"error"`
}

type wireError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseServerEvent decodes a raw websocket payload into a typed event.
// Unhandled event types decode to Unknown rather than an error.
func ParseServerEvent(data []byte) (ServerEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("realtime: malformed event: %w", err)
	}

	switch w.Type {
	case "response.created":
		ev := ResponseCreated{}
		if w.Response != nil {
			ev.ResponseID = w.Response.ID
		}
		return ev, nil

	case "response.audio.delta", "response.output_audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(w.Delta)
		if err != nil {
			return nil, fmt.Errorf("realtime: bad audio delta: %w", err)
		}
		return AudioDelta{Audio: pcm}, nil

	case "response.audio_transcript.delta", "response.output_audio_transcript.delta":
		return TranscriptDelta{Stream: StreamAudio, Text: w.Delta}, nil

	case "response.text.delta", "response.output_text.delta":
		return TranscriptDelta{Stream: StreamText, Text: w.Delta}, nil

	case "response.audio_transcript.done", "response.output_audio_transcript.done":
		return TranscriptDone{Stream: StreamAudio, Text: w.Transcript}, nil

	case "response.text.done", "response.output_text.done":
		return TranscriptDone{Stream: StreamText, Text: w.Text}, nil

	case "response.function_call_arguments.delta":
		return ToolArgsDelta{CallID: w.CallID, Name: w.Name, Delta: w.Delta}, nil

	case "response.function_call_arguments.done":
		return ToolArgsDone{CallID: w.CallID, Name: w.Name, Arguments: w.Arguments}, nil

	case "response.done":
		ev := ResponseDone{}
		if w.Response != nil {
			ev.Status = w.Response.Status
			if sd := w.Response.StatusDetails; sd != nil && sd.Error != nil {
				ev.ErrorCode = sd.Error.Code
				ev.ErrorMessage = sd.Error.Message
			}
		}
		return ev, nil

	case "input_audio_buffer.speech_started":
		return SpeechStarted{}, nil

	case "input_audio_buffer.speech_stopped":
		return SpeechStopped{}, nil

	case "input_audio_buffer.committed":
		return Committed{}, nil

	case "error":
		ev := ServerError{}
		if w.Error != nil {
			ev.Code = w.Error.Code
			ev.Message = w.Error.Message
		}
		return ev, nil

	default:
		return Unknown{Type: w.Type}, nil
	}
}

// ToolSchema describes a tool offered to the model in session setup.
type ToolSchema struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// SessionConfig is the session.update payload.
type SessionConfig struct {
	Model         string
	Instructions  string
	Voice         string
	TurnEagerness string // "low", "medium", "high"
	Tools         []ToolSchema
}

// MarshalJSON renders the session.update wire shape.
func (c SessionConfig) MarshalJSON() ([]byte, error) {
	format := map[string]any{"type": "audio/pcm", "rate": 24000}
	session := map[string]any{
		"type":              "realtime",
		"model":             c.Model,
		"instructions":      c.Instructions,
		"output_modalities": []string{"audio"},
		"audio": map[string]any{
			"input": map[string]any{
				"format": format,
				"turn_detection": map[string]any{
					"type":               "semantic_vad",
					"eagerness":          c.TurnEagerness,
					"create_response":    true,
					"interrupt_response": true,
				},
			},
			"output": map[string]any{
				"format": format,
				"voice":  c.Voice,
			},
		},
	}
	if len(c.Tools) > 0 {
		session["tools"] = c.Tools
	}
	return json.Marshal(map[string]any{
		"type":     "session.update",
		"event_id": newEventID(),
		"session":  session,
	})
}

// clientEvent builds small outbound payloads that need no dedicated type.
func clientEvent(typ string, fields map[string]any) map[string]any {
	ev := map[string]any{
		"type":     typ,
		"event_id": newEventID(),
	}
	for k, v := range fields {
		ev[k] = v
	}
	return ev
}

func newEventID() string {
	return "evt_" + uuid.NewString()
}
