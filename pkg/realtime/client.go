// Package realtime implements the duplex speech-to-speech protocol client:
// a websocket carrying base64 PCM16 audio both ways plus typed JSON events
// for transcripts, tool calls and turn boundaries.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout  = 10 * time.Second
	keepaliveInterval = 30 * time.Second
	readDeadline      = 120 * time.Second
)

// Client manages the websocket connection to the realtime endpoint.
// Reads are single-consumer via ReadEvent; writes are serialized
// internally and safe from any goroutine.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	logger  *slog.Logger

	ws   *websocket.Conn
	wsMu sync.Mutex // guards all writes to ws

	mu        sync.Mutex
	connected bool
	closed    bool
	stopPing  chan struct{}
}

// NewClient creates a client for the given endpoint and model.
func NewClient(apiKey, baseURL, model string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		logger:  logger,
	}
}

// Dial establishes the websocket connection.
func (c *Client) Dial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return ErrAlreadyConnected
	}
	if c.closed {
		return ErrClosed
	}

	url := fmt.Sprintf("%s?model=%s", c.baseURL, c.model)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.apiKey)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return &ConnError{Reason: "dial failed", Cause: err, Status: status}
	}

	ws.SetReadDeadline(time.Now().Add(readDeadline))
	ws.SetPingHandler(func(appData string) error {
		c.wsMu.Lock()
		defer c.wsMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	c.ws = ws
	c.connected = true
	c.stopPing = make(chan struct{})
	go c.keepAlive(c.stopPing)

	c.logger.Info("realtime connected", "model", c.model)
	return nil
}

// keepAlive pings periodically so idle sessions survive proxies.
func (c *Client) keepAlive(stop chan struct{}) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.wsMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.wsMu.Unlock()
			if err != nil {
				c.logger.Debug("keepalive ping failed", "error", err)
				return
			}
		}
	}
}

// ReadEvent blocks for the next server event. It returns ErrClosed after
// Close, and a ConnError when the connection drops.
func (c *Client) ReadEvent() (ServerEvent, error) {
	c.mu.Lock()
	ws := c.ws
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return nil, ErrNotConnected
	}

	_, data, err := ws.ReadMessage()
	if err != nil {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		return nil, &ConnError{Reason: "read failed", Cause: err}
	}
	ws.SetReadDeadline(time.Now().Add(readDeadline))

	return ParseServerEvent(data)
}

// sendJSON marshals and writes one event under the write lock.
func (c *Client) sendJSON(v any) error {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal event: %w", err)
	}

	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return &ConnError{Reason: "write failed", Cause: err}
	}
	return nil
}

// SendSessionConfig sends session.update with instructions, audio formats,
// turn detection and tool schemas.
func (c *Client) SendSessionConfig(cfg SessionConfig) error {
	return c.sendJSON(cfg)
}

// SendUserMessage creates a user-role text item in the conversation.
func (c *Client) SendUserMessage(text string) error {
	return c.sendJSON(clientEvent("conversation.item.create", map[string]any{
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	}))
}

// SendRawItem creates a conversation item from a caller-supplied payload.
func (c *Client) SendRawItem(item json.RawMessage) error {
	return c.sendJSON(clientEvent("conversation.item.create", map[string]any{
		"item": item,
	}))
}

// SendFunctionResult returns a tool call's output, tagged with its call id.
func (c *Client) SendFunctionResult(callID, output string) error {
	return c.sendJSON(clientEvent("conversation.item.create", map[string]any{
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	}))
}

// CreateResponse asks the model to respond. Instructions may be empty;
// when set they steer only this response.
func (c *Client) CreateResponse(instructions string) error {
	fields := map[string]any{}
	if instructions != "" {
		fields["response"] = map[string]any{"instructions": instructions}
	}
	return c.sendJSON(clientEvent("response.create", fields))
}

// SendAudio appends raw PCM16 bytes to the input audio buffer.
func (c *Client) SendAudio(pcm []byte) error {
	return c.sendJSON(clientEvent("input_audio_buffer.append", map[string]any{
		"audio": base64.StdEncoding.EncodeToString(pcm),
	}))
}

// CommitAudio commits the input buffer as a user turn.
func (c *Client) CommitAudio() error {
	return c.sendJSON(clientEvent("input_audio_buffer.commit", nil))
}

// ClearAudio discards the uncommitted input buffer.
func (c *Client) ClearAudio() error {
	return c.sendJSON(clientEvent("input_audio_buffer.clear", nil))
}

// Connected reports whether the client holds a live connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

// Close performs a close handshake bounded by timeout, then tears down
// the socket. Safe to call more than once.
func (c *Client) Close(timeout time.Duration) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	connected := c.connected
	c.connected = false
	ws := c.ws
	stopPing := c.stopPing
	c.mu.Unlock()

	if !connected {
		return nil
	}
	close(stopPing)

	c.wsMu.Lock()
	deadline := time.Now().Add(timeout)
	err := ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.wsMu.Unlock()
	if err != nil {
		c.logger.Debug("close frame write failed", "error", err)
	}

	// Bound the peer's close response; the reader sees ErrClosed either way.
	ws.SetReadDeadline(deadline)
	return ws.Close()
}
