// Package home integrates the smart_home_command tool with a Home
// Assistant instance via its conversation API.
package home

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/splashworks/go-fin/internal/httpc"
)

// Config for the Home Assistant connection.
type Config struct {
	// BaseURL is the instance root, e.g. "http://homeassistant.local:8123".
	BaseURL string

	// Token is a long-lived access token.
	Token string

	// Timeout bounds one command round trip.
	Timeout time.Duration
}

// Client talks to Home Assistant's /api/conversation/process endpoint,
// which accepts plain-language commands.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a Home Assistant client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" || cfg.Token == "" {
		return nil, fmt.Errorf("home: base URL and token are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    httpc.NewClient(timeout),
		logger:  logger,
	}, nil
}

type processRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

type processResponse struct {
	Response struct {
		Speech struct {
			Plain struct {
				Speech string `json:"speech"`
			} `json:"plain"`
		} `json:"speech"`
	} `json:"response"`
}

// Execute implements tools.HomeController: it forwards the command and
// returns the assistant's spoken answer.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	body, err := json.Marshal(processRequest{Text: command})
	if err != nil {
		return "", fmt.Errorf("home: encode command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/conversation/process", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("home: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("home command", "text", command)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("home: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("home: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out processResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("home: decode response: %w", err)
	}

	answer := out.Response.Speech.Plain.Speech
	if answer == "" {
		answer = "done"
	}
	return answer, nil
}
