// Package config holds runtime configuration for the fin device process.
// Flag parsing is done in cmd/fin; this struct is data only.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Default configuration values.
const (
	DefaultModel   = "gpt-realtime-mini"
	DefaultBaseURL = "wss://api.openai.com/v1/realtime"
	DefaultVoice   = "ash"
)

// Follow-up policies.
const (
	FollowUpAuto   = "auto"
	FollowUpNever  = "never"
	FollowUpAlways = "always"
)

// Kickoff kinds.
const (
	KickoffLiteral = "literal"
	KickoffPrompt  = "prompt"
	KickoffRaw     = "raw"
)

// Config holds all configuration for the fin application.
type Config struct {
	// Debug enables verbose debug logging.
	Debug bool

	// API access.
	APIKey  string
	Model   string
	BaseURL string
	Voice   string

	// Instructions is the persona system prompt sent on session setup.
	Instructions string

	// TurnEagerness tunes server-side turn detection: "low", "medium", "high".
	TurnEagerness string

	// Device preferences. Empty means system default.
	MicDevice     string
	SpeakerDevice string

	// SilenceThreshold is the RMS level below which mic frames do not count
	// as user activity.
	SilenceThreshold float64

	// ChunkDuration is the mic frame size forwarded upstream.
	ChunkDuration time.Duration

	// Idle watchdog tuning.
	IdleTimeout       time.Duration
	IdleTimeoutOffset time.Duration
	WatchdogInterval  time.Duration

	// Mic recovery tuning.
	MicRetryDelays      []time.Duration
	PostPlaybackDelay   time.Duration
	PostPlaybackRetries int

	// CloseTimeout bounds the websocket close handshake on shutdown.
	CloseTimeout time.Duration

	// Conversation flow.
	AutoFollowUp         string
	OneShot              bool
	Kickoff              string
	KickoffKind          string
	KickoffToInteractive bool

	// Filesystem layout.
	SoundsDir   string
	HistoryDir  string
	HistoryKeep int

	// Smart home integration. Empty URL disables it.
	HomeAssistantURL   string
	HomeAssistantToken string
}

// Default returns sensible defaults for fin configuration.
func Default() Config {
	return Config{
		Model:               DefaultModel,
		BaseURL:             DefaultBaseURL,
		Voice:               DefaultVoice,
		TurnEagerness:       "low",
		SilenceThreshold:    2000,
		ChunkDuration:       50 * time.Millisecond,
		IdleTimeout:         5 * time.Second,
		IdleTimeoutOffset:   2 * time.Second,
		WatchdogInterval:    500 * time.Millisecond,
		MicRetryDelays:      []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second},
		PostPlaybackDelay:   600 * time.Millisecond,
		PostPlaybackRetries: 3,
		CloseTimeout:        2 * time.Second,
		AutoFollowUp:        FollowUpAuto,
		KickoffKind:         KickoffLiteral,
		SoundsDir:           "sounds",
		HistoryDir:          "history",
		HistoryKeep:         3,
	}
}

// LoadEnv loads configuration values from a .env file (if present) and the
// process environment. Call this after flag parsing so flags win only where
// the environment is unset.
func (c *Config) LoadEnv() {
	_ = godotenv.Load()

	c.APIKey = os.Getenv("OPENAI_API_KEY")
	if m := os.Getenv("OPENAI_MODEL"); m != "" {
		c.Model = m
	}
	if u := os.Getenv("OPENAI_REALTIME_URL"); u != "" {
		c.BaseURL = u
	}
	if v := os.Getenv("FIN_VOICE"); v != "" {
		c.Voice = v
	}
	if e := os.Getenv("TURN_EAGERNESS"); e != "" {
		c.TurnEagerness = e
	}
	if d := os.Getenv("MIC_DEVICE"); d != "" {
		c.MicDevice = d
	}
	if d := os.Getenv("SPEAKER_DEVICE"); d != "" {
		c.SpeakerDevice = d
	}
	if s := os.Getenv("SILENCE_THRESHOLD"); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			c.SilenceThreshold = v
		}
	}
	if s := os.Getenv("MIC_TIMEOUT_SECONDS"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			c.IdleTimeout = time.Duration(v) * time.Second
		}
	}
	if m := os.Getenv("RUN_MODE"); m == "oneshot" {
		c.OneShot = true
	}
	c.HomeAssistantURL = os.Getenv("HOME_ASSISTANT_URL")
	c.HomeAssistantToken = os.Getenv("HOME_ASSISTANT_TOKEN")
}

// Validate checks that required configuration is present and enums are sane.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return &ConfigError{Field: "APIKey", Message: "OPENAI_API_KEY environment variable is required"}
	}
	switch c.AutoFollowUp {
	case FollowUpAuto, FollowUpNever, FollowUpAlways:
	default:
		return &ConfigError{Field: "AutoFollowUp", Message: "autofollowup must be auto, never or always"}
	}
	switch c.KickoffKind {
	case KickoffLiteral, KickoffPrompt, KickoffRaw:
	default:
		return &ConfigError{Field: "KickoffKind", Message: "kickoff kind must be literal, prompt or raw"}
	}
	switch c.TurnEagerness {
	case "low", "medium", "high":
	default:
		return &ConfigError{Field: "TurnEagerness", Message: "turn eagerness must be low, medium or high"}
	}
	if c.HistoryKeep < 1 {
		return &ConfigError{Field: "HistoryKeep", Message: "history keep must be at least 1"}
	}
	if len(c.MicRetryDelays) == 0 {
		return &ConfigError{Field: "MicRetryDelays", Message: "at least one mic retry delay is required"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
