package session

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/splashworks/go-fin/pkg/playback"
	"github.com/splashworks/go-fin/pkg/realtime"
)

// Fallback clip keys.
const (
	ClipError    = "error"
	ClipNoWiFi   = "nowifi"
	ClipNoAPIKey = "noapikey"
)

// classifyClip maps a failure to the fallback clip the device plays.
func classifyClip(err error) string {
	switch {
	case realtime.IsAuthError(err):
		return ClipNoAPIKey
	case realtime.IsNetworkError(err):
		return ClipNoWiFi
	default:
		return ClipError
	}
}

// ClipPlayer plays a named fallback clip, best-effort.
type ClipPlayer interface {
	PlayClip(ctx context.Context, key string)
}

// SoundBank plays clips from <dir>/<key>.wav through the playback
// pipeline. Missing or broken files log a warning and nothing plays.
type SoundBank struct {
	dir    string
	player Player
	logger *slog.Logger
}

// NewSoundBank creates a sound bank rooted at dir.
func NewSoundBank(dir string, player Player, logger *slog.Logger) *SoundBank {
	if logger == nil {
		logger = slog.Default()
	}
	return &SoundBank{dir: dir, player: player, logger: logger}
}

// PlayClip enqueues the clip and waits for it to finish.
func (b *SoundBank) PlayClip(ctx context.Context, key string) {
	path := filepath.Join(b.dir, key+".wav")
	item, err := playback.LoadWAV(path)
	if err != nil {
		b.logger.Warn("fallback clip unavailable", "clip", key, "error", err)
		return
	}
	if err := b.player.Enqueue(item); err != nil {
		b.logger.Warn("fallback clip enqueue failed", "clip", key, "error", err)
		return
	}
	if err := b.player.WaitUntilDrained(ctx); err != nil {
		b.logger.Debug("fallback clip wait interrupted", "clip", key, "error", err)
	}
}

// NopClips discards clip requests.
type NopClips struct{}

func (NopClips) PlayClip(context.Context, string) {}
