// Package history keeps a small rotating archive of assistant turn audio
// on disk, for debugging what the device actually said.
package history

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/splashworks/go-fin/pkg/playback"
)

// Store rotates response-1.wav .. response-N.wav in Dir, newest first.
type Store struct {
	dir        string
	keep       int
	sampleRate int
	channels   int
	logger     *slog.Logger
}

// New creates a store keeping the last keep turns under dir.
func New(dir string, keep int, logger *slog.Logger) *Store {
	if keep < 1 {
		keep = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:        dir,
		keep:       keep,
		sampleRate: 24000,
		channels:   1,
		logger:     logger,
	}
}

// Save rotates the archive and writes pcm as the newest entry.
// Failures are logged and returned but must never disturb the session.
func (s *Store) Save(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.logger.Warn("history dir create failed", "dir", s.dir, "error", err)
		return err
	}

	// shift older entries up: N-1 -> N, ..., 1 -> 2
	for i := s.keep - 1; i >= 1; i-- {
		from := s.path(i)
		to := s.path(i + 1)
		if _, err := os.Stat(from); err == nil {
			if err := os.Rename(from, to); err != nil {
				s.logger.Warn("history rotate failed", "from", from, "to", to, "error", err)
			}
		}
	}

	data := playback.EncodeWAV(pcm, s.sampleRate, s.channels)
	path := s.path(1)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.logger.Warn("history write failed", "path", path, "error", err)
		return err
	}

	s.logger.Debug("saved turn audio", "path", path, "bytes", len(pcm))
	return nil
}

// Path returns the on-disk location of the nth newest entry (1-based).
func (s *Store) Path(n int) string {
	return s.path(n)
}

func (s *Store) path(n int) string {
	return filepath.Join(s.dir, fmt.Sprintf("response-%d.wav", n))
}
