package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/splashworks/go-fin/pkg/playback"
)

// DirLibrary resolves song names against WAV files in a directory.
// "Baby Shark" maps to baby-shark.wav; an optional baby-shark.energy.json
// sidecar (a JSON array of per-frame levels) becomes the item's energy
// track so motion follows the beat instead of raw loudness.
type DirLibrary struct {
	dir string
}

// NewDirLibrary creates a library rooted at dir.
func NewDirLibrary(dir string) *DirLibrary {
	return &DirLibrary{dir: dir}
}

// Lookup implements SongLibrary.
func (l *DirLibrary) Lookup(name string) (playback.Item, error) {
	slug := songSlug(name)
	if slug == "" {
		return playback.Item{}, fmt.Errorf("tools: unusable song name %q", name)
	}

	item, err := playback.LoadWAV(filepath.Join(l.dir, slug+".wav"))
	if err != nil {
		return playback.Item{}, err
	}

	if track, err := loadEnergyTrack(filepath.Join(l.dir, slug+".energy.json")); err == nil {
		item.Energy = track
	}
	return item, nil
}

// Songs lists the library contents as display names.
func (l *DirLibrary) Songs() []string {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wav") {
			continue
		}
		slug := strings.TrimSuffix(e.Name(), ".wav")
		out = append(out, strings.ReplaceAll(slug, "-", " "))
	}
	return out
}

func loadEnergyTrack(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var track []float64
	if err := json.Unmarshal(data, &track); err != nil {
		return nil, fmt.Errorf("tools: bad energy track %s: %w", path, err)
	}
	return track, nil
}

// songSlug normalizes a spoken song name to a filename stem.
func songSlug(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
