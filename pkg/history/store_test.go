package history

import (
	"os"
	"testing"

	"github.com/splashworks/go-fin/pkg/audioio"
	"github.com/splashworks/go-fin/pkg/playback"
)

func pcmOf(v int16, n int) []byte {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = v
	}
	return audioio.SamplesToBytes(samples)
}

func firstSample(t *testing.T, path string) int16 {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	item, err := playback.ParseWAV(data)
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	samples := audioio.BytesToSamples(item.PCM)
	if len(samples) == 0 {
		t.Fatalf("%s has no samples", path)
	}
	return samples[0]
}

func TestSaveWritesPlayableWAV(t *testing.T) {
	s := New(t.TempDir(), 3, nil)

	if err := s.Save(pcmOf(42, 240)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if got := firstSample(t, s.Path(1)); got != 42 {
		t.Errorf("newest entry amplitude = %d, want 42", got)
	}
}

func TestRotationOrder(t *testing.T) {
	s := New(t.TempDir(), 3, nil)

	for _, v := range []int16{1, 2, 3, 4} {
		if err := s.Save(pcmOf(v, 240)); err != nil {
			t.Fatalf("Save(%d): %v", v, err)
		}
	}

	// newest first: 4, 3, 2; the first save fell off the end
	want := []int16{4, 3, 2}
	for i, v := range want {
		if got := firstSample(t, s.Path(i+1)); got != v {
			t.Errorf("response-%d amplitude = %d, want %d", i+1, got, v)
		}
	}
	if _, err := os.Stat(s.Path(4)); !os.IsNotExist(err) {
		t.Error("entry beyond keep limit should not exist")
	}
}

func TestSaveEmptyIsNoop(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 3, nil)

	if err := s.Save(nil); err != nil {
		t.Fatalf("Save(nil): %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("empty save created %d files", len(entries))
	}
}

func TestSaveUnwritableDirReturnsError(t *testing.T) {
	s := New("/proc/definitely-not-writable/history", 3, nil)
	if err := s.Save(pcmOf(1, 10)); err == nil {
		t.Error("Save into unwritable dir should error")
	}
}
