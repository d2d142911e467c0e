package playback

import (
	"errors"
	"testing"

	"github.com/splashworks/go-fin/pkg/audioio"
)

func TestWAVRoundTrip(t *testing.T) {
	pcm := audioio.SamplesToBytes([]int16{0, 1000, -1000, 32767, -32768})
	data := EncodeWAV(pcm, 24000, 1)

	item, err := ParseWAV(data)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if item.SampleRate != 24000 {
		t.Errorf("SampleRate = %d, want 24000", item.SampleRate)
	}
	if item.Channels != 1 {
		t.Errorf("Channels = %d, want 1", item.Channels)
	}
	if len(item.PCM) != len(pcm) {
		t.Fatalf("PCM length = %d, want %d", len(item.PCM), len(pcm))
	}
	for i := range pcm {
		if item.PCM[i] != pcm[i] {
			t.Fatalf("PCM byte %d differs", i)
		}
	}
}

func TestParseWAVRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrNotWAV},
		{"short", []byte("RIFF"), ErrNotWAV},
		{"wrong magic", []byte("OGGS----WAVE----------------------------------------"), ErrNotWAV},
		{"no data chunk", EncodeWAV(nil, 24000, 1)[:36], ErrNotWAV},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWAV(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("ParseWAV error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseWAVRejectsNonPCM16(t *testing.T) {
	// rewrite the bits-per-sample field to 8
	data := EncodeWAV(make([]byte, 16), 24000, 1)
	data[34] = 8
	data[35] = 0

	if _, err := ParseWAV(data); !errors.Is(err, ErrUnsupportedWAV) {
		t.Errorf("ParseWAV error = %v, want ErrUnsupportedWAV", err)
	}
}

func TestEncodeWAVStereo(t *testing.T) {
	pcm := audioio.SamplesToBytes(make([]int16, 96))
	data := EncodeWAV(pcm, 48000, 2)

	item, err := ParseWAV(data)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if item.SampleRate != 48000 || item.Channels != 2 {
		t.Errorf("got rate=%d channels=%d, want 48000/2", item.SampleRate, item.Channels)
	}
}
