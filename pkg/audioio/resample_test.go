package audioio

import (
	"math"
	"testing"
)

func TestResample_SameRate(t *testing.T) {
	samples := []int16{100, 200, 300, 400, 500}
	result := Resample(samples, 24000, 24000)

	if len(result) != len(samples) {
		t.Fatalf("got %d samples, want %d", len(result), len(samples))
	}
	for i, s := range samples {
		if result[i] != s {
			t.Errorf("sample %d: got %d, want %d", i, result[i], s)
		}
	}
}

func TestResample_Ratios(t *testing.T) {
	tests := []struct {
		name     string
		fromRate int
		toRate   int
		inLen    int
		wantLen  int
	}{
		{"48k to 24k", 48000, 24000, 960, 480},
		{"16k to 24k", 16000, 24000, 320, 480},
		{"44.1k to 24k", 44100, 24000, 882, 480},
		{"24k to 48k", 24000, 48000, 480, 960},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := make([]int16, tt.inLen)
			for i := range samples {
				samples[i] = int16(i)
			}
			result := Resample(samples, tt.fromRate, tt.toRate)
			if len(result) != tt.wantLen {
				t.Errorf("got %d samples, want %d", len(result), tt.wantLen)
			}
		})
	}
}

func TestResample_Empty(t *testing.T) {
	if got := Resample(nil, 24000, 48000); len(got) != 0 {
		t.Error("nil input should resample to empty")
	}
	if got := Resample([]int16{}, 24000, 48000); len(got) != 0 {
		t.Error("empty input should resample to empty")
	}
}

func TestResample_PreservesEndpoint(t *testing.T) {
	samples := []int16{0, 1000, 2000, 3000}
	result := Resample(samples, 48000, 24000)
	if len(result) == 0 {
		t.Fatal("empty result")
	}
	if result[0] != samples[0] {
		t.Errorf("first sample: got %d, want %d", result[0], samples[0])
	}
}

func TestStereoToMono(t *testing.T) {
	stereo := []int16{100, 200, -100, -200, 0, 1000}
	mono := StereoToMono(stereo)

	want := []int16{150, -150, 500}
	if len(mono) != len(want) {
		t.Fatalf("got %d samples, want %d", len(mono), len(want))
	}
	for i := range want {
		if mono[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, mono[i], want[i])
		}
	}
}

func TestMonoToStereo(t *testing.T) {
	mono := []int16{5, -5}
	stereo := MonoToStereo(mono)

	want := []int16{5, 5, -5, -5}
	if len(stereo) != len(want) {
		t.Fatalf("got %d samples, want %d", len(stereo), len(want))
	}
	for i := range want {
		if stereo[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, stereo[i], want[i])
		}
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := RMS([]int16{0, 0, 0}); got != 0 {
		t.Errorf("RMS(silence) = %v, want 0", got)
	}

	// constant amplitude: RMS equals the amplitude
	got := RMS([]int16{2000, -2000, 2000, -2000})
	if math.Abs(got-2000) > 0.001 {
		t.Errorf("RMS = %v, want 2000", got)
	}
}

func TestBytesSamplesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	got := BytesToSamples(SamplesToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("got %d samples, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], samples[i])
		}
	}
}
