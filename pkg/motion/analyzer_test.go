package motion

import (
	"sync"
	"testing"
	"time"
)

type recordingMover struct {
	mu    sync.Mutex
	flaps []float64
	tails int
}

func (m *recordingMover) Flap(intensity float64, dur time.Duration) {
	m.mu.Lock()
	m.flaps = append(m.flaps, intensity)
	m.mu.Unlock()
}

func (m *recordingMover) TailMove() {
	m.mu.Lock()
	m.tails++
	m.mu.Unlock()
}

func (m *recordingMover) last() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.flaps) == 0 {
		return -1
	}
	return m.flaps[len(m.flaps)-1]
}

const frame = 50 * time.Millisecond

func TestSilenceKeepsMouthClosed(t *testing.T) {
	mover := &recordingMover{}
	a := NewAnalyzer(mover)

	for i := 0; i < 10; i++ {
		a.OnEnergy(0, frame)
	}

	mover.mu.Lock()
	defer mover.mu.Unlock()
	for i, f := range mover.flaps {
		if f != 0 {
			t.Fatalf("flap %d intensity = %v, want 0 for silence", i, f)
		}
	}
}

func TestLoudAudioOpensMouth(t *testing.T) {
	mover := &recordingMover{}
	a := NewAnalyzer(mover)

	// ~-24 dBFS, well above the open threshold
	for i := 0; i < 10; i++ {
		a.OnEnergy(2000, frame)
	}

	if got := mover.last(); got <= 0.1 {
		t.Errorf("sustained loud audio: intensity = %v, want > 0.1", got)
	}
}

func TestHysteresisHoldsGateOpen(t *testing.T) {
	mover := &recordingMover{}
	a := NewAnalyzer(mover)

	// open the gate
	a.OnEnergy(2000, frame)
	if got := mover.last(); got == 0 {
		t.Fatal("gate did not open on loud frame")
	}

	// ~-46 dBFS sits between close (-50) and open (-42): stays open
	a.OnEnergy(160, frame)
	if got := mover.last(); got < 0 {
		t.Fatal("no flap emitted")
	}

	gateOpen := func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.open
	}
	if !gateOpen() {
		t.Error("gate closed inside the hysteresis band")
	}

	// well below the close threshold: gate closes
	a.OnEnergy(10, frame)
	if gateOpen() {
		t.Error("gate stayed open below the close threshold")
	}
}

func TestEnvelopeDecaysAfterSpeech(t *testing.T) {
	mover := &recordingMover{}
	a := NewAnalyzer(mover)

	for i := 0; i < 5; i++ {
		a.OnEnergy(4000, frame)
	}
	peak := mover.last()
	if peak <= 0 {
		t.Fatalf("peak intensity = %v, want > 0", peak)
	}

	for i := 0; i < 40; i++ {
		a.OnEnergy(0, frame)
	}
	if got := mover.last(); got != 0 {
		t.Errorf("envelope after long silence = %v, want 0", got)
	}
}

func TestResetClosesImmediately(t *testing.T) {
	mover := &recordingMover{}
	a := NewAnalyzer(mover)

	for i := 0; i < 5; i++ {
		a.OnEnergy(4000, frame)
	}
	a.Reset()

	if got := mover.last(); got != 0 {
		t.Errorf("intensity after Reset = %v, want 0", got)
	}
}

func TestFeedMatchesOnEnergy(t *testing.T) {
	mover := &recordingMover{}
	a := NewAnalyzer(mover)

	// constant-amplitude samples: RMS equals the amplitude
	samples := make([]int16, 2400)
	for i := range samples {
		samples[i] = 4000
	}
	for i := 0; i < 5; i++ {
		a.Feed(samples, 24000)
	}

	if got := mover.last(); got <= 0.1 {
		t.Errorf("Feed with loud samples: intensity = %v, want > 0.1", got)
	}

	// empty input must not emit
	n := len(mover.flaps)
	a.Feed(nil, 24000)
	if len(mover.flaps) != n {
		t.Error("Feed(nil) emitted a flap")
	}
}

func TestNopMoverDefault(t *testing.T) {
	a := NewAnalyzer(nil)
	// must not panic
	a.OnEnergy(1000, frame)
	a.Reset()
}
