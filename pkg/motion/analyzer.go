// Package motion turns played-audio energy into movement commands.
// The analyzer is pure computation plus a callback; the motor transport
// behind Mover is someone else's problem.
package motion

import (
	"math"
	"sync"
	"time"
)

// Tunables for the energy envelope. Values picked by ear against real
// assistant speech at 24kHz.
const (
	// openThresholdDB opens the mouth gate; closeThresholdDB closes it.
	// The gap is hysteresis so the mouth doesn't chatter at the boundary.
	openThresholdDB  = -42.0
	closeThresholdDB = -50.0

	// loudFloorDB..loudCeilDB maps dBFS onto 0..1 flap intensity.
	loudFloorDB = -50.0
	loudCeilDB  = -14.0

	// attack/release are envelope smoothing coefficients per frame.
	attack  = 0.55
	release = 0.20
)

// Mover is the narrow boundary to the movement collaborator.
type Mover interface {
	// Flap drives the mouth with an intensity in 0..1 for dur.
	Flap(intensity float64, dur time.Duration)

	// TailMove performs the idle gesture.
	TailMove()
}

// NopMover discards all movement commands.
type NopMover struct{}

func (NopMover) Flap(float64, time.Duration) {}
func (NopMover) TailMove()                   {}

// Analyzer smooths frame energy into flap commands with gate hysteresis.
// Safe for use from the playback worker goroutine plus Reset callers.
type Analyzer struct {
	mover Mover

	mu   sync.Mutex
	open bool
	env  float64
}

// NewAnalyzer creates an analyzer driving the given mover.
func NewAnalyzer(mover Mover) *Analyzer {
	if mover == nil {
		mover = NopMover{}
	}
	return &Analyzer{mover: mover}
}

// OnEnergy consumes one frame's RMS amplitude (sample units, 0..32767)
// and issues a flap command. Wire this as the playback energy callback.
func (a *Analyzer) OnEnergy(rms float64, dur time.Duration) {
	db := dbfs(rms)

	a.mu.Lock()
	if a.open {
		if db < closeThresholdDB {
			a.open = false
		}
	} else {
		if db > openThresholdDB {
			a.open = true
		}
	}

	target := 0.0
	if a.open {
		target = clamp((db-loudFloorDB)/(loudCeilDB-loudFloorDB), 0, 1)
	}

	coeff := release
	if target > a.env {
		coeff = attack
	}
	a.env += coeff * (target - a.env)
	if a.env < 1e-3 {
		a.env = 0
	}
	env := a.env
	a.mu.Unlock()

	a.mover.Flap(env, dur)
}

// Feed consumes raw samples directly, for callers without a playback
// pipeline in front of them.
func (a *Analyzer) Feed(samples []int16, rate int) {
	if len(samples) == 0 || rate <= 0 {
		return
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	dur := time.Duration(float64(len(samples)) / float64(rate) * float64(time.Second))
	a.OnEnergy(rms, dur)
}

// Reset closes the gate and zeroes the envelope, e.g. after an interrupt.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	a.open = false
	a.env = 0
	a.mu.Unlock()

	a.mover.Flap(0, 0)
}

// dbfs converts an RMS amplitude in sample units to decibels full scale.
func dbfs(rms float64) float64 {
	if rms <= 0 {
		return -120
	}
	return 20 * math.Log10(rms/32767.0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
