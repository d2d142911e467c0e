// Package mic owns the microphone lifecycle: opening the capture device
// with a default-device fallback, forwarding frames to the session, and
// recovering from failures with bounded retries.
package mic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/splashworks/go-fin/pkg/audioio"
)

// ErrRetriesExhausted is returned when every recovery attempt failed.
// The caller stays alive without mic input.
var ErrRetriesExhausted = errors.New("mic: retries exhausted")

// FrameFunc receives each captured frame as PCM16 bytes at the target
// rate, along with its RMS amplitude. Called from a single goroutine.
type FrameFunc func(pcm []byte, rms float64)

// Opener creates a capture source for the named device. Empty name means
// the system default. The coordinator calls it afresh for every attempt
// so a wedged device handle is never reused.
type Opener func(device string) (audioio.Source, error)

// ResetFunc is a best-effort audio subsystem reset, tried between retry
// attempts when the device looks busy.
type ResetFunc func(ctx context.Context) error

// Config tunes the coordinator.
type Config struct {
	// Device is the preferred capture device name (substring match).
	Device string

	// TargetRate is the sample rate frames are resampled to before
	// being handed to the FrameFunc.
	TargetRate int

	// RetryDelays are the waits between StartWithRetry attempts.
	RetryDelays []time.Duration

	// PostPlaybackDelay and PostPlaybackRetries tune StartAfterPlayback.
	PostPlaybackDelay   time.Duration
	PostPlaybackRetries int
}

// DefaultConfig returns the standard recovery tuning.
func DefaultConfig() Config {
	return Config{
		TargetRate:          24000,
		RetryDelays:         []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second},
		PostPlaybackDelay:   600 * time.Millisecond,
		PostPlaybackRetries: 3,
	}
}

// Coordinator manages one microphone.
type Coordinator struct {
	cfg     Config
	opener  Opener
	onFrame FrameFunc
	reset   ResetFunc
	logger  *slog.Logger

	mu      sync.Mutex
	src     audioio.Source
	running bool
	done    chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithReset installs the audio subsystem reset hook.
func WithReset(fn ResetFunc) Option {
	return func(c *Coordinator) { c.reset = fn }
}

// New creates a coordinator. onFrame must not be nil.
func New(cfg Config, opener Opener, onFrame FrameFunc, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TargetRate == 0 {
		cfg.TargetRate = 24000
	}
	c := &Coordinator{
		cfg:     cfg,
		opener:  opener,
		onFrame: onFrame,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start opens the preferred device, falling back once to the system
// default. If both fail, the preferred device's error is returned.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	src, err := c.open(ctx)
	if err != nil {
		return err
	}

	c.src = src
	c.running = true
	c.done = make(chan struct{})
	go c.forward(src, c.done)

	c.logger.Info("mic started", "backend", src.Name(), "device", c.cfg.Device)
	return nil
}

// open creates and starts a source, with the one-shot default fallback.
func (c *Coordinator) open(ctx context.Context) (audioio.Source, error) {
	src, err := c.tryOpen(ctx, c.cfg.Device)
	if err == nil {
		return src, nil
	}
	if c.cfg.Device == "" {
		return nil, err
	}

	c.logger.Warn("preferred mic failed, trying default device", "device", c.cfg.Device, "error", err)
	fallback, fbErr := c.tryOpen(ctx, "")
	if fbErr != nil {
		// report the original failure, not the fallback's
		return nil, err
	}
	return fallback, nil
}

func (c *Coordinator) tryOpen(ctx context.Context, device string) (audioio.Source, error) {
	src, err := c.opener(device)
	if err != nil {
		return nil, fmt.Errorf("mic: open %q: %w", device, err)
	}
	if err := src.Start(ctx); err != nil {
		src.Close()
		return nil, fmt.Errorf("mic: start %q: %w", device, err)
	}
	return src, nil
}

// forward is the single producer feeding frames to the session.
func (c *Coordinator) forward(src audioio.Source, done chan struct{}) {
	defer close(done)

	for chunk := range src.Stream() {
		samples := chunk.Samples
		if chunk.Channels > 1 {
			samples = audioio.StereoToMono(samples)
		}
		if chunk.SampleRate != c.cfg.TargetRate {
			samples = audioio.Resample(samples, chunk.SampleRate, c.cfg.TargetRate)
		}
		c.onFrame(audioio.SamplesToBytes(samples), audioio.RMS(samples))
	}
}

// Stop halts capture and releases the device. Idempotent.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	src := c.src
	c.src = nil
	done := c.done
	c.mu.Unlock()

	src.Stop()
	src.Close()
	<-done
	c.logger.Info("mic stopped")
}

// Running reports whether the mic is capturing.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// StartWithRetry opens the mic, retrying with the configured delays.
// The device stack is recreated from scratch on every attempt. When a
// failure looks like a busy device the reset hook runs before the next
// try. Returns ErrRetriesExhausted when every attempt failed.
func (c *Coordinator) StartWithRetry(ctx context.Context) error {
	err := c.Start(ctx)
	if err == nil {
		return nil
	}
	c.logger.Warn("mic start failed, retrying", "error", err)

	for attempt, delay := range c.cfg.RetryDelays {
		if deviceBusy(err) && c.reset != nil {
			if resetErr := c.reset(ctx); resetErr != nil {
				c.logger.Debug("audio reset failed", "error", resetErr)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		err = c.Start(ctx)
		if err == nil {
			c.logger.Info("mic recovered", "attempt", attempt+1)
			return nil
		}
		c.logger.Warn("mic retry failed", "attempt", attempt+1, "error", err)
	}

	return fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
}

// StartAfterPlayback reopens the mic once assistant audio has finished:
// an initial settle delay, then a few attempts with progressive waits.
func (c *Coordinator) StartAfterPlayback(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.PostPlaybackDelay):
	}

	var err error
	for attempt := 1; attempt <= c.cfg.PostPlaybackRetries; attempt++ {
		err = c.Start(ctx)
		if err == nil {
			return nil
		}
		c.logger.Warn("mic reopen failed", "attempt", attempt, "error", err)

		wait := c.cfg.PostPlaybackDelay*time.Duration(attempt-1) + 500*time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
}

// deviceBusy sniffs errors that usually mean another process holds the
// device or the subsystem is wedged.
func deviceBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unavailable") || strings.Contains(msg, "busy")
}
