package mic

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/splashworks/go-fin/pkg/audioio"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelays = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	cfg.PostPlaybackDelay = time.Millisecond
	cfg.PostPlaybackRetries = 2
	return cfg
}

func mockOpener(t *testing.T) Opener {
	t.Helper()
	return func(device string) (audioio.Source, error) {
		cfg := audioio.DefaultConfig()
		cfg.FrameDuration = 5 * time.Millisecond
		return audioio.NewMockSource(cfg, nil, audioio.WithSineWave(440, 0.5)), nil
	}
}

func TestStartStop(t *testing.T) {
	c := New(fastConfig(), mockOpener(t), func([]byte, float64) {}, nil)

	if c.Running() {
		t.Fatal("running before Start")
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.Running() {
		t.Fatal("not running after Start")
	}

	// Start while running is a no-op
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	c.Stop()
	if c.Running() {
		t.Fatal("running after Stop")
	}
	// Stop is idempotent
	c.Stop()
}

func TestFramesForwarded(t *testing.T) {
	var mu sync.Mutex
	var frames int
	var lastRMS float64

	c := New(fastConfig(), mockOpener(t), func(pcm []byte, rms float64) {
		mu.Lock()
		frames++
		lastRMS = rms
		mu.Unlock()
	}, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := frames
		mu.Unlock()
		if n >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d frames forwarded", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if lastRMS <= 0 {
		t.Errorf("sine input should have positive RMS, got %v", lastRMS)
	}
}

func TestFallbackToDefaultDevice(t *testing.T) {
	var requested []string
	opener := func(device string) (audioio.Source, error) {
		requested = append(requested, device)
		if device != "" {
			return nil, errors.New("no such device")
		}
		return audioio.NewMockSource(audioio.DefaultConfig(), nil), nil
	}

	cfg := fastConfig()
	cfg.Device = "usb-mic"
	c := New(cfg, opener, func([]byte, float64) {}, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start with fallback: %v", err)
	}
	defer c.Stop()

	if len(requested) != 2 || requested[0] != "usb-mic" || requested[1] != "" {
		t.Errorf("opener calls = %v, want [usb-mic \"\"]", requested)
	}
}

func TestFallbackFailureReportsOriginalError(t *testing.T) {
	prefErr := errors.New("preferred device missing")
	opener := func(device string) (audioio.Source, error) {
		if device != "" {
			return nil, prefErr
		}
		return nil, errors.New("default also broken")
	}

	cfg := fastConfig()
	cfg.Device = "usb-mic"
	c := New(cfg, opener, func([]byte, float64) {}, nil)

	err := c.Start(context.Background())
	if !errors.Is(err, prefErr) {
		t.Errorf("Start error = %v, want the preferred device's error", err)
	}
}

func TestStartWithRetryRecovers(t *testing.T) {
	var attempts atomic.Int64
	opener := func(device string) (audioio.Source, error) {
		if attempts.Add(1) <= 2 {
			return nil, errors.New("device busy")
		}
		return audioio.NewMockSource(audioio.DefaultConfig(), nil), nil
	}

	c := New(fastConfig(), opener, func([]byte, float64) {}, nil)

	if err := c.StartWithRetry(context.Background()); err != nil {
		t.Fatalf("StartWithRetry: %v", err)
	}
	defer c.Stop()

	if !c.Running() {
		t.Error("mic should be running after recovery")
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("open attempts = %d, want 3", got)
	}
}

func TestStartWithRetryExhaustion(t *testing.T) {
	opener := func(device string) (audioio.Source, error) {
		return nil, errors.New("device unavailable")
	}

	c := New(fastConfig(), opener, func([]byte, float64) {}, nil)

	err := c.StartWithRetry(context.Background())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("error = %v, want ErrRetriesExhausted", err)
	}
	if c.Running() {
		t.Error("mic must not be running after exhaustion")
	}
}

func TestStartWithRetryRunsResetWhenBusy(t *testing.T) {
	var resets atomic.Int64
	var attempts atomic.Int64
	opener := func(device string) (audioio.Source, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("Device unavailable")
		}
		return audioio.NewMockSource(audioio.DefaultConfig(), nil), nil
	}

	c := New(fastConfig(), opener, func([]byte, float64) {}, nil,
		WithReset(func(ctx context.Context) error {
			resets.Add(1)
			return nil
		}))

	if err := c.StartWithRetry(context.Background()); err != nil {
		t.Fatalf("StartWithRetry: %v", err)
	}
	defer c.Stop()

	if resets.Load() == 0 {
		t.Error("reset hook should run for a busy device")
	}
}

func TestStartAfterPlayback(t *testing.T) {
	var attempts atomic.Int64
	opener := func(device string) (audioio.Source, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("still held")
		}
		return audioio.NewMockSource(audioio.DefaultConfig(), nil), nil
	}

	c := New(fastConfig(), opener, func([]byte, float64) {}, nil)

	if err := c.StartAfterPlayback(context.Background()); err != nil {
		t.Fatalf("StartAfterPlayback: %v", err)
	}
	defer c.Stop()

	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestStartWithRetryHonorsContext(t *testing.T) {
	opener := func(device string) (audioio.Source, error) {
		return nil, errors.New("nope")
	}

	cfg := fastConfig()
	cfg.RetryDelays = []time.Duration{time.Hour}
	c := New(cfg, opener, func([]byte, float64) {}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.StartWithRetry(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}
