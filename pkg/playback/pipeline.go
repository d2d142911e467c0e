// Package playback provides the speaker-side pipeline: a FIFO of audio
// items consumed by a single worker goroutine that paces frames to the
// output device and reports per-frame energy for motion sync.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/splashworks/go-fin/pkg/audioio"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("playback: pipeline closed")

// EnergyFunc receives the RMS amplitude (sample units) and duration of
// each played frame. Used to drive mouth/tail motion.
type EnergyFunc func(rms float64, dur time.Duration)

// Item is one queued piece of audio.
type Item struct {
	// PCM is little-endian PCM16.
	PCM []byte

	// SampleRate and Channels describe PCM. Zero values mean the
	// pipeline defaults (24kHz mono).
	SampleRate int
	Channels   int

	// Energy optionally carries a precomputed per-frame energy track
	// (for songs, where the beat drives motion instead of raw RMS).
	Energy []float64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFrameDuration sets the playback frame size (default 50ms).
func WithFrameDuration(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.frameDur = d
		}
	}
}

// WithEnergyFunc registers the per-frame energy callback.
func WithEnergyFunc(fn EnergyFunc) Option {
	return func(p *Pipeline) { p.onEnergy = fn }
}

// Pipeline owns the playback queue and its worker.
type Pipeline struct {
	sink     audioio.Sink
	logger   *slog.Logger
	frameDur time.Duration
	onEnergy EnergyFunc

	mu         sync.Mutex
	cond       *sync.Cond
	queue      []*Item
	pending    int           // queued + in-flight items
	idleCh     chan struct{} // closed while pending == 0
	closed     bool
	failed     error
	lastPlayed time.Time

	workerDone chan struct{}
}

// New creates a pipeline writing to sink. Call Start before enqueuing.
func New(sink audioio.Sink, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		sink:       sink,
		logger:     logger,
		frameDur:   50 * time.Millisecond,
		workerDone: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	p.idleCh = closedChan()
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Start launches the worker goroutine.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.sink.Start(ctx); err != nil {
		return fmt.Errorf("playback: sink start: %w", err)
	}
	go p.worker(ctx)
	return nil
}

// Enqueue appends an item to the queue. It never blocks on playback.
// After a device write failure it fails fast with that error.
func (p *Pipeline) Enqueue(item Item) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.failed != nil {
		return p.failed
	}
	if len(item.PCM) == 0 {
		return nil
	}
	if item.SampleRate == 0 {
		item.SampleRate = 24000
	}
	if item.Channels == 0 {
		item.Channels = 1
	}

	if p.pending == 0 {
		p.idleCh = make(chan struct{})
	}
	p.pending++
	p.queue = append(p.queue, &item)
	p.cond.Signal()
	return nil
}

// Flush atomically discards all queued items. The in-flight item, if any,
// finishes; drain waiters are credited for the discarded items. The sink's
// own buffer is cleared so audible output stops quickly.
func (p *Pipeline) Flush() {
	p.mu.Lock()
	dropped := 0
	for _, it := range p.queue {
		if it != nil {
			dropped++
		}
	}
	// keep a trailing sentinel if one was queued by Close
	var keep []*Item
	for _, it := range p.queue {
		if it == nil {
			keep = append(keep, it)
		}
	}
	p.queue = keep
	p.finishLocked(dropped)
	p.mu.Unlock()

	if err := p.sink.Clear(); err != nil {
		p.logger.Debug("sink clear failed", "error", err)
	}
	if dropped > 0 {
		p.logger.Debug("playback flushed", "dropped", dropped)
	}
}

// WaitUntilDrained blocks until every item enqueued so far has been fully
// played (or discarded by Flush), or ctx ends.
func (p *Pipeline) WaitUntilDrained(ctx context.Context) error {
	p.mu.Lock()
	ch := p.idleCh
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// Idle reports whether nothing is queued or playing.
func (p *Pipeline) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending == 0
}

// Err returns the sticky device failure, if any.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

// LastPlayedAt returns when the worker last wrote audio to the device.
func (p *Pipeline) LastPlayedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPlayed
}

// Close enqueues the stop sentinel and joins the worker. Queued items
// ahead of the sentinel still play.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.workerDone
		return nil
	}
	p.closed = true
	p.queue = append(p.queue, nil) // stop sentinel
	p.cond.Signal()
	p.mu.Unlock()

	<-p.workerDone
	return nil
}

// next blocks until an item is available. ok=false means stop.
func (p *Pipeline) next() (*Item, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 {
		p.cond.Wait()
	}
	item := p.queue[0]
	p.queue = p.queue[1:]
	if item == nil {
		return nil, false
	}
	return item, true
}

// finishLocked credits n completed items and releases drain waiters.
func (p *Pipeline) finishLocked(n int) {
	p.pending -= n
	if p.pending <= 0 {
		p.pending = 0
		select {
		case <-p.idleCh:
			// already released
		default:
			close(p.idleCh)
		}
	}
}

func (p *Pipeline) worker(ctx context.Context) {
	defer close(p.workerDone)

	for {
		item, ok := p.next()
		if !ok {
			return
		}

		p.playItem(ctx, item)

		p.mu.Lock()
		if len(p.queue) == 0 || (len(p.queue) == 1 && p.queue[0] == nil) {
			// queue ran dry; let the device finish what it buffered
			failed := p.failed
			p.mu.Unlock()
			if failed == nil {
				if err := p.sink.Flush(ctx); err != nil && ctx.Err() == nil {
					p.logger.Debug("sink flush failed", "error", err)
				}
			}
			p.mu.Lock()
		}
		p.finishLocked(1)
		p.mu.Unlock()
	}
}

// playItem writes one item frame by frame, feeding the energy callback.
func (p *Pipeline) playItem(ctx context.Context, item *Item) {
	samples := audioio.BytesToSamples(item.PCM)
	frameSamples := int(float64(item.SampleRate)*p.frameDur.Seconds()) * item.Channels
	if frameSamples <= 0 {
		frameSamples = len(samples)
	}

	frame := 0
	for start := 0; start < len(samples); start += frameSamples {
		if ctx.Err() != nil {
			return
		}

		end := start + frameSamples
		if end > len(samples) {
			end = len(samples)
		}
		chunk := samples[start:end]
		dur := time.Duration(float64(len(chunk)) / float64(item.SampleRate*item.Channels) * float64(time.Second))

		if p.onEnergy != nil {
			energy := audioio.RMS(chunk)
			if frame < len(item.Energy) {
				energy = item.Energy[frame]
			}
			p.onEnergy(energy, dur)
		}

		p.mu.Lock()
		failed := p.failed
		p.mu.Unlock()

		if failed == nil {
			err := p.sink.Write(ctx, audioio.Chunk{
				Samples:    chunk,
				SampleRate: item.SampleRate,
				Channels:   item.Channels,
			})
			if err != nil {
				p.mu.Lock()
				p.failed = fmt.Errorf("playback: device write: %w", err)
				p.mu.Unlock()
				p.logger.Error("playback device write failed", "error", err)
			} else {
				p.mu.Lock()
				p.lastPlayed = time.Now()
				p.mu.Unlock()
			}
		}
		frame++
	}
}
