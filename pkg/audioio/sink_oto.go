package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"
)

// otoSink plays PCM16 audio through the system speaker via oto.
//
// oto pulls from an io.Reader on its own goroutine; the sink bridges
// Write calls to that pull model through pcmBuffer, which emits silence
// when no audio is queued so the device stays fed.
type otoSink struct {
	cfg    Config
	logger *slog.Logger

	otoCtx *oto.Context
	player *oto.Player
	buf    *pcmBuffer

	mu      sync.Mutex
	running bool
	closed  bool

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
}

func newOtoSink(cfg Config, logger *slog.Logger) (Sink, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("oto context: %w", err)
	}
	<-ready

	s := &otoSink{
		cfg:    cfg,
		logger: logger,
		otoCtx: otoCtx,
		buf:    newPCMBuffer(),
	}
	s.player = otoCtx.NewPlayer(s.buf)
	return s, nil
}

func (s *otoSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}
	s.running = true
	s.player.Play()
	s.logger.Debug("oto sink started", "sample_rate", s.cfg.SampleRate, "channels", s.cfg.Channels)
	return nil
}

func (s *otoSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.player.Pause()
	return nil
}

func (s *otoSink) Write(ctx context.Context, chunk Chunk) error {
	s.mu.Lock()
	running := s.running
	closed := s.closed
	s.mu.Unlock()

	if closed || !running {
		return io.ErrClosedPipe
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	samples := chunk.Samples
	if chunk.SampleRate != 0 && chunk.SampleRate != s.cfg.SampleRate {
		samples = Resample(samples, chunk.SampleRate, s.cfg.SampleRate)
	}
	if chunk.Channels == 2 && s.cfg.Channels == 1 {
		samples = StereoToMono(samples)
	} else if chunk.Channels == 1 && s.cfg.Channels == 2 {
		samples = MonoToStereo(samples)
	}

	s.buf.Push(SamplesToBytes(samples))
	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(samples)))
	return nil
}

func (s *otoSink) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for s.buf.Len() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	// let the device drain its own internal buffer
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.FrameDuration * 2):
	}
	return nil
}

func (s *otoSink) Clear() error {
	s.buf.Drop()
	return nil
}

func (s *otoSink) Config() Config { return s.cfg }

func (s *otoSink) Name() string { return "oto" }

func (s *otoSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.running = false
	s.mu.Unlock()

	s.buf.Close()
	return s.player.Close()
}

func (s *otoSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SinkStats{
		ChunksWritten:   s.chunksWritten.Load(),
		SamplesWritten:  s.samplesWritten.Load(),
		Running:         running,
		Backend:         "oto",
		BufferedSamples: int64(s.buf.Len() / 2),
	}
}

var _ SinkWithStats = (*otoSink)(nil)

// pcmBuffer is the byte queue between Write and the oto reader goroutine.
// Reads never block: when the queue is empty it returns silence, which
// keeps the device clocked without underrun artifacts.
type pcmBuffer struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

func newPCMBuffer() *pcmBuffer {
	return &pcmBuffer{}
}

func (b *pcmBuffer) Push(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.data = append(b.data, p...)
}

func (b *pcmBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

func (b *pcmBuffer) Drop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}

func (b *pcmBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.data = nil
}

func (b *pcmBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, io.EOF
	}
	if len(b.data) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, b.data)
	b.data = b.data[n:]
	if n < len(p) {
		for i := n; i < len(p); i++ {
			p[i] = 0
		}
		n = len(p)
	}
	return n, nil
}
