package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// malgoSource captures microphone audio via miniaudio.
type malgoSource struct {
	cfg    Config
	logger *slog.Logger

	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan Chunk

	// partial frame carried between capture callbacks
	pending []byte

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

func newMalgoSource(cfg Config, logger *slog.Logger) (Source, error) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("malgo context: %w", err)
	}

	return &malgoSource{
		cfg:      cfg,
		logger:   logger,
		malgoCtx: malgoCtx,
		streamCh: make(chan Chunk, 10),
	}, nil
}

func (s *malgoSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = uint32(s.cfg.Channels)
	devCfg.SampleRate = uint32(s.cfg.SampleRate)
	devCfg.Alsa.NoMMap = 1

	if s.cfg.Device != "" {
		id, err := s.findDevice(s.cfg.Device)
		if err != nil {
			return err
		}
		devCfg.Capture.DeviceID = id.Pointer()
	}

	s.streamCh = make(chan Chunk, 10)
	s.pending = nil
	frameBytes := s.cfg.FrameBytes()

	onRecv := func(_, input []byte, _ uint32) {
		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		s.pending = append(s.pending, input...)
		var frames [][]byte
		for len(s.pending) >= frameBytes {
			frame := make([]byte, frameBytes)
			copy(frame, s.pending[:frameBytes])
			s.pending = s.pending[frameBytes:]
			frames = append(frames, frame)
		}
		ch := s.streamCh
		s.mu.Unlock()

		for _, frame := range frames {
			var chunk Chunk
			chunk.FromBytes(frame, s.cfg.SampleRate, s.cfg.Channels)
			select {
			case ch <- chunk:
				s.chunksRead.Add(1)
				s.samplesRead.Add(int64(len(chunk.Samples)))
			default:
				s.overruns.Add(1)
			}
		}
	}

	device, err := malgo.InitDevice(s.malgoCtx.Context, devCfg, malgo.DeviceCallbacks{Data: onRecv})
	if err != nil {
		return fmt.Errorf("malgo device init: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("malgo device start: %w", err)
	}

	s.device = device
	s.running = true
	s.logger.Debug("malgo source started",
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
		"device", s.cfg.Device,
	)
	return nil
}

// findDevice matches a capture device by name substring.
func (s *malgoSource) findDevice(name string) (malgo.DeviceID, error) {
	infos, err := s.malgoCtx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("enumerate capture devices: %w", err)
	}
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), strings.ToLower(name)) {
			return info.ID, nil
		}
	}
	return malgo.DeviceID{}, fmt.Errorf("capture device %q not found", name)
}

func (s *malgoSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	device := s.device
	s.device = nil
	ch := s.streamCh
	s.mu.Unlock()

	// Uninit joins the capture thread, so it must not run under s.mu:
	// the capture callback takes the same lock.
	if device != nil {
		device.Uninit()
	}
	close(ch)
	return nil
}

func (s *malgoSource) Read(ctx context.Context) (Chunk, error) {
	s.mu.Lock()
	ch := s.streamCh
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return Chunk{}, io.EOF
		}
		return chunk, nil
	}
}

func (s *malgoSource) Stream() <-chan Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

func (s *malgoSource) Config() Config { return s.cfg }

func (s *malgoSource) Name() string { return "malgo" }

func (s *malgoSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Stop()
	_ = s.malgoCtx.Uninit()
	s.malgoCtx.Free()
	return nil
}

func (s *malgoSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "malgo",
	}
}

var _ SourceWithStats = (*malgoSource)(nil)
