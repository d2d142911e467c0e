// Package session implements the conversational core of the device: one
// duplex turn-taking session against the realtime endpoint, owning the
// turn state machine, the mic gate, the idle watchdog and the interrupt
// path. All state is instance-owned; a Session is used for one Run.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/splashworks/go-fin/pkg/mic"
	"github.com/splashworks/go-fin/pkg/playback"
	"github.com/splashworks/go-fin/pkg/realtime"
	"github.com/splashworks/go-fin/pkg/tools"
)

// ErrAlreadyRunning is returned by Run on a session that is active.
var ErrAlreadyRunning = errors.New("session: already running")

// Transport is the duplex protocol surface the session drives.
type Transport interface {
	Dial(ctx context.Context) error
	ReadEvent() (realtime.ServerEvent, error)
	SendSessionConfig(cfg realtime.SessionConfig) error
	SendUserMessage(text string) error
	SendRawItem(item json.RawMessage) error
	SendFunctionResult(callID, output string) error
	CreateResponse(instructions string) error
	SendAudio(pcm []byte) error
	Close(timeout time.Duration) error
}

// Player is the playback surface the session needs.
type Player interface {
	Enqueue(item playback.Item) error
	Flush()
	WaitUntilDrained(ctx context.Context) error
	LastPlayedAt() time.Time
}

// Mic is the microphone lifecycle surface.
type Mic interface {
	StartWithRetry(ctx context.Context) error
	StartAfterPlayback(ctx context.Context) error
	Stop()
	Running() bool
}

// Saver archives a finished turn's audio.
type Saver interface {
	Save(pcm []byte) error
}

// Gesturer performs the idle gesture while the watchdog counts down.
type Gesturer interface {
	TailMove()
}

// Publisher announces device state changes (e.g. over MQTT). Values are
// plain strings; topics are stable names like "state".
type Publisher interface {
	Publish(topic, value string)
}

// NopPublisher discards state announcements.
type NopPublisher struct{}

func (NopPublisher) Publish(string, string) {}

type nopGesture struct{}

func (nopGesture) TailMove() {}

// Interface satisfaction checks against the real implementations.
var (
	_ Transport = (*realtime.Client)(nil)
	_ Player    = (*playback.Pipeline)(nil)
	_ Mic       = (*mic.Coordinator)(nil)
)

// Config tunes one session.
type Config struct {
	Model         string
	Voice         string
	Instructions  string
	TurnEagerness string

	// AutoFollowUp is the end-of-turn policy: auto, never, always.
	AutoFollowUp string

	// OneShot ends the session after the first completed turn.
	OneShot bool

	// Kickoff optionally opens the session with assistant speech.
	// KickoffKind: "literal" (say exactly this), "prompt" (user-role
	// message), "raw" (caller-supplied conversation item JSON).
	Kickoff     string
	KickoffKind string

	// SilenceThreshold is the mic RMS below which frames do not count
	// as user activity.
	SilenceThreshold float64

	// Idle watchdog tuning.
	IdleTimeout       time.Duration
	IdleTimeoutOffset time.Duration
	WatchdogInterval  time.Duration

	// CloseTimeout bounds the websocket close handshake.
	CloseTimeout time.Duration
}

// DefaultConfig returns standard session tuning.
func DefaultConfig() Config {
	return Config{
		TurnEagerness:     "low",
		AutoFollowUp:      FollowUpAuto,
		KickoffKind:       "literal",
		SilenceThreshold:  2000,
		IdleTimeout:       5 * time.Second,
		IdleTimeoutOffset: 2 * time.Second,
		WatchdogInterval:  500 * time.Millisecond,
		CloseTimeout:      2 * time.Second,
	}
}

// Deps are the session's collaborators. Transport, Player and Mic are
// required; the rest default to no-ops.
type Deps struct {
	Transport  Transport
	Player     Player
	Mic        Mic
	Dispatcher *tools.Dispatcher
	History    Saver
	Gesture    Gesturer
	Publisher  Publisher
	Clips      ClipPlayer
	Logger     *slog.Logger
}

// pendingCall accumulates streamed tool-call arguments by call id.
type pendingCall struct {
	name string
	args []byte
}

// Session is one conversational session.
type Session struct {
	id  string
	cfg Config

	transport  Transport
	player     Player
	mic        Mic
	dispatcher *tools.Dispatcher
	history    Saver
	gesture    Gesturer
	publisher  Publisher
	clips      ClipPlayer
	logger     *slog.Logger

	state     atomic.Int32
	active    atomic.Bool
	allowMic  atomic.Bool
	interrupt atomic.Bool

	lastActivity  atomic.Int64 // unix nanos
	droppedFrames atomic.Int64

	mu               sync.Mutex
	turnAudio        []byte
	transcript       string
	transcriptStream string
	sawDelta         bool
	pendingCalls     map[string]*pendingCall
	followUpDeclared bool
	followUpExpected bool
	followUpPrompt   string
}

// New creates a session. Panics on missing required deps are deliberate:
// they are wiring bugs, not runtime conditions.
func New(cfg Config, deps Deps) *Session {
	if deps.Transport == nil || deps.Player == nil || deps.Mic == nil {
		panic("session: Transport, Player and Mic are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()

	s := &Session{
		id:           id,
		cfg:          cfg,
		transport:    deps.Transport,
		player:       deps.Player,
		mic:          deps.Mic,
		dispatcher:   deps.Dispatcher,
		history:      deps.History,
		gesture:      deps.Gesture,
		publisher:    deps.Publisher,
		clips:        deps.Clips,
		logger:       logger.With("session", id[:8]),
		pendingCalls: make(map[string]*pendingCall),
	}
	if s.gesture == nil {
		s.gesture = nopGesture{}
	}
	if s.publisher == nil {
		s.publisher = NopPublisher{}
	}
	if s.clips == nil {
		s.clips = NopClips{}
	}
	s.state.Store(int32(StateIdle))
	return s
}

// State returns the current state machine position.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st {
		s.logger.Debug("state", "from", old.String(), "to", st.String())
		s.publisher.Publish("state", st.String())
	}
}

// Active reports whether the session loop should keep running.
func (s *Session) Active() bool {
	return s.active.Load()
}

// Transcript returns the accumulated assistant transcript of the
// current turn.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

// DroppedFrames reports mic frames discarded by the gate.
func (s *Session) DroppedFrames() int64 {
	return s.droppedFrames.Load()
}

func (s *Session) touchActivity() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Session) lastActivityTime() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Run connects, configures the remote session and processes events until
// the session ends. It blocks for the session's lifetime.
func (s *Session) Run(ctx context.Context) error {
	if !s.active.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	s.setState(StateConnecting)
	if err := s.transport.Dial(ctx); err != nil {
		s.logger.Error("connect failed", "error", err)
		s.clips.PlayClip(ctx, classifyClip(err))
		s.active.Store(false)
		s.setState(StateIdle)
		return err
	}

	if err := s.setup(); err != nil {
		s.logger.Error("session setup failed", "error", err)
		s.clips.PlayClip(ctx, classifyClip(err))
		s.active.Store(false)
		s.transport.Close(s.cfg.CloseTimeout)
		s.setState(StateIdle)
		return err
	}

	s.allowMic.Store(true)
	s.touchActivity()
	s.setState(StateListening)

	if err := s.mic.StartWithRetry(ctx); err != nil {
		// stay alive without input; the remote can still speak
		s.logger.Warn("mic unavailable, continuing without input", "error", err)
	}

	watchdogStop := make(chan struct{})
	go s.watchdog(watchdogStop)

	var readErr error
	for s.active.Load() {
		ev, err := s.transport.ReadEvent()
		if err != nil {
			if s.active.Load() && !errors.Is(err, realtime.ErrClosed) {
				s.logger.Error("event read failed", "error", err)
				if realtime.IsNetworkError(err) {
					s.clips.PlayClip(ctx, ClipNoWiFi)
				}
				readErr = err
			}
			break
		}
		s.handleEvent(ctx, ev)
	}

	close(watchdogStop)
	s.active.Store(false)
	// an unacknowledged interrupt may have raced a final enqueue
	if s.interrupt.Swap(false) {
		s.player.Flush()
	}
	s.mic.Stop()
	s.transport.Close(s.cfg.CloseTimeout)
	s.setState(StateClosed)
	s.logger.Info("session ended")
	return readErr
}

// setup sends session configuration and the optional kickoff.
func (s *Session) setup() error {
	var schemas []realtime.ToolSchema
	if s.dispatcher != nil {
		schemas = s.dispatcher.Schemas()
	}
	err := s.transport.SendSessionConfig(realtime.SessionConfig{
		Model:         s.cfg.Model,
		Instructions:  s.cfg.Instructions,
		Voice:         s.cfg.Voice,
		TurnEagerness: s.cfg.TurnEagerness,
		Tools:         schemas,
	})
	if err != nil {
		return err
	}

	if s.cfg.Kickoff == "" {
		return nil
	}
	switch s.cfg.KickoffKind {
	case "prompt":
		if err := s.transport.SendUserMessage(s.cfg.Kickoff); err != nil {
			return err
		}
		return s.transport.CreateResponse("")
	case "raw":
		if err := s.transport.SendRawItem(json.RawMessage(s.cfg.Kickoff)); err != nil {
			return err
		}
		return s.transport.CreateResponse("")
	default: // literal
		return s.transport.CreateResponse("Say this verbatim: " + s.cfg.Kickoff)
	}
}

// handleEvent dispatches one server event.
func (s *Session) handleEvent(ctx context.Context, ev realtime.ServerEvent) {
	switch e := ev.(type) {
	case realtime.ResponseCreated:
		s.onResponseCreated(e)
	case realtime.AudioDelta:
		s.onAudioDelta(e)
	case realtime.TranscriptDelta:
		s.onTranscriptDelta(e)
	case realtime.TranscriptDone:
		s.onTranscriptDone(e)
	case realtime.ToolArgsDelta:
		s.onToolArgsDelta(e)
	case realtime.ToolArgsDone:
		s.onToolArgsDone(ctx, e)
	case realtime.ResponseDone:
		s.onResponseDone(ctx, e)
	case realtime.SpeechStarted:
		s.onSpeechStarted()
	case realtime.SpeechStopped:
		s.touchActivity()
	case realtime.Committed:
		s.logger.Debug("input committed")
	case realtime.ServerError:
		s.onServerError(ctx, e)
	case realtime.Unknown:
		s.logger.Debug("unhandled event", "type", e.Type)
	}
}

// onResponseCreated resets per-turn flags for the new response.
func (s *Session) onResponseCreated(ev realtime.ResponseCreated) {
	s.mu.Lock()
	s.transcript = ""
	s.transcriptStream = ""
	s.sawDelta = false
	s.followUpDeclared = false
	s.followUpExpected = false
	s.followUpPrompt = ""
	s.mu.Unlock()

	s.logger.Debug("response started", "response", ev.ResponseID)
}

func (s *Session) onAudioDelta(ev realtime.AudioDelta) {
	s.mu.Lock()
	s.turnAudio = append(s.turnAudio, ev.Audio...)
	s.mu.Unlock()

	// deltas resuming after a tool exchange mean the assistant is
	// speaking again
	s.setState(StateAssistantSpeaking)

	if err := s.player.Enqueue(playback.Item{PCM: ev.Audio}); err != nil {
		s.logger.Warn("playback enqueue failed", "error", err)
	}

	// Interrupt ordering is fixed: flush playback, deactivate the
	// session, then acknowledge the signal.
	if s.interrupt.Load() {
		s.player.Flush()
		s.active.Store(false)
		s.interrupt.Store(false)
	}
}

func (s *Session) onTranscriptDelta(ev realtime.TranscriptDelta) {
	// the assistant is talking: gate the mic
	s.allowMic.Store(false)

	s.mu.Lock()
	if s.transcriptStream == "" {
		// first delta wins the turn's transcript stream
		s.transcriptStream = ev.Stream
	}
	if ev.Stream != s.transcriptStream {
		s.mu.Unlock()
		return
	}
	s.transcript += ev.Text
	s.sawDelta = true
	s.mu.Unlock()
}

func (s *Session) onTranscriptDone(ev realtime.TranscriptDone) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transcriptStream == "" {
		s.transcriptStream = ev.Stream
	}
	if ev.Stream != s.transcriptStream {
		return
	}
	// the done text is authoritative only when no deltas arrived
	if !s.sawDelta {
		s.transcript += ev.Text
	}
}

func (s *Session) onToolArgsDelta(ev realtime.ToolArgsDelta) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pc := s.pendingCalls[ev.CallID]
	if pc == nil {
		pc = &pendingCall{}
		s.pendingCalls[ev.CallID] = pc
	}
	if ev.Name != "" {
		pc.name = ev.Name
	}
	pc.args = append(pc.args, ev.Delta...)
}

func (s *Session) onToolArgsDone(ctx context.Context, ev realtime.ToolArgsDone) {
	s.mu.Lock()
	pc := s.pendingCalls[ev.CallID]
	delete(s.pendingCalls, ev.CallID)
	s.mu.Unlock()

	name := ev.Name
	args := ev.Arguments
	if pc != nil {
		if name == "" {
			name = pc.name
		}
		if args == "" {
			args = string(pc.args)
		}
	}

	if s.dispatcher == nil {
		s.logger.Warn("tool call with no dispatcher", "name", name)
		return
	}

	s.setState(StateToolExchange)
	s.dispatcher.Dispatch(ctx, tools.Call{ID: ev.CallID, Name: name, Arguments: args}, tools.Env{
		Responder: s.transport,
		Control:   s,
		Logger:    s.logger,
	})
}

func (s *Session) onResponseDone(ctx context.Context, ev realtime.ResponseDone) {
	if ev.Status == "failed" {
		s.logger.Error("response failed", "code", ev.ErrorCode, "message", ev.ErrorMessage)
	}

	s.setState(StateTurnEnding)

	// let the queued audio finish before deciding anything
	if err := s.player.WaitUntilDrained(ctx); err != nil {
		s.logger.Debug("drain interrupted", "error", err)
	}

	s.mu.Lock()
	audio := s.turnAudio
	s.turnAudio = nil
	transcript := s.transcript
	declared := s.followUpDeclared
	declaredValue := s.followUpExpected
	hint := s.followUpPrompt
	s.mu.Unlock()

	if s.history != nil && len(audio) > 0 {
		if err := s.history.Save(audio); err != nil {
			s.logger.Warn("history save failed", "error", err)
		}
	}

	s.allowMic.Store(true)

	if !s.active.Load() {
		return
	}
	if s.cfg.OneShot {
		s.logger.Info("one-shot turn complete")
		s.endSession()
		return
	}

	if !decideFollowUp(s.cfg.AutoFollowUp, declared, declaredValue, transcript) {
		s.logger.Info("no follow-up expected, ending session")
		s.endSession()
		return
	}

	if hint != "" {
		s.logger.Debug("expecting reply", "hint", hint)
	}
	s.touchActivity()
	s.setState(StateListening)
	if !s.mic.Running() {
		if err := s.mic.StartAfterPlayback(ctx); err != nil {
			s.logger.Warn("mic reopen failed, ending session", "error", err)
			s.endSession()
		}
	}
}

func (s *Session) onSpeechStarted() {
	s.touchActivity()

	// barge-in: stop stale assistant audio right away
	if st := s.State(); st == StateAssistantSpeaking || st == StateToolExchange || st == StateTurnEnding {
		s.player.Flush()
	}
	s.setState(StateListening)
}

func (s *Session) onServerError(ctx context.Context, ev realtime.ServerError) {
	err := &realtime.APIError{Code: ev.Code, Message: ev.Message}
	s.logger.Error("server error", "code", ev.Code, "message", ev.Message)

	if realtime.IsAuthError(err) {
		s.clips.PlayClip(ctx, ClipNoAPIKey)
		s.endSession()
	}
}

// HandleMicFrame is the mic bridge: wire it as the coordinator's
// FrameFunc. Frames are dropped while the gate is closed or the session
// is inactive; loud frames refresh the idle clock.
func (s *Session) HandleMicFrame(pcm []byte, rms float64) {
	if !s.active.Load() || !s.allowMic.Load() {
		s.droppedFrames.Add(1)
		return
	}
	if rms > s.cfg.SilenceThreshold {
		s.touchActivity()
	}
	if err := s.transport.SendAudio(pcm); err != nil {
		s.logger.Debug("mic frame send failed", "error", err)
	}
}

// SetFollowUp implements tools.SessionControl.
func (s *Session) SetFollowUp(expected bool, prompt string) {
	s.mu.Lock()
	s.followUpDeclared = true
	s.followUpExpected = expected
	s.followUpPrompt = prompt
	s.mu.Unlock()
}

// EndSession implements tools.SessionControl.
func (s *Session) EndSession() {
	s.endSession()
}

// PausePlayback implements tools.SessionControl.
func (s *Session) PausePlayback() {
	s.player.Flush()
}

// endSession winds the loop down: deactivate, then close the transport
// so a blocked read returns.
func (s *Session) endSession() {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	s.transport.Close(s.cfg.CloseTimeout)
}

// Interrupt is the external interrupt entry (the button). The ordering
// is part of the contract: flush playback, clear active, then the loop
// observes inactivity, stops the mic and closes. The flag stays set
// until an in-flight audio delta (or the teardown) acknowledges it, so
// a chunk enqueued concurrently with the flush cannot survive.
func (s *Session) Interrupt() {
	if !s.active.Load() {
		return
	}
	s.interrupt.Store(true)
	s.player.Flush()
	s.active.Store(false)
	s.transport.Close(s.cfg.CloseTimeout)
}

// watchdog ends the session when the user has gone quiet. Idle time is
// measured from the most recent of user activity and played audio, with
// a grace offset on top of the timeout. While the countdown runs the
// idle gesture fires about once a second.
func (s *Session) watchdog(stop <-chan struct{}) {
	interval := s.cfg.WatchdogInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastGesture time.Time
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if !s.active.Load() {
			return
		}
		if s.State() != StateListening || !s.mic.Running() {
			lastGesture = time.Time{}
			continue
		}

		idleFrom := s.lastActivityTime()
		if lp := s.player.LastPlayedAt(); lp.After(idleFrom) {
			idleFrom = lp
		}
		idle := time.Since(idleFrom)

		if idle > s.cfg.IdleTimeout+s.cfg.IdleTimeoutOffset {
			s.logger.Info("idle timeout, ending session", "idle", idle)
			s.endSession()
			return
		}
		if idle > s.cfg.IdleTimeoutOffset && time.Since(lastGesture) >= time.Second {
			s.gesture.TailMove()
			lastGesture = time.Now()
		}
	}
}
