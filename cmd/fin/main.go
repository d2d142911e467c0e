// fin: voice interaction for the desk-fish device.
// Connects the mic and speaker to a realtime conversation endpoint and
// drives mouth/tail motion from the audio it plays.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/splashworks/go-fin/internal/config"
	"github.com/splashworks/go-fin/internal/log"
	"github.com/splashworks/go-fin/pkg/audioio"
	"github.com/splashworks/go-fin/pkg/history"
	"github.com/splashworks/go-fin/pkg/home"
	"github.com/splashworks/go-fin/pkg/mic"
	"github.com/splashworks/go-fin/pkg/motion"
	"github.com/splashworks/go-fin/pkg/persona"
	"github.com/splashworks/go-fin/pkg/playback"
	"github.com/splashworks/go-fin/pkg/realtime"
	"github.com/splashworks/go-fin/pkg/session"
	"github.com/splashworks/go-fin/pkg/tools"
)

const defaultInstructions = "You are Fin, a small talking fish who lives on a desk. " +
	"Be warm, playful and brief. Call follow_up_intent every turn to say " +
	"whether you expect the user to reply."

var (
	version = "1.0.0"

	debug       = flag.Bool("debug", false, "Enable debug logging")
	voice       = flag.String("voice", "", "Assistant voice (overrides FIN_VOICE)")
	micDevice   = flag.String("mic", "", "Capture device name substring (overrides MIC_DEVICE)")
	speaker     = flag.String("speaker", "", "Playback device name substring (overrides SPEAKER_DEVICE)")
	personaName = flag.String("persona", "", "Switch to a named persona before starting")
	followUp    = flag.String("autofollowup", "", "Follow-up policy: auto, never, always")
	oneShot     = flag.Bool("oneshot", false, "End the session after the first completed turn")
	kickoff     = flag.String("kickoff", "", "Open the session with this assistant line")
	kickoffKind = flag.String("kickoff-kind", "", "Kickoff kind: literal, prompt, raw")
	interactive = flag.Bool("kickoff-interactive", false, "Stay interactive after the kickoff turn")
	eagerness   = flag.String("eagerness", "", "Turn detection eagerness: low, medium, high")
	dataDir     = flag.String("data", ".", "Data directory (sounds, songs, history, personas)")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	cfg.LoadEnv()
	applyFlags(&cfg)

	level := "info"
	if cfg.Debug {
		level = "debug"
	}
	log.Init(level)
	logger := log.L()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("🐟 fin v" + version)
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := persona.NewStore(filepath.Join(*dataDir, "personas.json"), defaultInstructions)
	if err != nil {
		logger.Error("persona store failed", "error", err)
		os.Exit(1)
	}
	if *personaName != "" {
		if err := store.Switch(*personaName); err != nil {
			logger.Error("persona switch failed", "error", err)
			os.Exit(1)
		}
	}
	logger.Info("persona", "name", store.Active())

	sink, err := audioio.NewSink(audioio.Config{
		SampleRate:    24000,
		Channels:      1,
		FrameDuration: cfg.ChunkDuration,
		Device:        cfg.SpeakerDevice,
	}, logger)
	if err != nil {
		logger.Error("speaker setup failed", "error", err)
		os.Exit(1)
	}

	analyzer := motion.NewAnalyzer(nil)
	pipe := playback.New(sink, logger, playback.WithEnergyFunc(analyzer.OnEnergy))
	if err := pipe.Start(ctx); err != nil {
		logger.Error("playback start failed", "error", err)
		os.Exit(1)
	}

	hist := history.New(filepath.Join(*dataDir, cfg.HistoryDir), cfg.HistoryKeep, logger)
	client := realtime.NewClient(cfg.APIKey, cfg.BaseURL, cfg.Model, logger)

	dispatcher := tools.NewDispatcher(logger)
	dispatcher.Register(tools.FollowUpIntent())
	dispatcher.Register(tools.PlaySong(tools.NewDirLibrary(filepath.Join(*dataDir, "songs")), pipe))
	dispatcher.Register(tools.UpdatePersonality(store))
	dispatcher.Register(tools.SwitchPersona(store))
	if cfg.HomeAssistantURL != "" {
		ha, err := home.NewClient(home.Config{
			BaseURL: cfg.HomeAssistantURL,
			Token:   cfg.HomeAssistantToken,
		}, logger)
		if err != nil {
			logger.Error("home assistant setup failed", "error", err)
			os.Exit(1)
		}
		dispatcher.Register(tools.SmartHomeCommand(ha))
	}

	// the coordinator feeds frames into the session created just below
	var sess *session.Session
	micCoord := mic.New(
		mic.Config{
			Device:              cfg.MicDevice,
			TargetRate:          24000,
			RetryDelays:         cfg.MicRetryDelays,
			PostPlaybackDelay:   cfg.PostPlaybackDelay,
			PostPlaybackRetries: cfg.PostPlaybackRetries,
		},
		func(device string) (audioio.Source, error) {
			return audioio.NewSource(audioio.Config{
				SampleRate:    24000,
				Channels:      1,
				FrameDuration: cfg.ChunkDuration,
				Device:        device,
			}, logger)
		},
		func(pcm []byte, rms float64) {
			if sess != nil {
				sess.HandleMicFrame(pcm, rms)
			}
		},
		logger,
	)

	bank := session.NewSoundBank(filepath.Join(*dataDir, cfg.SoundsDir), pipe, logger)

	sess = session.New(session.Config{
		Model:             cfg.Model,
		Voice:             cfg.Voice,
		Instructions:      store.Instructions(),
		TurnEagerness:     cfg.TurnEagerness,
		AutoFollowUp:      cfg.AutoFollowUp,
		OneShot:           cfg.OneShot,
		Kickoff:           cfg.Kickoff,
		KickoffKind:       cfg.KickoffKind,
		SilenceThreshold:  cfg.SilenceThreshold,
		IdleTimeout:       cfg.IdleTimeout,
		IdleTimeoutOffset: cfg.IdleTimeoutOffset,
		WatchdogInterval:  cfg.WatchdogInterval,
		CloseTimeout:      cfg.CloseTimeout,
	}, session.Deps{
		Transport:  client,
		Player:     pipe,
		Mic:        micCoord,
		Dispatcher: dispatcher,
		History:    hist,
		Gesture:    motion.NopMover{},
		Clips:      bank,
		Logger:     logger,
	})

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal")
		sess.Interrupt()
	}()

	runErr := sess.Run(ctx)
	if runErr != nil {
		logger.Error("session error", "error", runErr)
	}

	// a play_song tool call leaves its song queued past the session;
	// let it finish before tearing the device down
	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	if err := pipe.WaitUntilDrained(drainCtx); err != nil {
		logger.Warn("playback drain interrupted", "error", err)
	}
	cancel()
	analyzer.Reset()
	pipe.Close()
	sink.Close()

	if runErr != nil && ctx.Err() == nil {
		os.Exit(1)
	}
}

// applyFlags lets command-line flags win over environment configuration.
func applyFlags(cfg *config.Config) {
	cfg.Debug = cfg.Debug || *debug
	if *voice != "" {
		cfg.Voice = *voice
	}
	if *micDevice != "" {
		cfg.MicDevice = *micDevice
	}
	if *speaker != "" {
		cfg.SpeakerDevice = *speaker
	}
	if *followUp != "" {
		cfg.AutoFollowUp = *followUp
	}
	if *oneShot {
		cfg.OneShot = true
	}
	if *kickoff != "" {
		cfg.Kickoff = *kickoff
	}
	if *kickoffKind != "" {
		cfg.KickoffKind = *kickoffKind
	}
	if *eagerness != "" {
		cfg.TurnEagerness = *eagerness
	}
	if *interactive {
		cfg.KickoffToInteractive = true
	}

	// an announcement-style kickoff speaks once and exits
	if cfg.Kickoff != "" && !cfg.KickoffToInteractive {
		cfg.OneShot = true
	}
}
