package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/splashworks/go-fin/pkg/playback"
)

// SongLibrary resolves song names to playable audio with a beat-derived
// energy track.
type SongLibrary interface {
	Lookup(name string) (playback.Item, error)
}

// Enqueuer accepts audio for playback.
type Enqueuer interface {
	Enqueue(item playback.Item) error
}

// HomeController forwards commands to the smart-home integration.
type HomeController interface {
	Execute(ctx context.Context, command string) (string, error)
}

// PersonaStore persists personality traits and named personas.
type PersonaStore interface {
	UpdateTrait(trait, instruction string) error
	Switch(name string) error
}

type followUpArgs struct {
	ExpectsFollowUp bool   `json:"expects_follow_up"`
	FollowUpPrompt  string `json:"follow_up_prompt"`
}

// FollowUpIntent records whether the assistant wants the mic reopened
// after this turn. The model is instructed to call it every turn.
func FollowUpIntent() Tool {
	return Tool{
		Name:        "follow_up_intent",
		Description: "Declare whether you expect the user to reply after this turn.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expects_follow_up": map[string]any{
					"type":        "boolean",
					"description": "True when the user is likely to answer.",
				},
				"follow_up_prompt": map[string]any{
					"type":        "string",
					"description": "Optional hint about what to listen for.",
				},
			},
			"required": []string{"expects_follow_up"},
		},
		Run: func(ctx context.Context, raw json.RawMessage, env Env) (Result, error) {
			var args followUpArgs
			if err := decodeArgs(raw, &args); err != nil {
				return Result{}, err
			}
			env.Control.SetFollowUp(args.ExpectsFollowUp, args.FollowUpPrompt)
			return Result{Output: `{"noted":true}`}, nil
		},
	}
}

type playSongArgs struct {
	Song string `json:"song"`
}

func (a *playSongArgs) validate() error {
	if a.Song == "" {
		return fmt.Errorf("tools: song name is required")
	}
	return nil
}

// PlaySong ends the conversational session and queues a song from the
// library, with its precomputed energy track driving motion.
func PlaySong(lib SongLibrary, queue Enqueuer) Tool {
	return Tool{
		Name:        "play_song",
		Description: "Play a named song from the local library. Ends the conversation.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"song": map[string]any{
					"type":        "string",
					"description": "Song name to play.",
				},
			},
			"required": []string{"song"},
		},
		Run: func(ctx context.Context, raw json.RawMessage, env Env) (Result, error) {
			var args playSongArgs
			if err := decodeArgs(raw, &args); err != nil {
				return Result{}, err
			}
			if err := args.validate(); err != nil {
				return Result{}, err
			}

			item, err := lib.Lookup(args.Song)
			if err != nil {
				return Result{}, fmt.Errorf("tools: song %q: %w", args.Song, err)
			}

			env.Control.EndSession()
			if err := queue.Enqueue(item); err != nil {
				return Result{}, fmt.Errorf("tools: queue song: %w", err)
			}
			return Result{Output: fmt.Sprintf(`{"playing":%q}`, args.Song)}, nil
		},
	}
}

type smartHomeArgs struct {
	Command string `json:"command"`
}

func (a *smartHomeArgs) validate() error {
	if a.Command == "" {
		return fmt.Errorf("tools: command is required")
	}
	return nil
}

// SmartHomeCommand forwards a natural-language command to the home
// controller and reports its answer back to the model.
func SmartHomeCommand(hc HomeController) Tool {
	return Tool{
		Name:        "smart_home_command",
		Description: "Control smart home devices (lights, switches, scenes).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "What to do, in plain language.",
				},
			},
			"required": []string{"command"},
		},
		Run: func(ctx context.Context, raw json.RawMessage, env Env) (Result, error) {
			var args smartHomeArgs
			if err := decodeArgs(raw, &args); err != nil {
				return Result{}, err
			}
			if err := args.validate(); err != nil {
				return Result{}, err
			}

			answer, err := hc.Execute(ctx, args.Command)
			if err != nil {
				return Result{}, fmt.Errorf("tools: smart home: %w", err)
			}
			return Result{Output: fmt.Sprintf(`{"result":%q}`, answer)}, nil
		},
	}
}

type personalityArgs struct {
	Trait       string `json:"trait"`
	Instruction string `json:"instruction"`
}

func (a *personalityArgs) validate() error {
	if a.Trait == "" || a.Instruction == "" {
		return fmt.Errorf("tools: trait and instruction are required")
	}
	return nil
}

// UpdatePersonality persists a personality adjustment requested by the
// user. Takes effect on the next session.
func UpdatePersonality(store PersonaStore) Tool {
	return Tool{
		Name:        "update_personality",
		Description: "Permanently adjust a personality trait at the user's request.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"trait":       map[string]any{"type": "string"},
				"instruction": map[string]any{"type": "string"},
			},
			"required": []string{"trait", "instruction"},
		},
		Run: func(ctx context.Context, raw json.RawMessage, env Env) (Result, error) {
			var args personalityArgs
			if err := decodeArgs(raw, &args); err != nil {
				return Result{}, err
			}
			if err := args.validate(); err != nil {
				return Result{}, err
			}
			if err := store.UpdateTrait(args.Trait, args.Instruction); err != nil {
				return Result{}, fmt.Errorf("tools: update personality: %w", err)
			}
			return Result{
				Output:   `{"updated":true}`,
				FollowUp: "(the personality change is saved; briefly confirm it to the user)",
			}, nil
		},
	}
}

type switchPersonaArgs struct {
	Persona string `json:"persona"`
}

// SwitchPersona switches to a named persona for future sessions.
func SwitchPersona(store PersonaStore) Tool {
	return Tool{
		Name:        "switch_persona",
		Description: "Switch to a different named persona.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"persona": map[string]any{"type": "string"},
			},
			"required": []string{"persona"},
		},
		Run: func(ctx context.Context, raw json.RawMessage, env Env) (Result, error) {
			var args switchPersonaArgs
			if err := decodeArgs(raw, &args); err != nil {
				return Result{}, err
			}
			if args.Persona == "" {
				return Result{}, fmt.Errorf("tools: persona name is required")
			}
			if err := store.Switch(args.Persona); err != nil {
				return Result{}, fmt.Errorf("tools: switch persona: %w", err)
			}
			return Result{Output: `{"switched":true}`}, nil
		},
	}
}
