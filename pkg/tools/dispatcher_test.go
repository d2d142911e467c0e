package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/splashworks/go-fin/pkg/playback"
)

type fakeResponder struct {
	mu       sync.Mutex
	results  []string // "callID:output"
	messages []string
}

func (f *fakeResponder) SendFunctionResult(callID, output string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, callID+":"+output)
	return nil
}

func (f *fakeResponder) SendUserMessage(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

type fakeControl struct {
	followUp       bool
	followUpPrompt string
	ended          bool
	paused         bool
}

func (f *fakeControl) SetFollowUp(expected bool, prompt string) {
	f.followUp = expected
	f.followUpPrompt = prompt
}

func (f *fakeControl) EndSession() { f.ended = true }

func (f *fakeControl) PausePlayback() { f.paused = true }

func testEnv() (*fakeResponder, *fakeControl, Env) {
	r := &fakeResponder{}
	c := &fakeControl{}
	return r, c, Env{Responder: r, Control: c}
}

func TestUnknownToolIsNoop(t *testing.T) {
	d := NewDispatcher(nil, WithSettleDelay(time.Millisecond))
	r, _, env := testEnv()

	d.Dispatch(context.Background(), Call{ID: "c1", Name: "foo", Arguments: "{}"}, env)

	if len(r.results) != 0 || len(r.messages) != 0 {
		t.Errorf("unknown tool produced traffic: results=%v messages=%v", r.results, r.messages)
	}
}

func TestDispatchSendsResult(t *testing.T) {
	d := NewDispatcher(nil, WithSettleDelay(time.Millisecond))
	d.Register(Tool{
		Name: "echo",
		Run: func(ctx context.Context, raw json.RawMessage, env Env) (Result, error) {
			return Result{Output: string(raw)}, nil
		},
	})

	r, _, env := testEnv()
	d.Dispatch(context.Background(), Call{ID: "c7", Name: "echo", Arguments: `{"x":1}`}, env)

	if len(r.results) != 1 || r.results[0] != `c7:{"x":1}` {
		t.Errorf("results = %v", r.results)
	}
}

func TestHandlerErrorBecomesErrorResult(t *testing.T) {
	d := NewDispatcher(nil, WithSettleDelay(time.Millisecond))
	d.Register(Tool{
		Name: "boom",
		Run: func(ctx context.Context, raw json.RawMessage, env Env) (Result, error) {
			return Result{}, errors.New("kaput")
		},
	})

	r, _, env := testEnv()
	d.Dispatch(context.Background(), Call{ID: "c1", Name: "boom", Arguments: "{}"}, env)

	if len(r.results) != 1 || !strings.Contains(r.results[0], "kaput") {
		t.Errorf("results = %v, want error payload", r.results)
	}
	if len(r.messages) != 0 {
		t.Errorf("failed tool should not send a follow-up, got %v", r.messages)
	}
}

func TestFollowUpMessageAfterResult(t *testing.T) {
	d := NewDispatcher(nil, WithSettleDelay(time.Millisecond))
	d.Register(Tool{
		Name: "chatty",
		Run: func(ctx context.Context, raw json.RawMessage, env Env) (Result, error) {
			return Result{Output: `{"ok":true}`, FollowUp: "(continue)"}, nil
		},
	})

	r, _, env := testEnv()
	d.Dispatch(context.Background(), Call{ID: "c1", Name: "chatty", Arguments: "{}"}, env)

	if len(r.results) != 1 {
		t.Fatalf("results = %v", r.results)
	}
	if len(r.messages) != 1 || r.messages[0] != "(continue)" {
		t.Errorf("messages = %v", r.messages)
	}
}

func TestSchemasInRegistrationOrder(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(FollowUpIntent())
	d.Register(SmartHomeCommand(homeFunc(func(ctx context.Context, cmd string) (string, error) {
		return "", nil
	})))

	schemas := d.Schemas()
	if len(schemas) != 2 {
		t.Fatalf("got %d schemas", len(schemas))
	}
	if schemas[0].Name != "follow_up_intent" || schemas[1].Name != "smart_home_command" {
		t.Errorf("order = %s, %s", schemas[0].Name, schemas[1].Name)
	}
	if schemas[0].Type != "function" {
		t.Errorf("Type = %q", schemas[0].Type)
	}
}

type homeFunc func(ctx context.Context, command string) (string, error)

func (f homeFunc) Execute(ctx context.Context, command string) (string, error) {
	return f(ctx, command)
}

func TestFollowUpIntentTool(t *testing.T) {
	d := NewDispatcher(nil, WithSettleDelay(time.Millisecond))
	d.Register(FollowUpIntent())

	r, c, env := testEnv()
	d.Dispatch(context.Background(), Call{
		ID:        "c1",
		Name:      "follow_up_intent",
		Arguments: `{"expects_follow_up":true,"follow_up_prompt":"their name"}`,
	}, env)

	if !c.followUp || c.followUpPrompt != "their name" {
		t.Errorf("control = %+v", c)
	}
	if len(r.results) != 1 {
		t.Errorf("results = %v", r.results)
	}
}

func TestFollowUpIntentMalformedArgs(t *testing.T) {
	d := NewDispatcher(nil, WithSettleDelay(time.Millisecond))
	d.Register(FollowUpIntent())

	r, c, env := testEnv()
	d.Dispatch(context.Background(), Call{
		ID:        "c1",
		Name:      "follow_up_intent",
		Arguments: `{"expects_follow_up": "yes p`,
	}, env)

	if c.followUp {
		t.Error("malformed args must not change follow-up state")
	}
	if len(r.results) != 1 || !strings.Contains(r.results[0], "error") {
		t.Errorf("results = %v, want error payload", r.results)
	}
}

type fakeLibrary struct {
	items map[string]playback.Item
}

func (f *fakeLibrary) Lookup(name string) (playback.Item, error) {
	item, ok := f.items[name]
	if !ok {
		return playback.Item{}, errors.New("not in library")
	}
	return item, nil
}

type fakeQueue struct {
	items []playback.Item
}

func (f *fakeQueue) Enqueue(item playback.Item) error {
	f.items = append(f.items, item)
	return nil
}

func TestPlaySongEndsSessionAndQueues(t *testing.T) {
	lib := &fakeLibrary{items: map[string]playback.Item{
		"shark tune": {PCM: make([]byte, 480), SampleRate: 48000, Channels: 2},
	}}
	queue := &fakeQueue{}

	d := NewDispatcher(nil, WithSettleDelay(time.Millisecond))
	d.Register(PlaySong(lib, queue))

	r, c, env := testEnv()
	d.Dispatch(context.Background(), Call{
		ID:        "c1",
		Name:      "play_song",
		Arguments: `{"song":"shark tune"}`,
	}, env)

	if !c.ended {
		t.Error("play_song should end the session")
	}
	if len(queue.items) != 1 {
		t.Fatalf("queued %d items, want 1", len(queue.items))
	}
	if len(r.results) != 1 || !strings.Contains(r.results[0], "shark tune") {
		t.Errorf("results = %v", r.results)
	}
}

func TestPlaySongUnknownSong(t *testing.T) {
	d := NewDispatcher(nil, WithSettleDelay(time.Millisecond))
	queue := &fakeQueue{}
	d.Register(PlaySong(&fakeLibrary{}, queue))

	r, c, env := testEnv()
	d.Dispatch(context.Background(), Call{
		ID:        "c1",
		Name:      "play_song",
		Arguments: `{"song":"nope"}`,
	}, env)

	if c.ended {
		t.Error("failed lookup must not end the session")
	}
	if len(queue.items) != 0 {
		t.Error("failed lookup must not queue audio")
	}
	if len(r.results) != 1 || !strings.Contains(r.results[0], "error") {
		t.Errorf("results = %v", r.results)
	}
}

func TestSmartHomeCommand(t *testing.T) {
	d := NewDispatcher(nil, WithSettleDelay(time.Millisecond))
	d.Register(SmartHomeCommand(homeFunc(func(ctx context.Context, cmd string) (string, error) {
		if cmd != "lights off" {
			t.Errorf("command = %q", cmd)
		}
		return "done", nil
	})))

	r, _, env := testEnv()
	d.Dispatch(context.Background(), Call{
		ID:        "c1",
		Name:      "smart_home_command",
		Arguments: `{"command":"lights off"}`,
	}, env)

	if len(r.results) != 1 || !strings.Contains(r.results[0], "done") {
		t.Errorf("results = %v", r.results)
	}
}
