package tmux

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeCommander simulates the tmux binary's session bookkeeping.
type fakeCommander struct {
	sessions map[string]bool
	calls    []string
	fail     map[string]bool
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{sessions: make(map[string]bool), fail: make(map[string]bool)}
}

func (f *fakeCommander) Run(ctx context.Context, name string, args ...string) (string, error) {
	call := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, call)

	if name != "tmux" {
		return "", errors.New("unexpected binary")
	}
	if len(args) == 0 {
		return "", errors.New("no subcommand")
	}
	sub := args[0]
	if f.fail[sub] {
		return "simulated failure", errors.New("boom")
	}

	target := func() string {
		for i, a := range args {
			if a == "-t" && i+1 < len(args) {
				return strings.TrimPrefix(args[i+1], "=")
			}
			if a == "-s" && i+1 < len(args) {
				return args[i+1]
			}
		}
		return ""
	}

	switch sub {
	case "-V":
		return "tmux 3.4", nil
	case "has-session":
		if f.sessions[target()] {
			return "", nil
		}
		return "", errors.New("no session")
	case "new-session":
		f.sessions[target()] = true
		return "", nil
	case "kill-session":
		delete(f.sessions, target())
		return "", nil
	case "send-keys", "wait-for":
		return "", nil
	}
	return "", errors.New("unknown subcommand")
}

func TestNewSessionIsIdempotent(t *testing.T) {
	fake := newFakeCommander()
	r := NewRunnerWithCommander(fake)
	ctx := context.Background()

	if err := r.NewSession(ctx, "ralph-demo", "/tmp"); err != nil {
		t.Fatal(err)
	}
	if !r.HasSession(ctx, "ralph-demo") {
		t.Fatal("session should exist")
	}

	// Creating again must kill the old one first, not fail.
	if err := r.NewSession(ctx, "ralph-demo", "/tmp"); err != nil {
		t.Fatalf("second create failed: %v", err)
	}

	killed := false
	for _, call := range fake.calls {
		if strings.HasPrefix(call, "tmux kill-session") {
			killed = true
		}
	}
	if !killed {
		t.Error("expected pre-existing session to be killed before re-create")
	}
}

func TestNewSessionWithoutTmux(t *testing.T) {
	fake := newFakeCommander()
	fake.fail["-V"] = true
	r := NewRunnerWithCommander(fake)

	err := r.NewSession(context.Background(), "s", "/tmp")
	if !errors.Is(err, ErrTmuxUnavailable) {
		t.Errorf("expected ErrTmuxUnavailable, got %v", err)
	}
}

func TestKillMissingSessionIsNoError(t *testing.T) {
	fake := newFakeCommander()
	fake.fail["kill-session"] = true
	r := NewRunnerWithCommander(fake)

	if err := r.KillSession(context.Background(), "ghost"); err != nil {
		t.Errorf("killing a missing session errored: %v", err)
	}
}

func TestSanitizeSessionName(t *testing.T) {
	cases := map[string]string{
		"ralph/demo":        "ralph-demo",
		"feature/x_y.z":     "feature-x_y-z",
		"///":               "session",
		"ok-name_1":         "ok-name_1",
		"spaces in branch!": "spaces-in-branch",
	}
	for in, want := range cases {
		if got := SanitizeSessionName(in); got != want {
			t.Errorf("SanitizeSessionName(%q) = %q, want %q", in, got, want)
		}
	}
}
