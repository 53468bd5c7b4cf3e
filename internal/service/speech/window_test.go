package speech

import "testing"

func TestWindowState_String(t *testing.T) {
	tests := []struct {
		state    WindowState
		expected string
	}{
		{WindowOpen, "OPEN"},
		{WindowResolved, "RESOLVED"},
		{WindowClosed, "CLOSED"},
		{WindowDropped, "DROPPED"},
		{WindowState(99), "UNKNOWN(99)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("WindowState(%d).String() = %v, want %v", tt.state, got, tt.expected)
		}
	}
}

func TestWindowState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    WindowState
		terminal bool
	}{
		{WindowOpen, false},
		{WindowResolved, false},
		{WindowClosed, true},
		{WindowDropped, true},
	}

	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.terminal {
			t.Errorf("WindowState(%s).IsTerminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestWindow_ResolveOnce(t *testing.T) {
	w := NewWindow("sess-win-1")

	if !w.Resolve("transcript") {
		t.Fatal("expected first Resolve to succeed")
	}
	if w.Resolve("silence_timeout") {
		t.Error("expected second Resolve to fail")
	}
	if w.State() != WindowResolved {
		t.Errorf("expected RESOLVED, got %s", w.State())
	}
	if w.Outcome() != "transcript" {
		t.Errorf("expected outcome transcript, got %s", w.Outcome())
	}
}

func TestWindow_FirstTerminalSourceWins(t *testing.T) {
	w := NewWindow("sess-win-1")

	wins := 0
	for _, outcome := range []string{"transcript", "no_speech", "silence_timeout"} {
		if w.Resolve(outcome) {
			wins++
		}
	}

	if wins != 1 {
		t.Errorf("expected exactly one winner, got %d", wins)
	}
	if w.Outcome() != "transcript" {
		t.Errorf("expected outcome transcript, got %s", w.Outcome())
	}
}

func TestWindow_Close(t *testing.T) {
	w := NewWindow("sess-win-1")
	if !w.Close("stopped") {
		t.Error("expected Close on an open window to report it was unresolved")
	}
	if w.Resolve("transcript") {
		t.Error("expected Resolve after Close to fail")
	}
	if w.Close("again") {
		t.Error("expected second Close to be a no-op")
	}
	if w.Outcome() != "stopped" {
		t.Errorf("expected outcome stopped, got %s", w.Outcome())
	}

	resolved := NewWindow("sess-win-2")
	resolved.Resolve("no_speech")
	if resolved.Close("stopped") {
		t.Error("expected Close on a resolved window to return false")
	}
	if resolved.State() != WindowClosed || resolved.Outcome() != "no_speech" {
		t.Errorf("expected CLOSED/no_speech, got %s/%s", resolved.State(), resolved.Outcome())
	}
}

func TestWindow_Drop(t *testing.T) {
	w := NewWindow("sess-win-1")
	if !w.Drop("network") {
		t.Fatal("expected Drop to succeed")
	}
	if w.Drop("network") {
		t.Error("expected second Drop to fail")
	}
	if w.Resolve("transcript") {
		t.Error("expected Resolve after Drop to fail")
	}
	if w.State() != WindowDropped {
		t.Errorf("expected DROPPED, got %s", w.State())
	}
}

func TestWindowIDs_Next(t *testing.T) {
	g := NewWindowIDs()

	if got := g.Next("abc"); got != "abc-win-1" {
		t.Errorf("expected abc-win-1, got %s", got)
	}
	if got := g.Next("abc"); got != "abc-win-2" {
		t.Errorf("expected abc-win-2, got %s", got)
	}
}
