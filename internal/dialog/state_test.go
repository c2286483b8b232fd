package dialog

import (
	"errors"
	"testing"
	"time"
)

func TestStartTurnRequiresListening(t *testing.T) {
	m := NewMachine(8)
	if _, err := m.StartTurn("hi", time.Now()); !errors.Is(err, ErrBadPhase) {
		t.Fatalf("StartTurn() before Initialize error = %v, want ErrBadPhase", err)
	}
	m.Initialize()
	if _, err := m.StartTurn("hi", time.Now()); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if got := m.Phase(); got != PhaseProcessing {
		t.Fatalf("Phase() = %v, want %v", got, PhaseProcessing)
	}
}

func TestSecondStartTurnRejected(t *testing.T) {
	m := NewMachine(8)
	m.Initialize()
	first, err := m.StartTurn("first", time.Now())
	if err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if _, err := m.StartTurn("second", time.Now()); !errors.Is(err, ErrTurnActive) {
		t.Fatalf("second StartTurn() error = %v, want ErrTurnActive", err)
	}
	if got := m.ActiveTurnID(); got != first.ID {
		t.Fatalf("ActiveTurnID() = %q, want the first turn %q", got, first.ID)
	}
}

func TestCompleteTurnAppendsHistory(t *testing.T) {
	m := NewMachine(8)
	m.Initialize()
	now := time.Now()
	if _, err := m.StartTurn("hello", now); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if err := m.MarkResponding(now.Add(300 * time.Millisecond)); err != nil {
		t.Fatalf("MarkResponding() error = %v", err)
	}
	turn, err := m.CompleteTurn("hi there", 4, now.Add(time.Second))
	if err != nil {
		t.Fatalf("CompleteTurn() error = %v", err)
	}
	if turn.Outcome != OutcomeCompleted || turn.ChunkCount != 4 {
		t.Fatalf("unexpected turn: %+v", turn)
	}
	if got := m.Phase(); got != PhaseListening {
		t.Fatalf("Phase() = %v, want %v", got, PhaseListening)
	}

	hist := m.History()
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	if hist[0].Role != "user" || hist[1].Role != "assistant" {
		t.Fatalf("unexpected history roles: %+v", hist)
	}
}

func TestCancelTurnSkipsHistory(t *testing.T) {
	m := NewMachine(8)
	m.Initialize()
	if _, err := m.StartTurn("hello", time.Now()); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	turn, ok := m.CancelTurn(time.Now())
	if !ok {
		t.Fatalf("CancelTurn() = false, want true")
	}
	if turn.Outcome != OutcomeCancelled {
		t.Fatalf("Outcome = %v, want %v", turn.Outcome, OutcomeCancelled)
	}
	// The user message stays; no assistant message is appended.
	if hist := m.History(); len(hist) != 1 {
		t.Fatalf("history length = %d, want 1", len(hist))
	}
	// A second cancel is a no-op.
	if _, ok := m.CancelTurn(time.Now()); ok {
		t.Fatalf("second CancelTurn() = true, want false")
	}
}

func TestTimeoutThenCompleteArbitration(t *testing.T) {
	m := NewMachine(8)
	m.Initialize()
	if _, err := m.StartTurn("hello", time.Now()); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if _, ok := m.TimeoutTurn(time.Now()); !ok {
		t.Fatalf("TimeoutTurn() = false, want true")
	}
	// The pipeline finishing after the watchdog must not resurrect the turn.
	if _, err := m.CompleteTurn("late", 1, time.Now()); !errors.Is(err, ErrNoTurn) {
		t.Fatalf("CompleteTurn() after timeout error = %v, want ErrNoTurn", err)
	}
}

func TestHistoryTrimsToMax(t *testing.T) {
	m := NewMachine(3)
	m.Initialize()
	for i := 0; i < 4; i++ {
		if _, err := m.StartTurn("q", time.Now()); err != nil {
			t.Fatalf("StartTurn() error = %v", err)
		}
		if _, err := m.CompleteTurn("a", 1, time.Now()); err != nil {
			t.Fatalf("CompleteTurn() error = %v", err)
		}
	}
	if hist := m.History(); len(hist) != 3 {
		t.Fatalf("history length = %d, want 3", len(hist))
	}
}
