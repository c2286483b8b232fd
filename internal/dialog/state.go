package dialog

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phase is the session's conversation phase.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseListening  Phase = "listening"
	PhaseProcessing Phase = "processing"
	PhaseResponding Phase = "responding"
)

// Busy reports whether a reply is being generated or delivered.
func (p Phase) Busy() bool {
	return p == PhaseProcessing || p == PhaseResponding
}

// Outcome is the terminal state of a Turn.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeFailed    Outcome = "failed"
)

var (
	ErrTurnActive = errors.New("dialog: a turn is already active")
	ErrNoTurn     = errors.New("dialog: no active turn")
	ErrBadPhase   = errors.New("dialog: transition not allowed in current phase")
)

// Message is one role-tagged entry of the chat history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Turn is a single user-utterance-to-reply exchange.
type Turn struct {
	ID           string
	Transcript   string
	ResponseText string
	Outcome      Outcome
	ChunkCount   int
	StartedAt    time.Time
	FirstAudioAt time.Time
	EndedAt      time.Time
}

// Machine owns a session's phase, chat history and active turn. It is the
// only component allowed to mutate phase; everything else treats phase
// reads as snapshots that may already be stale.
type Machine struct {
	mu         sync.Mutex
	phase      Phase
	active     *Turn
	history    []Message
	maxHistory int
}

func NewMachine(maxHistory int) *Machine {
	if maxHistory <= 0 {
		maxHistory = 64
	}
	return &Machine{phase: PhaseIdle, maxHistory: maxHistory}
}

// Phase returns the current phase snapshot.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Initialize arms the machine for listening. Entered once on explicit
// initialize or on first client audio; a no-op when already listening.
func (m *Machine) Initialize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == PhaseIdle {
		m.phase = PhaseListening
	}
}

// StartTurn creates a new turn from a final transcript and moves to
// PROCESSING. The transcript is appended to history as a user message.
// A second start while a turn is active is rejected, never overwritten.
func (m *Machine) StartTurn(transcript string, now time.Time) (Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return Turn{}, ErrTurnActive
	}
	if m.phase != PhaseListening {
		return Turn{}, ErrBadPhase
	}
	t := &Turn{
		ID:         uuid.NewString(),
		Transcript: transcript,
		StartedAt:  now,
	}
	m.active = t
	m.phase = PhaseProcessing
	m.appendLocked(Message{Role: "user", Content: transcript})
	return *t, nil
}

// MarkResponding records the first audio chunk being ready for delivery.
func (m *Machine) MarkResponding(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ErrNoTurn
	}
	if m.phase != PhaseProcessing {
		return ErrBadPhase
	}
	m.phase = PhaseResponding
	m.active.FirstAudioAt = now
	return nil
}

// CompleteTurn finishes the active turn successfully, appending the
// assembled assistant text to history. Only completed turns touch history;
// cancelled and timed-out turns leave it untouched.
func (m *Machine) CompleteTurn(responseText string, chunkCount int, now time.Time) (Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return Turn{}, ErrNoTurn
	}
	t := m.active
	t.ResponseText = responseText
	t.ChunkCount = chunkCount
	t.Outcome = OutcomeCompleted
	t.EndedAt = now
	m.active = nil
	m.phase = PhaseListening
	if responseText != "" {
		m.appendLocked(Message{Role: "assistant", Content: responseText})
	}
	return *t, nil
}

// CancelTurn ends the active turn as cancelled (barge-in). Returns false
// when no turn is active, which makes repeated cancellation a no-op.
func (m *Machine) CancelTurn(now time.Time) (Turn, bool) {
	return m.end(OutcomeCancelled, now)
}

// TimeoutTurn ends the active turn as timed out (watchdog expiry).
func (m *Machine) TimeoutTurn(now time.Time) (Turn, bool) {
	return m.end(OutcomeTimedOut, now)
}

// FailTurn ends the active turn as failed (collaborator error).
func (m *Machine) FailTurn(now time.Time) (Turn, bool) {
	return m.end(OutcomeFailed, now)
}

func (m *Machine) end(outcome Outcome, now time.Time) (Turn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return Turn{}, false
	}
	t := m.active
	t.Outcome = outcome
	t.EndedAt = now
	m.active = nil
	m.phase = PhaseListening
	return *t, true
}

// ActiveTurnID returns the id of the in-flight turn, or "".
func (m *Machine) ActiveTurnID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ""
	}
	return m.active.ID
}

// History returns a copy of the chat history in order.
func (m *Machine) History() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.history))
	copy(out, m.history)
	return out
}

func (m *Machine) appendLocked(msg Message) {
	m.history = append(m.history, msg)
	if len(m.history) > m.maxHistory {
		m.history = m.history[len(m.history)-m.maxHistory:]
	}
}
