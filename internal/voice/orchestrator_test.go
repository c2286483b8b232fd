package voice

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/parley-labs/parley/internal/brain"
	"github.com/parley-labs/parley/internal/observability"
	"github.com/parley-labs/parley/internal/protocol"
	"github.com/parley-labs/parley/internal/session"
	"github.com/parley-labs/parley/internal/turnlog"
	"github.com/parley-labs/parley/internal/vad"
)

type orchHarness struct {
	t        *testing.T
	sessions *session.Manager
	sess     *session.Session
	inbound  chan any
	outbound chan any
	cancel   context.CancelFunc
	done     chan error
}

func newHarness(t *testing.T, adapter brain.Adapter, engine Engine, mutate func(*Settings)) *orchHarness {
	t.Helper()

	settings := Settings{
		SampleRate:       16000,
		VADPolicy:        vad.DefaultPolicy(),
		SilenceTimeout:   60 * time.Millisecond,
		MaxUtterance:     2 * time.Second,
		WatchdogDeadline: 5 * time.Second,
		SentenceMaxLen:   240,
		TTSConcurrency:   2,
		DefaultVoice:     "v1",
	}
	if mutate != nil {
		mutate(&settings)
	}

	sessions := session.NewManager(time.Minute)
	metrics := observability.NewMetrics(fmt.Sprintf("parley_test_%d", time.Now().UnixNano()))
	o := NewOrchestrator(sessions, adapter, engine, turnlog.NewInMemoryStore(), metrics, slog.Default(), settings)

	sess := sessions.Create("sage", "v1")
	inbound := make(chan any, 64)
	outbound := make(chan any, 256)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- o.RunConnection(ctx, sess, inbound, outbound)
	}()

	h := &orchHarness{
		t:        t,
		sessions: sessions,
		sess:     sess,
		inbound:  inbound,
		outbound: outbound,
		cancel:   cancel,
		done:     done,
	}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Errorf("orchestrator did not stop")
		}
	})
	return h
}

// await drains outbound until a message of type T arrives.
func await[T any](h *orchHarness, timeout time.Duration) T {
	h.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-h.outbound:
			if v, ok := msg.(T); ok {
				return v
			}
		case <-deadline:
			var zero T
			h.t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

// expectNone fails when a message of type T arrives within the window.
func expectNone[T any](h *orchHarness, window time.Duration) {
	h.t.Helper()
	deadline := time.After(window)
	for {
		select {
		case msg := <-h.outbound:
			if _, ok := msg.(T); ok {
				h.t.Fatalf("unexpected %T", msg)
			}
		case <-deadline:
			return
		}
	}
}

func loudFrames(windows int) []byte {
	p := vad.DefaultPolicy()
	buf := make([]byte, p.WindowSamples*2*windows)
	for i := 0; i < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], uint16(5000))
	}
	return buf
}

// blockingBrain holds the reply open until released, keeping a turn in
// flight for as long as the test needs.
type blockingBrain struct {
	release chan struct{}
}

func (b *blockingBrain) StreamReply(ctx context.Context, _ brain.Request, onToken brain.TokenHandler) (brain.Response, error) {
	select {
	case <-ctx.Done():
		return brain.Response{}, ctx.Err()
	case <-b.release:
	}
	if onToken != nil {
		if err := onToken("Done."); err != nil {
			return brain.Response{}, err
		}
	}
	return brain.Response{Text: "Done."}, nil
}

func TestTextTurnHappyPath(t *testing.T) {
	h := newHarness(t, &scriptedBrain{tokens: []string{"Hi there. ", "All good."}}, NewMockEngine(), nil)

	await[protocol.Connected](h, time.Second)
	h.inbound <- protocol.Initialize{Type: protocol.TypeInitialize, Character: "sage"}
	await[protocol.Initialized](h, time.Second)

	h.inbound <- protocol.TextMessage{Type: protocol.TypeTextMessage, Text: "hello"}
	started := await[protocol.ProcessingStarted](h, time.Second)
	if started.TurnID == "" {
		t.Fatalf("ProcessingStarted without turn id")
	}
	first := await[protocol.AudioChunk](h, time.Second)
	if first.TurnID != started.TurnID {
		t.Fatalf("audio chunk turn id = %q, want %q", first.TurnID, started.TurnID)
	}
	complete := await[protocol.ResponseComplete](h, time.Second)
	if complete.TurnID != started.TurnID {
		t.Fatalf("response complete turn id = %q, want %q", complete.TurnID, started.TurnID)
	}

	// The machine is back in listening; a second turn starts cleanly.
	h.inbound <- protocol.TextMessage{Type: protocol.TypeTextMessage, Text: "again"}
	second := await[protocol.ProcessingStarted](h, time.Second)
	if second.TurnID == started.TurnID {
		t.Fatalf("second turn reused the first turn id")
	}
}

func TestSecondTurnWhileBusyIsRejected(t *testing.T) {
	b := &blockingBrain{release: make(chan struct{})}
	h := newHarness(t, b, NewMockEngine(), nil)

	await[protocol.Connected](h, time.Second)
	h.inbound <- protocol.TextMessage{Type: protocol.TypeTextMessage, Text: "first"}
	await[protocol.ProcessingStarted](h, time.Second)

	h.inbound <- protocol.TextMessage{Type: protocol.TypeTextMessage, Text: "second"}
	errEvent := await[protocol.ErrorEvent](h, time.Second)
	if errEvent.Code != "turn_in_progress" {
		t.Fatalf("error code = %q, want turn_in_progress", errEvent.Code)
	}

	close(b.release)
	await[protocol.ResponseComplete](h, time.Second)
}

func TestBargeInCancelsActiveTurn(t *testing.T) {
	b := &blockingBrain{release: make(chan struct{})}
	h := newHarness(t, b, NewMockEngine(), nil)

	await[protocol.Connected](h, time.Second)
	h.inbound <- protocol.TextMessage{Type: protocol.TypeTextMessage, Text: "tell me everything"}
	started := await[protocol.ProcessingStarted](h, time.Second)

	// Loud speech while the reply is in flight.
	h.inbound <- protocol.BinaryAudio{PCM: loudFrames(3), SampleRate: 16000}

	interrupted := await[protocol.InterruptionDetected](h, time.Second)
	if interrupted.TurnID != started.TurnID {
		t.Fatalf("interruption turn id = %q, want %q", interrupted.TurnID, started.TurnID)
	}

	sess, err := h.sessions.Get(h.sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess.InterruptionCount != 1 {
		t.Fatalf("InterruptionCount = %d, want 1", sess.InterruptionCount)
	}

	// The abandoned pipeline must not emit anything while the brain is
	// still held open.
	expectNone[protocol.AudioChunk](h, 150*time.Millisecond)
	expectNone[protocol.ResponseComplete](h, 50*time.Millisecond)

	// The interrupting speech is captured as the next utterance and runs
	// as a fresh turn once the brain responds.
	close(b.release)
	complete := await[protocol.ResponseComplete](h, time.Second)
	if complete.TurnID == started.TurnID {
		t.Fatalf("cancelled turn %q produced a completion", started.TurnID)
	}
}

func TestWatchdogTimesOutStuckTurn(t *testing.T) {
	b := &blockingBrain{release: make(chan struct{})}
	h := newHarness(t, b, NewMockEngine(), func(s *Settings) {
		s.WatchdogDeadline = 80 * time.Millisecond
	})

	await[protocol.Connected](h, time.Second)
	h.inbound <- protocol.TextMessage{Type: protocol.TypeTextMessage, Text: "hang"}
	await[protocol.ProcessingStarted](h, time.Second)

	errEvent := await[protocol.ErrorEvent](h, time.Second)
	if errEvent.Code != "turn_timeout" {
		t.Fatalf("error code = %q, want turn_timeout", errEvent.Code)
	}

	// After the timeout the session accepts a new turn.
	h.inbound <- protocol.TextMessage{Type: protocol.TypeTextMessage, Text: "again"}
	await[protocol.ProcessingStarted](h, time.Second)
}

func TestVoiceTurnEndToEnd(t *testing.T) {
	h := newHarness(t, &scriptedBrain{tokens: []string{"Nice to hear you."}}, NewMockEngine(), nil)

	await[protocol.Connected](h, time.Second)
	h.inbound <- protocol.Initialize{Type: protocol.TypeInitialize, Character: "spark"}
	await[protocol.Initialized](h, time.Second)

	h.inbound <- protocol.BinaryAudio{PCM: loudFrames(4), SampleRate: 16000}
	detected := await[protocol.SpeechDetected](h, time.Second)
	if detected.Phase != "listening" {
		t.Fatalf("speech phase = %q, want listening", detected.Phase)
	}

	// Stop sending audio; trailing silence finalizes the utterance.
	complete := await[protocol.TranscriptionComplete](h, time.Second)
	if complete.Text != "simulated voice input" {
		t.Fatalf("transcript = %q", complete.Text)
	}
	await[protocol.ProcessingStarted](h, time.Second)
	await[protocol.AudioChunk](h, time.Second)
	await[protocol.ResponseComplete](h, time.Second)
}

// silentEngine produces empty transcripts, as real STT does for noise.
type silentEngine struct{ MockEngine }

func (e *silentEngine) Transcribe(_ context.Context, _ []byte, _ int) (<-chan TranscriptEvent, error) {
	events := make(chan TranscriptEvent, 1)
	events <- TranscriptEvent{Type: TranscriptFinal, Text: "", Confidence: 0}
	close(events)
	return events, nil
}

func TestEmptyTranscriptNeverStartsTurn(t *testing.T) {
	h := newHarness(t, &scriptedBrain{tokens: []string{"Should never run."}}, &silentEngine{}, nil)

	await[protocol.Connected](h, time.Second)
	h.inbound <- protocol.BinaryAudio{PCM: loudFrames(4), SampleRate: 16000}
	await[protocol.SpeechDetected](h, time.Second)

	expectNone[protocol.ProcessingStarted](h, 300*time.Millisecond)

	// The session is still usable afterwards.
	h.inbound <- protocol.TextMessage{Type: protocol.TypeTextMessage, Text: "hello"}
	await[protocol.ProcessingStarted](h, time.Second)
}

func TestMutedEmitterDropsMessages(t *testing.T) {
	var sent []any
	e := &turnEmitter{send: func(m any) { sent = append(sent, m) }}

	if !e.Emit("before") {
		t.Fatalf("Emit before Mute = false, want true")
	}
	e.Mute()
	if e.Emit("after") {
		t.Fatalf("Emit after Mute = true, want false")
	}
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
}

func TestMuteStopsPipelineAudioMidTurn(t *testing.T) {
	var mu sync.Mutex
	var msgs []any
	emitter := &turnEmitter{send: func(m any) {
		mu.Lock()
		msgs = append(msgs, m)
		mu.Unlock()
	}}

	p := &replyPipeline{
		brain:          &scriptedBrain{tokens: []string{"One. ", "Two. ", "Three. ", "Four."}},
		synth:          &streamingSynth{pieceLen: 2, pieceWait: 10 * time.Millisecond},
		emit:           emitter.Emit,
		log:            slog.Default(),
		sessionID:      "s1",
		turnID:         "t1",
		voiceID:        "v1",
		sentenceMaxLen: 240,
		concurrency:    1,
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_, _, _ = p.Run(context.Background(), brain.Request{})
	}()

	// Wait for the first audio chunk, then mute the turn the way a
	// barge-in does.
	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		seen := false
		for _, m := range msgs {
			if _, ok := m.(protocol.AudioChunk); ok {
				seen = true
				break
			}
		}
		mu.Unlock()
		if seen {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("no audio chunk before deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}

	emitter.Mute()
	mu.Lock()
	cutoff := len(msgs)
	mu.Unlock()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("pipeline did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	for i := cutoff; i < len(msgs); i++ {
		if _, ok := msgs[i].(protocol.AudioChunk); ok {
			t.Fatalf("audio chunk emitted after mute")
		}
	}
}
