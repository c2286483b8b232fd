package voice

import (
	"context"
	"time"

	"github.com/parley-labs/parley/internal/audio"
)

// utteranceCapture owns the audio accumulated between speech onset and the
// trailing-silence decision. Trailing silence is detected by a timer instead
// of by inspecting frames, so an utterance still finalizes when the client
// simply stops sending audio.
type utteranceCapture struct {
	buf            *audio.FrameBuffer
	silenceTimeout time.Duration
	maxUtterance   time.Duration

	active    bool
	startedAt time.Time
	timer     *time.Timer
	timeouts  chan struct{}
}

func newUtteranceCapture(sampleRate int, silenceTimeout, maxUtterance time.Duration) *utteranceCapture {
	return &utteranceCapture{
		buf:            audio.NewFrameBuffer(sampleRate),
		silenceTimeout: silenceTimeout,
		maxUtterance:   maxUtterance,
		timeouts:       make(chan struct{}, 1),
	}
}

// Timeouts fires once each time the silence timer elapses while capturing.
func (c *utteranceCapture) Timeouts() <-chan struct{} { return c.timeouts }

func (c *utteranceCapture) Active() bool { return c.active }

// Begin starts a capture at speech onset.
func (c *utteranceCapture) Begin(now time.Time) {
	if c.active {
		return
	}
	c.active = true
	c.startedAt = now
	c.buf.Drain()
	c.armTimer()
}

// Append adds a frame to the running capture and re-arms the silence timer
// when the frame still carries speech energy.
func (c *utteranceCapture) Append(pcm []byte, threshold float64) {
	if !c.active {
		return
	}
	c.buf.Push(pcm)
	if audio.RMSEnergy(pcm) >= threshold {
		c.armTimer()
	}
}

// OverLimit reports whether the capture has exceeded the utterance cap.
func (c *utteranceCapture) OverLimit(now time.Time) bool {
	return c.active && c.maxUtterance > 0 && now.Sub(c.startedAt) >= c.maxUtterance
}

// Take ends the capture and returns the collected audio.
func (c *utteranceCapture) Take() []byte {
	if !c.active {
		return nil
	}
	c.active = false
	c.stopTimer()
	return c.buf.Drain()
}

// Abort drops the capture without producing audio.
func (c *utteranceCapture) Abort() {
	c.active = false
	c.stopTimer()
	c.buf.Drain()
}

func (c *utteranceCapture) armTimer() {
	c.stopTimer()
	c.timer = time.AfterFunc(c.silenceTimeout, func() {
		select {
		case c.timeouts <- struct{}{}:
		default:
		}
	})
}

func (c *utteranceCapture) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	// Clear a timeout that fired after the decision was already made.
	select {
	case <-c.timeouts:
	default:
	}
}

// runTranscription pipes engine transcript events into the orchestrator's
// inbox, tagging them with the turn attempt that produced them.
func runTranscription(ctx context.Context, t Transcriber, pcm []byte, sampleRate int, attempt uint64, out chan<- transcriptUpdate) {
	events, err := t.Transcribe(ctx, pcm, sampleRate)
	if err != nil {
		select {
		case out <- transcriptUpdate{attempt: attempt, event: TranscriptEvent{
			Type: TranscriptError, Code: "stt_start_failed", Detail: err.Error(),
		}}:
		case <-ctx.Done():
		}
		return
	}
	for ev := range events {
		select {
		case out <- transcriptUpdate{attempt: attempt, event: ev}:
		case <-ctx.Done():
			return
		}
	}
}

type transcriptUpdate struct {
	attempt uint64
	event   TranscriptEvent
}
