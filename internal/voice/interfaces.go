package voice

import "context"

type TranscriptEventType string

const (
	TranscriptPartial TranscriptEventType = "partial"
	TranscriptFinal   TranscriptEventType = "final"
	TranscriptError   TranscriptEventType = "error"
)

type TranscriptEvent struct {
	Type       TranscriptEventType
	Text       string
	Confidence float64
	Code       string
	Detail     string
	Retryable  bool
}

// Transcriber converts a complete PCM16LE utterance into text. The returned
// channel carries zero or more partials followed by exactly one final or
// error event, then closes.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (<-chan TranscriptEvent, error)
}

type SynthEventType string

const (
	SynthAudio SynthEventType = "audio"
	SynthDone  SynthEventType = "done"
	SynthError SynthEventType = "error"
)

type SynthEvent struct {
	Type      SynthEventType
	PCM       []byte
	Format    string
	Code      string
	Detail    string
	Retryable bool
}

// Synthesizer renders one sentence of text to audio. The returned channel
// carries zero or more audio events followed by exactly one done or error
// event, then closes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (<-chan SynthEvent, error)
}

// Engine bundles the speech services one provider offers.
type Engine interface {
	Transcriber
	Synthesizer
}
