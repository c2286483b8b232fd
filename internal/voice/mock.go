package voice

import (
	"context"
	"strings"
)

// MockEngine is a local fallback engine used when no provider is configured.
// Transcripts are deterministic and TTS output is the sentence text itself,
// which keeps higher-level plumbing testable without audio hardware.
type MockEngine struct{}

func NewMockEngine() *MockEngine { return &MockEngine{} }

func (e *MockEngine) Transcribe(ctx context.Context, pcm []byte, _ int) (<-chan TranscriptEvent, error) {
	events := make(chan TranscriptEvent, 4)
	go func() {
		defer close(events)
		select {
		case <-ctx.Done():
			return
		default:
		}
		if len(pcm) == 0 {
			events <- TranscriptEvent{Type: TranscriptFinal, Text: "", Confidence: 0}
			return
		}
		events <- TranscriptEvent{Type: TranscriptPartial, Text: "...", Confidence: 0.5}
		events <- TranscriptEvent{Type: TranscriptFinal, Text: "simulated voice input", Confidence: 0.9}
	}()
	return events, nil
}

func (e *MockEngine) Synthesize(ctx context.Context, text, _ string) (<-chan SynthEvent, error) {
	events := make(chan SynthEvent, 4)
	go func() {
		defer close(events)
		select {
		case <-ctx.Done():
			events <- SynthEvent{Type: SynthError, Code: "cancelled", Detail: ctx.Err().Error()}
			return
		default:
		}
		if strings.TrimSpace(text) != "" {
			events <- SynthEvent{Type: SynthAudio, PCM: []byte(text), Format: "mock_text_bytes"}
		}
		events <- SynthEvent{Type: SynthDone}
	}()
	return events, nil
}
