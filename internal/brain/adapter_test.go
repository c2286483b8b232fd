package brain

import (
	"context"
	"strings"
	"testing"
)

func TestNewAdapterAutoFallsBackToMock(t *testing.T) {
	a, err := NewAdapter(Config{Mode: "auto"})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}

	resp, err := a.StreamReply(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hello"}},
	}, nil)
	if err != nil {
		t.Fatalf("StreamReply() error = %v", err)
	}
	if !strings.Contains(resp.Text, "hello") {
		t.Fatalf("unexpected response text: %q", resp.Text)
	}
}

func TestNewAdapterHTTPRequiresURL(t *testing.T) {
	if _, err := NewAdapter(Config{Mode: "http"}); err == nil {
		t.Fatalf("NewAdapter() should require an HTTP url in http mode")
	}
}

func TestNewAdapterRejectsUnknownMode(t *testing.T) {
	if _, err := NewAdapter(Config{Mode: "carrier-pigeon"}); err == nil {
		t.Fatalf("NewAdapter() should reject unknown mode")
	}
}

func TestMockAdapterStreamsTokens(t *testing.T) {
	a := NewMockAdapter()

	var tokens []string
	resp, err := a.StreamReply(context.Background(), Request{
		Character: "sage",
		Messages:  []Message{{Role: "user", Content: "tell me a story"}},
	}, func(token string) error {
		tokens = append(tokens, token)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamReply() error = %v", err)
	}
	if len(tokens) < 2 {
		t.Fatalf("expected word-by-word streaming, got %d tokens", len(tokens))
	}
	if strings.Join(tokens, "") != resp.Text {
		t.Fatalf("streamed tokens %q do not assemble into %q", strings.Join(tokens, ""), resp.Text)
	}
}

func TestMockAdapterHonorsCancelledContext(t *testing.T) {
	a := NewMockAdapter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.StreamReply(ctx, Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, nil)
	if err == nil {
		t.Fatalf("StreamReply() should fail on cancelled context")
	}
}

func TestLastUserText(t *testing.T) {
	req := Request{Messages: []Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}}
	if got := req.LastUserText(); got != "second" {
		t.Fatalf("LastUserText() = %q, want %q", got, "second")
	}
}
