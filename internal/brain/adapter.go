// Package brain bridges the conversation runtime with the language model
// backend that generates assistant replies.
package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Message is one entry of the conversation history sent with a request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the normalized request sent to the reply backend.
type Request struct {
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id"`
	Character string    `json:"character,omitempty"`
	Messages  []Message `json:"messages"`
}

// Response is the final response after streaming tokens.
type Response struct {
	Text string `json:"text"`
}

// TokenHandler receives streaming text fragments.
type TokenHandler func(token string) error

// Adapter produces assistant replies. Implementations must stop promptly
// when ctx is cancelled; an interrupted turn cancels its request context.
type Adapter interface {
	StreamReply(ctx context.Context, req Request, onToken TokenHandler) (Response, error)
}

// Config controls adapter construction.
type Config struct {
	Mode    string
	HTTPURL string
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPAdapter(cfg.HTTPURL), nil
		}
		return NewMockAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("brain HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported brain mode %q", cfg.Mode)
	}
}

// LastUserText returns the content of the newest user message in the request.
func (r Request) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}
