package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when no backend is
// configured. It streams word by word so downstream chunking paths get
// exercised the same way a real backend exercises them.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) StreamReply(ctx context.Context, req Request, onToken TokenHandler) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	text := buildMockReply(req)
	if onToken != nil {
		for _, word := range strings.SplitAfter(text, " ") {
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			default:
			}
			if err := onToken(word); err != nil {
				return Response{}, err
			}
		}
	}
	return Response{Text: text}, nil
}

func buildMockReply(req Request) string {
	base := strings.TrimSpace(req.LastUserText())
	if base == "" {
		base = "I am listening."
	}
	if req.Character != "" {
		return fmt.Sprintf("As %s, I heard you say: %s. Tell me more.", req.Character, base)
	}
	return fmt.Sprintf("I heard you say: %s. Tell me more.", base)
}
