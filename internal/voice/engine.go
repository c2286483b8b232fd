package voice

import (
	"fmt"
	"strings"
)

// NewEngine builds the speech engine for the configured provider. In auto
// mode the ElevenLabs engine is used when an API key is present, otherwise
// the mock engine keeps the service usable for local development.
func NewEngine(provider string, cfg ElevenLabsConfig) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewElevenLabsEngine(cfg), nil
		}
		return NewMockEngine(), nil
	case "elevenlabs":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("ELEVENLABS_API_KEY is required for the elevenlabs provider")
		}
		return NewElevenLabsEngine(cfg), nil
	case "mock":
		return NewMockEngine(), nil
	default:
		return nil, fmt.Errorf("unsupported engine provider %q", provider)
	}
}
