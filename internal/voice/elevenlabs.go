package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parley-labs/parley/internal/audio"
	"github.com/parley-labs/parley/internal/reliability"
)

type ElevenLabsConfig struct {
	APIKey       string
	BaseURL      string
	STTModelID   string
	TTSModelID   string
	OutputFormat string
	SampleRate   int
}

// ElevenLabsEngine provides segment speech-to-text and streaming
// text-to-speech over the ElevenLabs HTTP API. Utterances are endpointed
// locally, so the segment STT endpoint fits the access pattern here better
// than the realtime websocket would.
type ElevenLabsEngine struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

func NewElevenLabsEngine(cfg ElevenLabsConfig) *ElevenLabsEngine {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.STTModelID) == "" {
		cfg.STTModelID = "scribe_v1"
	}
	if strings.TrimSpace(cfg.TTSModelID) == "" {
		cfg.TTSModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "pcm_16000"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &ElevenLabsEngine{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (e *ElevenLabsEngine) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (<-chan TranscriptEvent, error) {
	if sampleRate <= 0 {
		sampleRate = e.cfg.SampleRate
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model_id", e.cfg.STTModelID); err != nil {
		return nil, fmt.Errorf("write model field: %w", err)
	}
	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if err := audio.WriteWAVPCM16LETo(fw, pcm, sampleRate); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(e.cfg.BaseURL, "/")+"/v1/speech-to-text", &body)
	if err != nil {
		return nil, fmt.Errorf("create stt request: %w", err)
	}
	req.Header.Set("xi-api-key", e.cfg.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	events := make(chan TranscriptEvent, 4)
	go func() {
		defer close(events)

		res, err := e.client.Do(req)
		if err != nil {
			events <- TranscriptEvent{Type: TranscriptError, Code: "stt_request_failed", Detail: err.Error(), Retryable: true}
			return
		}
		defer res.Body.Close()

		if res.StatusCode < 200 || res.StatusCode >= 300 {
			detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
			events <- TranscriptEvent{
				Type:      TranscriptError,
				Code:      fmt.Sprintf("stt_http_%d", res.StatusCode),
				Detail:    string(detail),
				Retryable: reliability.IsRetryableHTTPStatus(res.StatusCode),
			}
			return
		}

		var parsed struct {
			Text                string  `json:"text"`
			LanguageProbability float64 `json:"language_probability"`
		}
		if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
			events <- TranscriptEvent{Type: TranscriptError, Code: "stt_decode_failed", Detail: err.Error()}
			return
		}

		confidence := parsed.LanguageProbability
		if confidence <= 0 {
			confidence = 0.9
		}
		events <- TranscriptEvent{Type: TranscriptFinal, Text: strings.TrimSpace(parsed.Text), Confidence: confidence}
	}()
	return events, nil
}

func (e *ElevenLabsEngine) Synthesize(ctx context.Context, text, voiceID string) (<-chan SynthEvent, error) {
	if strings.TrimSpace(voiceID) == "" {
		return nil, fmt.Errorf("voice_id is required")
	}

	payload, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": e.cfg.TTSModelID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tts payload: %w", err)
	}

	u, err := url.Parse(strings.TrimRight(e.cfg.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("output_format", e.cfg.OutputFormat)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create tts request: %w", err)
	}
	req.Header.Set("xi-api-key", e.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	events := make(chan SynthEvent, 32)
	go func() {
		defer close(events)

		res, err := e.client.Do(req)
		if err != nil {
			events <- SynthEvent{Type: SynthError, Code: "tts_request_failed", Detail: err.Error(), Retryable: true}
			return
		}
		defer res.Body.Close()

		if res.StatusCode < 200 || res.StatusCode >= 300 {
			detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
			events <- SynthEvent{
				Type:      SynthError,
				Code:      fmt.Sprintf("tts_http_%d", res.StatusCode),
				Detail:    string(detail),
				Retryable: reliability.IsRetryableHTTPStatus(res.StatusCode),
			}
			return
		}

		buf := make([]byte, 16*1024)
		for {
			n, err := res.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case events <- SynthEvent{Type: SynthAudio, PCM: chunk, Format: e.cfg.OutputFormat}:
				case <-ctx.Done():
					events <- SynthEvent{Type: SynthError, Code: "cancelled", Detail: ctx.Err().Error()}
					return
				}
			}
			if err == io.EOF {
				events <- SynthEvent{Type: SynthDone}
				return
			}
			if err != nil {
				events <- SynthEvent{Type: SynthError, Code: "tts_read_failed", Detail: err.Error(), Retryable: true}
				return
			}
		}
	}()
	return events, nil
}
