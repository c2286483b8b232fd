package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Client -> server.
	TypeInitialize  MessageType = "initialize"
	TypeTextMessage MessageType = "text_message"
	TypeAudio       MessageType = "audio"

	// Server -> client.
	TypeConnected             MessageType = "connected"
	TypeInitialized           MessageType = "initialized"
	TypeSpeechDetected        MessageType = "speech_detected"
	TypeTranscriptionPartial  MessageType = "transcription_partial"
	TypeTranscriptionComplete MessageType = "transcription_complete"
	TypeProcessingStarted     MessageType = "processing_started"
	TypeLLMStreamingStarted   MessageType = "llm_streaming_started"
	TypeLLMToken              MessageType = "llm_token"
	TypeTTSChunkStarted       MessageType = "tts_chunk_started"
	TypeAudioChunk            MessageType = "audio_chunk"
	TypeResponseComplete      MessageType = "response_complete"
	TypeInterruptionDetected  MessageType = "interruption_detected"
	TypeError                 MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Initialize binds a character persona to the session and arms listening.
type Initialize struct {
	Type      MessageType `json:"type"`
	Character string      `json:"character"`
}

// TextMessage starts a text-only turn, bypassing speech recognition.
type TextMessage struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// Audio carries base64-wrapped PCM16 for JSON-only transports.
type Audio struct {
	Type        MessageType `json:"type"`
	PCM16Base64 string      `json:"audio"`
	SampleRate  int         `json:"sample_rate,omitempty"`
}

// BinaryAudio is the in-process form of a raw binary websocket frame
// (headerless PCM16 mono). It never appears as JSON on the wire.
type BinaryAudio struct {
	PCM        []byte
	SampleRate int
}

type Connected struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type Initialized struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Character string      `json:"character"`
}

type SpeechDetected struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Confidence float64     `json:"confidence"`
	Energy     float64     `json:"energy"`
	Phase      string      `json:"phase"`
	TSMs       int64       `json:"ts_ms"`
}

type TranscriptionPartial struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type TranscriptionComplete struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
}

type ProcessingStarted struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Character string      `json:"character"`
}

type LLMStreamingStarted struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
}

type LLMToken struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Token     string      `json:"token"`
}

type TTSChunkStarted struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	ChunkID   int         `json:"chunk_id"`
	Text      string      `json:"text"`
}

type AudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	TurnID      string      `json:"turn_id"`
	ChunkID     int         `json:"chunk_id"`
	AudioBase64 string      `json:"audio"`
	Text        string      `json:"text"`
	IsFinal     bool        `json:"is_final"`
}

type ResponseComplete struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
}

type InterruptionDetected struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Message   string      `json:"message"`
}

// ParseClientMessage decodes a client JSON control message into its typed form.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeInitialize:
		var msg Initialize
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Character == "" {
			return nil, errors.New("invalid initialize: character is required")
		}
		return msg, nil
	case TypeTextMessage:
		var msg TextMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Text == "" {
			return nil, errors.New("invalid text_message: text is required")
		}
		return msg, nil
	case TypeAudio:
		var msg Audio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PCM16Base64 == "" {
			return nil, errors.New("invalid audio: audio payload is required")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
