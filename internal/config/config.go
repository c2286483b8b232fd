package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice conversation service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	FirstAudioSLO            time.Duration
	MetricsNamespace         string
	LogLevel                 string

	AllowAnyOrigin bool

	// Audio ingest.
	SampleRate int

	// Voice activity detection.
	VADThreshold        float64
	VADDebounceWindows  int
	VADWindowSamples    int
	InterruptConfidence float64
	InterruptCooldown   time.Duration

	// Turn pacing.
	SilenceTimeout   time.Duration
	MaxUtterance     time.Duration
	WatchdogDeadline time.Duration

	// Reply pipeline.
	SentenceMaxLen int
	TTSConcurrency int

	EngineProvider string

	ElevenLabsAPIKey          string
	ElevenLabsBaseURL         string
	ElevenLabsTTSVoice        string
	ElevenLabsTTSModel        string
	ElevenLabsSTTModel        string
	ElevenLabsTTSOutputFormat string

	BrainMode    string
	BrainHTTPURL string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "parley"),
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		AllowAnyOrigin:   false,
		SampleRate:       16000,

		VADThreshold:        600,
		VADDebounceWindows:  2,
		VADWindowSamples:    320,
		InterruptConfidence: 0.75,
		InterruptCooldown:   1500 * time.Millisecond,

		SilenceTimeout:   700 * time.Millisecond,
		MaxUtterance:     15 * time.Second,
		WatchdogDeadline: 10 * time.Second,

		SentenceMaxLen: 240,
		TTSConcurrency: 3,

		EngineProvider:    envOrDefault("ENGINE_PROVIDER", "auto"),
		ElevenLabsAPIKey:  trimmedEnv("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL: envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		// Warm premade voice as the out-of-the-box default.
		ElevenLabsTTSVoice:        envOrDefault("ELEVENLABS_TTS_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		ElevenLabsTTSModel:        envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsSTTModel:        envOrDefault("ELEVENLABS_STT_MODEL_ID", "scribe_v1"),
		ElevenLabsTTSOutputFormat: envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "pcm_16000"),

		BrainMode:    envOrDefault("BRAIN_MODE", "auto"),
		BrainHTTPURL: trimmedEnv("BRAIN_HTTP_URL"),

		DatabaseURL: trimmedEnv("DATABASE_URL"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		FirstAudioSLO:            700 * time.Millisecond,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.FirstAudioSLO, err = durationFromEnv("APP_FIRST_AUDIO_SLO", cfg.FirstAudioSLO)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.SampleRate, err = intFromEnv("AUDIO_SAMPLE_RATE", cfg.SampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.VADThreshold, err = floatFromEnv("VAD_ENERGY_THRESHOLD", cfg.VADThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.VADDebounceWindows, err = intFromEnv("VAD_DEBOUNCE_WINDOWS", cfg.VADDebounceWindows)
	if err != nil {
		return Config{}, err
	}
	cfg.VADWindowSamples, err = intFromEnv("VAD_WINDOW_SAMPLES", cfg.VADWindowSamples)
	if err != nil {
		return Config{}, err
	}
	cfg.InterruptConfidence, err = floatFromEnv("INTERRUPT_CONFIDENCE", cfg.InterruptConfidence)
	if err != nil {
		return Config{}, err
	}
	cfg.InterruptCooldown, err = durationFromEnv("INTERRUPT_COOLDOWN", cfg.InterruptCooldown)
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceTimeout, err = durationFromEnv("TURN_SILENCE_TIMEOUT", cfg.SilenceTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxUtterance, err = durationFromEnv("TURN_MAX_UTTERANCE", cfg.MaxUtterance)
	if err != nil {
		return Config{}, err
	}
	cfg.WatchdogDeadline, err = durationFromEnv("TURN_WATCHDOG_DEADLINE", cfg.WatchdogDeadline)
	if err != nil {
		return Config{}, err
	}
	cfg.SentenceMaxLen, err = intFromEnv("PIPELINE_SENTENCE_MAX_LEN", cfg.SentenceMaxLen)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSConcurrency, err = intFromEnv("PIPELINE_TTS_CONCURRENCY", cfg.TTSConcurrency)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("AUDIO_SAMPLE_RATE must be positive")
	}
	if cfg.VADThreshold <= 0 {
		return Config{}, fmt.Errorf("VAD_ENERGY_THRESHOLD must be positive")
	}
	if cfg.VADDebounceWindows <= 0 {
		return Config{}, fmt.Errorf("VAD_DEBOUNCE_WINDOWS must be positive")
	}
	if cfg.VADWindowSamples <= 0 {
		return Config{}, fmt.Errorf("VAD_WINDOW_SAMPLES must be positive")
	}
	if cfg.InterruptConfidence <= 0 || cfg.InterruptConfidence > 1 {
		return Config{}, fmt.Errorf("INTERRUPT_CONFIDENCE must be in (0,1]")
	}
	if cfg.SilenceTimeout <= 0 {
		return Config{}, fmt.Errorf("TURN_SILENCE_TIMEOUT must be positive")
	}
	if cfg.WatchdogDeadline <= cfg.SilenceTimeout {
		return Config{}, fmt.Errorf("TURN_WATCHDOG_DEADLINE must exceed TURN_SILENCE_TIMEOUT")
	}
	if cfg.SentenceMaxLen <= 0 {
		return Config{}, fmt.Errorf("PIPELINE_SENTENCE_MAX_LEN must be positive")
	}
	if cfg.TTSConcurrency <= 0 {
		return Config{}, fmt.Errorf("PIPELINE_TTS_CONCURRENCY must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
