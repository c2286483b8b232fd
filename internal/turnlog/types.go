// Package turnlog records per-turn telemetry. It stores timing and outcome
// data only; transcripts and response text never leave the process.
package turnlog

import (
	"context"
	"time"
)

// Record captures how a single conversation turn went.
type Record struct {
	ID             string        `json:"id"`
	SessionID      string        `json:"session_id"`
	Character      string        `json:"character"`
	Outcome        string        `json:"outcome"`
	ChunkCount     int           `json:"chunk_count"`
	FirstAudioTime time.Duration `json:"first_audio_time"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at"`
}

// Store persists turn telemetry.
type Store interface {
	SaveTurn(ctx context.Context, record Record) error
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]Record, error)
	Close() error
}
