package turnlog

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryStoreSaveAndRecent(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for i, outcome := range []string{"completed", "cancelled", "completed"} {
		err := s.SaveTurn(ctx, Record{
			SessionID:      "s1",
			Character:      "sage",
			Outcome:        outcome,
			ChunkCount:     i + 1,
			FirstAudioTime: 300 * time.Millisecond,
			StartedAt:      time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("SaveTurn() error = %v", err)
		}
	}

	got, err := s.RecentTurns(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Outcome != "cancelled" || got[1].Outcome != "completed" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if got[0].ID == "" {
		t.Fatalf("ID should be assigned on save")
	}
}

func TestInMemoryStoreUnknownSession(t *testing.T) {
	s := NewInMemoryStore()
	got, err := s.RecentTurns(context.Background(), "missing", 5)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len = %d, want 0", len(got))
	}
}
