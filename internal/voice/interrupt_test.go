package voice

import (
	"testing"
	"time"
)

func TestInterruptGateConfidenceBar(t *testing.T) {
	g := newInterruptGate(0.75, time.Second)
	now := time.Now()

	if g.Qualify(0.5, now) {
		t.Fatalf("Qualify(0.5) = true, want false")
	}
	if !g.Qualify(0.8, now) {
		t.Fatalf("Qualify(0.8) = false, want true")
	}
}

func TestInterruptGateCooldown(t *testing.T) {
	g := newInterruptGate(0.75, time.Second)
	now := time.Now()

	if !g.Qualify(0.9, now) {
		t.Fatalf("first Qualify = false, want true")
	}
	if g.Qualify(0.9, now.Add(500*time.Millisecond)) {
		t.Fatalf("Qualify within cooldown = true, want false")
	}
	if !g.Qualify(0.9, now.Add(1500*time.Millisecond)) {
		t.Fatalf("Qualify after cooldown = false, want true")
	}
}

func TestInterruptGateRejectedOnsetDoesNotResetCooldown(t *testing.T) {
	g := newInterruptGate(0.75, time.Second)
	now := time.Now()

	if !g.Qualify(0.9, now) {
		t.Fatalf("first Qualify = false, want true")
	}
	// A rejected low-confidence onset must not push the window out.
	g.Qualify(0.1, now.Add(900*time.Millisecond))
	if !g.Qualify(0.9, now.Add(1100*time.Millisecond)) {
		t.Fatalf("Qualify after cooldown = false, want true")
	}
}
