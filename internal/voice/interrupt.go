package voice

import "time"

// interruptGate decides whether a speech onset during assistant playback
// qualifies as a barge-in. It applies a higher confidence bar than turn
// starts plus a cooldown so one loud noise cannot cancel two turns in a row.
type interruptGate struct {
	minConfidence float64
	cooldown      time.Duration
	lastAt        time.Time
}

func newInterruptGate(minConfidence float64, cooldown time.Duration) *interruptGate {
	return &interruptGate{minConfidence: minConfidence, cooldown: cooldown}
}

// Qualify reports whether the onset is an accepted interruption and records
// it when accepted.
func (g *interruptGate) Qualify(confidence float64, now time.Time) bool {
	if confidence < g.minConfidence {
		return false
	}
	if !g.lastAt.IsZero() && now.Sub(g.lastAt) < g.cooldown {
		return false
	}
	g.lastAt = now
	return true
}
