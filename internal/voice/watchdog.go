package voice

import (
	"sync"
	"time"
)

// turnWatchdog enforces a hard deadline on a processing turn. The fire
// callback runs on the timer goroutine; whoever receives it must arbitrate
// against a turn that completed in the same instant.
type turnWatchdog struct {
	mu    sync.Mutex
	timer *time.Timer
}

func newTurnWatchdog() *turnWatchdog {
	return &turnWatchdog{}
}

// Arm schedules fire after deadline, replacing any previous schedule.
func (w *turnWatchdog) Arm(deadline time.Duration, fire func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(deadline, fire)
}

// Disarm cancels the pending deadline, if any.
func (w *turnWatchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
