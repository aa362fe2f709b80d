package transcode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrStalled is the cancellation cause set by a Watchdog that fired
var ErrStalled = errors.New("stalled")

// Watchdog cancels a process context when no progress is observed for the
// configured timeout. A zero timeout disables it.
type Watchdog struct {
	timeout time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewWatchdog arms a watchdog that calls cancel with an ErrStalled cause
func NewWatchdog(timeout time.Duration, cancel context.CancelCauseFunc) *Watchdog {
	w := &Watchdog{timeout: timeout}
	if timeout <= 0 {
		return w
	}
	w.timer = time.AfterFunc(timeout, func() {
		cancel(fmt.Errorf("%w: no progress for %s", ErrStalled, timeout))
	})
	return w
}

// Touch records progress and pushes the deadline out
func (w *Watchdog) Touch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil || w.stopped {
		return
	}
	w.timer.Reset(w.timeout)
}

// Stop disarms the watchdog
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}
