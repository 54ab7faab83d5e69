package capture

import "time"

// Signal is the new-frame notification between a source's capture
// goroutine and the producer loop. It has set/wait/clear semantics with
// last-writer-wins: signals raised while one is already pending collapse
// into it, so no backlog accumulates and a slow consumer simply drops
// frames.
type Signal struct {
	ch chan struct{}
}

// NewSignal returns a cleared signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Set raises the signal. It never blocks; raising an already raised
// signal is a no-op.
func (s *Signal) Set() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the signal is raised or timeout elapses. A true
// return consumes the signal.
func (s *Signal) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.ch:
		return true
	case <-timer.C:
		return false
	}
}

// Clear drops a pending signal if one is raised.
func (s *Signal) Clear() {
	select {
	case <-s.ch:
	default:
	}
}
