package stream

import (
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of the producer loop, read by the
// monitor server and the tray.
type Stats struct {
	Running    bool      `json:"running"`
	Enabled    bool      `json:"enabled"`
	Connected  bool      `json:"connected"`
	Variant    string    `json:"variant"`
	FramesSent uint64    `json:"frames_sent"`
	FPS        float64   `json:"fps"`
	Hands      int       `json:"num_hands"`
	Joints     int       `json:"num_joints"`
	StartedAt  time.Time `json:"started_at"`
	LastFrame  time.Time `json:"last_frame"`
}

// statsTracker guards the live snapshot against concurrent readers.
type statsTracker struct {
	mu sync.RWMutex
	s  Stats
}

func (t *statsTracker) setRunning(running bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Running = running
	if running {
		t.s.StartedAt = time.Now()
	}
}

func (t *statsTracker) setEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Enabled = enabled
}

func (t *statsTracker) setVariant(v string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Variant = v
}

func (t *statsTracker) observe(fps float64, hands, joints int, connected bool, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.FramesSent++
	t.s.FPS = fps
	t.s.Hands = hands
	t.s.Joints = joints
	t.s.Connected = connected
	t.s.LastFrame = at
}

func (t *statsTracker) setConnected(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Connected = connected
}

func (t *statsTracker) snapshot() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.s
}
