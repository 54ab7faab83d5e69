package capture

import (
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// MockSource is a hand-driven Source for testing: frames are supplied
// with Publish and the signal fires exactly as a real capture goroutine
// would.
type MockSource struct {
	mu           sync.Mutex
	running      bool
	latest       *Frame
	seq          uint64
	startErr     error
	blockingWait bool

	signal *Signal
}

// NewMockSource creates a mock that supports blocking wait.
func NewMockSource() *MockSource {
	return &MockSource{
		blockingWait: true,
		signal:       NewSignal(),
	}
}

// SetStartError makes the next Start fail with err.
func (m *MockSource) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// SetBlockingWait overrides the capability flag.
func (m *MockSource) SetBlockingWait(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockingWait = v
}

// Publish installs rgb and depth as the latest frame and raises the
// signal. The mock takes ownership of both Mats.
func (m *MockSource) Publish(rgb, depth gocv.Mat) {
	m.mu.Lock()
	m.seq++
	if m.latest != nil {
		m.latest.Close()
	}
	m.latest = &Frame{RGB: rgb, Depth: depth, Timestamp: time.Now(), Seq: m.seq}
	m.mu.Unlock()

	m.signal.Set()
}

// DropLatest discards the buffered frame without touching the signal,
// for exercising the absent-frame skip path.
func (m *MockSource) DropLatest() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.latest != nil {
		m.latest.Close()
		m.latest = nil
	}
}

// Start marks the source running, or fails with the configured error.
func (m *MockSource) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return m.startErr
	}
	m.running = true
	return nil
}

// Stop marks the source stopped and releases the buffered frame.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running = false
	if m.latest != nil {
		m.latest.Close()
		m.latest = nil
	}
	return nil
}

// Latest returns a copy of the published frame.
func (m *MockSource) Latest() (*Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running || m.latest == nil {
		return nil, false
	}
	return m.latest.Clone(), true
}

// Signal returns the new-frame signal.
func (m *MockSource) Signal() *Signal {
	return m.signal
}

// SupportsBlockingWait returns the configured capability flag.
func (m *MockSource) SupportsBlockingWait() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blockingWait
}
