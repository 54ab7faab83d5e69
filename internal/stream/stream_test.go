package stream

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/lidarcast/internal/capture"
	"github.com/ayusman/lidarcast/internal/detector"
	"github.com/ayusman/lidarcast/internal/telemetry"
	"github.com/ayusman/lidarcast/internal/wire"
)

// fakeSender records delivered packets and plays back scripted send
// failures.
type fakeSender struct {
	mu         sync.Mutex
	packets    [][]byte
	sendErrs   []error
	connectErr error
	connects   int
	connected  bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{connected: true}
}

func (f *fakeSender) Send(pkt []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			f.connected = false
			return err
		}
	}
	cp := make([]byte, len(pkt))
	copy(cp, pkt)
	f.packets = append(f.packets, cp)
	return nil
}

func (f *fakeSender) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeSender) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSender) packetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.packets)
}

func (f *fakeSender) packet(i int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.packets[i]
}

func (f *fakeSender) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// failAfterWriter accepts the first write and fails every one after it,
// so the telemetry header succeeds but the first row does not.
type failAfterWriter struct {
	mu     sync.Mutex
	writes int
}

func (w *failAfterWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	if w.writes > 1 {
		return 0, errors.New("disk full")
	}
	return len(p), nil
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func solidDepth(w, h int, value float32) gocv.Mat {
	m := gocv.NewMatWithSize(h, w, gocv.MatTypeCV32F)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			m.SetFloatAt(r, c, value)
		}
	}
	return m
}

func blankRGB(w, h int) gocv.Mat {
	return gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
}

func newTestLoop(t *testing.T, cfg Config) *Loop {
	t.Helper()
	if cfg.WaitTimeout == 0 {
		cfg.WaitTimeout = 50 * time.Millisecond
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l
}

func TestNewValidation(t *testing.T) {
	src := capture.NewMockSource()
	sender := newFakeSender()
	var buf bytes.Buffer
	tl, err := telemetry.NewFrameLog(&buf)
	if err != nil {
		t.Fatalf("NewFrameLog() error = %v", err)
	}

	valid := Config{Source: src, Session: sender, Telemetry: tl, Variant: wire.VariantLandmarks}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing source", func(c *Config) { c.Source = nil }},
		{"missing session", func(c *Config) { c.Session = nil }},
		{"missing telemetry", func(c *Config) { c.Telemetry = nil }},
		{"unknown variant", func(c *Config) { c.Variant = "jpeg" }},
		{"invalid rotation", func(c *Config) { c.Rotation = 45 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Error("New() error = nil, want validation failure")
			}
		})
	}

	if _, err := New(valid); err != nil {
		t.Errorf("New() with valid config error = %v", err)
	}
}

func TestLoopRejectsSecondRun(t *testing.T) {
	src := capture.NewMockSource()
	if err := src.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer src.Stop()

	var buf bytes.Buffer
	tl, _ := telemetry.NewFrameLog(&buf)
	l := newTestLoop(t, Config{
		Source: src, Session: newFakeSender(), Telemetry: tl, Variant: wire.VariantLandmarks,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	waitFor(t, time.Second, "loop to start", func() bool { return l.Stats().Running })

	if err := l.Run(ctx); !errors.Is(err, ErrLoopRunning) {
		t.Errorf("second Run() error = %v, want ErrLoopRunning", err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestLoopSkipsAbsentFrame(t *testing.T) {
	src := capture.NewMockSource()
	if err := src.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer src.Stop()

	sender := newFakeSender()
	var buf bytes.Buffer
	tl, _ := telemetry.NewFrameLog(&buf)
	l := newTestLoop(t, Config{
		Source: src, Session: sender, Telemetry: tl, Variant: wire.VariantLandmarks,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// Raise the signal with no frame behind it. The cycle must be
	// skipped without a packet or a telemetry row.
	src.Signal().Set()
	time.Sleep(100 * time.Millisecond)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n := sender.packetCount(); n != 0 {
		t.Errorf("packets sent = %d, want 0", n)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 1 {
		t.Errorf("telemetry lines = %d, want header only", lines)
	}
}

func TestLoopStreamsLandmarkFrames(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	src := capture.NewMockSource()
	if err := src.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer src.Stop()

	det := detector.NewMockDetector()
	det.SetHands([]detector.HandLandmarks{detector.OpenPalmLandmarks()})

	sender := newFakeSender()
	var buf bytes.Buffer
	tl, _ := telemetry.NewFrameLog(&buf)
	l := newTestLoop(t, Config{
		Source: src, Detector: det, Session: sender, Telemetry: tl, Variant: wire.VariantLandmarks,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	src.Publish(blankRGB(64, 48), solidDepth(64, 48, 2.0))
	waitFor(t, 2*time.Second, "first packet", func() bool { return sender.packetCount() >= 1 })

	src.Publish(blankRGB(64, 48), solidDepth(64, 48, 2.0))
	waitFor(t, 2*time.Second, "second packet", func() bool { return sender.packetCount() >= 2 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	pkt, err := wire.DecodeLandmarks(bytes.NewReader(sender.packet(0)))
	if err != nil {
		t.Fatalf("DecodeLandmarks() error = %v", err)
	}
	if len(pkt.Hands) != 1 {
		t.Fatalf("decoded %d hands, want 1", len(pkt.Hands))
	}
	if len(pkt.Hands[0]) != detector.NumLandmarks {
		t.Fatalf("decoded %d joints, want %d", len(pkt.Hands[0]), detector.NumLandmarks)
	}
	for i, j := range pkt.Hands[0] {
		if j.Z != 2.0 {
			t.Errorf("joint %d depth = %v, want 2.0", i, j.Z)
		}
	}

	table, err := telemetry.ReadTable(&buf)
	if err != nil {
		t.Fatalf("ReadTable() error = %v", err)
	}
	if table.Len() != sender.packetCount() {
		t.Errorf("telemetry rows = %d, want %d", table.Len(), sender.packetCount())
	}
	fps, _ := table.Column("fps")
	if fps[0] != 0 {
		t.Errorf("first frame fps = %v, want 0", fps[0])
	}
	hands, _ := table.Column("num_hands")
	joints, _ := table.Column("num_joints")
	if hands[0] != 1 || joints[0] != 21 {
		t.Errorf("first row hands, joints = %v, %v, want 1, 21", hands[0], joints[0])
	}

	if got := l.Stats().FramesSent; got != uint64(sender.packetCount()) {
		t.Errorf("Stats().FramesSent = %d, want %d", got, sender.packetCount())
	}
}

func TestLoopStreamsRawFrames(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	src := capture.NewMockSource()
	if err := src.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer src.Stop()

	sender := newFakeSender()
	var buf bytes.Buffer
	tl, _ := telemetry.NewFrameLog(&buf)
	l := newTestLoop(t, Config{
		Source: src, Session: sender, Telemetry: tl, Variant: wire.VariantRaw,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	src.Publish(blankRGB(2, 2), solidDepth(2, 2, 1.0))
	waitFor(t, 2*time.Second, "raw packet", func() bool { return sender.packetCount() >= 1 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	pkt, err := wire.DecodeRaw(bytes.NewReader(sender.packet(0)))
	if err != nil {
		t.Fatalf("DecodeRaw() error = %v", err)
	}
	if pkt.Width != 2 || pkt.Height != 2 {
		t.Fatalf("decoded dims = %dx%d, want 2x2", pkt.Width, pkt.Height)
	}
	for i, mm := range pkt.DepthMM {
		if mm != 1000 {
			t.Errorf("depth sample %d = %d mm, want 1000", i, mm)
		}
	}
	for i, b := range pkt.RGB {
		if b != 0 {
			t.Errorf("rgb byte %d = %d, want 0", i, b)
			break
		}
	}
}

func TestLoopPollsNonBlockingSource(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	src := capture.NewMockSource()
	src.SetBlockingWait(false)
	if err := src.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer src.Stop()

	sender := newFakeSender()
	var buf bytes.Buffer
	tl, _ := telemetry.NewFrameLog(&buf)
	l := newTestLoop(t, Config{
		Source: src, Session: sender, Telemetry: tl, Variant: wire.VariantLandmarks,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// One published frame must yield a stream of packets in poll mode;
	// the loop never waits on the signal.
	src.Publish(blankRGB(8, 8), solidDepth(8, 8, 1.0))
	waitFor(t, 2*time.Second, "polled packets", func() bool { return sender.packetCount() >= 3 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestLoopReconnectsAfterSendFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	src := capture.NewMockSource()
	if err := src.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer src.Stop()

	sender := newFakeSender()
	sender.sendErrs = []error{errors.New("broken pipe")}
	var buf bytes.Buffer
	tl, _ := telemetry.NewFrameLog(&buf)
	l := newTestLoop(t, Config{
		Source: src, Session: sender, Telemetry: tl, Variant: wire.VariantLandmarks,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// First frame hits the scripted failure and is dropped after the
	// reconnect succeeds.
	src.Publish(blankRGB(8, 8), solidDepth(8, 8, 1.0))
	waitFor(t, 2*time.Second, "reconnect", func() bool { return sender.connectCount() == 1 })

	src.Publish(blankRGB(8, 8), solidDepth(8, 8, 1.0))
	waitFor(t, 2*time.Second, "post-reconnect packet", func() bool { return sender.packetCount() >= 1 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	table, err := telemetry.ReadTable(&buf)
	if err != nil {
		t.Fatalf("ReadTable() error = %v", err)
	}
	if table.Len() != sender.packetCount() {
		t.Errorf("telemetry rows = %d, want %d (dropped frame must not be logged)",
			table.Len(), sender.packetCount())
	}
}

func TestLoopTerminatesWhenReconnectFails(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	src := capture.NewMockSource()
	if err := src.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer src.Stop()

	sender := newFakeSender()
	sender.sendErrs = []error{errors.New("broken pipe")}
	sender.connectErr = errors.New("connection refused")
	var buf bytes.Buffer
	tl, _ := telemetry.NewFrameLog(&buf)
	l := newTestLoop(t, Config{
		Source: src, Session: sender, Telemetry: tl, Variant: wire.VariantLandmarks,
	})

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	src.Publish(blankRGB(8, 8), solidDepth(8, 8, 1.0))

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Run() error = nil, want termination after failed reconnect")
		}
		if !strings.Contains(err.Error(), "reconnect") {
			t.Errorf("Run() error = %v, want reconnect failure", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not terminate after failed reconnect")
	}

	if l.Stats().Running {
		t.Error("Stats().Running = true after termination")
	}
}

func TestLoopTelemetryWriteFatal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	src := capture.NewMockSource()
	if err := src.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer src.Stop()

	tl, err := telemetry.NewFrameLog(&failAfterWriter{})
	if err != nil {
		t.Fatalf("NewFrameLog() error = %v", err)
	}
	l := newTestLoop(t, Config{
		Source: src, Session: newFakeSender(), Telemetry: tl, Variant: wire.VariantLandmarks,
	})

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	src.Publish(blankRGB(8, 8), solidDepth(8, 8, 1.0))

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "telemetry") {
			t.Errorf("Run() error = %v, want telemetry failure", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not terminate after telemetry write failure")
	}
}

func TestLoopPausedDropsFrames(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	src := capture.NewMockSource()
	if err := src.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer src.Stop()

	sender := newFakeSender()
	var buf bytes.Buffer
	tl, _ := telemetry.NewFrameLog(&buf)
	l := newTestLoop(t, Config{
		Source: src, Session: sender, Telemetry: tl, Variant: wire.VariantLandmarks,
	})
	l.SetEnabled(false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	src.Publish(blankRGB(8, 8), solidDepth(8, 8, 1.0))
	time.Sleep(100 * time.Millisecond)
	if n := sender.packetCount(); n != 0 {
		t.Errorf("packets while paused = %d, want 0", n)
	}

	l.SetEnabled(true)
	src.Publish(blankRGB(8, 8), solidDepth(8, 8, 1.0))
	waitFor(t, 2*time.Second, "packet after resume", func() bool { return sender.packetCount() >= 1 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestLoopDetectorFailureNonFatal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	src := capture.NewMockSource()
	if err := src.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer src.Stop()

	det := detector.NewMockDetector()
	det.SetError(errors.New("model crashed"))

	sender := newFakeSender()
	var buf bytes.Buffer
	tl, _ := telemetry.NewFrameLog(&buf)
	l := newTestLoop(t, Config{
		Source: src, Detector: det, Session: sender, Telemetry: tl, Variant: wire.VariantLandmarks,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	src.Publish(blankRGB(8, 8), solidDepth(8, 8, 1.0))
	waitFor(t, 2*time.Second, "empty packet", func() bool { return sender.packetCount() >= 1 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	pkt, err := wire.DecodeLandmarks(bytes.NewReader(sender.packet(0)))
	if err != nil {
		t.Fatalf("DecodeLandmarks() error = %v", err)
	}
	if len(pkt.Hands) != 0 {
		t.Errorf("decoded %d hands, want 0 after detector failure", len(pkt.Hands))
	}
}
