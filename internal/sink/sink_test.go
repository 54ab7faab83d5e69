package sink

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayusman/lidarcast/internal/telemetry"
	"github.com/ayusman/lidarcast/internal/wire"
)

func startSink(t *testing.T, cfg Config) (*Sink, context.CancelFunc, chan error) {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	return s, cancel, done
}

func stopSink(t *testing.T, cancel context.CancelFunc, done chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sink did not shut down")
	}
}

func dialSink(t *testing.T, s *Sink) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial sink: %v", err)
	}
	return conn
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

func openPalmJoints() [][]wire.Joint {
	joints := make([]wire.Joint, 21)
	for i := range joints {
		joints[i] = wire.Joint{X: 0.5, Y: 0.5, Z: 1.25}
	}
	return [][]wire.Joint{joints}
}

func TestSinkReceivesLandmarkPackets(t *testing.T) {
	var csv bytes.Buffer
	alog, err := telemetry.NewArrivalLog(&csv)
	if err != nil {
		t.Fatalf("NewArrivalLog() error = %v", err)
	}

	s, cancel, done := startSink(t, Config{Variant: wire.VariantLandmarks, Log: alog})

	conn := dialSink(t, s)
	defer conn.Close()

	sentAt := float64(time.Now().UnixNano())/1e9 - 0.05
	pkt := wire.EncodeLandmarks(openPalmJoints(), sentAt)
	if _, err := conn.Write(pkt); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := conn.Write(pkt); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	waitFor(t, 2*time.Second, "two frames", func() bool { return s.Frames() == 2 })
	stopSink(t, cancel, done)

	table, err := telemetry.ReadTable(&csv)
	if err != nil {
		t.Fatalf("ReadTable() error = %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("arrival log rows = %d, want 2", table.Len())
	}

	latency, _ := table.Column("latency_ms")
	for i, ms := range latency {
		if ms <= 0 || ms > 5000 {
			t.Errorf("latency_ms[%d] = %v, want positive end-to-end latency", i, ms)
		}
	}
	hands, _ := table.Column("num_hands")
	if hands[0] != 1 || hands[1] != 1 {
		t.Errorf("num_hands = %v, want 1 per row", hands)
	}
	fps, _ := table.Column("fps")
	if fps[0] != 0 {
		t.Errorf("first frame fps = %v, want 0", fps[0])
	}
}

func TestSinkRawVariant(t *testing.T) {
	var csv bytes.Buffer
	alog, err := telemetry.NewArrivalLog(&csv)
	if err != nil {
		t.Fatalf("NewArrivalLog() error = %v", err)
	}

	s, cancel, done := startSink(t, Config{Variant: wire.VariantRaw, Log: alog})

	conn := dialSink(t, s)
	defer conn.Close()

	pkt, err := wire.EncodeRaw(wire.RawFrame{
		Width:  2,
		Height: 2,
		Depth:  []float32{1, 1, 1, 1},
		RGB:    make([]byte, 12),
	})
	if err != nil {
		t.Fatalf("EncodeRaw() error = %v", err)
	}
	if _, err := conn.Write(pkt); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	waitFor(t, 2*time.Second, "one frame", func() bool { return s.Frames() == 1 })
	stopSink(t, cancel, done)

	table, err := telemetry.ReadTable(&csv)
	if err != nil {
		t.Fatalf("ReadTable() error = %v", err)
	}
	if table.Len() != 1 {
		t.Fatalf("arrival log rows = %d, want 1", table.Len())
	}
	hands, _ := table.Column("num_hands")
	if hands[0] != 0 {
		t.Errorf("num_hands = %v, want 0 for raw variant", hands[0])
	}
	latency, _ := table.Column("latency_ms")
	if latency[0] != 0 {
		t.Errorf("first frame latency_ms = %v, want 0 without a timestamp", latency[0])
	}
}

func TestSinkRecordsPackets(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	s, cancel, done := startSink(t, Config{Variant: wire.VariantLandmarks, RecordDir: dir})

	conn := dialSink(t, s)
	defer conn.Close()

	first := wire.EncodeLandmarks(openPalmJoints(), 100.5)
	second := wire.EncodeLandmarks(nil, 101.5)
	if _, err := conn.Write(first); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := conn.Write(second); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	waitFor(t, 2*time.Second, "two frames", func() bool { return s.Frames() == 2 })
	stopSink(t, cancel, done)

	for i, want := range [][]byte{first, second} {
		path := filepath.Join(dir, []string{"frame_000000.bin", "frame_000001.bin"}[i])
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("recorded frame %d missing: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("recorded frame %d differs from wire bytes", i)
		}
	}
}

func TestSinkDropsMalformedStream(t *testing.T) {
	s, cancel, done := startSink(t, Config{Variant: wire.VariantLandmarks})

	bad := dialSink(t, s)
	defer bad.Close()

	// An oversized length prefix must get the connection dropped.
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], 0xFFFFFFFF)
	if _, err := bad.Write(prefix[:]); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	bad.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := bad.Read(make([]byte, 1)); err == nil {
		t.Error("connection should be closed after a malformed packet")
	}

	// The sink itself must survive and accept a fresh producer.
	good := dialSink(t, s)
	defer good.Close()
	if _, err := good.Write(wire.EncodeLandmarks(nil, 1.0)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	waitFor(t, 2*time.Second, "frame on fresh connection", func() bool { return s.Frames() == 1 })

	stopSink(t, cancel, done)
}

func TestSinkSurvivesProducerDisconnect(t *testing.T) {
	s, cancel, done := startSink(t, Config{Variant: wire.VariantLandmarks})

	conn := dialSink(t, s)
	if _, err := conn.Write(wire.EncodeLandmarks(nil, 1.0)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	waitFor(t, 2*time.Second, "first frame", func() bool { return s.Frames() == 1 })
	conn.Close()

	reconnected := dialSink(t, s)
	defer reconnected.Close()
	if _, err := reconnected.Write(wire.EncodeLandmarks(nil, 2.0)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	waitFor(t, 2*time.Second, "frame after reconnect", func() bool { return s.Frames() == 2 })

	stopSink(t, cancel, done)
}

func TestSinkServeBeforeListen(t *testing.T) {
	s, err := New(Config{Variant: wire.VariantRaw})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Serve(context.Background()); err == nil {
		t.Error("Serve() before Listen() should fail")
	}
}

func TestNewRejectsUnknownVariant(t *testing.T) {
	if _, err := New(Config{Variant: "jpeg"}); err == nil {
		t.Error("New() with unknown variant should fail")
	}
}
