// Package stream runs the producer loop: it waits for frames from a
// capture source, rotates and sanitizes them, optionally resolves hand
// landmarks against the depth plane, encodes the configured wire variant
// and hands the packet to the transport session.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/lidarcast/internal/capture"
	"github.com/ayusman/lidarcast/internal/detector"
	"github.com/ayusman/lidarcast/internal/telemetry"
	"github.com/ayusman/lidarcast/internal/wire"
)

// Default pacing for the two wait strategies.
const (
	DefaultWaitTimeout  = 500 * time.Millisecond
	DefaultPollInterval = 33 * time.Millisecond
)

// progressInterval is how many frames pass between progress log lines
// and sampled recorder writes.
const progressInterval = 30

// ErrLoopRunning is returned by Run when the loop is already running.
var ErrLoopRunning = errors.New("stream loop already running")

// Sender is the transport surface the loop drives. A *transport.Session
// satisfies it.
type Sender interface {
	Send(pkt []byte) error
	Connect(ctx context.Context) error
	Connected() bool
}

// FrameSink receives sampled frame statistics for persistence. The loop
// logs and drops sink errors rather than stalling the stream.
type FrameSink interface {
	RecordFrame(frameID uint64, at time.Time, fps float64, hands, joints int) error
}

// Config wires the collaborators of a producer loop. Source, Session and
// Telemetry are required. Detector is optional; without one the landmark
// variant streams empty payloads. Recorder is optional.
type Config struct {
	Source    capture.Source
	Detector  detector.Detector
	Session   Sender
	Telemetry *telemetry.FrameLog
	Recorder  FrameSink
	Variant   wire.Variant
	Rotation  Rotation

	// WaitTimeout bounds each wait on the source signal so the loop
	// stays responsive to cancellation. Zero means DefaultWaitTimeout.
	WaitTimeout time.Duration

	// PollInterval paces sources that cannot block on a signal. Zero
	// means DefaultPollInterval.
	PollInterval time.Duration
}

// Loop is the producer loop. It is created with New, driven by Run and
// observed through Stats. SetEnabled pauses frame processing without
// tearing the pipeline down.
type Loop struct {
	cfg Config

	mu      sync.RWMutex
	running bool
	enabled bool

	stats statsTracker
}

// New validates cfg and returns a loop that starts enabled.
func New(cfg Config) (*Loop, error) {
	if cfg.Source == nil {
		return nil, errors.New("stream: source is required")
	}
	if cfg.Session == nil {
		return nil, errors.New("stream: session is required")
	}
	if cfg.Telemetry == nil {
		return nil, errors.New("stream: telemetry log is required")
	}
	switch cfg.Variant {
	case wire.VariantRaw, wire.VariantLandmarks:
	default:
		return nil, fmt.Errorf("stream: unknown wire variant %q", cfg.Variant)
	}
	if _, err := ParseRotation(int(cfg.Rotation)); err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	l := &Loop{cfg: cfg, enabled: true}
	l.stats.setVariant(string(cfg.Variant))
	l.stats.setEnabled(true)
	return l, nil
}

// SetEnabled pauses or resumes frame processing. While paused the loop
// keeps draining the source signal so stale frames are not sent on
// resume.
func (l *Loop) SetEnabled(enabled bool) {
	l.mu.Lock()
	l.enabled = enabled
	l.mu.Unlock()
	l.stats.setEnabled(enabled)
	if enabled {
		log.Println("stream: streaming enabled")
	} else {
		log.Println("stream: streaming paused")
	}
}

// IsEnabled reports whether frames are currently being processed.
func (l *Loop) IsEnabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.enabled
}

// Stats returns a snapshot of the loop's counters.
func (l *Loop) Stats() Stats {
	return l.stats.snapshot()
}

func (l *Loop) begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return ErrLoopRunning
	}
	l.running = true
	return nil
}

func (l *Loop) end() {
	l.mu.Lock()
	l.running = false
	l.mu.Unlock()
	l.stats.setRunning(false)
}

// Run drives the loop until ctx is canceled or a fatal error occurs.
// A failed send triggers one reconnect cycle; the frame in flight is
// dropped and the loop resumes waiting for the next one. A failed
// reconnect, an encoding assertion or a telemetry write error
// terminates the loop.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.begin(); err != nil {
		return err
	}
	defer l.end()
	l.stats.setRunning(true)
	l.stats.setConnected(l.cfg.Session.Connected())

	sig := l.cfg.Source.Signal()
	blocking := l.cfg.Source.SupportsBlockingWait()
	log.Printf("stream: loop started (variant=%s rotation=%d blocking_wait=%t)",
		l.cfg.Variant, int(l.cfg.Rotation), blocking)

	var (
		sent     uint64
		lastSent time.Time
	)

	for {
		select {
		case <-ctx.Done():
			log.Printf("stream: loop stopping after %d frames", sent)
			return nil
		default:
		}

		if blocking {
			if !sig.Wait(l.cfg.WaitTimeout) {
				continue
			}
		} else if !sleepCtx(ctx, l.cfg.PollInterval) {
			continue
		}

		if !l.IsEnabled() {
			continue
		}

		frame, ok := l.cfg.Source.Latest()
		if !ok {
			continue
		}

		now := time.Now()
		timestamp := float64(now.UnixNano()) / 1e9
		fps := 0.0
		if !lastSent.IsZero() {
			if dt := now.Sub(lastSent).Seconds(); dt > 0 {
				fps = 1.0 / dt
			}
		}

		pkt, hands, joints, err := l.encode(frame, timestamp)
		frame.Close()
		if err != nil {
			return fmt.Errorf("encode frame %d: %w", sent, err)
		}

		if err := l.cfg.Session.Send(pkt); err != nil {
			log.Printf("stream: send failed: %v; starting reconnect cycle", err)
			l.stats.setConnected(false)
			if cerr := l.cfg.Session.Connect(ctx); cerr != nil {
				return fmt.Errorf("reconnect after send failure: %w", cerr)
			}
			l.stats.setConnected(true)
			continue
		}
		lastSent = now

		if err := l.cfg.Telemetry.WriteFrame(sent, timestamp, fps, hands, joints); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		l.stats.observe(fps, hands, joints, l.cfg.Session.Connected(), now)
		sent++

		if sent%progressInterval == 0 {
			log.Printf("stream: frames sent: %d | fps: %.1f | hands: %d", sent, fps, hands)
			if l.cfg.Recorder != nil {
				if err := l.cfg.Recorder.RecordFrame(sent, now, fps, hands, joints); err != nil {
					log.Printf("stream: record frame stats: %v", err)
				}
			}
		}
	}
}

// encode turns one captured frame into a wire packet. Both planes are
// rotated before any measurement so landmark coordinates and depth
// lookups agree with what the consumer renders.
func (l *Loop) encode(frame *capture.Frame, timestamp float64) (pkt []byte, hands, joints int, err error) {
	rgb := l.cfg.Rotation.Apply(frame.RGB)
	defer rgb.Close()
	depth := l.cfg.Rotation.Apply(frame.Depth)
	defer depth.Close()

	SanitizeDepth(&depth)

	if depth.Rows() != rgb.Rows() || depth.Cols() != rgb.Cols() {
		return nil, 0, 0, fmt.Errorf("%w: depth %dx%d, rgb %dx%d", wire.ErrDimensionMismatch,
			depth.Cols(), depth.Rows(), rgb.Cols(), rgb.Rows())
	}

	switch l.cfg.Variant {
	case wire.VariantRaw:
		d, c, err := rawPlanes(depth, rgb)
		if err != nil {
			return nil, 0, 0, err
		}
		pkt, err := wire.EncodeRaw(wire.RawFrame{
			Width:  rgb.Cols(),
			Height: rgb.Rows(),
			Depth:  d,
			RGB:    c,
		})
		if err != nil {
			return nil, 0, 0, err
		}
		return pkt, 0, 0, nil

	case wire.VariantLandmarks:
		found := l.detect(rgb, depth)
		n := 0
		for _, h := range found {
			n += len(h)
		}
		return wire.EncodeLandmarks(found, timestamp), len(found), n, nil
	}
	return nil, 0, 0, fmt.Errorf("unknown wire variant %q", l.cfg.Variant)
}

// detect runs hand detection on the rotated frame and resolves each
// joint's depth from the sanitized plane. Detector failures degrade to
// an empty set so a transient model error does not kill the stream.
func (l *Loop) detect(rgb, depth gocv.Mat) [][]wire.Joint {
	if l.cfg.Detector == nil {
		return nil
	}
	found, err := l.cfg.Detector.Detect(&rgb)
	if err != nil {
		log.Printf("stream: hand detection failed: %v", err)
		return nil
	}
	hands := make([][]wire.Joint, 0, len(found))
	for _, h := range found {
		joints := make([]wire.Joint, 0, len(h.Points))
		for _, p := range h.Points {
			joints = append(joints, wire.Joint{
				X: p.X,
				Y: p.Y,
				Z: JointDepth(depth, p.X, p.Y),
			})
		}
		hands = append(hands, joints)
	}
	return hands
}

// sleepCtx sleeps for d unless ctx is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
