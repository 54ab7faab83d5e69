// Package sink implements the receiving end of the stream: a TCP
// listener that decodes the configured wire variant, measures arrival
// statistics and optionally records raw packets to disk.
//
// The landmark variant carries a producer timestamp, so latency_ms in
// the arrival log is true end-to-end latency. The raw variant carries
// none; for it latency_ms records the inter-arrival gap instead.
package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayusman/lidarcast/internal/telemetry"
	"github.com/ayusman/lidarcast/internal/wire"
)

// DefaultAddr is where the sink listens when nothing is configured,
// matching the producer's default destination.
const DefaultAddr = "127.0.0.1:5500"

const progressInterval = 30

// Config wires a sink. Log and RecordDir are optional.
type Config struct {
	Addr      string
	Variant   wire.Variant
	Log       *telemetry.ArrivalLog
	RecordDir string
}

// Sink accepts producer connections and drains their frame streams.
type Sink struct {
	cfg Config

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup

	frames atomic.Uint64
}

// New validates cfg and returns an unstarted sink.
func New(cfg Config) (*Sink, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	switch cfg.Variant {
	case wire.VariantRaw, wire.VariantLandmarks:
	default:
		return nil, fmt.Errorf("sink: unknown wire variant %q", cfg.Variant)
	}
	if cfg.RecordDir != "" {
		if err := os.MkdirAll(cfg.RecordDir, 0755); err != nil {
			return nil, fmt.Errorf("sink: create record dir: %w", err)
		}
	}
	return &Sink{cfg: cfg, conns: make(map[net.Conn]struct{})}, nil
}

// Listen binds the configured address. It must be called before Serve.
func (s *Sink) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("sink: listen on %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	log.Printf("sink: listening on %s (variant=%s)", ln.Addr(), s.cfg.Variant)
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Sink) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Frames reports how many packets have been decoded across all
// connections.
func (s *Sink) Frames() uint64 {
	return s.frames.Load()
}

// Serve accepts connections until ctx is canceled. Each producer gets
// its own goroutine; Serve returns after every handler has drained.
func (s *Sink) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("sink: Serve called before Listen")
	}

	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.wg.Wait()
			select {
			case <-ctx.Done():
				log.Printf("sink: stopped after %d frames", s.Frames())
				return nil
			default:
				return fmt.Errorf("sink: accept: %w", err)
			}
		}

		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handle(ctx, conn)
		}()
	}
}

// ListenAndServe binds the address and serves until ctx is canceled.
func (s *Sink) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Sink) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		s.ln.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
}

func (s *Sink) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Sink) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
	conn.Close()
}

// handle drains one producer connection until it disconnects, sends a
// malformed packet or the sink shuts down.
func (s *Sink) handle(ctx context.Context, conn net.Conn) {
	log.Printf("sink: producer connected from %s", conn.RemoteAddr())

	var (
		prev time.Time
		rec  bytes.Buffer
	)
	for {
		src := io.Reader(conn)
		if s.cfg.RecordDir != "" {
			rec.Reset()
			src = io.TeeReader(conn, &rec)
		}

		hands, embedded, hasTS, err := s.decode(src)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				log.Printf("sink: producer %s disconnected", conn.RemoteAddr())
			case errors.Is(err, net.ErrClosed):
			case ctx.Err() != nil:
			default:
				log.Printf("sink: dropping %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		now := time.Now()
		frameID := s.frames.Add(1) - 1

		fps := 0.0
		latencyMS := 0.0
		if hasTS {
			latencyMS = (float64(now.UnixNano())/1e9 - embedded) * 1000
		} else if !prev.IsZero() {
			latencyMS = float64(now.Sub(prev).Milliseconds())
		}
		if !prev.IsZero() {
			if dt := now.Sub(prev).Seconds(); dt > 0 {
				fps = 1.0 / dt
			}
		}
		prev = now

		if s.cfg.Log != nil {
			s.mu.Lock()
			err := s.cfg.Log.WriteArrival(frameID, float64(now.UnixNano())/1e9, latencyMS, fps, hands)
			s.mu.Unlock()
			if err != nil {
				log.Printf("sink: %v", err)
			}
		}

		if s.cfg.RecordDir != "" {
			path := filepath.Join(s.cfg.RecordDir, fmt.Sprintf("frame_%06d.bin", frameID))
			if err := os.WriteFile(path, rec.Bytes(), 0644); err != nil {
				log.Printf("sink: record frame %d: %v", frameID, err)
			}
		}

		if n := frameID + 1; n%progressInterval == 0 {
			log.Printf("sink: frames received: %d | fps: %.1f | latency: %.1fms", n, fps, latencyMS)
		}
	}
}

// decode reads one packet of the configured variant. hasTS reports
// whether the variant carries a producer timestamp.
func (s *Sink) decode(r io.Reader) (hands int, embedded float64, hasTS bool, err error) {
	switch s.cfg.Variant {
	case wire.VariantRaw:
		if _, err := wire.DecodeRaw(r); err != nil {
			return 0, 0, false, err
		}
		return 0, 0, false, nil
	case wire.VariantLandmarks:
		pkt, err := wire.DecodeLandmarks(r)
		if err != nil {
			return 0, 0, false, err
		}
		return len(pkt.Hands), pkt.Timestamp, true, nil
	}
	return 0, 0, false, fmt.Errorf("unknown wire variant %q", s.cfg.Variant)
}
