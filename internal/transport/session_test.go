package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

// failDialer fails every dial and counts attempts.
type failDialer struct {
	attempts int
}

func (d *failDialer) Dial(addr string) (net.Conn, error) {
	d.attempts++
	return nil, errors.New("connection refused")
}

// pipeDialer hands out the client end of a net.Pipe.
type pipeDialer struct {
	conn net.Conn
}

func (d *pipeDialer) Dial(addr string) (net.Conn, error) {
	return d.conn, nil
}

func TestNewSessionDefaults(t *testing.T) {
	s := NewSession(Config{})

	if s.cfg.Host != DefaultHost {
		t.Errorf("host = %q, want %q", s.cfg.Host, DefaultHost)
	}
	if s.cfg.Port != DefaultPort {
		t.Errorf("port = %d, want %d", s.cfg.Port, DefaultPort)
	}
	if s.cfg.MaxRetries != DefaultMaxRetries {
		t.Errorf("max retries = %d, want %d", s.cfg.MaxRetries, DefaultMaxRetries)
	}
	if s.cfg.RetryDelay != DefaultRetryDelay {
		t.Errorf("retry delay = %v, want %v", s.cfg.RetryDelay, DefaultRetryDelay)
	}
	if s.Addr() != "127.0.0.1:5500" {
		t.Errorf("Addr() = %q, want 127.0.0.1:5500", s.Addr())
	}
	if s.Connected() {
		t.Error("new session should not be connected")
	}
}

func TestConnectRetriesExhausted(t *testing.T) {
	const (
		retries = 3
		delay   = 100 * time.Millisecond
	)

	s := NewSession(Config{MaxRetries: retries, RetryDelay: delay})
	dialer := &failDialer{}
	s.dialer = dialer

	start := time.Now()
	err := s.Connect(context.Background())
	elapsed := time.Since(start)

	if !errors.Is(err, ErrConnectFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectFailed", err)
	}
	if dialer.attempts != retries {
		t.Errorf("dial attempts = %d, want %d", dialer.attempts, retries)
	}

	// Delay runs between attempts only, so 3 attempts sleep twice.
	if elapsed < 2*delay {
		t.Errorf("elapsed = %v, want at least %v", elapsed, 2*delay)
	}
	if elapsed >= 3*delay {
		t.Errorf("elapsed = %v, want under %v (no trailing delay)", elapsed, 3*delay)
	}
	if s.Connected() {
		t.Error("session should not be connected after exhausted retries")
	}
}

func TestConnectSucceeds(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	s := NewSession(Config{Host: "127.0.0.1", Port: port, MaxRetries: 1, RetryDelay: 10 * time.Millisecond})

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	if !s.Connected() {
		t.Error("Connected() = false after successful connect")
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	if s.Connected() {
		t.Error("Connected() = true after Close()")
	}
}

func TestConnectCanceled(t *testing.T) {
	s := NewSession(Config{MaxRetries: 10, RetryDelay: time.Second})
	s.dialer = &failDialer{}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := s.Connect(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Connect() error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Connect() took %v after cancel, want prompt return", elapsed)
	}
}

func TestSendNotConnected(t *testing.T) {
	s := NewSession(Config{})

	err := s.Send([]byte{1, 2, 3})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestSendFailureDisconnects(t *testing.T) {
	client, server := net.Pipe()
	server.Close()

	s := NewSession(Config{MaxRetries: 1})
	s.dialer = &pipeDialer{conn: client}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}

	err := s.Send([]byte{1, 2, 3})
	if !errors.Is(err, ErrSendFailed) {
		t.Errorf("Send() error = %v, want ErrSendFailed", err)
	}
	if s.Connected() {
		t.Error("session should be disconnected after send failure")
	}
}

func TestSendDeliversPacket(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	s := NewSession(Config{MaxRetries: 1})
	s.dialer = &pipeDialer{conn: client}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	defer s.Close()

	want := []byte{0xde, 0xad, 0xbe, 0xef}
	received := make(chan []byte, 1)
	go func() {
		buf := make([]byte, len(want))
		if _, err := server.Read(buf); err == nil {
			received <- buf
		}
	}()

	if err := s.Send(want); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}

	select {
	case got := <-received:
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("received %v, want %v", got, want)
			}
		}
	case <-time.After(time.Second):
		t.Fatal("packet not received within 1s")
	}
}

func TestCloseIdempotent(t *testing.T) {
	s := NewSession(Config{})

	for i := 0; i < 3; i++ {
		if err := s.Close(); err != nil {
			t.Errorf("Close() call %d failed: %v", i+1, err)
		}
	}
}
