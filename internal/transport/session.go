// Package transport owns the producer's single outbound TCP connection
// and delivers encoded packets in the order produced.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"
)

// Transport errors.
var (
	// ErrConnectFailed is returned when every connection attempt has been
	// exhausted. The caller decides whether to abort the process.
	ErrConnectFailed = errors.New("all connection attempts failed")

	// ErrSendFailed is returned when a send's I/O failed. The session is
	// disconnected afterwards; the caller must reconnect before the next
	// send.
	ErrSendFailed = errors.New("send failed")

	// ErrNotConnected is returned by Send when no connection is open.
	ErrNotConnected = errors.New("session is not connected")
)

// Default connection settings.
const (
	DefaultHost        = "127.0.0.1"
	DefaultPort        = 5500
	DefaultMaxRetries  = 10
	DefaultRetryDelay  = 2 * time.Second
	DefaultDialTimeout = 5 * time.Second
)

// Config holds the connection parameters for a Session.
type Config struct {
	Host        string
	Port        int
	MaxRetries  int
	RetryDelay  time.Duration
	DialTimeout time.Duration
}

// Dialer abstracts TCP dialing so tests can inject failing connections.
type Dialer interface {
	Dial(addr string) (net.Conn, error)
}

// TCPDialer dials plain TCP with a timeout.
type TCPDialer struct {
	Timeout time.Duration
}

// Dial connects to addr, giving up after Timeout.
func (d TCPDialer) Dial(addr string) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, d.Timeout)
}

// Session maintains exactly one outbound TCP connection. It moves between
// two states: disconnected and connected. A send failure or Close returns
// it to disconnected; reconnection is a fresh Connect, not a resume.
//
// The connection is written only by the producer loop goroutine; the
// mutex exists so Connected can be read from the monitor.
type Session struct {
	cfg    Config
	dialer Dialer

	mu   sync.Mutex
	conn net.Conn
}

// NewSession creates a disconnected Session. Zero config fields fall back
// to the package defaults.
func NewSession(cfg Config) *Session {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	return &Session{
		cfg:    cfg,
		dialer: TCPDialer{Timeout: cfg.DialTimeout},
	}
}

// Addr returns the configured remote endpoint as host:port.
func (s *Session) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Connect dials the configured endpoint, blocking up to MaxRetries
// attempts with RetryDelay between them. There is no delay after the
// final attempt. On success the session is connected; on exhaustion it
// returns ErrConnectFailed carrying the last dial error. Cancelling ctx
// aborts the wait between attempts.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()

	addr := s.Addr()
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		conn, err := s.dialer.Dial(addr)
		if err == nil {
			s.mu.Lock()
			s.conn = conn
			s.mu.Unlock()
			log.Printf("transport: connected to %s", addr)
			return nil
		}
		lastErr = err
		log.Printf("transport: connect attempt %d/%d to %s failed: %v", attempt, s.cfg.MaxRetries, addr, err)

		if attempt == s.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.RetryDelay):
		}
	}
	return fmt.Errorf("connect to %s after %d attempts: %w: %v", addr, s.cfg.MaxRetries, ErrConnectFailed, lastErr)
}

// Send writes pkt in full. On any I/O error the session transitions to
// disconnected and ErrSendFailed is returned; Send never reconnects on
// its own.
func (s *Session) Send(pkt []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	if _, err := conn.Write(pkt); err != nil {
		s.mu.Lock()
		if s.conn == conn {
			s.conn.Close()
			s.conn = nil
		}
		s.mu.Unlock()
		log.Printf("transport: send of %d bytes to %s failed: %v", len(pkt), s.Addr(), err)
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Connected reports whether the session currently holds an open
// connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn != nil
}

// Close releases the socket. It is safe to call multiple times.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
