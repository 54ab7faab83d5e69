// Package telemetry writes per-frame CSV logs on both ends of the stream
// and computes summary statistics over recorded columns.
//
// The producer emits one row per sent frame, the sink one row per received
// frame. Both logs share the comma-delimited layout of the offline analysis
// tooling, so a recording from either side can be fed straight into
// lidarcast-plot.
package telemetry

import (
	"fmt"
	"io"
	"os"
)

// Column headers written as the first row of each log.
const (
	frameHeader   = "frame_id, timestamp, fps, num_hands, num_joints"
	arrivalHeader = "frame_id, timestamp, latency_ms, fps, num_hands"
)

// FrameLog records the producer side of the stream. One row is written per
// frame that was fully processed and handed to the transport.
type FrameLog struct {
	w io.Writer
	c io.Closer
}

// NewFrameLog writes producer telemetry to w. The header row is written
// immediately.
func NewFrameLog(w io.Writer) (*FrameLog, error) {
	if _, err := fmt.Fprintln(w, frameHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return &FrameLog{w: w}, nil
}

// CreateFrameLog creates or truncates the file at path and returns a log
// that owns it. Close releases the file.
func CreateFrameLog(path string) (*FrameLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create frame log: %w", err)
	}
	l, err := NewFrameLog(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	l.c = f
	return l, nil
}

// WriteFrame appends one producer row. Timestamps are seconds since the
// Unix epoch, matching the wire timestamp of the landmark variant.
func (l *FrameLog) WriteFrame(frameID uint64, timestamp, fps float64, hands, joints int) error {
	_, err := fmt.Fprintf(l.w, "%d, %.6f, %.3f, %d, %d\n", frameID, timestamp, fps, hands, joints)
	if err != nil {
		return fmt.Errorf("write frame row: %w", err)
	}
	return nil
}

// Close releases the underlying file, if the log owns one.
func (l *FrameLog) Close() error {
	if l.c == nil {
		return nil
	}
	return l.c.Close()
}

// ArrivalLog records the sink side of the stream. One row is written per
// decoded packet.
type ArrivalLog struct {
	w io.Writer
	c io.Closer
}

// NewArrivalLog writes sink telemetry to w. The header row is written
// immediately.
func NewArrivalLog(w io.Writer) (*ArrivalLog, error) {
	if _, err := fmt.Fprintln(w, arrivalHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return &ArrivalLog{w: w}, nil
}

// CreateArrivalLog creates or truncates the file at path and returns a log
// that owns it. Close releases the file.
func CreateArrivalLog(path string) (*ArrivalLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create arrival log: %w", err)
	}
	l, err := NewArrivalLog(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	l.c = f
	return l, nil
}

// WriteArrival appends one sink row. Latency is in milliseconds.
func (l *ArrivalLog) WriteArrival(frameID uint64, timestamp, latencyMS, fps float64, hands int) error {
	_, err := fmt.Fprintf(l.w, "%d, %.6f, %.3f, %.3f, %d\n", frameID, timestamp, latencyMS, fps, hands)
	if err != nil {
		return fmt.Errorf("write arrival row: %w", err)
	}
	return nil
}

// Close releases the underlying file, if the log owns one.
func (l *ArrivalLog) Close() error {
	if l.c == nil {
		return nil
	}
	return l.c.Close()
}
