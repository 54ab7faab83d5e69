package capture

import "errors"

// Capture errors.
var (
	// ErrNoDeviceFound is returned when no capture device is attached.
	ErrNoDeviceFound = errors.New("no capture device found")

	// ErrDeviceIndexOutOfRange is returned when the requested device index
	// exceeds the number of attached devices.
	ErrDeviceIndexOutOfRange = errors.New("device index out of range")

	// ErrSourceNotStarted is returned when reading from a stopped source.
	ErrSourceNotStarted = errors.New("source is not started")
)

// Source produces paired color and depth frames at device cadence.
type Source interface {
	// Start begins capture. Device validation happens here, so
	// ErrNoDeviceFound and ErrDeviceIndexOutOfRange surface before the
	// producer loop runs.
	Start() error

	// Stop halts capture and releases device resources. Idempotent.
	Stop() error

	// Latest returns a copy of the most recent frame; the caller closes
	// it. ok is false when no frame is available, which the loop treats
	// as a skipped cycle, never an error.
	Latest() (*Frame, bool)

	// Signal returns the new-frame signal raised by the capture
	// goroutine.
	Signal() *Signal

	// SupportsBlockingWait reports whether the source raises Signal per
	// frame. Sources that return false are polled on an interval instead.
	SupportsBlockingWait() bool
}
