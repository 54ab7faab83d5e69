package capture

import (
	"fmt"
	"log"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Default webcam capture settings.
const (
	DefaultWebcamWidth  = 640
	DefaultWebcamHeight = 480
)

// Webcam captures color frames from a local video device and pairs them
// with a zero depth plane, so the rest of the pipeline is identical to
// the LiDAR path. It is a pull source: there is no capture goroutine and
// the signal never fires, so the loop polls Latest instead.
type Webcam struct {
	deviceID int

	mu      sync.Mutex
	capture *gocv.VideoCapture
	running bool
	seq     uint64

	signal *Signal
}

// NewWebcam creates a webcam source for the given device ID.
func NewWebcam(deviceID int) *Webcam {
	return &Webcam{
		deviceID: deviceID,
		signal:   NewSignal(),
	}
}

// Start opens the device at 640x480.
func (w *Webcam) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(w.deviceID)
	if err != nil {
		log.Printf("capture: open webcam %d: %v", w.deviceID, err)
		return fmt.Errorf("webcam %d: %w", w.deviceID, ErrNoDeviceFound)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, DefaultWebcamWidth)
	capture.Set(gocv.VideoCaptureFrameHeight, DefaultWebcamHeight)

	w.capture = capture
	w.running = true

	return nil
}

// Stop closes the device. Idempotent.
func (w *Webcam) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running || w.capture == nil {
		w.running = false
		return nil
	}

	err := w.capture.Close()
	w.capture = nil
	w.running = false

	return err
}

// Latest reads one fresh frame from the device. The depth plane is
// all-zero at matching dimensions.
func (w *Webcam) Latest() (*Frame, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running || w.capture == nil {
		return nil, false
	}

	rgb := gocv.NewMat()
	if ok := w.capture.Read(&rgb); !ok || rgb.Empty() {
		rgb.Close()
		return nil, false
	}

	depth := gocv.NewMatWithSize(rgb.Rows(), rgb.Cols(), gocv.MatTypeCV32F)
	w.seq++

	return &Frame{
		RGB:       rgb,
		Depth:     depth,
		Timestamp: time.Now(),
		Seq:       w.seq,
	}, true
}

// Signal returns the signal, which a webcam never raises.
func (w *Webcam) Signal() *Signal {
	return w.signal
}

// SupportsBlockingWait reports false: webcams have no frame callback, so
// the loop polls.
func (w *Webcam) SupportsBlockingWait() bool {
	return false
}
