package capture

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Default simulator geometry, matching the depth resolution of the
// devices the bridge reports.
const (
	DefaultSimWidth  = 256
	DefaultSimHeight = 192
	DefaultSimFPS    = 30.0
)

// Simulator synthesizes frames at a fixed rate: a color gradient with a
// slowly shifting tint and a radial depth bowl with a near hotspot
// sweeping a circle. It stands in for LiDAR hardware in demos and tests.
// A few no-return pixels report NaN, as real sensors do.
type Simulator struct {
	width    int
	height   int
	interval time.Duration

	mu      sync.Mutex
	running bool
	latest  *Frame
	seq     uint64
	stop    chan struct{}
	done    chan struct{}

	signal *Signal
}

// NewSimulator creates a simulator source. Non-positive dimensions or
// rate fall back to the defaults.
func NewSimulator(width, height int, fps float64) *Simulator {
	if width <= 0 {
		width = DefaultSimWidth
	}
	if height <= 0 {
		height = DefaultSimHeight
	}
	if fps <= 0 {
		fps = DefaultSimFPS
	}
	return &Simulator{
		width:    width,
		height:   height,
		interval: time.Duration(float64(time.Second) / fps),
		signal:   NewSignal(),
	}
}

// Start launches the tick goroutine.
func (s *Simulator) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.run(s.stop, s.done)

	return nil
}

func (s *Simulator) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			frame := s.synthesize(tick)
			tick++
			if frame == nil {
				continue
			}

			s.mu.Lock()
			if !s.running {
				s.mu.Unlock()
				frame.Close()
				return
			}
			s.seq++
			frame.Seq = s.seq
			if s.latest != nil {
				s.latest.Close()
			}
			s.latest = frame
			s.mu.Unlock()

			s.signal.Set()
		}
	}
}

// synthesize builds one frame for the given tick.
func (s *Simulator) synthesize(tick int) *Frame {
	w, h := s.width, s.height
	px := w * h
	phase := float64(tick) * 0.1

	depthBytes := make([]byte, 4*px)
	rgbBytes := make([]byte, 3*px)

	cx := float64(w) / 2
	cy := float64(h) / 2
	maxDist := math.Hypot(cx, cy)

	// Hotspot sweeping a circle around the center.
	hx := cx + math.Cos(phase)*float64(w)/4
	hy := cy + math.Sin(phase)*float64(h)/4

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			dist := math.Hypot(float64(x)-cx, float64(y)-cy)

			d := 1.0 + 3.0*dist/maxDist
			if math.Hypot(float64(x)-hx, float64(y)-hy) < float64(w)/10 {
				d = 0.5
			}
			if x < 2 && y < 2 {
				d = math.NaN()
			}
			binary.LittleEndian.PutUint32(depthBytes[4*i:], math.Float32bits(float32(d)))

			rgbBytes[3*i] = byte(255 * x / w)
			rgbBytes[3*i+1] = byte(255 * y / h)
			rgbBytes[3*i+2] = byte(int(phase*40) % 256)
		}
	}

	depth, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV32F, depthBytes)
	if err != nil {
		return nil
	}
	rgb, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, rgbBytes)
	if err != nil {
		depth.Close()
		return nil
	}

	return &Frame{RGB: rgb, Depth: depth, Timestamp: time.Now()}
}

// Latest returns a copy of the most recent synthetic frame.
func (s *Simulator) Latest() (*Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.latest == nil {
		return nil, false
	}
	return s.latest.Clone(), true
}

// Stop halts the tick goroutine and releases the buffered frame.
// Idempotent.
func (s *Simulator) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stop := s.stop
	done := s.done
	latest := s.latest
	s.latest = nil
	s.mu.Unlock()

	close(stop)
	<-done

	if latest != nil {
		latest.Close()
	}
	return nil
}

// Signal returns the new-frame signal.
func (s *Simulator) Signal() *Signal {
	return s.signal
}

// SupportsBlockingWait reports that the simulator raises the signal per
// frame.
func (s *Simulator) SupportsBlockingWait() bool {
	return true
}
