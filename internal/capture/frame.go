// Package capture provides depth-camera frame acquisition: the record3d
// LiDAR bridge, a webcam fallback, a synthetic simulator, and the
// new-frame signal the producer loop waits on.
package capture

import (
	"time"

	"gocv.io/x/gocv"
)

// Frame is one synchronized capture: an 8-bit 3-channel color image and a
// 32-bit float depth map in meters with identical dimensions. The
// receiver owns both Mats and must Close the frame.
type Frame struct {
	RGB       gocv.Mat
	Depth     gocv.Mat
	Timestamp time.Time
	Seq       uint64
}

// Clone returns a deep copy whose Mats are independently owned.
func (f *Frame) Clone() *Frame {
	return &Frame{
		RGB:       f.RGB.Clone(),
		Depth:     f.Depth.Clone(),
		Timestamp: f.Timestamp,
		Seq:       f.Seq,
	}
}

// Close releases both planes.
func (f *Frame) Close() {
	f.RGB.Close()
	f.Depth.Close()
}
