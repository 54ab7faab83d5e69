package stream

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Rotation is a fixed geometric correction in degrees counterclockwise,
// applied identically to both planes so they stay pixel-aligned.
type Rotation int

// Supported rotation angles.
const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// ParseRotation validates a configured rotation angle.
func ParseRotation(degrees int) (Rotation, error) {
	switch r := Rotation(degrees); r {
	case Rotate0, Rotate90, Rotate180, Rotate270:
		return r, nil
	}
	return 0, fmt.Errorf("rotation %d: want one of 0, 90, 180, 270", degrees)
}

// Apply returns a rotated copy of src. Rotation 0 still returns a fresh
// Mat so the caller owns the result uniformly.
func (r Rotation) Apply(src gocv.Mat) gocv.Mat {
	if r == Rotate0 {
		return src.Clone()
	}
	dst := gocv.NewMat()
	switch r {
	case Rotate90:
		gocv.Rotate(src, &dst, gocv.Rotate90CounterClockwise)
	case Rotate180:
		gocv.Rotate(src, &dst, gocv.Rotate180Clockwise)
	case Rotate270:
		gocv.Rotate(src, &dst, gocv.Rotate90Clockwise)
	}
	return dst
}
