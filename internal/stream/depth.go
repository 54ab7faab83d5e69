package stream

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Depth sanitization bounds in meters. Samples outside this range are not
// meaningful for the sensors we support and would distort the millimeter
// quantization on the wire.
const (
	MinDepthMeters = 0.0
	MaxDepthMeters = 5.0
)

// SanitizeDepth rewrites depth in place so every sample is finite and
// within [MinDepthMeters, MaxDepthMeters]. NaN and negative samples
// become zero, oversized samples are clamped to the maximum.
func SanitizeDepth(depth *gocv.Mat) {
	gocv.PatchNaNs(depth)
	tmp := gocv.NewMat()
	defer tmp.Close()
	gocv.Threshold(*depth, &tmp, MaxDepthMeters, 0, gocv.ThresholdTrunc)
	gocv.Threshold(tmp, depth, MinDepthMeters, 0, gocv.ThresholdToZero)
}

// JointDepth resolves a normalized landmark coordinate to its depth
// sample in meters. Coordinates that fall outside the plane, which
// happens when a tracked hand leaves the frame, yield zero.
func JointDepth(depth gocv.Mat, x, y float64) float64 {
	px := int(x * float64(depth.Cols()))
	py := int(y * float64(depth.Rows()))
	if px < 0 || px >= depth.Cols() || py < 0 || py >= depth.Rows() {
		return 0
	}
	return float64(depth.GetFloatAt(py, px))
}

// rawPlanes exposes the Mat buffers the raw encoder reads. The returned
// slices alias Mat memory and are only valid while the Mats live.
func rawPlanes(depth, rgb gocv.Mat) ([]float32, []byte, error) {
	d, err := depth.DataPtrFloat32()
	if err != nil {
		return nil, nil, fmt.Errorf("depth plane: %w", err)
	}
	c, err := rgb.DataPtrUint8()
	if err != nil {
		return nil, nil, fmt.Errorf("rgb plane: %w", err)
	}
	return d, c, nil
}
