package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Raw packet body layout: width u32, height u32, depth plane (u16 per
// pixel, millimeters), RGB plane (3 bytes per pixel), all little-endian,
// row-major. The body repeats width and height even though the outer
// length prefix already implies them; consumers rely on both.
const (
	rawHeaderBytes  = 8
	depthBytesPerPx = 2
	rgbBytesPerPx   = 3
)

// RawFrame is one sanitized frame ready for raw encoding. Depth is in
// meters, one sample per pixel, row-major; RGB is 3 bytes per pixel.
type RawFrame struct {
	Width  int
	Height int
	Depth  []float32
	RGB    []byte
}

// RawPacket is the decoded form of a raw packet. Depth is in millimeters
// exactly as carried on the wire.
type RawPacket struct {
	Width   int
	Height  int
	DepthMM []uint16
	RGB     []byte
}

// EncodeRaw serializes f as a raw packet: a u32 little-endian body length
// followed by the body. Depth samples are converted from meters to
// millimeters and rounded to the nearest integer.
func EncodeRaw(f RawFrame) ([]byte, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("encode raw %dx%d: %w", f.Width, f.Height, ErrDimensionMismatch)
	}
	px := f.Width * f.Height
	if len(f.Depth) != px || len(f.RGB) != rgbBytesPerPx*px {
		return nil, fmt.Errorf("encode raw %dx%d: depth %d samples, rgb %d bytes: %w",
			f.Width, f.Height, len(f.Depth), len(f.RGB), ErrDimensionMismatch)
	}

	bodyLen := rawHeaderBytes + (depthBytesPerPx+rgbBytesPerPx)*px
	buf := make([]byte, 4+bodyLen)
	binary.LittleEndian.PutUint32(buf[0:], uint32(bodyLen))
	binary.LittleEndian.PutUint32(buf[4:], uint32(f.Width))
	binary.LittleEndian.PutUint32(buf[8:], uint32(f.Height))

	off := 4 + rawHeaderBytes
	for _, d := range f.Depth {
		binary.LittleEndian.PutUint16(buf[off:], metersToMM(d))
		off += depthBytesPerPx
	}
	copy(buf[off:], f.RGB)

	return buf, nil
}

// metersToMM quantizes one depth sample to millimeters, rounding to the
// nearest integer. Sanitized depth never exceeds 5 m; values outside the
// uint16 range are clamped rather than wrapped.
func metersToMM(m float32) uint16 {
	mm := math.Round(float64(m) * 1000)
	if math.IsNaN(mm) || mm < 0 {
		return 0
	}
	if mm > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(mm)
}

// DecodeRaw reads one raw packet from r: the u32 length prefix, then
// exactly that many body bytes. The length must agree with the width and
// height carried inside the body.
func DecodeRaw(r io.Reader) (RawPacket, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return RawPacket{}, err
	}
	bodyLen := binary.LittleEndian.Uint32(lenBuf[:])
	if bodyLen > MaxPacketSize {
		return RawPacket{}, fmt.Errorf("raw body %d bytes: %w", bodyLen, ErrPacketTooLarge)
	}
	if bodyLen < rawHeaderBytes {
		return RawPacket{}, fmt.Errorf("raw body %d bytes: shorter than header", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return RawPacket{}, err
	}

	width := int(binary.LittleEndian.Uint32(body[0:]))
	height := int(binary.LittleEndian.Uint32(body[4:]))
	want := int64(rawHeaderBytes) + (depthBytesPerPx+rgbBytesPerPx)*int64(width)*int64(height)
	if width <= 0 || height <= 0 || int64(bodyLen) != want {
		return RawPacket{}, fmt.Errorf("raw body %d bytes for %dx%d: %w",
			bodyLen, width, height, ErrDimensionMismatch)
	}

	px := width * height
	p := RawPacket{
		Width:   width,
		Height:  height,
		DepthMM: make([]uint16, px),
		RGB:     make([]byte, rgbBytesPerPx*px),
	}
	off := rawHeaderBytes
	for i := range p.DepthMM {
		p.DepthMM[i] = binary.LittleEndian.Uint16(body[off:])
		off += depthBytesPerPx
	}
	copy(p.RGB, body[off:])

	return p, nil
}
