package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// HandSeparator joins the textual payloads of multiple hands.
const HandSeparator = "||"

// landmarkHeadBytes is the fixed prefix of a landmark packet: u32 payload
// length plus f64 timestamp. The length counts the payload only.
const landmarkHeadBytes = 12

// Joint is one landmark: normalized image-plane coordinates in [0, 1]
// plus the depth sample looked up at the corresponding pixel, in meters.
type Joint struct {
	X float64
	Y float64
	Z float64
}

// LandmarkPacket is the decoded form of a landmark packet.
type LandmarkPacket struct {
	Timestamp float64
	Hands     [][]Joint
}

// EncodeLandmarks serializes hands as a landmark packet: u32 little-endian
// payload length, f64 little-endian timestamp, then the UTF-8 payload.
// Zero hands produce an empty payload, which is still a valid packet so
// the consumer's frame counting stays accurate.
func EncodeLandmarks(hands [][]Joint, timestamp float64) []byte {
	payload := FormatHands(hands)
	buf := make([]byte, landmarkHeadBytes+len(payload))
	binary.LittleEndian.PutUint32(buf[0:], uint32(len(payload)))
	binary.LittleEndian.PutUint64(buf[4:], math.Float64bits(timestamp))
	copy(buf[landmarkHeadBytes:], payload)
	return buf
}

// DecodeLandmarks reads one landmark packet from r.
func DecodeLandmarks(r io.Reader) (LandmarkPacket, error) {
	var head [landmarkHeadBytes]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return LandmarkPacket{}, err
	}
	payloadLen := binary.LittleEndian.Uint32(head[0:4])
	if payloadLen > MaxPacketSize {
		return LandmarkPacket{}, fmt.Errorf("landmark payload %d bytes: %w", payloadLen, ErrPacketTooLarge)
	}
	ts := math.Float64frombits(binary.LittleEndian.Uint64(head[4:12]))

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return LandmarkPacket{}, err
	}
	hands, err := ParseHands(string(payload))
	if err != nil {
		return LandmarkPacket{}, err
	}
	return LandmarkPacket{Timestamp: ts, Hands: hands}, nil
}

// FormatHands renders hands as the textual payload: each hand is a list
// of [x, y, z] triples, hands joined by HandSeparator. An empty slice
// renders as an empty string.
func FormatHands(hands [][]Joint) string {
	if len(hands) == 0 {
		return ""
	}
	var b strings.Builder
	for i, hand := range hands {
		if i > 0 {
			b.WriteString(HandSeparator)
		}
		b.WriteByte('[')
		for j, jt := range hand {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('[')
			b.WriteString(formatCoord(jt.X))
			b.WriteString(", ")
			b.WriteString(formatCoord(jt.Y))
			b.WriteString(", ")
			b.WriteString(formatCoord(jt.Z))
			b.WriteByte(']')
		}
		b.WriteByte(']')
	}
	return b.String()
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ParseHands parses the textual payload back into joint lists. An empty
// payload yields no hands.
func ParseHands(payload string) ([][]Joint, error) {
	if payload == "" {
		return nil, nil
	}
	parts := strings.Split(payload, HandSeparator)
	hands := make([][]Joint, 0, len(parts))
	for _, part := range parts {
		hand, err := parseHand(part)
		if err != nil {
			return nil, err
		}
		hands = append(hands, hand)
	}
	return hands, nil
}

// parseHand parses one hand: "[[x, y, z], [x, y, z], ...]".
func parseHand(s string) ([]Joint, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("malformed hand payload")
	}
	inner := s[1 : len(s)-1]

	var joints []Joint
	for len(inner) > 0 {
		start := strings.IndexByte(inner, '[')
		if start < 0 {
			break
		}
		end := strings.IndexByte(inner[start:], ']')
		if end < 0 {
			return nil, fmt.Errorf("unterminated joint in hand payload")
		}
		jt, err := parseJoint(inner[start+1 : start+end])
		if err != nil {
			return nil, err
		}
		joints = append(joints, jt)
		inner = inner[start+end+1:]
	}
	return joints, nil
}

func parseJoint(s string) (Joint, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 3 {
		return Joint{}, fmt.Errorf("joint %q: want 3 coordinates, got %d", s, len(fields))
	}
	var vals [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Joint{}, fmt.Errorf("joint coordinate %q: %w", strings.TrimSpace(f), err)
		}
		vals[i] = v
	}
	return Joint{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}
