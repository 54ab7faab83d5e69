package capture

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Device describes one attached depth camera as reported by the bridge.
type Device struct {
	Index int    `json:"index"`
	UDID  string `json:"udid"`
	Name  string `json:"name"`
}

const (
	// listTimeout bounds the device discovery subprocess.
	listTimeout = 10 * time.Second

	// maxBridgeRecord bounds a single frame record from the bridge.
	maxBridgeRecord = 64 << 20

	// bridgeHeaderBytes covers the width and height fields of a record.
	bridgeHeaderBytes = 8
)

// Record3D streams frames from an attached LiDAR device through the
// record3d bridge subprocess. Frames arrive on the bridge's stdout as
// length-prefixed binary records:
//
//	u32 LE record length, u32 LE width, u32 LE height,
//	depth plane (f32 LE, meters, width*height samples),
//	color plane (u8, 3 bytes per pixel)
//
// The bridge raises the new-frame signal once per record; dropped frames
// are expected when the consumer is slower than the device.
type Record3D struct {
	deviceIndex int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	cmd     *exec.Cmd
	latest  *Frame
	seq     uint64
	done    chan struct{}

	signal *Signal
}

// NewRecord3D creates a source for the given device index. The device is
// validated at Start.
func NewRecord3D(deviceIndex int) *Record3D {
	return &Record3D{
		deviceIndex: deviceIndex,
		signal:      NewSignal(),
	}
}

// ListDevices runs the bridge in list mode and returns the attached
// devices.
func ListDevices(ctx context.Context) ([]Device, error) {
	script := findBridgeScript()
	if script == "" {
		return nil, fmt.Errorf("record3d_bridge.py not found")
	}

	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bridgePython(), script, "--list")
	cmd.Stderr = os.Stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var devices []Device
	if err := json.Unmarshal(out, &devices); err != nil {
		return nil, fmt.Errorf("parse device list: %w", err)
	}
	return devices, nil
}

// Start validates the device index, launches the bridge, and begins
// reading frames.
func (r *Record3D) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	devices, err := ListDevices(context.Background())
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return ErrNoDeviceFound
	}
	if r.deviceIndex < 0 || r.deviceIndex >= len(devices) {
		return fmt.Errorf("device %d with %d attached: %w", r.deviceIndex, len(devices), ErrDeviceIndexOutOfRange)
	}

	script := findBridgeScript()
	if script == "" {
		return fmt.Errorf("record3d_bridge.py not found")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, bridgePython(), script, "--device", strconv.Itoa(r.deviceIndex))
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start record3d bridge: %w", err)
	}

	log.Printf("capture: record3d bridge started for device %d (%s)", r.deviceIndex, devices[r.deviceIndex].Name)

	r.cancel = cancel
	r.cmd = cmd
	r.running = true
	r.done = make(chan struct{})

	go r.readFrames(bufio.NewReaderSize(stdout, 1<<20))

	return nil
}

// readFrames parses binary records until the bridge exits or the source
// stops.
func (r *Record3D) readFrames(br *bufio.Reader) {
	defer close(r.done)

	for {
		frame, err := readBridgeFrame(br)
		if err != nil {
			if err != io.EOF {
				log.Printf("capture: bridge stream ended: %v", err)
			}
			return
		}

		r.mu.Lock()
		if !r.running {
			r.mu.Unlock()
			frame.Close()
			return
		}
		r.seq++
		frame.Seq = r.seq
		if r.latest != nil {
			r.latest.Close()
		}
		r.latest = frame
		r.mu.Unlock()

		r.signal.Set()
	}
}

// readBridgeFrame reads one length-prefixed record and builds the Mats.
func readBridgeFrame(br *bufio.Reader) (*Frame, error) {
	var head [4]byte
	if _, err := io.ReadFull(br, head[:]); err != nil {
		return nil, err
	}
	total := binary.LittleEndian.Uint32(head[:])
	if total < bridgeHeaderBytes || total > maxBridgeRecord {
		return nil, fmt.Errorf("bridge record of %d bytes out of range", total)
	}

	body := make([]byte, total)
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, err
	}

	width := int(binary.LittleEndian.Uint32(body[0:]))
	height := int(binary.LittleEndian.Uint32(body[4:]))
	px := width * height
	want := int64(bridgeHeaderBytes) + 4*int64(px) + 3*int64(px)
	if width <= 0 || height <= 0 || int64(total) != want {
		return nil, fmt.Errorf("bridge record of %d bytes for %dx%d frame", total, width, height)
	}

	depth, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV32F, body[bridgeHeaderBytes:bridgeHeaderBytes+4*px])
	if err != nil {
		return nil, fmt.Errorf("depth mat: %w", err)
	}
	rgb, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, body[bridgeHeaderBytes+4*px:])
	if err != nil {
		depth.Close()
		return nil, fmt.Errorf("color mat: %w", err)
	}

	return &Frame{RGB: rgb, Depth: depth, Timestamp: time.Now()}, nil
}

// Latest returns a copy of the most recent frame.
func (r *Record3D) Latest() (*Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running || r.latest == nil {
		return nil, false
	}
	return r.latest.Clone(), true
}

// Stop kills the bridge and releases the buffered frame. Idempotent.
func (r *Record3D) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cancel := r.cancel
	cmd := r.cmd
	done := r.done
	latest := r.latest
	r.latest = nil
	r.cancel = nil
	r.cmd = nil
	r.mu.Unlock()

	cancel()
	cmd.Wait()
	<-done

	if latest != nil {
		latest.Close()
	}
	return nil
}

// Signal returns the new-frame signal.
func (r *Record3D) Signal() *Signal {
	return r.signal
}

// SupportsBlockingWait reports that the bridge raises the signal per
// frame.
func (r *Record3D) SupportsBlockingWait() bool {
	return true
}

// findBridgeScript locates record3d_bridge.py next to the binary or in
// the user's install directory.
func findBridgeScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		"scripts/record3d_bridge.py",
		"../scripts/record3d_bridge.py",
		filepath.Join(execDir, "scripts/record3d_bridge.py"),
		filepath.Join(os.Getenv("HOME"), ".lidarcast/scripts/record3d_bridge.py"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// bridgePython picks a virtual environment interpreter when one exists.
func bridgePython() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".lidarcast/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return "python3"
}
