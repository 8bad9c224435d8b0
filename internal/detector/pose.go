package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/pointerlink/internal/log"
)

// poseIdleTimeout stops the subprocess after a period without frames.
const poseIdleTimeout = 30 * time.Second

// PoseDetector implements Detector using a Python MediaPipe pose subprocess.
// Frames are sent as length-prefixed JPEG and each reply is one JSON line.
type PoseDetector struct {
	script string
	python string

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	started   bool
	idleTimer *time.Timer
}

// NewPose locates the pose service. The Python process is started lazily on
// the first frame.
func NewPose(cfg Config) (*PoseDetector, error) {
	script := cfg.PoseScript
	if script == "" {
		script = findPoseScript()
	}
	if script == "" {
		return nil, fmt.Errorf("pose_service.py not found: %w", ErrBackendUnavailable)
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("pose script %s: %v: %w", script, err, ErrBackendUnavailable)
	}

	python := cfg.PythonPath
	if python == "" {
		python = findVenvPython()
	}
	if python == "" {
		python = "python3"
	}

	return &PoseDetector{script: script, python: python}, nil
}

// Detect sends frame to the service and converts its landmarks to pixels.
func (d *PoseDetector) Detect(frame *gocv.Mat) ([]Detection, error) {
	if frame == nil || frame.Empty() {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()

	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := d.stdin.Write(length); err != nil {
		d.shutdown()
		return nil, fmt.Errorf("write length: %v: %w", err, ErrBackendUnavailable)
	}
	if _, err := d.stdin.Write(data); err != nil {
		d.shutdown()
		return nil, fmt.Errorf("write frame: %v: %w", err, ErrBackendUnavailable)
	}

	line, err := d.stdout.ReadBytes('\n')
	if err != nil {
		d.shutdown()
		return nil, fmt.Errorf("read response: %v: %w", err, ErrBackendUnavailable)
	}

	dets, err := parsePoseResponse(line, frame.Cols(), frame.Rows())
	if err != nil {
		return nil, err
	}

	d.resetIdleTimer()
	return dets, nil
}

func (d *PoseDetector) Name() string { return BackendPose }

// Close shuts down the Python process.
func (d *PoseDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *PoseDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	d.cmd = exec.Command(d.python, d.script)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start pose service: %v: %w", err, ErrBackendUnavailable)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true

	log.Info("pose service started", "script", d.script, "pid", d.cmd.Process.Pid)
	return nil
}

func (d *PoseDetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}
	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	return err
}

func (d *PoseDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(poseIdleTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

type poseResponse struct {
	Poses []struct {
		Score     float64 `json:"score"`
		Landmarks []struct {
			X          float64 `json:"x"`
			Y          float64 `json:"y"`
			Visibility float64 `json:"visibility"`
		} `json:"landmarks"`
	} `json:"poses"`
	Error string `json:"error,omitempty"`
}

// parsePoseResponse converts normalized landmarks into pixel keypoints. The
// bounding box spans all landmarks of a pose.
func parsePoseResponse(line []byte, width, height int) ([]Detection, error) {
	var resp poseResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("pose service: %s", resp.Error)
	}

	out := make([]Detection, 0, len(resp.Poses))
	for _, p := range resp.Poses {
		if len(p.Landmarks) == 0 {
			continue
		}

		det := Detection{
			Confidence: p.Score,
			Label:      PersonLabel,
			Keypoints:  make([]Keypoint, 0, len(p.Landmarks)),
		}

		minX, minY := math.MaxInt, math.MaxInt
		maxX, maxY := math.MinInt, math.MinInt
		for i, lm := range p.Landmarks {
			name := fmt.Sprintf("landmark_%d", i)
			if i < len(PoseLandmarkNames) {
				name = PoseLandmarkNames[i]
			}
			x := lm.X * float64(width)
			y := lm.Y * float64(height)
			det.Keypoints = append(det.Keypoints, Keypoint{Name: name, X: x, Y: y, Visibility: lm.Visibility})

			px, py := int(x), int(y)
			minX, maxX = min(minX, px), max(maxX, px)
			minY, maxY = min(minY, py), max(maxY, py)
		}
		det.Box = image.Rect(minX, minY, maxX, maxY)

		out = append(out, det)
	}
	return out, nil
}

func findPoseScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		"scripts/pose_service.py",
		"../scripts/pose_service.py",
		filepath.Join(execDir, "scripts/pose_service.py"),
		filepath.Join(os.Getenv("HOME"), ".pointerlink/scripts/pose_service.py"),
	}
	return firstExisting(candidates)
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".pointerlink/venv/bin/python"),
	}
	return firstExisting(candidates)
}

func firstExisting(paths []string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
	}
	return ""
}
