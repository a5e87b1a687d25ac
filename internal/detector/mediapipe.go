package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// ErrScriptNotFound is returned when the face mesh service script cannot be located.
var ErrScriptNotFound = errors.New("face_mesh_service.py not found")

// ErrRestartBackoff is returned while a crashed service is waiting to be restarted.
var ErrRestartBackoff = errors.New("face mesh service restarting")

const (
	// idleShutdown is how long the service may sit unused before the process is stopped.
	idleShutdown = 30 * time.Second

	// restartBackoff is the minimum gap between a service failure and the next start.
	restartBackoff = 2 * time.Second
)

// MediaPipeDetector implements Detector using a Python MediaPipe Face Mesh subprocess.
// Frames are sent as a 4 byte big-endian length followed by JPEG bytes; the
// service answers with one JSON line per frame.
type MediaPipeDetector struct {
	config     Config
	scriptPath string
	logger     *zap.Logger

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	lastUsed  time.Time
	failedAt  time.Time
	idleTimer *time.Timer
}

// NewMediaPipeDetector creates a new MediaPipe detector.
// The Python process is started lazily on first detection, or eagerly via Warmup.
func NewMediaPipeDetector(config Config, logger *zap.Logger) (*MediaPipeDetector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	scriptPath := config.ScriptPath
	if scriptPath == "" {
		scriptPath = findFaceMeshScript()
	}
	if scriptPath == "" {
		return nil, ErrScriptNotFound
	}
	if _, err := os.Stat(scriptPath); err != nil {
		return nil, fmt.Errorf("stat %s: %w", scriptPath, err)
	}

	return &MediaPipeDetector{
		config:     config,
		scriptPath: scriptPath,
		logger:     logger.Named("mediapipe"),
	}, nil
}

// Warmup starts the Python process and waits for the model to load, so the
// first frame does not pay for it.
func (d *MediaPipeDetector) Warmup() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return err
	}
	d.resetIdleTimer()
	return nil
}

// Detect analyzes a frame and returns the landmarks of the best scoring face.
func (d *MediaPipeDetector) Detect(frame *gocv.Mat) (*FaceLandmarks, error) {
	if frame == nil || frame.Empty() {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()

	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := d.stdin.Write(length); err != nil {
		d.kill()
		return nil, fmt.Errorf("write length: %w", err)
	}
	if _, err := d.stdin.Write(data); err != nil {
		d.kill()
		return nil, fmt.Errorf("write data: %w", err)
	}

	line, err := d.stdout.ReadString('\n')
	if err != nil {
		d.kill()
		return nil, fmt.Errorf("read response: %w", err)
	}

	faces, err := parseResponse([]byte(line))
	if err != nil {
		return nil, err
	}

	d.lastUsed = time.Now()
	d.resetIdleTimer()

	return SelectBest(faces), nil
}

// Close shuts down the Python process.
func (d *MediaPipeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *MediaPipeDetector) ensureStarted() error {
	if d.started {
		return nil
	}
	if !d.failedAt.IsZero() && time.Since(d.failedAt) < restartBackoff {
		return ErrRestartBackoff
	}

	pythonPath := d.config.Python
	if pythonPath == "" {
		pythonPath = findVenvPython()
	}
	if pythonPath == "" {
		pythonPath = "python3"
	}

	args := []string{
		d.scriptPath,
		"--min-detection-confidence", strconv.FormatFloat(d.config.MinConfidence, 'f', -1, 64),
		"--min-tracking-confidence", strconv.FormatFloat(d.config.MinTrackingConf, 'f', -1, 64),
	}
	if d.config.RefineLandmarks {
		args = append(args, "--refine-landmarks")
	}

	d.cmd = exec.Command(pythonPath, args...)

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
		return fmt.Errorf("start face mesh service: %w", err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true

	if err := d.awaitReady(); err != nil {
		d.kill()
		return fmt.Errorf("face mesh service: %w", err)
	}
	d.lastUsed = time.Now()

	d.logger.Info("face mesh service started",
		zap.String("python", pythonPath),
		zap.String("script", d.scriptPath),
		zap.Int("pid", d.cmd.Process.Pid),
	)

	return nil
}

// awaitReady blocks until the service reports that its model is loaded.
func (d *MediaPipeDetector) awaitReady() error {
	timeout := d.config.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	r := d.stdout
	go func() {
		line, err := r.ReadString('\n')
		ch <- result{line, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("exited before ready: %w", res.err)
		}
		return parseReady([]byte(res.line))
	case <-timer.C:
		return fmt.Errorf("not ready after %s", timeout)
	}
}

func (d *MediaPipeDetector) shutdown() error {
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

	d.logger.Debug("face mesh service stopped")
	return err
}

// kill tears down a process whose pipe broke. The next frame starts a fresh
// one once restartBackoff has passed.
func (d *MediaPipeDetector) kill() {
	d.failedAt = time.Now()
	if d.cmd != nil && d.cmd.Process != nil {
		d.cmd.Process.Kill()
	}
	if err := d.shutdown(); err != nil {
		d.logger.Debug("face mesh service exited", zap.Error(err))
	}
}

func (d *MediaPipeDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(idleShutdown, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

func findFaceMeshScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		"scripts/face_mesh_service.py",
		"../scripts/face_mesh_service.py",
		filepath.Join(execDir, "scripts/face_mesh_service.py"),
		filepath.Join(os.Getenv("HOME"), ".nimesh/scripts/face_mesh_service.py"),
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
		"../../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".nimesh/venv/bin/python"),
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

// jsonFace represents one face in the service response.
type jsonFace struct {
	Points []Point3D `json:"points"`
	Score  float64   `json:"score"`
}

type jsonResponse struct {
	Faces []jsonFace `json:"faces"`
	Error string     `json:"error,omitempty"`
}

type readyMessage struct {
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

// parseReady decodes the line the service writes once its model is loaded.
func parseReady(line []byte) error {
	var msg readyMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return fmt.Errorf("parse ready line: %w", err)
	}
	if msg.Error != "" {
		return fmt.Errorf("load model: %s", msg.Error)
	}
	if !msg.Ready {
		return errors.New("service did not report ready")
	}
	return nil
}

// parseResponse decodes one service response line.
func parseResponse(line []byte) ([]FaceLandmarks, error) {
	var resp jsonResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("face mesh service: %s", resp.Error)
	}

	faces := make([]FaceLandmarks, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if len(f.Points) == 0 {
			continue
		}
		faces = append(faces, FaceLandmarks{Points: f.Points, Score: f.Score})
	}
	return faces, nil
}
