package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound means the ffmpeg binary could not be located.
	ErrNotFound = errors.New("ffmpeg not found")
	// ErrProbeUnavailable means ffprobe is missing, so sources cannot be probed.
	ErrProbeUnavailable = errors.New("ffprobe not available")
)

// FFmpeg wraps FFmpeg binary execution
type FFmpeg struct {
	binaryPath string
	probePath  string
}

// New creates a new FFmpeg wrapper. ffprobe is optional.
func New() (*FFmpeg, error) {
	ffmpegPath, err := findBinary("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	ffprobePath, _ := findBinary("ffprobe")

	return &FFmpeg{
		binaryPath: ffmpegPath,
		probePath:  ffprobePath,
	}, nil
}

// Available reports whether an ffmpeg binary can be found
func Available() bool {
	_, err := findBinary("ffmpeg")
	return err == nil
}

// findBinary locates a binary in PATH or common locations
func findBinary(name string) (string, error) {
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	var paths []string
	switch runtime.GOOS {
	case "darwin":
		paths = []string{
			"/opt/homebrew/bin/" + name,
			"/usr/local/bin/" + name,
		}
	case "linux":
		paths = []string{
			"/usr/bin/" + name,
			"/usr/local/bin/" + name,
		}
	case "windows":
		paths = []string{
			"C:\\ffmpeg\\bin\\" + name + ".exe",
			"C:\\Program Files\\ffmpeg\\bin\\" + name + ".exe",
		}
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%s not found in PATH or common locations", name)
}

// Path returns the resolved ffmpeg binary
func (f *FFmpeg) Path() string {
	return f.binaryPath
}

// Version returns the FFmpeg version string
func (f *FFmpeg) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, f.binaryPath, "-version")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}

	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		return strings.TrimSpace(lines[0]), nil
	}
	return "", fmt.Errorf("no version output")
}

// HasEncoder reports whether this ffmpeg build includes the named encoder
func (f *FFmpeg) HasEncoder(ctx context.Context, name string) (bool, error) {
	out, err := exec.CommandContext(ctx, f.binaryPath, "-hide_banner", "-encoders").Output()
	if err != nil {
		return false, fmt.Errorf("list encoders: %w", err)
	}
	for _, enc := range ParseEncoders(out) {
		if enc == name {
			return true, nil
		}
	}
	return false, nil
}

// ParseEncoders extracts encoder names from `ffmpeg -encoders` output. The
// list starts after the dashed line that ends the legend.
func ParseEncoders(output []byte) []string {
	var names []string
	listing := false
	for _, line := range strings.Split(string(output), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if !listing {
			listing = strings.HasPrefix(fields[0], "---")
			continue
		}
		if len(fields) >= 2 {
			names = append(names, fields[1])
		}
	}
	return names
}

// ListDevicesArgs returns the ffmpeg arguments that make the capture
// framework of goos print its devices, or nil when there is none. On linux
// v4l2 has no device listing, so the formats of device are listed instead.
func ListDevicesArgs(goos, device string) []string {
	switch goos {
	case "darwin":
		return []string{"-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", ""}
	case "windows":
		return []string{"-hide_banner", "-f", "dshow", "-list_devices", "true", "-i", "dummy"}
	case "linux":
		if device == "" {
			device = "/dev/video0"
		}
		return []string{"-hide_banner", "-f", "v4l2", "-list_formats", "all", "-i", device}
	}
	return nil
}

// ListInputDevices runs the device listing for goos and returns what ffmpeg
// printed. The listing request always ends in an ffmpeg error, so the exit
// status is ignored.
func (f *FFmpeg) ListInputDevices(ctx context.Context, goos, device string) (string, error) {
	args := ListDevicesArgs(goos, device)
	if args == nil {
		return "", fmt.Errorf("no ffmpeg device listing for %s", goos)
	}
	out, _ := exec.CommandContext(ctx, f.binaryPath, args...).CombinedOutput()
	if len(out) == 0 {
		return "", fmt.Errorf("ffmpeg printed no device listing")
	}
	return string(out), nil
}

// Process represents a running FFmpeg process. Encoders receive frames on
// stdin, decoders deliver them on stdout.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *tail

	done    chan struct{}
	waitErr error

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (f *FFmpeg) start(ctx context.Context, args []string, pipeIn, pipeOut bool) (*Process, error) {
	cmd := exec.CommandContext(ctx, f.binaryPath, args...)

	proc := &Process{
		cmd:    cmd,
		stderr: newTail(16),
		done:   make(chan struct{}),
	}

	if pipeIn {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("get stdin pipe: %w", err)
		}
		proc.stdin = stdin
	}
	// A plain pipe rather than StdoutPipe: Wait must not close the read end
	// while buffered frames remain.
	var stdoutW *os.File
	if pipeOut {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("create stdout pipe: %w", err)
		}
		proc.stdout = r
		stdoutW = w
		cmd.Stdout = w
	}
	cmd.Stderr = proc.stderr

	err := cmd.Start()
	if stdoutW != nil {
		stdoutW.Close()
	}
	if err != nil {
		if proc.stdout != nil {
			proc.stdout.Close()
		}
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	go func() {
		proc.waitErr = cmd.Wait()
		close(proc.done)
	}()

	return proc, nil
}

// Write writes raw frame data to FFmpeg stdin
func (p *Process) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil {
		return 0, errors.New("ffmpeg: process has no stdin")
	}
	return p.stdin.Write(data)
}

// ReadFull fills buf with the next bytes from FFmpeg stdout
func (p *Process) ReadFull(buf []byte) error {
	if p.stdout == nil {
		return errors.New("ffmpeg: process has no stdout")
	}
	_, err := io.ReadFull(p.stdout, buf)
	return err
}

// Close closes stdin and waits up to timeout for FFmpeg to exit, killing it
// when the wait runs out. The exit status is returned, annotated with the
// tail of stderr. Repeated calls return the first result.
func (p *Process) Close(timeout time.Duration) error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		if p.stdin != nil {
			p.stdin.Close()
		}
		p.mu.Unlock()

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-p.done:
			p.closeErr = p.exitError()
		case <-timer.C:
			p.Kill()
			p.closeErr = fmt.Errorf("ffmpeg did not exit within %s, killed", timeout)
		}
		if p.stdout != nil {
			p.stdout.Close()
		}
	})
	return p.closeErr
}

// Kill forcefully terminates the process and waits for it to be reaped
func (p *Process) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	err := p.cmd.Process.Kill()
	<-p.done
	return err
}

// Done is closed when the process exits
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has already terminated
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Stderr returns the last lines ffmpeg wrote to stderr
func (p *Process) Stderr() string {
	return p.stderr.String()
}

func (p *Process) exitError() error {
	if p.waitErr == nil {
		return nil
	}
	if msg := p.stderr.String(); msg != "" {
		return fmt.Errorf("%w: %s", p.waitErr, msg)
	}
	return p.waitErr
}

// EncoderConfig holds configuration for a stdin-fed encoder
type EncoderConfig struct {
	// Input
	PixelFormat string // bgr24
	Width       int
	Height      int
	Framerate   float64

	// Encoding
	Codec             string // libx264
	Preset            string // ultrafast, fast, medium
	OutputPixelFormat string // yuv420p

	// Output
	OutputPath string
}

// StartEncoder starts an FFmpeg process that encodes raw frames written to stdin
func (f *FFmpeg) StartEncoder(ctx context.Context, cfg EncoderConfig) (*Process, error) {
	return f.start(ctx, BuildEncoderArgs(cfg), true, false)
}

// BuildEncoderArgs builds FFmpeg arguments for rawvideo-over-pipe encoding
func BuildEncoderArgs(cfg EncoderConfig) []string {
	if cfg.PixelFormat == "" {
		cfg.PixelFormat = "bgr24"
	}
	if cfg.Codec == "" {
		cfg.Codec = "libx264"
	}
	if cfg.OutputPixelFormat == "" {
		cfg.OutputPixelFormat = "yuv420p"
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y", // Overwrite output

		// Input
		"-f", "rawvideo",
		"-pix_fmt", cfg.PixelFormat,
		"-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-framerate", fmt.Sprintf("%.2f", cfg.Framerate),
		"-i", "pipe:0",

		// Video encoding
		"-an",
		"-c:v", cfg.Codec,
	}
	if cfg.Preset != "" {
		args = append(args, "-preset", cfg.Preset)
	}
	args = append(args, "-pix_fmt", cfg.OutputPixelFormat)

	switch strings.ToLower(filepath.Ext(cfg.OutputPath)) {
	case ".mp4", ".mov", ".m4v":
		args = append(args, "-movflags", "+faststart")
	}

	return append(args, cfg.OutputPath)
}

// DecoderConfig holds configuration for a stdout rawvideo decoder
type DecoderConfig struct {
	Input        string   // device node, device name or file
	InputFormat  string   // v4l2, avfoundation, dshow; empty to auto-detect
	InputOptions []string // extra demuxer options placed before -i
	Width        int      // requested capture size, 0 to leave as is
	Height       int
	Framerate    float64 // requested capture rate, 0 to leave as is
	Seek         float64 // start offset in seconds
	Realtime     bool    // read input at its native rate

	PixelFormat string // bgr24, yuyv422, nv12
}

// StartDecoder starts an FFmpeg process that writes raw frames to stdout
func (f *FFmpeg) StartDecoder(ctx context.Context, cfg DecoderConfig) (*Process, error) {
	return f.start(ctx, BuildDecoderArgs(cfg), false, true)
}

// BuildDecoderArgs builds FFmpeg arguments that decode any input to rawvideo on stdout
func BuildDecoderArgs(cfg DecoderConfig) []string {
	if cfg.PixelFormat == "" {
		cfg.PixelFormat = "bgr24"
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
	}
	if cfg.Seek > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", cfg.Seek))
	}
	if cfg.Realtime {
		args = append(args, "-re")
	}
	if cfg.InputFormat != "" {
		args = append(args, "-f", cfg.InputFormat)
	}
	args = append(args, cfg.InputOptions...)
	if cfg.Width > 0 && cfg.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height))
	}
	if cfg.Framerate > 0 {
		args = append(args, "-framerate", fmt.Sprintf("%g", cfg.Framerate))
	}

	return append(args,
		"-i", cfg.Input,
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", cfg.PixelFormat,
		"pipe:1",
	)
}

// tail keeps the last n lines written to it
type tail struct {
	mu    sync.Mutex
	n     int
	lines []string
	part  string
}

func newTail(n int) *tail {
	return &tail{n: n}
}

func (t *tail) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	chunks := strings.Split(t.part+string(b), "\n")
	t.part = chunks[len(chunks)-1]
	for _, line := range chunks[:len(chunks)-1] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		t.lines = append(t.lines, line)
		if len(t.lines) > t.n {
			t.lines = t.lines[1:]
		}
	}
	return len(b), nil
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := t.lines
	if p := strings.TrimSpace(t.part); p != "" {
		lines = append(append([]string(nil), lines...), p)
	}
	return strings.Join(lines, "; ")
}
