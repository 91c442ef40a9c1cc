package output

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/video-system/go-frame-recorder/internal/fallback"
	"github.com/video-system/go-frame-recorder/internal/ffmpeg"
	"github.com/video-system/go-frame-recorder/pkg/encode"
	"github.com/video-system/go-frame-recorder/pkg/input"
)

// Options tunes sink selection
type Options struct {
	Encoder      string        // auto, pipe or container
	CloseTimeout time.Duration // bound on the external encoder's exit
	StartupGrace time.Duration // time the external encoder must survive after the first frame
	Preset       string        // x264 preset for the external encoder
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Encoder == "" {
		o.Encoder = EncoderAuto
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = DefaultCloseTimeout
	}
	if o.StartupGrace <= 0 {
		o.StartupGrace = DefaultStartupGrace
	}
	if o.Preset == "" {
		o.Preset = "veryfast"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Request describes a recording to open
type Request struct {
	Path   string
	Width  int
	Height int
	FPS    float64
	First  *input.Frame // written as the validating write when set
}

// Candidate is one (path, codec) container attempt
type Candidate struct {
	Path  string
	Codec string
}

// Candidates returns the ordered container attempts for a requested path.
// Extensions with no dependable in-process writer try an .avi sibling first.
func Candidates(path string) []Candidate {
	ext := filepath.Ext(path)
	avi := strings.TrimSuffix(path, ext) + ".avi"

	switch strings.ToLower(ext) {
	case ".mp4":
		return []Candidate{
			{Path: path, Codec: "avc1"},
			{Path: path, Codec: "mp4v"},
			{Path: avi, Codec: "MJPG"},
		}
	case ".avi":
		return []Candidate{
			{Path: path, Codec: "MJPG"},
			{Path: path, Codec: "XVID"},
		}
	default:
		return []Candidate{
			{Path: avi, Codec: "MJPG"},
			{Path: path, Codec: "avc1"},
			{Path: path, Codec: "MJPG"},
		}
	}
}

// pipeAvailable is replaced in tests
var pipeAvailable = ffmpeg.Available

// confirmer is a sink that can only tell it works some time after the
// first write, such as an external process that may still exit.
type confirmer interface {
	Confirm() error
}

type attempt struct {
	path string
	open func() Sink
}

// Open selects and opens a sink for req. The external encoder is tried first
// when it applies, then every container candidate with every registered
// writer for its codec. A sink is kept only once its validating write of
// req.First succeeds; rejected attempts are closed and their files removed.
func Open(req Request, opts Options) (Sink, error) {
	opts = opts.withDefaults()
	if req.Width <= 0 || req.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid size %dx%d", ErrRecordingInit, req.Width, req.Height)
	}

	var attempts []attempt

	usePipe := opts.Encoder == EncoderPipe || (opts.Encoder == EncoderAuto && pipeExtension(req.Path))
	if usePipe && pipeAvailable() {
		attempts = append(attempts, attempt{
			path: req.Path,
			open: func() Sink { return NewPipeSink(nil, opts) },
		})
	}

	for _, c := range Candidates(req.Path) {
		for _, factory := range encode.Lookup(c.Codec) {
			attempts = append(attempts, attempt{
				path: c.Path,
				open: func() Sink { return NewContainerSink(c.Codec, factory) },
			})
		}
	}

	sink, err := fallback.First(attempts, func(a attempt) (Sink, error) {
		return tryOpen(a, req, opts.Logger)
	})
	if err != nil {
		if errors.Is(err, fallback.ErrNoCandidates) {
			return nil, fmt.Errorf("%w: no writer can produce %s (registered codecs: %s)",
				ErrRecordingInit, req.Path, strings.Join(encode.Codecs(), ", "))
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrRecordingInit, req.Path, err)
	}

	opts.Logger.Info("output: recording sink opened",
		"requested", req.Path,
		"path", sink.Path(),
		"sink", sink.Name(),
		"size", fmt.Sprintf("%dx%d", req.Width, req.Height),
		"fps", req.FPS,
	)
	return sink, nil
}

func tryOpen(a attempt, req Request, logger *slog.Logger) (Sink, error) {
	sink := a.open()
	if err := sink.Open(a.path, req.Width, req.Height, req.FPS); err != nil {
		logger.Debug("output: candidate rejected", "sink", sink.Name(), "path", a.path, "error", err)
		removePartial(a.path)
		return nil, err
	}
	if req.First == nil {
		return sink, nil
	}
	if err := sink.Write(req.First); err != nil {
		logger.Debug("output: validating write failed", "sink", sink.Name(), "path", sink.Path(), "error", err)
		sink.Close()
		removePartial(sink.Path())
		return nil, fmt.Errorf("%s: validating write: %w", sink.Name(), err)
	}
	if c, ok := sink.(confirmer); ok {
		if err := c.Confirm(); err != nil {
			logger.Debug("output: sink failed after first write", "sink", sink.Name(), "path", sink.Path(), "error", err)
			sink.Close()
			removePartial(sink.Path())
			return nil, fmt.Errorf("%s: %w", sink.Name(), err)
		}
	}
	return sink, nil
}

func removePartial(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Debug("output: remove partial file", "path", path, "error", err)
	}
}
