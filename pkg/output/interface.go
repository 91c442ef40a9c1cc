package output

import (
	"errors"

	"github.com/video-system/go-frame-recorder/pkg/input"
)

var (
	// ErrRecordingInit means no sink candidate could be opened.
	ErrRecordingInit = errors.New("recording init failed")
	// ErrEncoderProcess means the external encoder failed or exited abnormally.
	ErrEncoderProcess = errors.New("encoder process failed")
)

// Sink is the interface for recording destinations
type Sink interface {
	// Metadata
	Name() string
	Path() string // actual output file, which may differ from the request

	// Lifecycle
	Open(path string, width, height int, fps float64) error
	Close() error

	// Output
	Write(frame *input.Frame) error
}

// Encoder modes for Options.Encoder
const (
	EncoderAuto      = "auto"      // external encoder for mp4 family, containers otherwise
	EncoderPipe      = "pipe"      // external encoder first for every extension
	EncoderContainer = "container" // in-process writers only
)
