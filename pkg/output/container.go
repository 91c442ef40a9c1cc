package output

import (
	"fmt"
	"sync"

	"github.com/video-system/go-frame-recorder/pkg/encode"
	"github.com/video-system/go-frame-recorder/pkg/input"
)

// ContainerSink records through an in-process codec writer from the encode
// registry.
type ContainerSink struct {
	codec   string
	factory encode.Factory

	mu     sync.Mutex
	writer encode.Writer
	path   string
}

// NewContainerSink creates a sink that opens factory's writer for codec
func NewContainerSink(codec string, factory encode.Factory) *ContainerSink {
	return &ContainerSink{codec: codec, factory: factory}
}

// Name reports the writer and codec in use
func (s *ContainerSink) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer != nil {
		return s.writer.Name() + "/" + s.codec
	}
	return "container/" + s.codec
}

// Codec returns the fourcc this sink writes
func (s *ContainerSink) Codec() string {
	return s.codec
}

// Path returns the file being written
func (s *ContainerSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Open opens the codec writer
func (s *ContainerSink) Open(path string, width, height int, fps float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != nil {
		return fmt.Errorf("%w: container sink already open", ErrRecordingInit)
	}
	w := s.factory()
	if err := w.Open(encode.Config{Path: path, Width: width, Height: height, FPS: fps}); err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrRecordingInit, s.codec, path, err)
	}
	s.writer = w
	s.path = path
	return nil
}

// Write appends one frame
func (s *ContainerSink) Write(frame *input.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return fmt.Errorf("container sink not open")
	}
	return s.writer.WriteFrame(frame)
}

// Close finalizes the container. Safe to call more than once.
func (s *ContainerSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	return err
}
