package input

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrDeviceUnavailable means no backend configuration could open the source.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrReadFailure means a single read produced no frame. Transient.
	ErrReadFailure = errors.New("read failure")
	// ErrUnsupportedProperty is returned by Set for properties a backend cannot change.
	ErrUnsupportedProperty = errors.New("unsupported property")
	// ErrUnknownBackend is returned by New for an unregistered backend name.
	ErrUnknownBackend = errors.New("unknown backend")
)

// Backend is the capability every capture backend provides
type Backend interface {
	// Lifecycle
	Open(dev Device) error
	IsOpened() bool
	Release()

	// Capture
	Read() (*Frame, error)

	// Properties
	Get(p Property) float64
	Set(p Property, v float64) error
}

// Property identifies a queryable backend property
type Property int

const (
	PropFrameWidth Property = iota
	PropFrameHeight
	PropFPS
	PropFrameCount
	PropPosition
)

func (p Property) String() string {
	switch p {
	case PropFrameWidth:
		return "frame_width"
	case PropFrameHeight:
		return "frame_height"
	case PropFPS:
		return "fps"
	case PropFrameCount:
		return "frame_count"
	case PropPosition:
		return "position"
	default:
		return fmt.Sprintf("property(%d)", int(p))
	}
}

// Device describes a discovered capture source. A Path pointing at a
// regular file makes the session a file source.
type Device struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Path    string `json:"path"`
	Backend string `json:"backend,omitempty"` // preferred backend hint, e.g. v4l2
}

// Frame is a captured video frame. Data is tightly packed in Format.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Format    PixelFormat
	Timestamp int64 // Unix nanoseconds
	Sequence  int64
}

// PixelFormat represents a video pixel layout
type PixelFormat string

const (
	FormatBGR24 PixelFormat = "bgr24"
	FormatNV12  PixelFormat = "nv12"
	FormatYUYV  PixelFormat = "yuyv422"
)

// FrameSize returns the packed byte size of a w×h frame, or 0 for unknown layouts.
func (f PixelFormat) FrameSize(w, h int) int {
	switch f {
	case FormatBGR24:
		return w * h * 3
	case FormatYUYV:
		return w * h * 2
	case FormatNV12:
		return w*h + 2*((w+1)/2)*((h+1)/2)
	default:
		return 0
	}
}

// Channels returns the number of interleaved channels the layout presents:
// 3 for BGR, 2 for packed YUY2, 1 for the planar NV12 luma plane.
func (f PixelFormat) Channels() int {
	switch f {
	case FormatBGR24:
		return 3
	case FormatYUYV:
		return 2
	case FormatNV12:
		return 1
	default:
		return 0
	}
}

// Factory creates an unopened backend
type Factory func() Backend

var (
	registryMu sync.RWMutex
	// Registry holds registered capture backends by name
	Registry = make(map[string]Factory)
)

// Register registers a backend factory
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	Registry[name] = factory
}

// New returns a fresh backend by name
func New(name string) (Backend, error) {
	registryMu.RLock()
	factory, ok := Registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return factory(), nil
}

// Names returns the registered backend names in sorted order
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
