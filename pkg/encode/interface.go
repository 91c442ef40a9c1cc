package encode

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/video-system/go-frame-recorder/pkg/input"
)

// ErrUnknownCodec is returned when no writer is registered for a codec.
var ErrUnknownCodec = errors.New("no writer for codec")

// Writer is an in-process codec/container writer
type Writer interface {
	// Metadata
	Name() string
	Codec() string

	// Lifecycle
	Open(cfg Config) error
	Close() error

	// Encoding
	WriteFrame(frame *input.Frame) error
}

// Config holds writer configuration
type Config struct {
	Path   string // Output file; the extension selects the container
	Width  int
	Height int
	FPS    float64
}

// Factory creates an unopened writer
type Factory func() Writer

type entry struct {
	name     string
	priority int
	factory  Factory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string][]entry)
)

// Register registers a writer for a codec fourcc (avc1, mp4v, MJPG...).
// Higher priority writers are tried first.
func Register(codec, name string, priority int, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	key := strings.ToUpper(codec)
	entries := registry[key]
	for i, e := range entries {
		if e.name == name {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	entries = append(entries, entry{name: name, priority: priority, factory: factory})
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].priority > entries[j].priority })
	registry[key] = entries
}

// Lookup returns the writer factories registered for a codec in priority order
func Lookup(codec string) []Factory {
	registryMu.RLock()
	defer registryMu.RUnlock()

	entries := registry[strings.ToUpper(codec)]
	out := make([]Factory, len(entries))
	for i, e := range entries {
		out[i] = e.factory
	}
	return out
}

// Get returns the highest priority writer for a codec
func Get(codec string) (Writer, error) {
	factories := Lookup(codec)
	if len(factories) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, codec)
	}
	return factories[0](), nil
}

// Codecs lists every codec with at least one registered writer
func Codecs() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
