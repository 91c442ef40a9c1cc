// Package device discovers capture sources.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/video-system/go-frame-recorder/pkg/input"
)

// Options tunes enumeration
type Options struct {
	Dir      string   // device node directory (linux), default /dev
	MaxIndex int      // indices probed where nodes are not listable, default 10
	Backends []string // trial-open order for index probing
	Logger   *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Dir == "" {
		o.Dir = "/dev"
	}
	if o.MaxIndex <= 0 {
		o.MaxIndex = 10
	}
	if len(o.Backends) == 0 {
		o.Backends = []string{"direct", "pipeline"}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Capability is what a node reports about itself
type Capability struct {
	Driver  string
	Card    string
	Capture bool
}

// QueryFunc inspects a device node. An error means the node could not be
// queried, not that it is unusable.
type QueryFunc func(path string) (Capability, error)

// Scan lists video* nodes under dir in index order. Nodes that answer query
// without a capture capability (metadata nodes) are skipped; nodes that
// cannot be queried are kept under their base name.
func Scan(dir string, query QueryFunc) ([]input.Device, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	type node struct {
		name  string
		index int
	}
	var nodes []node
	for _, e := range entries {
		idx, ok := nodeIndex(e.Name())
		if ok {
			nodes = append(nodes, node{e.Name(), idx})
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].index < nodes[j].index })

	devices := make([]input.Device, 0, len(nodes))
	for _, n := range nodes {
		path := filepath.Join(dir, n.name)
		dev := input.Device{ID: n.name, Name: n.name, Path: path, Backend: "v4l2"}

		if query != nil {
			c, err := query(path)
			if err == nil {
				if !c.Capture {
					continue
				}
				if c.Card != "" {
					dev.Name = c.Card
				}
			}
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// nodeIndex parses "video12" into 12
func nodeIndex(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "video")
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Opener creates a backend by name, normally input.New
type Opener func(name string) (input.Backend, error)

// ProbeIndices trial-opens indices 0..max-1 with each backend in order and
// lists an index as soon as one backend opens it. Every trial backend is
// released before the next attempt.
func ProbeIndices(ctx context.Context, max int, backends []string, open Opener, logger *slog.Logger) []input.Device {
	if logger == nil {
		logger = slog.Default()
	}
	var devices []input.Device
	for i := 0; i < max; i++ {
		if ctx.Err() != nil {
			break
		}
		dev := input.Device{
			ID:   strconv.Itoa(i),
			Name: fmt.Sprintf("Camera %d", i),
			Path: strconv.Itoa(i),
		}
		for _, name := range backends {
			b, err := open(name)
			if err != nil {
				continue
			}
			err = b.Open(dev)
			ok := err == nil && b.IsOpened()
			b.Release()
			if ok {
				dev.Backend = name
				devices = append(devices, dev)
				break
			}
			logger.Debug("device: index not usable", "index", i, "backend", name, "error", err)
		}
	}
	return devices
}
