//go:build !linux

package device

import (
	"context"

	"github.com/video-system/go-frame-recorder/pkg/input"
)

// List probes device indices with each configured backend
func List(ctx context.Context, opts Options) ([]input.Device, error) {
	opts = opts.withDefaults()
	return ProbeIndices(ctx, opts.MaxIndex, opts.Backends, input.New, opts.Logger), nil
}
