// Package gstreamer provides a capture backend and recording writers built
// on GStreamer pipelines through go-gst.
package gstreamer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

var initOnce sync.Once

func ensureInit() {
	initOnce.Do(func() { gst.Init(nil) })
}

// busPollInterval keeps bus loops responsive to shutdown
const busPollInterval = 50 * time.Millisecond

// buildPipeline parses a launch string
func buildPipeline(launch string) (*gst.Pipeline, error) {
	ensureInit()
	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errPipelineParse, err)
	}
	return pipeline, nil
}

// startPipeline sets PLAYING and waits until the pipeline reports it, an
// error arrives on the bus, or timeout passes.
func startPipeline(pipeline *gst.Pipeline, timeout time.Duration) error {
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("%w: %w", errPipelineNotPlaying, err)
	}

	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		msg := bus.TimedPop(busPollInterval)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			return fmt.Errorf("%w: %s", errPipelineNotPlaying, gerr.Error())
		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				if _, newState := msg.ParseStateChanged(); newState == gst.StatePlaying {
					return nil
				}
			}
		}
	}
	return fmt.Errorf("%w: timed out after %s", errPipelineNotPlaying, timeout)
}

// stopPipeline moves the pipeline to NULL, logging failures
func stopPipeline(pipeline *gst.Pipeline, logger *slog.Logger) {
	if pipeline == nil {
		return
	}
	if err := pipeline.SetState(gst.StateNull); err != nil {
		logger.Warn("gstreamer: failed to stop pipeline", "error", err)
	}
}
