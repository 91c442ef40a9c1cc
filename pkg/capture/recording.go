package capture

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/video-system/go-frame-recorder/pkg/convert"
	"github.com/video-system/go-frame-recorder/pkg/input"
	"github.com/video-system/go-frame-recorder/pkg/output"
)

// Recording is the active recording of a session. Its size and rate are
// fixed when it starts.
type Recording struct {
	id            string
	requestedPath string
	sink          output.Sink
	width         int
	height        int
	fps           float64
	first         *input.Frame
	startedAt     time.Time

	frames      atomic.Int64
	writeErrors atomic.Int64
}

func (r *Recording) status() RecordingStatus {
	return RecordingStatus{
		ID:            r.id,
		RequestedPath: r.requestedPath,
		Path:          r.sink.Path(),
		Sink:          r.sink.Name(),
		Width:         r.width,
		Height:        r.height,
		FPS:           r.fps,
		Frames:        r.frames.Load(),
		WriteErrors:   r.writeErrors.Load(),
		StartedAt:     r.startedAt,
	}
}

// IsRecording is true only once a sink has been opened and validated
func (s *Session) IsRecording() bool {
	return s.rec.Load() != nil
}

// RecordingFPS picks the recording rate: the measured rate when above 1,
// else the declared rate, else the configured default, clamped to the
// configured range.
func (s *Session) RecordingFPS() float64 {
	fps := s.FPS()
	if fps <= 1 {
		fps = s.declaredFPS
	}
	if fps <= 0 || fps != fps {
		fps = s.cfg.Record.DefaultFPS
	}
	if fps < s.cfg.Record.MinFPS {
		fps = s.cfg.Record.MinFPS
	}
	if fps > s.cfg.Record.MaxFPS {
		fps = s.cfg.Record.MaxFPS
	}
	return fps
}

// StartRecording opens a sink sized to the last captured frame and writes
// that frame as its first. It is a no-op while a recording is active.
func (s *Session) StartRecording(path string) (RecordingStatus, error) {
	if s.closed.Load() {
		return RecordingStatus{}, ErrClosed
	}
	if s.pacer.State() == StateStopped {
		return RecordingStatus{}, ErrStopped
	}

	s.recMu.Lock()
	defer s.recMu.Unlock()

	// Stop may have landed after the check above
	if s.pacer.State() == StateStopped {
		return RecordingStatus{}, ErrStopped
	}
	if rec := s.rec.Load(); rec != nil {
		return rec.status(), nil
	}
	first := s.lastFrame.Load()
	if first == nil {
		return RecordingStatus{}, ErrNoFrame
	}
	if first.Format != input.FormatBGR24 {
		return RecordingStatus{}, fmt.Errorf("%w: last frame is %s", convert.ErrUnsupportedPixelLayout, first.Format)
	}

	fps := s.RecordingFPS()
	sink, err := s.openSink(output.Request{
		Path:   path,
		Width:  first.Width,
		Height: first.Height,
		FPS:    fps,
		First:  first,
	}, output.Options{
		Encoder:      s.cfg.Record.Encoder,
		CloseTimeout: s.cfg.Record.CloseTimeout,
		Preset:       s.cfg.Record.Preset,
		Logger:       s.logger,
	})
	if err != nil {
		s.logger.Error("capture: recording failed to start", "path", path, "error", err)
		return RecordingStatus{}, err
	}

	rec := &Recording{
		id:            uuid.New().String(),
		requestedPath: path,
		sink:          sink,
		width:         first.Width,
		height:        first.Height,
		fps:           fps,
		first:         first,
		startedAt:     time.Now(),
	}
	rec.frames.Store(1)
	s.rec.Store(rec)

	s.logger.Info("capture: recording started",
		"recording", rec.id,
		"path", sink.Path(),
		"sink", sink.Name(),
		"size", fmt.Sprintf("%dx%d", rec.width, rec.height),
		"fps", fps,
	)
	return rec.status(), nil
}

// StopRecording closes the active sink. Safe to call when not recording.
func (s *Session) StopRecording() error {
	s.recMu.Lock()
	defer s.recMu.Unlock()

	rec := s.rec.Swap(nil)
	if rec == nil {
		return nil
	}
	err := rec.sink.Close()
	s.logger.Info("capture: recording stopped",
		"recording", rec.id,
		"path", rec.sink.Path(),
		"frames", rec.frames.Load(),
		"write_errors", rec.writeErrors.Load(),
		"duration", time.Since(rec.startedAt).Round(time.Millisecond),
	)
	return err
}

// record writes a frame to the active recording. Frames whose size differs
// from the recording are resampled first. Write failures are counted and
// logged but never stop capture.
func (s *Session) record(f *input.Frame) {
	if s.rec.Load() == nil {
		return
	}

	s.recMu.Lock()
	defer s.recMu.Unlock()

	rec := s.rec.Load()
	if rec == nil || f == rec.first {
		return
	}

	if f.Width != rec.width || f.Height != rec.height {
		resized, err := convert.Resize(f, rec.width, rec.height)
		if err != nil {
			s.writeFailed(rec, err)
			return
		}
		f = resized
	}
	if err := rec.sink.Write(f); err != nil {
		s.writeFailed(rec, err)
		return
	}
	rec.frames.Add(1)
}

func (s *Session) writeFailed(rec *Recording, err error) {
	n := rec.writeErrors.Add(1)
	if n == 1 || n%int64(s.cfg.Capture.ErrorLogEvery) == 0 {
		s.logger.Warn("capture: recording write failed", "path", rec.sink.Path(), "failures", n, "error", err)
	}
}
