package capture

import (
	"context"
	"math"
	"time"

	"github.com/video-system/go-frame-recorder/pkg/convert"
	"github.com/video-system/go-frame-recorder/pkg/input"
)

// emaWeight is the weight of a new sample in the frame rate estimate
const emaWeight = 0.1

// run is the acquisition loop. Read failures never end it; only the
// context does.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if s.pacer.State() == StateStopped {
			if !s.idle(ctx) {
				return
			}
			continue
		}

		tick := time.Now()
		s.tickMu.Lock()
		f, err := s.backend.Read()
		if err != nil {
			s.tickMu.Unlock()
			if !s.backend.IsOpened() {
				s.endOfStream()
				if !s.idle(ctx) {
					return
				}
				continue
			}
			failures++
			s.readErrors.Add(1)
			if failures == 1 || failures%s.cfg.Capture.ErrorLogEvery == 0 {
				s.logger.Warn("capture: read failed", "consecutive", failures, "error", err)
			}
			s.emit(Event{Type: EventReadError, Err: err})
			if !sleep(ctx, s.cfg.Capture.ReadBackoff) {
				return
			}
			continue
		}
		s.ended.Store(false)
		if failures > 0 {
			s.logger.Info("capture: reads recovered", "after_failures", failures)
			failures = 0
		}

		if s.pacer.State() == StateStopped {
			s.tickMu.Unlock()
			continue
		}
		f = convert.Normalize(f)
		s.observe(f, tick)
		s.record(f)
		s.deliver(f, tick)
		s.tickMu.Unlock()

		if d := s.pacer.Delay(time.Since(tick)); d > 0 {
			if !sleep(ctx, d) {
				return
			}
		}
	}
}

// endOfStream reports a backend that stopped delivering, once per stretch
func (s *Session) endOfStream() {
	if !s.ended.CompareAndSwap(false, true) {
		return
	}
	pos := s.position.Load()
	s.logger.Info("capture: end of stream", "frames", pos, "total", s.totalFrames)
	s.emit(Event{Type: EventEndOfStream, Current: pos, Total: s.totalFrames})
}

// observe updates position, the frame rate estimate and the last frame
func (s *Session) observe(f *input.Frame, now time.Time) {
	s.position.Add(1)
	s.lastFrame.Store(f)

	prev := s.lastAt.Swap(now.UnixNano())
	if prev == 0 {
		return
	}
	dt := now.Sub(time.Unix(0, prev)).Seconds()
	if dt <= 0 {
		return
	}
	inst := 1 / dt
	old := math.Float64frombits(s.fpsBits.Load())
	next := inst
	if old > 0 {
		next = (1-emaWeight)*old + emaWeight*inst
	}
	s.fpsBits.Store(math.Float64bits(next))
}

// deliver offers a frame to the display path
func (s *Session) deliver(f *input.Frame, now time.Time) {
	if !s.pacer.Admit(now) {
		return
	}
	if s.swap.Load() {
		f = convert.SwapRB(f)
	}
	s.display.Publish(f)
	if s.isFile {
		s.emit(Event{Type: EventProgress, Current: s.position.Load(), Total: s.totalFrames})
	}
}

// idle blocks until woken, the context ends, or a short poll interval passes
func (s *Session) idle(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.wake:
		return true
	case <-time.After(50 * time.Millisecond):
		return true
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
