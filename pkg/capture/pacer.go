package capture

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MinSpeed is the lowest playback speed multiplier
const MinSpeed = 0.1

// State is the playback state of a session
type State int32

const (
	StateRunning State = iota
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Pacer decides which frames reach the display and how long a file source
// waits between frames. It never affects recording.
type Pacer struct {
	isFile     bool
	sourceFPS  float64
	displayFPS float64

	speed atomic.Uint64 // float64 bits
	state atomic.Int32

	mu        sync.Mutex
	lastAdmit time.Time
}

// NewPacer creates a running pacer at speed 1.0. sourceFPS is the file's
// frame rate (30 when unknown); displayFPS caps live display.
func NewPacer(isFile bool, sourceFPS, displayFPS float64) *Pacer {
	if sourceFPS <= 0 {
		sourceFPS = 30
	}
	if displayFPS <= 0 {
		displayFPS = 30
	}
	p := &Pacer{isFile: isFile, sourceFPS: sourceFPS, displayFPS: displayFPS}
	p.speed.Store(math.Float64bits(1.0))
	return p
}

// SetSpeed sets the playback multiplier, clamped to MinSpeed, and returns
// the value applied. It takes effect on the next pacing decision.
func (p *Pacer) SetSpeed(s float64) float64 {
	if math.IsNaN(s) || s < MinSpeed {
		s = MinSpeed
	}
	p.speed.Store(math.Float64bits(s))
	return s
}

// Speed returns the current multiplier
func (p *Pacer) Speed() float64 {
	return math.Float64frombits(p.speed.Load())
}

// Interval is the target time between delivered frames, truncated to whole
// milliseconds: 1000/fps/speed for files, 1000/displayFPS for live sources.
func (p *Pacer) Interval() time.Duration {
	if p.isFile {
		return time.Duration(int(1000/p.sourceFPS/p.Speed())) * time.Millisecond
	}
	return time.Duration(int(1000/p.displayFPS)) * time.Millisecond
}

// Admit reports whether a frame read at now goes to the display. File
// frames are paced by Delay and always admitted; live frames are admitted
// at most once per interval.
func (p *Pacer) Admit(now time.Time) bool {
	if p.State() != StateRunning {
		return false
	}
	if p.isFile {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.lastAdmit.IsZero() && now.Sub(p.lastAdmit) < p.Interval() {
		return false
	}
	p.lastAdmit = now
	return true
}

// Delay is how long the loop sleeps after a tick that took elapsed.
// Live sources are never delayed.
func (p *Pacer) Delay(elapsed time.Duration) time.Duration {
	if !p.isFile {
		return 0
	}
	if d := p.Interval() - elapsed; d > 0 {
		return d
	}
	return 0
}

// State returns the playback state
func (p *Pacer) State() State {
	return State(p.state.Load())
}

// Pause moves Running to Paused
func (p *Pacer) Pause() bool {
	return p.state.CompareAndSwap(int32(StateRunning), int32(StatePaused))
}

// Resume moves Paused to Running
func (p *Pacer) Resume() bool {
	return p.state.CompareAndSwap(int32(StatePaused), int32(StateRunning))
}

// Stop moves to the terminal Stopped state. Reports whether it changed.
func (p *Pacer) Stop() bool {
	return State(p.state.Swap(int32(StateStopped))) != StateStopped
}
