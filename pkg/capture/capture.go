package capture

import (
	"errors"
	"time"
)

var (
	// ErrNoFrame is returned by StartRecording before any frame has arrived
	ErrNoFrame = errors.New("no frame captured yet")
	// ErrClosed is returned by operations on a closed session
	ErrClosed = errors.New("session closed")
	// ErrStopped is returned when recording is requested after Stop
	ErrStopped = errors.New("session stopped")
)

// Status represents the current session status
type Status struct {
	SessionID      string           `json:"session_id"`
	Source         string           `json:"source"`
	Backend        string           `json:"backend"`
	State          string           `json:"state"`
	Opened         bool             `json:"opened"`
	IsFile         bool             `json:"is_file"`
	CurrentFrame   int64            `json:"current_frame"`
	TotalFrames    int64            `json:"total_frames"`
	FPS            float64          `json:"fps"`
	DeclaredFPS    float64          `json:"declared_fps"`
	Speed          float64          `json:"speed"`
	Width          int              `json:"width"`
	Height         int              `json:"height"`
	ReadErrors     uint64           `json:"read_errors"`
	DisplayDropped uint64           `json:"display_dropped"`
	PixelSwap      bool             `json:"pixel_swap"`
	Recording      *RecordingStatus `json:"recording,omitempty"`
}

// RecordingStatus describes the active recording
type RecordingStatus struct {
	ID            string    `json:"id"`
	RequestedPath string    `json:"requested_path"`
	Path          string    `json:"path"`
	Sink          string    `json:"sink"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	FPS           float64   `json:"fps"`
	Frames        int64     `json:"frames"`
	WriteErrors   int64     `json:"write_errors"`
	StartedAt     time.Time `json:"started_at"`
}

// EventType identifies a session event
type EventType int

const (
	// EventProgress carries (current, total) for file sources on every displayed frame
	EventProgress EventType = iota
	// EventReadError reports a failed read
	EventReadError
	// EventEndOfStream is sent once when the backend stops delivering, at
	// the end of a file or when a device goes away
	EventEndOfStream
)

// Event is published on the session's event channel
type Event struct {
	Type    EventType
	Current int64
	Total   int64
	Err     error
}
