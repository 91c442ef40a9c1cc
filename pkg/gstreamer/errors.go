package gstreamer

import (
	"errors"
	"strings"
)

var (
	errPipelineParse      = errors.New("pipeline parse failed")
	errPipelineNotPlaying = errors.New("pipeline did not reach PLAYING")
	errNoAppSink          = errors.New("pipeline has no appsink")
)

// ErrorCategory classifies bus errors for logs
type ErrorCategory int

const (
	// ErrCategoryResource covers missing, busy or unreadable devices and files
	ErrCategoryResource ErrorCategory = iota
	// ErrCategoryNegotiation covers caps negotiation failures
	ErrCategoryNegotiation
	// ErrCategoryCodec covers decode and format errors
	ErrCategoryCodec
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryResource:
		return "resource"
	case ErrCategoryNegotiation:
		return "negotiation"
	case ErrCategoryCodec:
		return "codec"
	default:
		return "unknown"
	}
}

// Classify categorizes a bus error from its message and debug string.
// go-gst's GError does not expose the error domain, so this matches text.
func Classify(message, debug string) ErrorCategory {
	text := strings.ToLower(message + " " + debug)

	switch {
	case containsAny(text, "not-negotiated", "not negotiated", "negotiation", "caps"):
		return ErrCategoryNegotiation
	case containsAny(text, "could not open", "no such file", "not found", "busy", "permission", "resource", "cannot identify device"):
		return ErrCategoryResource
	case containsAny(text, "decode", "codec", "format", "stream", "demux"):
		return ErrCategoryCodec
	default:
		return ErrCategoryUnknown
	}
}

func containsAny(s string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
