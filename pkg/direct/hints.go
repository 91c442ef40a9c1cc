package direct

import (
	"strings"

	"github.com/video-system/go-frame-recorder/pkg/input"
)

// Hint is one way of asking ffmpeg to open a source
type Hint struct {
	Name         string
	InputFormat  string   // ffmpeg demuxer, empty to auto-detect
	InputOptions []string // demuxer options before -i
	Framerate    float64  // requested capture rate, 0 to leave as is
	PixelFormat  input.PixelFormat
}

// FileHint decodes any container ffmpeg understands
var FileHint = Hint{Name: "file", PixelFormat: input.FormatBGR24}

// PlatformHints returns the live-device hints for goos in preference order
func PlatformHints(goos string) []Hint {
	switch goos {
	case "linux":
		return []Hint{
			{Name: "v4l2", InputFormat: "v4l2", PixelFormat: input.FormatBGR24},
			{Name: "v4l2-yuyv", InputFormat: "v4l2", InputOptions: []string{"-input_format", "yuyv422"}, PixelFormat: input.FormatYUYV},
			{Name: "v4l2-mjpeg", InputFormat: "v4l2", InputOptions: []string{"-input_format", "mjpeg"}, PixelFormat: input.FormatBGR24},
		}
	case "darwin":
		return []Hint{
			{Name: "avfoundation", InputFormat: "avfoundation", Framerate: 30, PixelFormat: input.FormatBGR24},
			{Name: "avfoundation-nv12", InputFormat: "avfoundation", InputOptions: []string{"-pixel_format", "nv12"}, Framerate: 30, PixelFormat: input.FormatNV12},
		}
	case "windows":
		return []Hint{
			{Name: "dshow", InputFormat: "dshow", PixelFormat: input.FormatBGR24},
			{Name: "dshow-mjpeg", InputFormat: "dshow", InputOptions: []string{"-vcodec", "mjpeg"}, PixelFormat: input.FormatBGR24},
		}
	default:
		return nil
	}
}

// orderHints puts the hint named preferred (or sharing its demuxer) first
func orderHints(hints []Hint, preferred string) []Hint {
	if preferred == "" {
		return hints
	}
	out := make([]Hint, 0, len(hints))
	for _, h := range hints {
		if strings.EqualFold(h.Name, preferred) {
			out = append(out, h)
		}
	}
	for _, h := range hints {
		if !strings.EqualFold(h.Name, preferred) {
			out = append(out, h)
		}
	}
	return out
}

// sourceArg adapts a device path to what the demuxer expects
func sourceArg(h Hint, path string) string {
	switch h.InputFormat {
	case "dshow":
		if !strings.HasPrefix(path, "video=") {
			return "video=" + path
		}
	case "avfoundation":
		if !strings.Contains(path, ":") {
			return path + ":none"
		}
	}
	return path
}

func probeArgs(h Hint) []string {
	var args []string
	if h.InputFormat != "" {
		args = append(args, "-f", h.InputFormat)
	}
	return append(args, h.InputOptions...)
}
