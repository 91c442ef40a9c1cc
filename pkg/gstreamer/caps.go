package gstreamer

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/video-system/go-frame-recorder/pkg/input"
)

// VideoCaps is the subset of negotiated raw video caps the backend needs
type VideoCaps struct {
	Format    string // GStreamer format name: BGR, NV12, YUY2
	Width     int
	Height    int
	Framerate float64
}

var (
	capsFormat    = regexp.MustCompile(`format=\(string\)([A-Za-z0-9_]+)`)
	capsWidth     = regexp.MustCompile(`width=\(int\)(\d+)`)
	capsHeight    = regexp.MustCompile(`height=\(int\)(\d+)`)
	capsFramerate = regexp.MustCompile(`framerate=\(fraction\)(\d+)/(\d+)`)
)

// ParseCaps extracts raw video fields from a serialized caps string such as
// "video/x-raw, format=(string)BGR, width=(int)640, height=(int)480, framerate=(fraction)30/1".
func ParseCaps(s string) (VideoCaps, error) {
	var c VideoCaps
	if m := capsFormat.FindStringSubmatch(s); m != nil {
		c.Format = m[1]
	}
	if m := capsWidth.FindStringSubmatch(s); m != nil {
		c.Width, _ = strconv.Atoi(m[1])
	}
	if m := capsHeight.FindStringSubmatch(s); m != nil {
		c.Height, _ = strconv.Atoi(m[1])
	}
	if m := capsFramerate.FindStringSubmatch(s); m != nil {
		num, _ := strconv.Atoi(m[1])
		den, _ := strconv.Atoi(m[2])
		if den > 0 {
			c.Framerate = float64(num) / float64(den)
		}
	}
	if c.Width <= 0 || c.Height <= 0 {
		return c, fmt.Errorf("caps without dimensions: %q", s)
	}
	return c, nil
}

// PixelFormat maps the GStreamer format name to a frame layout
func (c VideoCaps) PixelFormat() (input.PixelFormat, bool) {
	switch c.Format {
	case "BGR":
		return input.FormatBGR24, true
	case "NV12":
		return input.FormatNV12, true
	case "YUY2":
		return input.FormatYUYV, true
	default:
		return "", false
	}
}

func align4(n int) int {
	return (n + 3) &^ 3
}

// packFrame copies a mapped GStreamer buffer into a tightly packed slice.
// GStreamer's default video layout pads every row to a multiple of four bytes.
func packFrame(data []byte, format input.PixelFormat, w, h int) ([]byte, error) {
	packed := format.FrameSize(w, h)
	if packed == 0 {
		return nil, fmt.Errorf("unsupported layout %q", format)
	}
	if len(data) == packed {
		out := make([]byte, packed)
		copy(out, data)
		return out, nil
	}

	out := make([]byte, packed)
	switch format {
	case input.FormatBGR24, input.FormatYUYV:
		row := w * format.Channels()
		stride := align4(row)
		if len(data) < stride*(h-1)+row {
			return nil, fmt.Errorf("short buffer: %d bytes for %dx%d %s", len(data), w, h, format)
		}
		for y := 0; y < h; y++ {
			copy(out[y*row:(y+1)*row], data[y*stride:y*stride+row])
		}
	case input.FormatNV12:
		stride := align4(w)
		uvRows := (h + 1) / 2
		uvRow := 2 * ((w + 1) / 2)
		if len(data) < stride*h+stride*(uvRows-1)+uvRow {
			return nil, fmt.Errorf("short buffer: %d bytes for %dx%d nv12", len(data), w, h)
		}
		for y := 0; y < h; y++ {
			copy(out[y*w:(y+1)*w], data[y*stride:y*stride+w])
		}
		uvOut := out[w*h:]
		uvIn := data[stride*h:]
		for y := 0; y < uvRows; y++ {
			copy(uvOut[y*uvRow:(y+1)*uvRow], uvIn[y*stride:y*stride+uvRow])
		}
	}
	return out, nil
}
