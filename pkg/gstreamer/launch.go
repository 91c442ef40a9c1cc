package gstreamer

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// SinkName is the appsink element name every capture launch string uses
const SinkName = "framesink"

const sinkTail = "queue leaky=downstream max-size-buffers=2 ! appsink name=" + SinkName + " emit-signals=true max-buffers=2 drop=true sync=false"

// Candidate is one capture launch string
type Candidate struct {
	Name   string
	Launch string
}

// FileCandidates decodes any container GStreamer can demux, capped at 30 fps
func FileCandidates(path string) []Candidate {
	return []Candidate{{
		Name: "file",
		Launch: fmt.Sprintf("filesrc location=%s ! decodebin ! videorate max-rate=30 ! videoconvert ! video/x-raw,format=BGR ! %s",
			quote(path), sinkTail),
	}}
}

// DeviceCandidates returns live-device launch strings in preference order
// for goos: plain BGR, NV12 1080p30, then MJPEG decoded in software.
func DeviceCandidates(goos, device string) []Candidate {
	var src string
	switch goos {
	case "linux":
		src = "v4l2src device=" + quote(device)
	case "darwin":
		src = "avfvideosrc device-index=" + indexOf(device)
	case "windows":
		src = "mfvideosrc device-index=" + indexOf(device)
	default:
		src = "autovideosrc"
	}

	return []Candidate{
		{
			Name:   "bgr",
			Launch: fmt.Sprintf("%s ! videoconvert ! video/x-raw,format=BGR ! %s", src, sinkTail),
		},
		{
			Name:   "nv12-1080p30",
			Launch: fmt.Sprintf("%s ! video/x-raw,format=NV12,width=1920,height=1080,framerate=30/1 ! %s", src, sinkTail),
		},
		{
			Name:   "mjpeg",
			Launch: fmt.Sprintf("%s ! image/jpeg ! jpegdec ! videoconvert ! video/x-raw,format=BGR ! %s", src, sinkTail),
		},
	}
}

// Candidates picks file or device launch strings for a source path
func Candidates(path string, isFile bool) []Candidate {
	if isFile {
		return FileCandidates(path)
	}
	return DeviceCandidates(runtime.GOOS, path)
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// indexOf turns "/dev/video2", "video2" or "2" into a device index
func indexOf(device string) string {
	digits := strings.TrimLeftFunc(device, func(r rune) bool { return r < '0' || r > '9' })
	if n, err := strconv.Atoi(digits); err == nil {
		return strconv.Itoa(n)
	}
	return "0"
}
