package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// ProbeResult holds source information
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat holds format-level information
type ProbeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// ProbeStream holds stream-level information
type ProbeStream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"` // video, audio
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	PixFmt       string `json:"pix_fmt,omitempty"`
	FrameRate    string `json:"r_frame_rate,omitempty"`
	AvgFrameRate string `json:"avg_frame_rate,omitempty"`
	Duration     string `json:"duration,omitempty"`
	NbFrames     string `json:"nb_frames,omitempty"`
	BitRate      string `json:"bit_rate,omitempty"`
}

// CanProbe reports whether ffprobe was found
func (f *FFmpeg) CanProbe() bool {
	return f.probePath != ""
}

// Probe analyzes a source and returns metadata. inputArgs are demuxer
// options placed before the source, e.g. "-f", "v4l2".
func (f *FFmpeg) Probe(ctx context.Context, path string, inputArgs ...string) (*ProbeResult, error) {
	if f.probePath == "" {
		return nil, ErrProbeUnavailable
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
	}
	args = append(args, inputArgs...)
	args = append(args, path)

	cmd := exec.CommandContext(ctx, f.probePath, args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	return ParseProbe(output)
}

// ParseProbe decodes ffprobe JSON output
func ParseProbe(output []byte) (*ProbeResult, error) {
	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return &result, nil
}

// VideoInfo returns simplified video information
type VideoInfo struct {
	Width      int
	Height     int
	Duration   float64
	Framerate  float64
	FrameCount int64
	Codec      string
	BitRate    int64
	PixelFmt   string
}

// GetVideoInfo returns simplified video information
func (f *FFmpeg) GetVideoInfo(ctx context.Context, path string, inputArgs ...string) (*VideoInfo, error) {
	probe, err := f.Probe(ctx, path, inputArgs...)
	if err != nil {
		return nil, err
	}
	info := probe.VideoInfo()
	if info.Width == 0 || info.Height == 0 {
		return nil, fmt.Errorf("no video stream in %s", path)
	}
	return info, nil
}

// VideoInfo extracts the first video stream
func (probe *ProbeResult) VideoInfo() *VideoInfo {
	info := &VideoInfo{}

	for _, stream := range probe.Streams {
		if stream.CodecType == "video" {
			info.Width = stream.Width
			info.Height = stream.Height
			info.Codec = stream.CodecName
			info.PixelFmt = stream.PixFmt

			// Parse framerate (format: "30/1" or "30000/1001")
			if fr := parseFramerate(stream.AvgFrameRate); fr > 0 {
				info.Framerate = fr
			} else {
				info.Framerate = parseFramerate(stream.FrameRate)
			}

			if stream.BitRate != "" {
				info.BitRate, _ = strconv.ParseInt(stream.BitRate, 10, 64)
			}
			if stream.NbFrames != "" {
				info.FrameCount, _ = strconv.ParseInt(stream.NbFrames, 10, 64)
			}
			if stream.Duration != "" {
				info.Duration, _ = strconv.ParseFloat(stream.Duration, 64)
			}

			break
		}
	}

	if info.Duration == 0 && probe.Format.Duration != "" {
		info.Duration, _ = strconv.ParseFloat(probe.Format.Duration, 64)
	}

	// Containers without a frame index: estimate from duration
	if info.FrameCount == 0 && info.Duration > 0 && info.Framerate > 0 {
		info.FrameCount = int64(info.Duration*info.Framerate + 0.5)
	}

	if info.BitRate == 0 && probe.Format.BitRate != "" {
		info.BitRate, _ = strconv.ParseInt(probe.Format.BitRate, 10, 64)
	}

	return info
}

// parseFramerate parses a framerate string like "30/1" or "30000/1001"
func parseFramerate(s string) float64 {
	if s == "" {
		return 0
	}
	var num, den int
	if n, _ := fmt.Sscanf(s, "%d/%d", &num, &den); n == 2 {
		if den == 0 {
			return 0
		}
		return float64(num) / float64(den)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return 0
}

// Resolution returns resolution string like "1920x1080"
func (v *VideoInfo) Resolution() string {
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}
