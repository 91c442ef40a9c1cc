// Package convert turns captured frames into the canonical packed BGR layout
// and resamples them for recording.
package convert

import (
	"errors"
	"fmt"

	"github.com/video-system/go-frame-recorder/pkg/input"
)

// ErrUnsupportedPixelLayout is returned when a frame cannot be converted to BGR.
var ErrUnsupportedPixelLayout = errors.New("unsupported pixel layout")

// Normalize returns f converted to packed BGR24. Frames that are already
// BGR, or that fail conversion, are returned unchanged. Normalize has no
// side effects and does not modify f.
func Normalize(f *input.Frame) *input.Frame {
	out, err := ToBGR(f)
	if err != nil {
		return f
	}
	return out
}

// ToBGR converts f to packed BGR24. A BGR frame is returned as is.
func ToBGR(f *input.Frame) (*input.Frame, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrUnsupportedPixelLayout)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrUnsupportedPixelLayout, f.Width, f.Height)
	}

	var dst []byte
	switch f.Format {
	case input.FormatBGR24:
		return f, nil
	case input.FormatNV12:
		if f.Width%2 != 0 || f.Height%2 != 0 {
			return nil, fmt.Errorf("%w: nv12 needs even dimensions, got %dx%d", ErrUnsupportedPixelLayout, f.Width, f.Height)
		}
		if len(f.Data) < input.FormatNV12.FrameSize(f.Width, f.Height) {
			return nil, fmt.Errorf("%w: short nv12 payload (%d bytes)", ErrUnsupportedPixelLayout, len(f.Data))
		}
		dst = nv12ToBGR(f.Data, f.Width, f.Height)
	case input.FormatYUYV:
		if f.Width%2 != 0 {
			return nil, fmt.Errorf("%w: yuyv needs even width, got %d", ErrUnsupportedPixelLayout, f.Width)
		}
		if len(f.Data) < input.FormatYUYV.FrameSize(f.Width, f.Height) {
			return nil, fmt.Errorf("%w: short yuyv payload (%d bytes)", ErrUnsupportedPixelLayout, len(f.Data))
		}
		dst = yuyvToBGR(f.Data, f.Width, f.Height)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPixelLayout, f.Format)
	}

	return &input.Frame{
		Data:      dst,
		Width:     f.Width,
		Height:    f.Height,
		Format:    input.FormatBGR24,
		Timestamp: f.Timestamp,
		Sequence:  f.Sequence,
	}, nil
}

// BT.601 limited range, 8-bit fixed point.
func yuvToBGR(y, u, v int) (b, g, r byte) {
	c := y - 16
	if c < 0 {
		c = 0
	}
	d := u - 128
	e := v - 128

	r = clamp((298*c + 409*e + 128) >> 8)
	g = clamp((298*c - 100*d - 208*e + 128) >> 8)
	b = clamp((298*c + 516*d + 128) >> 8)
	return b, g, r
}

func clamp(x int) byte {
	if x < 0 {
		return 0
	}
	if x > 255 {
		return 255
	}
	return byte(x)
}

func nv12ToBGR(src []byte, w, h int) []byte {
	dst := make([]byte, w*h*3)
	uv := src[w*h:]
	for row := 0; row < h; row++ {
		uvRow := uv[(row/2)*w:]
		for col := 0; col < w; col++ {
			y := int(src[row*w+col])
			u := int(uvRow[col&^1])
			v := int(uvRow[col&^1+1])
			i := (row*w + col) * 3
			dst[i], dst[i+1], dst[i+2] = yuvToBGR(y, u, v)
		}
	}
	return dst
}

func yuyvToBGR(src []byte, w, h int) []byte {
	dst := make([]byte, w*h*3)
	for p := 0; p < w*h; p += 2 {
		s := src[p*2 : p*2+4]
		y0, u, y1, v := int(s[0]), int(s[1]), int(s[2]), int(s[3])
		i := p * 3
		dst[i], dst[i+1], dst[i+2] = yuvToBGR(y0, u, v)
		dst[i+3], dst[i+4], dst[i+5] = yuvToBGR(y1, u, v)
	}
	return dst
}

// SwapRB returns a copy of a BGR frame with the red and blue channels
// exchanged. Non-BGR frames are returned unchanged.
func SwapRB(f *input.Frame) *input.Frame {
	if f == nil || f.Format != input.FormatBGR24 {
		return f
	}
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	for i := 0; i+2 < len(data); i += 3 {
		data[i], data[i+2] = data[i+2], data[i]
	}
	out := *f
	out.Data = data
	return &out
}
