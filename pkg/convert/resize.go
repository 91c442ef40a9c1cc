package convert

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/video-system/go-frame-recorder/pkg/input"
)

// Area is a box-filter kernel. Downscaling averages every covered source
// pixel, matching area interpolation.
var Area = &draw.Kernel{Support: 0.5, At: func(float64) float64 { return 1 }}

// Resize resamples a BGR frame to w×h with area interpolation. A frame that
// already has the requested size is returned unchanged.
func Resize(f *input.Frame, w, h int) (*input.Frame, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrUnsupportedPixelLayout)
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", w, h)
	}
	if f.Width == w && f.Height == h {
		return f, nil
	}
	if f.Format != input.FormatBGR24 || len(f.Data) < input.FormatBGR24.FrameSize(f.Width, f.Height) {
		return nil, fmt.Errorf("%w: resize needs bgr24, got %q", ErrUnsupportedPixelLayout, f.Format)
	}

	src := ToImage(f)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	Area.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	return &input.Frame{
		Data:      rgbaToBGR(dst),
		Width:     w,
		Height:    h,
		Format:    input.FormatBGR24,
		Timestamp: f.Timestamp,
		Sequence:  f.Sequence,
	}, nil
}

// ToImage copies a BGR frame into an RGBA image.
func ToImage(f *input.Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	n := f.Width * f.Height
	for p := 0; p < n; p++ {
		s := f.Data[p*3 : p*3+3]
		d := img.Pix[p*4 : p*4+4]
		d[0], d[1], d[2], d[3] = s[2], s[1], s[0], 0xff
	}
	return img
}

func rgbaToBGR(img *image.RGBA) []byte {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			s := row[x*4 : x*4+4]
			i := (y*w + x) * 3
			out[i], out[i+1], out[i+2] = s[2], s[1], s[0]
		}
	}
	return out
}
