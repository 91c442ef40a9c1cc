package encode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/video-system/go-frame-recorder/pkg/input"
)

func bgrFrame(w, h int) *input.Frame {
	data := make([]byte, w*h*3)
	for i := range data {
		data[i] = byte(i)
	}
	return &input.Frame{Data: data, Width: w, Height: h, Format: input.FormatBGR24}
}

func TestRegistryPriority(t *testing.T) {
	Register("TEST", "low", 1, func() Writer { return &MJPEGWriter{frames: 1} })
	Register("test", "high", 50, func() Writer { return &MJPEGWriter{frames: 50} })

	factories := Lookup("Test")
	if len(factories) != 2 {
		t.Fatalf("got %d factories, want 2", len(factories))
	}
	if w := factories[0]().(*MJPEGWriter); w.frames != 50 {
		t.Error("higher priority writer should come first")
	}

	if _, err := Get("nope"); err == nil {
		t.Error("expected ErrUnknownCodec")
	}
}

func TestMJPEGWriter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.avi")

	w, err := Get("MJPG")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := w.Open(Config{Path: path, Width: 16, Height: 8, FPS: 29.97}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := w.WriteFrame(bgrFrame(16, 8)); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	if err := w.WriteFrame(bgrFrame(8, 8)); err == nil {
		t.Error("mismatched frame should be rejected")
	}
	if n := w.(*MJPEGWriter).Frames(); n != 3 {
		t.Errorf("frames = %d, want 3", n)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() == 0 {
		t.Error("empty avi")
	}
}

func TestMJPEGWriterRejectsMP4(t *testing.T) {
	w := NewMJPEGWriter()
	err := w.Open(Config{Path: filepath.Join(t.TempDir(), "x.mp4"), Width: 4, Height: 4, FPS: 30})
	if err == nil {
		t.Fatal("expected container error")
	}
}
