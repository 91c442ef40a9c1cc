package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/video-system/go-frame-recorder/pkg/input"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestScanOrdersAndFilters(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "video10", "video2", "video0", "video1", "videoX", "audio0", "video")

	query := func(path string) (Capability, error) {
		switch filepath.Base(path) {
		case "video0":
			return Capability{Card: "Integrated Camera", Capture: true}, nil
		case "video1":
			return Capability{Card: "Integrated Camera", Capture: false}, nil // metadata node
		default:
			return Capability{}, errors.New("inappropriate ioctl")
		}
	}

	devs, err := Scan(dir, query)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, d := range devs {
		ids = append(ids, d.ID)
	}
	want := []string{"video0", "video2", "video10"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids = %v, want %v", ids, want)
			break
		}
	}
	if devs[0].Name != "Integrated Camera" {
		t.Errorf("card name not used: %q", devs[0].Name)
	}
	if devs[1].Name != "video2" || devs[1].Path != filepath.Join(dir, "video2") {
		t.Errorf("unqueryable node = %+v", devs[1])
	}
}

func TestScanMissingDir(t *testing.T) {
	if _, err := Scan(filepath.Join(t.TempDir(), "nope"), nil); err == nil {
		t.Error("expected error for missing dir")
	}
}

type fakeBackend struct {
	ok       bool
	released *int
}

func (f *fakeBackend) Open(input.Device) error {
	if !f.ok {
		return input.ErrDeviceUnavailable
	}
	return nil
}
func (f *fakeBackend) IsOpened() bool                    { return f.ok }
func (f *fakeBackend) Release()                          { *f.released++ }
func (f *fakeBackend) Read() (*input.Frame, error)       { return nil, input.ErrReadFailure }
func (f *fakeBackend) Get(input.Property) float64        { return 0 }
func (f *fakeBackend) Set(input.Property, float64) error { return input.ErrUnsupportedProperty }

func TestProbeIndices(t *testing.T) {
	released := 0
	var tried []string
	open := func(name string) (input.Backend, error) {
		tried = append(tried, name)
		// index 0 opens on the second backend, index 1 on none, index 2 on the first.
		n := len(tried)
		ok := n == 2 || n == 5
		return &fakeBackend{ok: ok, released: &released}, nil
	}

	devs := ProbeIndices(context.Background(), 3, []string{"direct", "pipeline"}, open, nil)
	if len(devs) != 2 {
		t.Fatalf("devices = %+v", devs)
	}
	if devs[0].Path != "0" || devs[0].Backend != "pipeline" {
		t.Errorf("first = %+v", devs[0])
	}
	if devs[1].Path != "2" || devs[1].Backend != "direct" {
		t.Errorf("second = %+v", devs[1])
	}
	if released != len(tried) {
		t.Errorf("released %d of %d trial backends", released, len(tried))
	}
}

func TestProbeIndicesHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	devs := ProbeIndices(ctx, 5, []string{"direct"}, func(string) (input.Backend, error) {
		t.Fatal("should not open after cancel")
		return nil, nil
	}, nil)
	if len(devs) != 0 {
		t.Errorf("devices = %v", devs)
	}
}
