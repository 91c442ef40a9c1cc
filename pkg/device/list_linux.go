package device

import (
	"bytes"
	"context"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/video-system/go-frame-recorder/pkg/input"
)

const (
	vidiocQueryCap = 0x80685600 // _IOR('V', 0, struct v4l2_capability)

	capVideoCapture       = 0x00000001
	capVideoCaptureMPlane = 0x00001000
	capDeviceCaps         = 0x80000000
)

// v4l2Capability mirrors struct v4l2_capability
type v4l2Capability struct {
	Driver       [16]byte
	Card         [32]byte
	BusInfo      [32]byte
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
	Reserved     [3]uint32
}

// List enumerates V4L2 capture nodes
func List(ctx context.Context, opts Options) ([]input.Device, error) {
	opts = opts.withDefaults()
	return Scan(opts.Dir, QueryV4L2)
}

// QueryV4L2 issues VIDIOC_QUERYCAP on a device node
func QueryV4L2(path string) (Capability, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return Capability{}, err
	}
	defer unix.Close(fd)

	var c v4l2Capability
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), vidiocQueryCap, uintptr(unsafe.Pointer(&c))); errno != 0 {
		return Capability{}, errno
	}

	caps := c.Capabilities
	if caps&capDeviceCaps != 0 {
		caps = c.DeviceCaps
	}
	return Capability{
		Driver:  cString(c.Driver[:]),
		Card:    cString(c.Card[:]),
		Capture: caps&(capVideoCapture|capVideoCaptureMPlane) != 0,
	}, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
