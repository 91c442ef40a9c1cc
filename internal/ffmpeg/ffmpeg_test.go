package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	ff, err := New()
	if err != nil {
		t.Skipf("FFmpeg not found: %v", err)
	}

	version, err := ff.Version(context.Background())
	if err != nil {
		t.Fatalf("Failed to get version: %v", err)
	}

	t.Logf("FFmpeg version: %s", version)
}

func TestBuildEncoderArgs(t *testing.T) {
	args := BuildEncoderArgs(EncoderConfig{
		Width:      640,
		Height:     480,
		Framerate:  29.97,
		OutputPath: "out.mp4",
	})
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-f rawvideo -pix_fmt bgr24 -video_size 640x480 -framerate 29.97 -i pipe:0",
		"-c:v libx264",
		"-pix_fmt yuv420p",
		"-movflags +faststart",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
	if args[len(args)-1] != "out.mp4" {
		t.Errorf("output must be last, got %q", args[len(args)-1])
	}
}

func TestBuildEncoderArgsNoFaststartForMKV(t *testing.T) {
	args := BuildEncoderArgs(EncoderConfig{Width: 2, Height: 2, Framerate: 30, OutputPath: "x.mkv"})
	if strings.Contains(strings.Join(args, " "), "faststart") {
		t.Error("faststart only applies to mp4 family")
	}
}

func TestBuildDecoderArgs(t *testing.T) {
	args := BuildDecoderArgs(DecoderConfig{
		Input:        "/dev/video0",
		InputFormat:  "v4l2",
		InputOptions: []string{"-input_format", "mjpeg"},
		PixelFormat:  "yuyv422",
		Seek:         1.5,
	})
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-ss 1.500 -f v4l2 -input_format mjpeg -i /dev/video0") {
		t.Errorf("input section wrong: %s", joined)
	}
	if !strings.HasSuffix(joined, "-f rawvideo -pix_fmt yuyv422 pipe:1") {
		t.Errorf("output section wrong: %s", joined)
	}
}

func TestParseProbe(t *testing.T) {
	out := []byte(`{
		"streams": [
			{"index": 0, "codec_type": "audio", "codec_name": "aac"},
			{"index": 1, "codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720,
			 "avg_frame_rate": "30000/1001", "nb_frames": "900"}
		],
		"format": {"duration": "30.03", "format_name": "mov,mp4"}
	}`)
	probe, err := ParseProbe(out)
	if err != nil {
		t.Fatal(err)
	}
	info := probe.VideoInfo()
	if info.Resolution() != "1280x720" {
		t.Errorf("resolution = %s", info.Resolution())
	}
	if info.Framerate < 29.96 || info.Framerate > 29.98 {
		t.Errorf("framerate = %f", info.Framerate)
	}
	if info.FrameCount != 900 {
		t.Errorf("frame count = %d", info.FrameCount)
	}
}

func TestVideoInfoEstimatesFrameCount(t *testing.T) {
	probe := &ProbeResult{
		Streams: []ProbeStream{{CodecType: "video", Width: 2, Height: 2, FrameRate: "25/1"}},
		Format:  ProbeFormat{Duration: "4.0"},
	}
	if got := probe.VideoInfo().FrameCount; got != 100 {
		t.Errorf("frame count = %d, want 100", got)
	}
}

func TestParseFramerate(t *testing.T) {
	cases := map[string]float64{"30/1": 30, "0/0": 0, "25": 25, "": 0, "junk": 0}
	for in, want := range cases {
		if got := parseFramerate(in); got != want {
			t.Errorf("parseFramerate(%q) = %f, want %f", in, got, want)
		}
	}
}

func TestTail(t *testing.T) {
	tl := newTail(2)
	tl.Write([]byte("one\ntwo\nthr"))
	tl.Write([]byte("ee\n"))
	if got := tl.String(); got != "two; three" {
		t.Errorf("tail = %q", got)
	}
}

func TestEncoderRoundTrip(t *testing.T) {
	ff, err := New()
	if err != nil {
		t.Skipf("FFmpeg not found: %v", err)
	}

	out := filepath.Join(t.TempDir(), "clip.mp4")
	proc, err := ff.StartEncoder(context.Background(), EncoderConfig{
		Width: 64, Height: 48, Framerate: 30, Preset: "ultrafast", OutputPath: out,
	})
	if err != nil {
		t.Fatalf("StartEncoder: %v", err)
	}
	frame := make([]byte, 64*48*3)
	for i := 0; i < 10; i++ {
		if _, err := proc.Write(frame); err != nil {
			break
		}
	}
	if err := proc.Close(10 * time.Second); err != nil {
		if strings.Contains(err.Error(), "Unknown encoder") {
			t.Skipf("libx264 not built in: %v", err)
		}
		t.Fatalf("Close: %v", err)
	}
	if err := proc.Close(time.Second); err != nil {
		t.Errorf("second Close should return the first result, got %v", err)
	}
	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		t.Fatalf("no output produced: %v", err)
	}

	if !ff.CanProbe() {
		return
	}
	vi, err := ff.GetVideoInfo(context.Background(), out)
	if err != nil {
		t.Fatalf("GetVideoInfo: %v", err)
	}
	if vi.Width != 64 || vi.Height != 48 {
		t.Errorf("probe size = %s", vi.Resolution())
	}
}

func TestProbe(t *testing.T) {
	ff, err := New()
	if err != nil {
		t.Skipf("FFmpeg not found: %v", err)
	}

	testVideo := os.Getenv("TEST_VIDEO")
	if testVideo == "" {
		t.Skip("Set TEST_VIDEO env var to test probe")
	}

	info, err := ff.GetVideoInfo(context.Background(), testVideo)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}

	t.Logf("Video info: %dx%d @ %.2f fps, frames=%d, codec=%s, duration=%.2fs",
		info.Width, info.Height, info.Framerate, info.FrameCount, info.Codec, info.Duration)
}

func TestParseEncoders(t *testing.T) {
	out := []byte(`Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC
 V....D mjpeg                MJPEG (Motion JPEG)
 A....D aac                  AAC (Advanced Audio Coding)
`)
	got := ParseEncoders(out)
	want := []string{"libx264", "mjpeg", "aac"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("ParseEncoders = %v, want %v", got, want)
	}
	if len(ParseEncoders([]byte("V..... = Video\n"))) != 0 {
		t.Error("legend lines parsed as encoders")
	}
}

func TestListDevicesArgs(t *testing.T) {
	linux := strings.Join(ListDevicesArgs("linux", "/dev/video2"), " ")
	if !strings.Contains(linux, "-f v4l2 -list_formats all -i /dev/video2") {
		t.Errorf("linux args = %s", linux)
	}
	if !strings.Contains(strings.Join(ListDevicesArgs("linux", ""), " "), "/dev/video0") {
		t.Error("linux listing should default to /dev/video0")
	}
	if !strings.Contains(strings.Join(ListDevicesArgs("windows", ""), " "), "-f dshow -list_devices true") {
		t.Error("windows listing should use dshow")
	}
	if ListDevicesArgs("plan9", "") != nil {
		t.Error("unknown OS should have no listing")
	}
}
