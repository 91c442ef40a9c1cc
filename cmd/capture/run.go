package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/video-system/go-frame-recorder/pkg/api"
	"github.com/video-system/go-frame-recorder/pkg/capture"
	"github.com/video-system/go-frame-recorder/pkg/input"
)

var runCmd = &cobra.Command{
	Use:   "run <source>",
	Short: "Open a camera index, device path or video file",
	Args:  cobra.ExactArgs(1),
	RunE:  runCapture,
}

func init() {
	f := runCmd.Flags()
	f.StringP("record", "r", "", "record to this path once the first frame arrives")
	f.Float64P("speed", "s", 1.0, "file playback speed multiplier")
	f.DurationP("duration", "d", 0, "stop after this long (0 runs until interrupted)")
	f.Bool("api", false, "serve the control API")
}

func runCapture(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	recordPath, _ := flags.GetString("record")
	speed, _ := flags.GetFloat64("speed")
	duration, _ := flags.GetDuration("duration")
	if withAPI, _ := flags.GetBool("api"); withAPI {
		cfg.API.Enabled = true
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	sess, err := capture.Open(ctx, cfg, resolveSource(args[0]), capture.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer sess.Close()
	sess.SetSpeed(speed)

	if cfg.API.Enabled {
		srv := api.NewServer(api.ServerConfig{
			Host:       cfg.API.Host,
			Port:       cfg.API.Port,
			Controller: sess,
			Logger:     logger,
		})
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("api: server error", "error", err)
			}
		}()
		defer srv.Stop()
	}

	// End of file or a lost device ends the run
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go watchEvents(ctx, cancel, sess, logger)

	recordPending := recordPath != ""
	displayed := 0
	for {
		f, err := sess.NextFrame(ctx)
		if err != nil {
			break
		}
		displayed++
		if recordPending {
			// the first frame fixes the recording size
			if _, err := sess.StartRecording(recordPath); err != nil {
				return err
			}
			recordPending = false
		}
		if displayed%100 == 0 {
			logger.Debug("capture: display", "frames", displayed, "width", f.Width, "height", f.Height, "fps", sess.FPS())
		}
	}

	st := sess.Status()
	logger.Info("capture: finished",
		"frames", st.CurrentFrame,
		"displayed", displayed,
		"read_errors", st.ReadErrors,
		"fps", st.FPS,
	)
	return sess.Close()
}

// watchEvents cancels the run when the session reports the end of its
// source. Read errors are already logged by the session.
func watchEvents(ctx context.Context, cancel context.CancelFunc, sess *capture.Session, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			cancel()
			return
		case ev := <-sess.Events():
			if ev.Type == capture.EventEndOfStream {
				logger.Info("capture: source ended", "frame", ev.Current, "total", ev.Total)
				cancel()
				return
			}
		}
	}
}

// resolveSource turns a bare camera index into a device for the operating system.
// On linux the index maps to its /dev/video node.
func resolveSource(arg string) input.Device {
	dev := input.Device{ID: arg, Name: arg, Path: arg}
	if _, err := os.Stat(arg); err == nil {
		return dev
	}
	if n, err := strconv.Atoi(arg); err == nil && runtime.GOOS == "linux" {
		dev.Path = "/dev/video" + strconv.Itoa(n)
	}
	return dev
}
