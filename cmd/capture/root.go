package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/video-system/go-frame-recorder/internal/logging"
	"github.com/video-system/go-frame-recorder/pkg/capture"

	// Backends and codec writers register themselves
	_ "github.com/video-system/go-frame-recorder/pkg/direct"
	_ "github.com/video-system/go-frame-recorder/pkg/gstreamer"
)

var rootCmd = &cobra.Command{
	Use:     "capture",
	Short:   "Capture, normalize and record video from cameras and files",
	Version: version,
	Long: `capture opens a camera or video file through an ffmpeg or GStreamer
backend, paces frames for display and records them to mp4 or avi.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (YAML)")
	flags.StringP("backend", "b", "", "capture backend: direct or pipeline")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("backend", flags.Lookup("backend"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", flags.Lookup("log-format"))

	rootCmd.AddCommand(devicesCmd, runCmd, probeCmd)
}

func initConfig() {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("VCAP")
	// VCAP_RECORD_ENCODER for record.encoder
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// loadConfig reads the YAML file when given and overlays flags and
// VCAP_* environment variables on top of it.
func loadConfig() (*capture.Config, error) {
	cfg := capture.DefaultConfig()
	if path := viper.GetString("config"); path != "" {
		loaded, err := capture.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if v := viper.GetString("backend"); v != "" {
		cfg.Backend = v
	}
	if v := viper.GetString("log.level"); v != "" {
		cfg.Log.Level = v
	}
	if v := viper.GetString("log.format"); v != "" {
		cfg.Log.Format = v
	}
	if v := viper.GetString("record.encoder"); v != "" {
		cfg.Record.Encoder = v
	}
	if viper.IsSet("api.port") {
		cfg.API.Port = viper.GetInt("api.port")
	}
	if viper.IsSet("api.host") {
		cfg.API.Host = viper.GetString("api.host")
	}
	if viper.GetBool("api.enabled") {
		cfg.API.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads configuration and installs the default logger
func setup() (*capture.Config, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg, logger, nil
}

func stderr(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
