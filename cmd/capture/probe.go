package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/video-system/go-frame-recorder/internal/ffmpeg"
)

var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Show stream information for a video file",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

func init() {
	probeCmd.Flags().Bool("json", false, "print JSON")
}

func runProbe(cmd *cobra.Command, args []string) error {
	if _, _, err := setup(); err != nil {
		return err
	}
	ff, err := ffmpeg.New()
	if err != nil {
		return err
	}
	info, err := ff.GetVideoInfo(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Printf("file:       %s\n", args[0])
	fmt.Printf("codec:      %s (%s)\n", info.Codec, info.PixelFmt)
	fmt.Printf("resolution: %dx%d\n", info.Width, info.Height)
	fmt.Printf("framerate:  %.3f\n", info.Framerate)
	fmt.Printf("frames:     %d\n", info.FrameCount)
	fmt.Printf("duration:   %.2fs\n", info.Duration)
	return nil
}
