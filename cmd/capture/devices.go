package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/video-system/go-frame-recorder/internal/ffmpeg"
	"github.com/video-system/go-frame-recorder/pkg/device"
	"github.com/video-system/go-frame-recorder/pkg/input"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices",
	RunE:  runDevices,
}

func init() {
	devicesCmd.Flags().Bool("json", false, "print JSON")
	devicesCmd.Flags().Int("max-index", 0, "indices to probe where device nodes are not listable")
	devicesCmd.Flags().String("ffmpeg", "", "also print ffmpeg's own device listing; on linux the value names the node whose formats are listed")
	devicesCmd.Flags().Lookup("ffmpeg").NoOptDefVal = "default"
}

func runDevices(cmd *cobra.Command, args []string) error {
	_, logger, err := setup()
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")
	maxIndex, _ := cmd.Flags().GetInt("max-index")

	devices, err := device.List(cmd.Context(), device.Options{
		MaxIndex: maxIndex,
		Backends: input.Names(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if target, _ := cmd.Flags().GetString("ffmpeg"); target != "" {
		if target == "default" {
			target = ""
		}
		if err := printFFmpegListing(cmd, target); err != nil {
			return err
		}
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(devices)
	}
	if len(devices) == 0 {
		stderr("no capture devices found")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPATH\tBACKEND")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Path, d.Backend)
	}
	return tw.Flush()
}

func printFFmpegListing(cmd *cobra.Command, device string) error {
	ff, err := ffmpeg.New()
	if err != nil {
		return err
	}
	listing, err := ff.ListInputDevices(cmd.Context(), runtime.GOOS, device)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "# %s\n%s\n", ff.Path(), listing)
	return nil
}
