package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smazurov/vidcap/internal/devices"
	"github.com/smazurov/vidcap/internal/media"
	"github.com/smazurov/vidcap/internal/pipeline"
)

type probeReport struct {
	Device      devices.Descriptor      `json:"device"`
	StatusText  string                  `json:"status_text"`
	Tags        []string                `json:"tags"`
	Format      media.Format            `json:"format"`
	DisplaySize *media.Size             `json:"display_size,omitempty"`
	Command     string                  `json:"command,omitempty"`
	Compression devices.CompressionInfo `json:"compression"`
}

// CreateProbeCmd creates the probe command.
func CreateProbeCmd() *cobra.Command {
	var opts deviceOptions

	cmd := &cobra.Command{
		Use:   "probe <device-id>",
		Short: "Show a device's current format and the preview pipeline for it",
		Long: `Binds one device, reads its current capture format and the display size derived from it, ` +
			`and prints the ffmpeg command the preview pipeline would run. Nothing is started.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := opts.setup(cmd)
			ctx := cmd.Context()

			list, err := registry.EnumerateCaptureDevices(ctx)
			if err != nil {
				return fmt.Errorf("enumerate devices: %w", err)
			}
			d, ok := devices.Find(list, args[0])
			if !ok {
				return fmt.Errorf("%w: %s", devices.ErrNotAvailable, args[0])
			}
			caps, err := registry.Bind(ctx, d)
			if err != nil {
				return fmt.Errorf("bind %s: %w", d.ID, err)
			}

			fw := pipeline.NewFFmpeg(pipeline.Options{})
			df, err := fw.Open(ctx, d, caps)
			if err != nil {
				return fmt.Errorf("open %s: %w", d.ID, err)
			}
			defer fw.Close(df)

			format, err := fw.CurrentFormat(df)
			if err != nil {
				return fmt.Errorf("read format: %w", err)
			}
			report := probeReport{
				Device:      d,
				StatusText:  caps.StatusText(),
				Tags:        caps.Tags.Names(),
				Format:      format,
				Compression: caps.Compression,
			}
			if size, ok := media.DisplaySize(format); ok {
				report.DisplaySize = &size
			}
			if h, renderErr := fw.Render(ctx, df); renderErr == nil {
				report.Command, _ = fw.Command(h)
				fw.TearDown(h)
			} else {
				report.Command = "(not renderable: " + renderErr.Error() + ")"
			}

			if opts.JSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Device:       %s (%s)\n", d.Name, d.ID)
			fmt.Fprintf(out, "Status:       %s\n", report.StatusText)
			fmt.Fprintf(out, "Capabilities: %v\n", report.Tags)
			fmt.Fprintf(out, "Format:       %s %dx%d type=%s fps=%d\n",
				format.PixelFormat, format.Width, format.Height, format.Type, format.FPS)
			if report.DisplaySize != nil {
				fmt.Fprintf(out, "Display size: %s\n", report.DisplaySize)
			} else {
				fmt.Fprintln(out, "Display size: none (not a raster format)")
			}
			fmt.Fprintf(out, "Command:      %s\n", report.Command)
			return nil
		},
	}
	opts.bind(cmd)
	return cmd
}
