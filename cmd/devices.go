package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/smazurov/vidcap/internal/devices"
)

type deviceReport struct {
	Device       devices.Descriptor    `json:"device"`
	Capabilities *devices.Capabilities `json:"capabilities,omitempty"`
	Error        string                `json:"error,omitempty"`
}

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	var opts deviceOptions

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List capture devices and their capabilities",
		Long:  `Enumerates capture devices in catalog order and binds each one to report its capability tags and current format.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry := opts.setup(cmd)
			ctx := cmd.Context()

			list, err := registry.EnumerateCaptureDevices(ctx)
			if err != nil {
				return fmt.Errorf("enumerate devices: %w", err)
			}

			reports := make([]deviceReport, 0, len(list))
			for _, d := range list {
				r := deviceReport{Device: d}
				caps, bindErr := registry.Bind(ctx, d)
				if bindErr != nil {
					r.Error = bindErr.Error()
				} else {
					r.Capabilities = &caps
				}
				reports = append(reports, r)
			}

			if opts.JSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(reports)
			}
			return printDeviceTable(cmd, reports)
		},
	}
	opts.bind(cmd)
	return cmd
}

func printDeviceTable(cmd *cobra.Command, reports []deviceReport) error {
	if len(reports) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No capture devices found")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPATH\tFORMAT\tCAPABILITIES")
	for _, r := range reports {
		format, tags := "-", r.Error
		if c := r.Capabilities; c != nil {
			format = fmt.Sprintf("%s %dx%d", c.Format.PixelFormat, c.Format.Width, abs(c.Format.Height))
			tags = strings.Join(c.Tags.Names(), ",")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Device.ID, r.Device.Name, r.Device.Path, format, tags)
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
