package cmd

import (
	"github.com/spf13/cobra"

	"github.com/smazurov/vidcap/internal/config"
	"github.com/smazurov/vidcap/internal/devices"
	"github.com/smazurov/vidcap/internal/logging"
)

// deviceOptions are the settings device subcommands share with the server.
type deviceOptions struct {
	Config     string
	TestSource bool `toml:"devices.test_source" env:"DEVICES_TEST_SOURCE"`
	JSON       bool
}

func (o *deviceOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.Config, "config", "c", "config.toml", "Path to configuration file")
	cmd.Flags().BoolVar(&o.TestSource, "test-source", false, "Include the synthetic test pattern device")
	cmd.Flags().BoolVar(&o.JSON, "json", false, "Print JSON instead of a table")
}

// setup loads config and logging and returns the device registry the server
// would use.
func (o *deviceOptions) setup(cmd *cobra.Command) devices.Registry {
	logging.Initialize(config.LoadLoggingConfig(o.Config))
	if err := config.LoadConfig(o, cmd); err != nil {
		logging.GetLogger("devices").Warn("Failed to load config", "error", err)
	}

	registry := devices.Multi{devices.NewV4L2Registry()}
	if o.TestSource {
		registry = append(registry, devices.NewTestSourceRegistry(devices.DefaultTestPattern))
	}
	return registry
}
