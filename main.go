package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/vidcap/cmd"
	"github.com/smazurov/vidcap/internal/api"
	"github.com/smazurov/vidcap/internal/bridge"
	"github.com/smazurov/vidcap/internal/config"
	"github.com/smazurov/vidcap/internal/devices"
	"github.com/smazurov/vidcap/internal/events"
	"github.com/smazurov/vidcap/internal/ffmpeg"
	"github.com/smazurov/vidcap/internal/logging"
	"github.com/smazurov/vidcap/internal/metrics/exporters"
	"github.com/smazurov/vidcap/internal/pipeline"
	"github.com/smazurov/vidcap/internal/prefs"
	"github.com/smazurov/vidcap/internal/session"
	"github.com/smazurov/vidcap/internal/systemd"
	"github.com/smazurov/vidcap/pkg/linuxav/hotplug"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Auth settings
	AuthUsername string `help:"Basic auth username, empty disables auth" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Session settings
	SessionDevice     string `help:"Device to select at startup, overrides the saved selection" default:"" toml:"session.device" env:"SESSION_DEVICE"`
	SessionAutoResume bool   `help:"Resume preview when a lost device comes back" default:"true" toml:"session.auto_resume" env:"SESSION_AUTO_RESUME"`
	SessionPrefsFile  string `help:"Where the selected device and format are kept" default:"prefs.toml" toml:"session.prefs_file" env:"SESSION_PREFS_FILE"`

	// Device settings
	DevicesTestSource bool `help:"Offer a synthetic test pattern device" default:"false" toml:"devices.test_source" env:"DEVICES_TEST_SOURCE"`
	DevicesSettleMs   int  `help:"Wait after a device arrives before enumerating" default:"1000" toml:"devices.settle_ms" env:"DEVICES_SETTLE_MS"`

	// Pipeline settings
	PipelineFFmpeg        string `help:"ffmpeg executable" default:"ffmpeg" toml:"pipeline.ffmpeg" env:"PIPELINE_FFMPEG"`
	PipelinePreviewWidth  int    `help:"Preview width, 0 uses the capture size" default:"0" toml:"pipeline.preview_width" env:"PIPELINE_PREVIEW_WIDTH"`
	PipelinePreviewHeight int    `help:"Preview height, 0 uses the capture size" default:"0" toml:"pipeline.preview_height" env:"PIPELINE_PREVIEW_HEIGHT"`
	PipelineCaptureFile   string `help:"Also write the capture to this file" default:"" toml:"pipeline.capture_file" env:"PIPELINE_CAPTURE_FILE"`
	PipelineEncoder       string `help:"Encoder for the capture file" default:"libx264" toml:"pipeline.encoder" env:"PIPELINE_ENCODER"`
	PipelineInputOptions  string `help:"Comma separated ffmpeg input options" default:"" toml:"pipeline.input_options" env:"PIPELINE_INPUT_OPTIONS"`
	PipelineLogLevel      string `help:"ffmpeg log level" default:"warning" toml:"pipeline.log_level" env:"PIPELINE_LOG_LEVEL"`
	PipelineStopTimeoutMs int    `help:"Graceful ffmpeg stop before kill" default:"5000" toml:"pipeline.stop_timeout_ms" env:"PIPELINE_STOP_TIMEOUT_MS"`

	// Observability settings
	ObsPrometheusEnabled bool `help:"Serve Prometheus metrics on /metrics" default:"true" toml:"obs.prometheus_enabled" env:"OBS_PROMETHEUS_ENABLED"`
	ObsSSEEnabled        bool `help:"Publish pipeline metrics on the event stream" default:"true" toml:"obs.sse_enabled" env:"OBS_SSE_ENABLED"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingSession  string `help:"Session controller logging level" default:"info" toml:"logging.session" env:"LOGGING_SESSION"`
	LoggingPipeline string `help:"Pipeline logging level" default:"info" toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
	LoggingFFmpeg   string `help:"ffmpeg output logging level" default:"warn" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingDevices  string `help:"Devices logging level" default:"info" toml:"logging.devices" env:"LOGGING_DEVICES"`
	LoggingBridge   string `help:"Event bridge logging level" default:"info" toml:"logging.bridge" env:"LOGGING_BRIDGE"`
	LoggingAPI      string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"session":  opts.LoggingSession,
				"pipeline": opts.LoggingPipeline,
				"ffmpeg":   opts.LoggingFFmpeg,
				"devices":  opts.LoggingDevices,
				"bridge":   opts.LoggingBridge,
				"api":      opts.LoggingAPI,
			},
		})
		logger := logging.GetLogger("main")

		eventBus := events.New()

		registry := devices.Multi{devices.NewV4L2Registry()}
		if opts.DevicesTestSource {
			registry = append(registry, devices.NewTestSourceRegistry(devices.DefaultTestPattern))
		}

		inputOptions, err := ffmpeg.ParseOptions(splitList(opts.PipelineInputOptions))
		if err != nil {
			logger.Error("Invalid pipeline input options", "error", err)
			os.Exit(1)
		}
		framework := pipeline.NewFFmpeg(pipeline.Options{
			PreviewWidth:  opts.PipelinePreviewWidth,
			PreviewHeight: opts.PipelinePreviewHeight,
			CaptureFile:   opts.PipelineCaptureFile,
			Encoder:       opts.PipelineEncoder,
			InputOptions:  inputOptions,
			LogLevel:      opts.PipelineLogLevel,
			Binary:        opts.PipelineFFmpeg,
			StopTimeout:   time.Duration(opts.PipelineStopTimeoutMs) * time.Millisecond,
		})

		store := prefs.NewStore(opts.SessionPrefsFile)
		saved, loadErr := store.Load()
		if loadErr != nil {
			logger.Warn("Ignoring unreadable preferences", "path", store.Path(), "error", loadErr)
		}

		sdNotifier := systemd.NewNotifier()
		ctrl := session.NewController(registry, framework, session.Options{
			Notifier:   session.Notifiers{session.NewBusNotifier(eventBus), sdNotifier},
			Store:      store,
			AutoResume: opts.SessionAutoResume,
		})

		bridgeOpts := []bridge.Option{
			bridge.WithPublisher(eventBus),
			bridge.WithSettleDelay(time.Duration(opts.DevicesSettleMs) * time.Millisecond),
		}
		monitor, monErr := hotplug.NewMonitor()
		if monErr != nil {
			logger.Warn("Device hotplug unavailable, device list refreshes on request only", "error", monErr)
		} else {
			monitor.AddSubsystemFilter(hotplug.SubsystemVideo4Linux)
			bridgeOpts = append(bridgeOpts, bridge.WithHotplug(monitor))
		}
		eventBridge := bridge.New(ctrl, framework.Events(), bridgeOpts...)

		var sseExporter *exporters.SSEExporter
		if opts.ObsSSEEnabled {
			sseExporter = exporters.NewSSEExporter(eventBus)
		}

		apiOpts := &api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			Session:      ctrl,
			Snapshots:    framework.Grabber(),
			EventBus:     eventBus,
		}
		if opts.ObsPrometheusEnabled {
			apiOpts.MetricsHandler = exporters.HTTPHandler()
		}
		server := api.NewServer(apiOpts)

		ctx, cancel := context.WithCancel(context.Background())
		bridgeDone := make(chan struct{})
		var watcher *prefs.Watcher

		hooks.OnStart(func() {
			go func() {
				defer close(bridgeDone)
				if runErr := eventBridge.Run(ctx); runErr != nil {
					logger.Error("Event bridge stopped", "error", runErr)
				}
			}()
			if sseExporter != nil {
				sseExporter.Start(ctx)
			}

			preferred := saved.DeviceID
			if opts.SessionDevice != "" {
				preferred = opts.SessionDevice
			}
			if chooseErr := ctrl.ChooseInitial(ctx, preferred); chooseErr != nil {
				logger.Warn("Initial device selection failed", "device_id", preferred, "error", chooseErr)
			}
			if st := ctrl.Status(); st.Device != nil && st.Device.ID == saved.DeviceID {
				if applyErr := prefs.Apply(ctx, ctrl, saved); applyErr != nil {
					logger.Warn("Saved format not applied", "error", applyErr)
				}
			}

			var watchErr error
			if watcher, watchErr = prefs.Watch(store, ctrl); watchErr != nil {
				logger.Warn("Preferences watcher not started", "error", watchErr)
			}

			sdNotifier.Ready()
			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			sdNotifier.Stopping()
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
			if watcher != nil {
				if stopErr := watcher.Stop(); stopErr != nil {
					logger.Warn("Error stopping preferences watcher", "error", stopErr)
				}
			}

			closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer closeCancel()
			if closeErr := ctrl.Close(closeCtx); closeErr != nil {
				logger.Warn("Session did not close cleanly", "error", closeErr)
			}

			cancel()
			<-bridgeDone
			if sseExporter != nil {
				sseExporter.Stop()
			}
			if monitor != nil {
				if closeErr := monitor.Close(); closeErr != nil {
					logger.Warn("Error closing hotplug monitor", "error", closeErr)
				}
			}
		})
	})

	cli.Root().AddCommand(cmd.CreateDevicesCmd())
	cli.Root().AddCommand(cmd.CreateProbeCmd())

	cli.Run()
}
