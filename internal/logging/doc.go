// Package logging provides slog loggers with per-module levels.
//
// Records go to stdout (text or json) and, when journald is reachable, to the
// systemd journal under the identifier "vidcap":
//
//	logging.Initialize(logging.Config{
//		Level:   "info",
//		Format:  "text",
//		Modules: map[string]string{"session": "debug"},
//	})
//	logger := logging.GetLogger("session")
//	logger.Info("Preview started", "device_id", id)
//
// Filter the journal by structured field:
//
//	journalctl -t vidcap MODULE=session
//
// The same settings can live in the config file:
//
//	[logging]
//	level = "info"
//	format = "text"
//	session = "debug"
package logging
