package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Logger is satisfied by *slog.Logger. Packages that only emit logs accept
// this instead of the concrete type so tests can pass a discard logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config represents logging configuration.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

var (
	mu          sync.RWMutex
	current     = Config{Level: "info", Format: "text"}
	initialized bool
	loggers     = make(map[string]*slog.Logger)
	levels      = make(map[string]*slog.LevelVar)
)

// Initialize applies cfg to every module logger, including ones handed out
// before Initialize ran, and installs the default slog logger.
func Initialize(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	current = cfg
	initialized = true

	for module, lv := range levels {
		lv.Set(moduleLevel(module))
		loggers[module] = slog.New(newHandler(cfg.Format, lv)).With("module", module)
	}

	global := &slog.LevelVar{}
	global.Set(levelOrDefault(cfg.Level, slog.LevelInfo))
	slog.SetDefault(slog.New(newHandler(cfg.Format, global)))
}

// GetLogger returns the logger for module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	mu.RLock()
	if l, ok := loggers[module]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[module]; ok {
		return l
	}

	lv := &slog.LevelVar{}
	lv.Set(moduleLevel(module))
	format := "text"
	if initialized {
		format = current.Format
	}

	l := slog.New(newHandler(format, lv)).With("module", module)
	loggers[module] = l
	levels[module] = lv
	return l
}

// SetModuleLevel changes a module's level at runtime. Unknown level names
// are reported as false and leave the level untouched.
func SetModuleLevel(module, level string) bool {
	parsed := parseLevel(level)
	if parsed == nil {
		return false
	}
	GetLogger(module)

	mu.Lock()
	defer mu.Unlock()
	levels[module].Set(*parsed)
	return true
}

// moduleLevel resolves the effective level for module. Callers hold mu.
func moduleLevel(module string) slog.Level {
	if !initialized {
		return slog.LevelInfo
	}
	level := levelOrDefault(current.Level, slog.LevelInfo)
	if s, ok := current.Modules[module]; ok {
		level = levelOrDefault(s, level)
	}
	return level
}

// newHandler writes to stdout and the systemd journal, whichever exist.
func newHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdout slog.Handler
	if format == "json" {
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	var handlers []slog.Handler
	if stdoutAvailable() {
		handlers = append(handlers, stdout)
	}
	if IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}

	switch len(handlers) {
	case 0:
		return stdout
	case 1:
		return handlers[0]
	default:
		return NewMultiHandler(handlers...)
	}
}

// stdoutAvailable is false when stdout points at /dev/null, which is how
// systemd units usually run us.
func stdoutAvailable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&os.ModeCharDevice != 0 && !isDevNull(fi) ||
		mode&os.ModeNamedPipe != 0 ||
		mode&os.ModeSocket != 0 ||
		mode.IsRegular()
}

func isDevNull(fi os.FileInfo) bool {
	null, err := os.Stat(os.DevNull)
	return err == nil && os.SameFile(fi, null)
}

func levelOrDefault(s string, def slog.Level) slog.Level {
	if l := parseLevel(s); l != nil {
		return *l
	}
	return def
}

func parseLevel(level string) *slog.Level {
	var l slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil
	}
	return &l
}
