package logging

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

const syslogIdentifier = "vidcap"

// JournalHandler is a slog.Handler that writes records to the systemd journal.
// Attributes become upper-cased journal fields, so `journalctl MODULE=session`
// filters by module.
type JournalHandler struct {
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

// NewJournalHandler creates a journal handler gated by level.
func NewJournalHandler(level slog.Leveler) *JournalHandler {
	return &JournalHandler{level: level}
}

// IsJournalAvailable reports whether the journal socket can be written to.
func IsJournalAvailable() bool {
	return journal.Enabled()
}

func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	priority := priorityFor(r.Level)
	fields := map[string]string{
		"SYSLOG_IDENTIFIER": syslogIdentifier,
	}

	for _, a := range h.attrs {
		putField(fields, h.prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		putField(fields, h.prefix, a)
		return true
	})

	return journal.Send(r.Message, priority, fields)
}

func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *JournalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + strings.ToUpper(name) + "_"
	return &next
}

func priorityFor(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// putField flattens a into fields. Journal field names are upper case and
// may only contain letters, digits and underscores.
func putField(fields map[string]string, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := prefix + journalKey(a.Key)

	v := a.Value
	switch v.Kind() {
	case slog.KindGroup:
		for _, ga := range v.Group() {
			putField(fields, key+"_", ga)
		}
	case slog.KindInt64:
		fields[key] = strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		fields[key] = strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		fields[key] = strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		fields[key] = strconv.FormatBool(v.Bool())
	case slog.KindTime:
		fields[key] = v.Time().Format(time.RFC3339Nano)
	default:
		fields[key] = v.String()
	}
}

func journalKey(k string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, k)
}
