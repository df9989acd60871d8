package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options configures New.
type Options struct {
	// Level is one of debug, info, warn, error. Empty disables logging.
	Level string

	// JSON selects the JSON handler instead of text.
	JSON bool

	// File, when set, receives logs instead of stderr and is rotated at
	// MaxSize bytes keeping MaxBackups old files. Zero values select 10MB
	// and 3 backups.
	File       string
	MaxSize    int64
	MaxBackups int
}

const (
	defaultMaxSize    = 10 << 20 // 10MB
	defaultMaxBackups = 3
)

// ParseLevel parses a log level name.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level '%s'. Valid values: debug, info, warn, error", s)
	}
}

// New builds a redacting logger. The returned closer releases the log file
// and is never nil.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	if opts.Level == "" {
		return slog.New(slog.DiscardHandler), io.NopCloser(nil), nil
	}
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer = io.NopCloser(nil)
	)
	if opts.File != "" {
		maxSize := opts.MaxSize
		if maxSize <= 0 {
			maxSize = defaultMaxSize
		}
		maxBackups := opts.MaxBackups
		if maxBackups <= 0 {
			maxBackups = defaultMaxBackups
		}
		rf, err := NewRotatingFile(opts.File, maxSize, maxBackups)
		if err != nil {
			return nil, nil, err
		}
		w, closer = rf, rf
	}

	hopts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}
	return slog.New(NewRedactingHandler(h)), closer, nil
}
