package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures where log lines are written.
type Options struct {
	Level string
	// File is the rotated log file path. Empty disables file output.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// New returns a zerolog logger configured for stdout.
func New() zerolog.Logger {
	return NewWithLevel("info")
}

// NewWithLevel returns a stdout logger at the given level; unknown levels fall back to info.
func NewWithLevel(level string) zerolog.Logger {
	return newLogger(os.Stdout, level)
}

// NewWithOptions returns a logger that writes to stdout and, when configured,
// to a size-rotated file. The returned closer releases the file handle.
func NewWithOptions(opts Options) (zerolog.Logger, io.Closer) {
	if strings.TrimSpace(opts.File) == "" {
		return NewWithLevel(opts.Level), nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		LocalTime:  true,
	}
	writer := zerolog.MultiLevelWriter(os.Stdout, rotator)
	return newLogger(writer, opts.Level), rotator
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
}

func parseLevel(value string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
