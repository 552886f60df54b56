package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	// Level is the minimum log level (DEBUG, INFO, WARN, ERROR)
	Level slog.Level

	// OutputFile is the path to the log file (optional - if empty, logs to stdout only)
	OutputFile string

	// MaxSize is the maximum size in megabytes before rotation (default 100MB)
	MaxSize int

	// MaxBackups is the maximum number of old log files to keep (default 3)
	MaxBackups int

	// MaxAge is the maximum days to keep old log files (default 28)
	MaxAge int

	// Compress determines if rotated logs should be compressed (default true)
	Compress bool

	// JSON determines if logs should be in JSON format (default true)
	JSON bool

	// Console is the non-file destination (default stdout). Processes whose
	// stdout carries data, like CPU job children, log to stderr instead.
	Console io.Writer
}

func DefaultConfig() Config {
	return Config{
		Level:      slog.LevelInfo,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
		JSON:       true,
	}
}

func New(cfg Config) *slog.Logger {
	console := cfg.Console
	if console == nil {
		console = os.Stdout
	}

	var writers []io.Writer
	writers = append(writers, console)

	if cfg.OutputFile != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		writers = append(writers, fileWriter)
	}

	writer := io.MultiWriter(writers...)

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{
			Level: cfg.Level,
		})
	} else {
		handler = slog.NewTextHandler(writer, &slog.HandlerOptions{
			Level: cfg.Level,
		})
	}

	return slog.New(handler)
}

func NewDefault() *slog.Logger {
	return New(DefaultConfig())
}

// ParseLevel reads a level name such as "debug" or "WARN".
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// ParseFormat maps "json" or "text" onto Config.JSON.
func ParseFormat(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return true, nil
	case "text":
		return false, nil
	}
	return false, fmt.Errorf("invalid log format %q", s)
}
