package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"proxyhub/internal/config"
)

// AutoFile selects a file named after the service in the per-OS log directory.
const AutoFile = "auto"

// Logger is the process logger plus the log file it may own.
type Logger struct {
	zerolog.Logger
	file *os.File
}

// New builds a logger from cfg and installs it as the zerolog global. Format
// is "console" or "json"; an unknown level falls back to info.
func New(cfg config.LoggingConfig, out io.Writer) (*Logger, error) {
	if out == nil {
		out = os.Stdout
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var w io.Writer = out
	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	l := &Logger{}
	if cfg.File != "" {
		path := cfg.File
		if path == AutoFile {
			dir, err := LogDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get log directory: %w", err)
			}
			path = filepath.Join(dir, "proxyhub.log")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = file
		// the file always gets JSON lines
		w = zerolog.MultiLevelWriter(w, file)
	}

	l.Logger = zerolog.New(w).With().Timestamp().Logger().Level(level)
	log.Logger = l.Logger
	return l, nil
}

// LogDir is where log files go when File is "auto".
func LogDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(homeDir, "AppData", "Local", "proxyhub", "logs"), nil
	case "darwin":
		return filepath.Join(homeDir, "Library", "Logs", "proxyhub"), nil
	default:
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, "proxyhub", "logs"), nil
		}
		return filepath.Join(homeDir, ".local", "share", "proxyhub", "logs"), nil
	}
}

// Path returns the log file in use, or "".
func (l *Logger) Path() string {
	if l.file != nil {
		return l.file.Name()
	}
	return ""
}

func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
