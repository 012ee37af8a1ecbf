package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config describes how the application logger should behave.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig controls the dedicated audit log output.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
	auditLogger   *slog.Logger
	closers       []io.Closer
)

// Init configures the global logger instances. Calling it twice replaces the
// previous configuration after flushing the old outputs.
func Init(cfg Config) error {
	handler, handlerClosers, err := buildHandler(cfg)
	if err != nil {
		return err
	}

	audit := slog.New(handler)
	if cfg.Audit.Enabled {
		writer, err := newRotatingWriter(cfg.Audit.Path, cfg.Audit.MaxSizeMB, cfg.Audit.MaxBackups, cfg.Audit.MaxAgeDays)
		if err != nil {
			for _, c := range handlerClosers {
				_ = c.Close()
			}
			return err
		}
		handlerClosers = append(handlerClosers, writer)
		audit = slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	mu.Lock()
	old := closers
	defaultLogger = slog.New(handler)
	auditLogger = audit
	closers = handlerClosers
	mu.Unlock()

	var flushErr error
	for _, c := range old {
		flushErr = errors.Join(flushErr, c.Close())
	}
	return flushErr
}

func buildHandler(cfg Config) (slog.Handler, []io.Closer, error) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true}

	var (
		writers      []io.Writer
		ownedClosers []io.Closer
	)
	if len(cfg.OutputPaths) == 0 {
		writers = append(writers, os.Stdout)
	}
	for _, out := range cfg.OutputPaths {
		switch strings.ToLower(out) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return nil, nil, fmt.Errorf("create log directory: %w", err)
			}
			file, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, nil, fmt.Errorf("open log file %s: %w", out, err)
			}
			writers = append(writers, file)
			ownedClosers = append(ownedClosers, file)
		}
	}

	writer := writers[0]
	if len(writers) > 1 {
		writer = io.MultiWriter(writers...)
	}

	switch strings.ToLower(cfg.Format) {
	case "text", "console":
		return slog.NewTextHandler(writer, opts), ownedClosers, nil
	default:
		return slog.NewJSONHandler(writer, opts), ownedClosers, nil
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the structured logger instance, initialising defaults on demand.
func L() *slog.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l != nil {
		return l
	}
	_ = Init(Config{})
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// Audit returns the audit logger.
func Audit() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if auditLogger == nil {
		if defaultLogger != nil {
			return defaultLogger
		}
		return slog.Default()
	}
	return auditLogger
}

// Named returns a child logger grouped under the provided component name.
func Named(name string) *slog.Logger {
	return L().WithGroup(name)
}

// Sync flushes and closes any file-backed outputs.
func Sync() error {
	mu.Lock()
	owned := closers
	closers = nil
	mu.Unlock()

	var err error
	for _, closer := range owned {
		err = errors.Join(err, closer.Close())
	}
	return err
}
