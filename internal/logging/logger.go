package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kingrea/council/internal/config"
)

// FileName is the structured log written under .council/logs.
const FileName = "council.log"

// Logger appends JSON lines to .council/logs/council.log so users can inspect
// a run after the terminal output has scrolled away.
type Logger struct {
	file *os.File
	zap  *zap.Logger
}

// Option customizes Logger construction.
type Option func(*options)

type options struct {
	verbose bool
	console zapcore.WriteSyncer
}

// WithConsole mirrors log entries to w in human readable form. Verbose
// consoles also receive debug entries.
func WithConsole(w zapcore.WriteSyncer, verbose bool) Option {
	return func(o *options) {
		o.console = w
		o.verbose = verbose
	}
}

// New creates (or reuses) the log file for the current project directory.
func New(projectDir string, opts ...Option) (*Logger, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logDir := filepath.Join(projectDir, config.CouncilDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zapcore.DebugLevel),
	}
	if o.console != nil {
		level := zapcore.WarnLevel
		if o.verbose {
			level = zapcore.DebugLevel
		}
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), o.console, level))
	}
	return &Logger{file: f, zap: zap.New(zapcore.NewTee(cores...))}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// Zap exposes the structured logger for components that log with fields.
func (l *Logger) Zap() *zap.Logger {
	if l == nil || l.zap == nil {
		return zap.NewNop()
	}
	return l.zap
}

// Path returns the backing file, or "" for Nop loggers.
func (l *Logger) Path() string {
	if l == nil || l.file == nil {
		return ""
	}
	return l.file.Name()
}

// Close flushes and releases the file handle.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	if l.zap != nil {
		_ = l.zap.Sync()
	}
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Printf writes a single info entry.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.zap == nil {
		return
	}
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	l.zap.Info(line)
}
