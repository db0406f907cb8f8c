package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures where log lines go.
type Options struct {
	// Path is the log file; lines are appended so earlier runs stay readable.
	Path string
	// Screen receives the same lines as the file unless the entry was logged
	// through Quiet. Nil means stderr.
	Screen io.Writer
	// Verbose lowers the level to debug.
	Verbose bool
}

// Logger tees timestamped lines to the run log file and the terminal.
type Logger struct {
	*zap.Logger
	quiet *zap.Logger
	file  *os.File
}

// New creates (or reuses) the log file and builds the tee.
func New(opts Options) (*Logger, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("logging: log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	screen := opts.Screen
	if screen == nil {
		screen = os.Stderr
	}
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if opts.Verbose {
		level.SetLevel(zapcore.DebugLevel)
	}
	fileCore := zapcore.NewCore(encoder(), zapcore.AddSync(f), level)
	screenCore := zapcore.NewCore(encoder(), zapcore.AddSync(screen), level)
	return &Logger{
		Logger: zap.New(zapcore.NewTee(fileCore, screenCore)),
		quiet:  zap.New(fileCore),
		file:   f,
	}, nil
}

// Nop returns a logger that discards everything; handy for tests.
func Nop() *Logger {
	l := zap.NewNop()
	return &Logger{Logger: l, quiet: l}
}

// Quiet returns a logger that writes to the log file only.
func (l *Logger) Quiet() *zap.Logger {
	if l == nil || l.quiet == nil {
		return zap.NewNop()
	}
	return l.quiet
}

// With returns a child logger carrying fields on both the tee and the quiet
// file-only logger.
func (l *Logger) With(fields ...zap.Field) *Logger {
	if l == nil {
		return Nop()
	}
	return &Logger{
		Logger: l.Logger.With(fields...),
		quiet:  l.Quiet().With(fields...),
		file:   l.file,
	}
}

// Close flushes buffered entries and releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = l.Logger.Sync()
	return l.file.Close()
}

func encoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " "
	return zapcore.NewConsoleEncoder(cfg)
}
