// Package logger provides structured logging for GoHarvest using zap.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dbsmedya/goharvest/internal/config"
)

// Logger is a sugared zap logger that carries harvest context (job, pass,
// entity) as structured fields.
type Logger struct {
	*zap.SugaredLogger
	base *zap.Logger
}

func wrap(base *zap.Logger) *Logger {
	return &Logger{SugaredLogger: base.Sugar(), base: base}
}

// New builds a Logger for cfg. It fails only when a file output cannot be
// opened.
func New(cfg *config.LoggingConfig) (*Logger, error) {
	sink, err := buildWriters(cfg.Output)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(buildEncoder(cfg.Format), sink, parseLevel(cfg.Level))
	return wrap(zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))), nil
}

// NewDefault logs text at info level to stdout.
func NewDefault() *Logger {
	l, err := New(&config.LoggingConfig{Level: "info", Format: "text", Output: "stdout"})
	if err != nil {
		return NewNop()
	}
	return l
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return wrap(zap.NewNop())
}

// NewFromCore wraps an existing zap core, e.g. a zaptest/observer core.
func NewFromCore(core zapcore.Core) *Logger {
	return wrap(zap.New(core))
}

// parseLevel accepts zap level names in any case. Unknown names log at info.
func parseLevel(level string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl < zapcore.DebugLevel || lvl > zapcore.ErrorLevel {
		return zapcore.InfoLevel
	}
	return lvl
}

func buildEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.SecondsDurationEncoder

	if strings.EqualFold(format, "json") {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

// buildWriters resolves the output setting. A file path is appended to and
// mirrored on stdout so interactive runs still show progress.
func buildWriters(output string) (zapcore.WriteSyncer, error) {
	switch output {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}
	f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log output %s: %w", output, err)
	}
	return zapcore.NewMultiWriteSyncer(zapcore.AddSync(f), zapcore.Lock(os.Stdout)), nil
}

func (l *Logger) with(args ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(args...), base: l.base}
}

// WithJob tags entries with the job name.
func (l *Logger) WithJob(jobName string) *Logger {
	return l.with("job", jobName)
}

// WithPass tags entries with the harvest pass number.
func (l *Logger) WithPass(pass int) *Logger {
	return l.with("pass", pass)
}

// WithEntity tags entries with the entity being harvested.
func (l *Logger) WithEntity(entity string) *Logger {
	return l.with("entity", entity)
}

// WithFields tags entries with arbitrary fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return l.with(args...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.base.Sync()
}
