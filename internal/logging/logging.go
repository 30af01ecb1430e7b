// Package logging configures the zap logger used across every process, and
// provides a per-task logger that buffers output for inclusion in a Task's
// serialized "output" field as well as writing through to the process log.
package logging

import (
	"bytes"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process-wide logger at the given level name ("debug",
// "info", "warn", "error").
func New(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// TaskLogger wraps the process logger with a buffer capturing every line
// written for a single task's run, so the accumulated text can be attached
// to the task's serialized output when it finishes.
type TaskLogger struct {
	*zap.Logger

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewTaskLogger derives a child logger tagged with tid/name and a private
// buffer, from the process-wide logger.
func NewTaskLogger(base *zap.Logger, tid, name string) *TaskLogger {
	tl := &TaskLogger{}
	core := zapcore.NewTee(
		base.Core(),
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.AddSync(&tl.buf),
			zapcore.DebugLevel,
		),
	)
	tl.Logger = zap.New(core).With(zap.String("tid", tid), zap.String("task", name))
	return tl
}

// Buffered returns everything written to this task's logger so far.
func (t *TaskLogger) Buffered() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
