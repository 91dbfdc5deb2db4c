package raft

import "go.uber.org/zap"

// Logger is the structured logger used throughout the engine. It wraps zap
// rather than exposing it directly so role code can log with the
// printf-style calls the original tinykv raft.Logger interface favors,
// while still emitting structured fields to the backing zap core.
type Logger struct {
	z *zap.SugaredLogger
}

// NewLogger wraps a *zap.Logger for use by a Node.
func NewLogger(z *zap.Logger) *Logger {
	return &Logger{z: z.Sugar()}
}

// NewNopLogger returns a Logger that discards everything, used as the
// Config default so a zero-value Config doesn't panic on first log call.
func NewNopLogger() *Logger {
	return &Logger{z: zap.NewNop().Sugar()}
}

func (l *Logger) Infof(template string, args ...interface{})    { l.z.Infof(template, args...) }
func (l *Logger) Debugf(template string, args ...interface{})   { l.z.Debugf(template, args...) }
func (l *Logger) Warnf(template string, args ...interface{})    { l.z.Warnf(template, args...) }
func (l *Logger) Errorf(template string, args ...interface{})   { l.z.Errorf(template, args...) }
func (l *Logger) Panicf(template string, args ...interface{})   { l.z.Panicf(template, args...) }
