package outbox

import "go.uber.org/zap"

// Logger mirrors raft.Logger's printf-style wrapper around zap, so the
// dispatcher and the engine share the same logging idiom throughout the
// module.
type Logger struct {
	z *zap.SugaredLogger
}

func NewLogger(z *zap.Logger) *Logger { return &Logger{z: z.Sugar()} }

func NewNopLogger() *Logger { return &Logger{z: zap.NewNop().Sugar()} }

func (l *Logger) Infof(template string, args ...interface{})  { l.z.Infof(template, args...) }
func (l *Logger) Debugf(template string, args ...interface{}) { l.z.Debugf(template, args...) }
func (l *Logger) Warnf(template string, args ...interface{})  { l.z.Warnf(template, args...) }
func (l *Logger) Errorf(template string, args ...interface{}) { l.z.Errorf(template, args...) }
