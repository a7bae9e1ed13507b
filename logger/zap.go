package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a *zap.Logger to Logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

var _ Logger = (*ZapLogger)(nil)

// NewZap wraps l. The returned logger filters with its own atomic level,
// initialised from l's core, so SetLevel works regardless of how l was built.
func NewZap(l *zap.Logger) Logger {
	level := zap.NewAtomicLevelAt(zapcore.DebugLevel)
	for _, lv := range []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel} {
		if l.Core().Enabled(lv) {
			level.SetLevel(lv)
			break
		}
	}

	return &ZapLogger{
		sugar: l.WithOptions(zap.AddCallerSkip(1)).Sugar(),
		level: level,
	}
}

func (l *ZapLogger) Debug(msg string, keysAndValues ...any) {
	if l.level.Enabled(zapcore.DebugLevel) {
		l.sugar.Debugw(msg, keysAndValues...)
	}
}

func (l *ZapLogger) Info(msg string, keysAndValues ...any) {
	if l.level.Enabled(zapcore.InfoLevel) {
		l.sugar.Infow(msg, keysAndValues...)
	}
}

func (l *ZapLogger) Warn(msg string, keysAndValues ...any) {
	if l.level.Enabled(zapcore.WarnLevel) {
		l.sugar.Warnw(msg, keysAndValues...)
	}
}

func (l *ZapLogger) Error(msg string, keysAndValues ...any) {
	if l.level.Enabled(zapcore.ErrorLevel) {
		l.sugar.Errorw(msg, keysAndValues...)
	}
}

func (l *ZapLogger) Fatal(msg string, keysAndValues ...any) {
	l.sugar.Fatalw(msg, keysAndValues...)
}

func (l *ZapLogger) With(keyValues ...any) Logger {
	return &ZapLogger{
		sugar: l.sugar.With(keyValues...),
		level: l.level,
	}
}

func (l *ZapLogger) Level() LogLevel {
	switch l.level.Level() {
	case zapcore.DebugLevel:
		return DebugLevel
	case zapcore.InfoLevel:
		return InfoLevel
	case zapcore.WarnLevel:
		return WarnLevel
	case zapcore.ErrorLevel:
		return ErrorLevel
	default:
		return FatalLevel
	}
}

func (l *ZapLogger) SetLevel(level LogLevel) {
	switch level {
	case DebugLevel:
		l.level.SetLevel(zapcore.DebugLevel)
	case InfoLevel:
		l.level.SetLevel(zapcore.InfoLevel)
	case WarnLevel:
		l.level.SetLevel(zapcore.WarnLevel)
	case ErrorLevel:
		l.level.SetLevel(zapcore.ErrorLevel)
	default:
		l.level.SetLevel(zapcore.FatalLevel)
	}
}
