package code

import "go.uber.org/zap"

// Logger is an optional interface for observability during code execution.
// Implementations can log tool calls, timing information, and other events.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: logging must be best-effort; Logf should not panic.
// - Ownership: format/args are read-only.
type Logger interface {
	// Logf logs a formatted message.
	Logf(format string, args ...any)
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// ZapLogger adapts a zap logger to Logger. Messages are logged at debug
// level. A nil logger yields a no-op Logger.
func ZapLogger(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return zapLogger{s: l.Sugar()}
}

func (z zapLogger) Logf(format string, args ...any) {
	z.s.Debugf(format, args...)
}
