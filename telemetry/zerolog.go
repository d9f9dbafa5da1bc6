package telemetry

import (
	"context"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to the Logger contract. This is the
// production logger: github.com/rs/zerolog is the structured logging library
// the pack uses for this exact domain (a Redis-backed LLM agent service).
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger wraps an existing zerolog.Logger.
func NewZerologLogger(log zerolog.Logger) Logger {
	return ZerologLogger{log: log}
}

func (l ZerologLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	l.event(l.log.Debug(), msg, keyvals...)
}

func (l ZerologLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	l.event(l.log.Info(), msg, keyvals...)
}

func (l ZerologLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	l.event(l.log.Warn(), msg, keyvals...)
}

func (l ZerologLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	l.event(l.log.Error(), msg, keyvals...)
}

// event applies alternating key/value pairs to a zerolog event before
// firing msg. Odd-length trailing keys are logged under "extra".
func (l ZerologLogger) event(e *zerolog.Event, msg string, keyvals ...any) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, keyvals[i+1])
	}
	if len(keyvals)%2 == 1 {
		e = e.Interface("extra", keyvals[len(keyvals)-1])
	}
	e.Msg(msg)
}
