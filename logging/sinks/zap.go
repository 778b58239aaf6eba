package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Route-Sim/VISTA-sub000/logging"
)

// Zap forwards events to a zap logger, mapping severities onto zap levels.
type Zap struct {
	logger *zap.Logger
}

// NewZap wraps logger. A nil logger builds a production logger.
func NewZap(logger *zap.Logger) (*Zap, error) {
	if logger == nil {
		built, err := zap.NewProduction()
		if err != nil {
			return nil, err
		}
		logger = built
	}
	return &Zap{logger: logger}, nil
}

func (s *Zap) Write(event logging.Event) error {
	fields := make([]zap.Field, 0, 8+len(event.Extra))
	fields = append(fields,
		zap.Uint64("tick", event.Tick),
		zap.Time("eventTime", event.Time),
	)
	if event.Category != "" {
		fields = append(fields, zap.String("category", event.Category))
	}
	if event.Actor.ID != "" || event.Actor.Kind != "" {
		fields = append(fields, zap.String("actor", formatEntity(event.Actor)))
	}
	if event.RequestID != "" {
		fields = append(fields, zap.String("requestId", event.RequestID))
	}
	if event.TraceID != "" {
		fields = append(fields, zap.String("traceId", event.TraceID))
	}
	if event.Payload != nil {
		fields = append(fields, zap.Any("payload", event.Payload))
	}
	for k, v := range event.Extra {
		fields = append(fields, zap.Any(k, v))
	}
	if ce := s.logger.Check(zapLevel(event.Severity), string(event.Type)); ce != nil {
		ce.Write(fields...)
	}
	return nil
}

func (s *Zap) Close(context.Context) error {
	// Sync reports EINVAL for stdout/stderr on some platforms; nothing to do about it.
	_ = s.logger.Sync()
	return nil
}

func zapLevel(sev logging.Severity) zapcore.Level {
	switch sev {
	case logging.SeverityDebug:
		return zapcore.DebugLevel
	case logging.SeverityWarn:
		return zapcore.WarnLevel
	case logging.SeverityError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
