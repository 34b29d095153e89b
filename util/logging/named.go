package logging

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NamedLogger(name string, fields ...zap.Field) func(log *zap.Logger) *zap.Logger {
	return func(log *zap.Logger) *zap.Logger {
		return log.Named(name).With(fields...)
	}
}

// DecorateLogger names the logger of an fx module and attaches fields to
// every record it logs.
func DecorateLogger(name string, fields ...zap.Field) fx.Option {
	return fx.Decorate(NamedLogger(name, fields...))
}
