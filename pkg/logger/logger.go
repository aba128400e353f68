package logger

import (
	"go.uber.org/zap"
)

var log *zap.Logger

// InitWithLevel permite bajar a debug (LOG_LEVEL=debug) sin tocar el resto de la config.
func InitWithLevel(level string) error {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"            // Logs estructurados en JSON
	cfg.EncoderConfig.TimeKey = "ts" // timestamp
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.CallerKey = "caller"

	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return err
		}
		cfg.Level = lvl
	}

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	log = l.With(zap.String("service", "outboxlab"))
	return nil
}

// Logger retorna el logger estructurado; sin Init devuelve un Nop.
func Logger() *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
