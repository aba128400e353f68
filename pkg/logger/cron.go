package logger

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger adapta zap a cron.Logger. Los Info de cron son muy ruidosos
// (uno por cada wake), así que van a Debug.
type cronLogger struct {
	s *zap.SugaredLogger
}

func Cron(log *zap.Logger) cron.Logger {
	return cronLogger{s: log.Named("cron").Sugar()}
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

var _ cron.Logger = cronLogger{}
