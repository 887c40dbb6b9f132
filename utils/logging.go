package utils

import (
	"github.com/hashicorp/go-retryablehttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type zapLeveled struct {
	s *zap.SugaredLogger
}

// LeveledLogger routes retryablehttp's request logs into zap at debug level;
// retries and give-ups stay visible at warn/error.
func LeveledLogger(log *zap.Logger) retryablehttp.LeveledLogger {
	return zapLeveled{s: log.Named("http").Sugar()}
}

func (l zapLeveled) Error(msg string, keysAndValues ...interface{}) { l.s.Errorw(msg, keysAndValues...) }
func (l zapLeveled) Warn(msg string, keysAndValues ...interface{})  { l.s.Warnw(msg, keysAndValues...) }
func (l zapLeveled) Info(msg string, keysAndValues ...interface{})  { l.s.Debugw(msg, keysAndValues...) }
func (l zapLeveled) Debug(msg string, keysAndValues ...interface{}) { l.s.Debugw(msg, keysAndValues...) }

type zapCron struct {
	s *zap.SugaredLogger
}

func CronLogger(log *zap.Logger) cron.Logger {
	return zapCron{s: log.Named("cron").Sugar()}
}

func (l zapCron) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l zapCron) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
