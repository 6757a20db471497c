package xlog

import (
	"context"
	"strings"

	"go.uber.org/zap/zapcore"
)

type GoRedisXLogger struct {
	logger XLogger
}

func (l *GoRedisXLogger) Printf(ctx context.Context, format string, v ...any) {
	if l == nil || l.logger == nil {
		return
	}
	if strings.Contains(format, "failed") {
		l.logger.Logf(zapcore.ErrorLevel, format, v...)
		return
	}
	l.logger.Logf(zapcore.InfoLevel, format, v...)
}

func NewGoRedisXLogger(logger XLogger) *GoRedisXLogger {
	return &GoRedisXLogger{
		logger: newComponentXLogger(logger, "GoRedis"),
	}
}
