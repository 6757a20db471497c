package xlog

import (
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ fxevent.Logger = (*FxXLogger)(nil)

// FxXLogger reports the fx application lifecycle. Successful steps of
// the dependency graph are logged at Debug, the lifecycle transitions
// at Info and every failure at Error.
type FxXLogger struct {
	logger XLogger
}

// outcome logs msg at lvl, or at Error with a "failed" suffix if err is set.
func (l *FxXLogger) outcome(err error, lvl zapcore.Level, msg string, fields ...zap.Field) {
	if err != nil {
		l.logger.Error(err, msg+" failed", fields...)
		return
	}
	if ce := l.logger.zap().Check(lvl, msg); ce != nil {
		ce.Write(fields...)
	}
}

func hookFields(function, caller string) []zap.Field {
	return []zap.Field{
		zap.String("function", function),
		zap.String("caller", caller),
	}
}

func (l *FxXLogger) LogEvent(event fxevent.Event) {
	if l == nil || l.logger == nil {
		return
	}

	switch e := event.(type) {
	case *fxevent.OnStartExecuting:
		l.outcome(nil, zapcore.DebugLevel, "fx hook OnStart", hookFields(e.FunctionName, e.CallerName)...)
	case *fxevent.OnStartExecuted:
		l.outcome(e.Err, zapcore.DebugLevel, "fx hook OnStart done",
			append(hookFields(e.FunctionName, e.CallerName), zap.Duration("runtime", e.Runtime))...,
		)
	case *fxevent.OnStopExecuting:
		l.outcome(nil, zapcore.InfoLevel, "fx hook OnStop", hookFields(e.FunctionName, e.CallerName)...)
	case *fxevent.OnStopExecuted:
		l.outcome(e.Err, zapcore.InfoLevel, "fx hook OnStop done",
			append(hookFields(e.FunctionName, e.CallerName), zap.Duration("runtime", e.Runtime))...,
		)
	case *fxevent.Supplied:
		l.outcome(e.Err, zapcore.DebugLevel, "fx supply",
			zap.String("type", e.TypeName),
			zap.Strings("stacktrace", e.StackTrace),
		)
	case *fxevent.Provided:
		if e.Err != nil {
			l.outcome(e.Err, zapcore.DebugLevel, "fx provide",
				zap.String("constructor", e.ConstructorName),
				zap.Strings("stacktrace", e.StackTrace),
			)
			return
		}
		l.outcome(nil, zapcore.DebugLevel, "fx provide",
			zap.String("constructor", e.ConstructorName),
			zap.Strings("types", e.OutputTypeNames),
			zap.Bool("private", e.Private),
		)
	case *fxevent.Invoking:
		l.outcome(nil, zapcore.DebugLevel, "fx invoke", zap.String("function", e.FunctionName))
	case *fxevent.Invoked:
		if e.Err != nil {
			l.outcome(e.Err, zapcore.DebugLevel, "fx invoke",
				zap.String("function", e.FunctionName),
				zap.String("trace", e.Trace),
			)
		}
	case *fxevent.Started:
		l.outcome(e.Err, zapcore.InfoLevel, "fx app start")
	case *fxevent.Stopping:
		l.outcome(nil, zapcore.InfoLevel, "fx app stopping", zap.String("signal", e.Signal.String()))
	case *fxevent.Stopped:
		if e.Err != nil {
			l.outcome(e.Err, zapcore.InfoLevel, "fx app stop")
		}
	case *fxevent.RollingBack:
		l.outcome(e.StartErr, zapcore.InfoLevel, "fx app start, rolling back")
	case *fxevent.RolledBack:
		if e.Err != nil {
			l.outcome(e.Err, zapcore.InfoLevel, "fx app rollback")
		}
	case *fxevent.LoggerInitialized:
		l.outcome(e.Err, zapcore.DebugLevel, "fx event logger init", zap.String("constructor", e.ConstructorName))
	}
}

// NewFxXLogger names the entries "Fx" and shares the level of logger.
func NewFxXLogger(logger XLogger) *FxXLogger {
	return &FxXLogger{
		logger: newComponentXLogger(logger, "Fx"),
	}
}
