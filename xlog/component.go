package xlog

import (
	"go.uber.org/zap"
)

// newComponentXLogger shares the cores and the dynamic level of
// the parent, only the entries are named after the component.
func newComponentXLogger(parent XLogger, component string) *xLogger {
	l := &xLogger{}
	if parent == nil {
		parent = NewNopXLogger()
	}
	if xl, ok := parent.(*xLogger); ok {
		l.dynamicLevelEnabler = xl.dynamicLevelEnabler
		l.writer = xl.writer
		l.encoder = xl.encoder
	} else {
		l.dynamicLevelEnabler = zap.NewAtomicLevel()
	}
	l.logger.Store(parent.zap().Named(component))
	return l
}
