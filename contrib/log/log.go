package log

import (
	"context"
	"os"
	"sync"
)

// Logger is a logger interface.
type Logger interface {
	Log(level Level, keyvals ...any) error
}

// leveler is implemented by loggers that can report their minimum level,
// which lets helpers skip formatting disabled messages.
type leveler interface {
	Enabled(level Level) bool
}

// DefaultLogger is default logger.
var DefaultLogger Logger = NewZapLogger(nil)

type logger struct {
	logger    Logger
	prefix    []any
	hasValuer bool
	ctx       context.Context
}

func (c *logger) Log(level Level, keyvals ...any) error {
	kvs := make([]any, 0, len(c.prefix)+len(keyvals))
	kvs = append(kvs, c.prefix...)
	if c.hasValuer {
		bindValues(c.ctx, kvs)
	}
	kvs = append(kvs, keyvals...)
	return c.logger.Log(level, kvs...)
}

func (c *logger) Enabled(level Level) bool {
	return enabled(c.logger, level)
}

// With with logger fields. A nil logger uses the global one.
func With(l Logger, kv ...any) Logger {
	if l == nil {
		l = GetLogger()
	}
	c, ok := l.(*logger)
	if !ok {
		return &logger{logger: l, prefix: kv, hasValuer: containsValuer(kv), ctx: context.Background()}
	}
	kvs := make([]any, 0, len(c.prefix)+len(kv))
	kvs = append(kvs, c.prefix...)
	kvs = append(kvs, kv...)
	return &logger{
		logger:    c.logger,
		prefix:    kvs,
		hasValuer: containsValuer(kvs),
		ctx:       c.ctx,
	}
}

// WithContext returns a shallow copy of l with its context changed
// to ctx. The provided ctx must be non-nil.
func WithContext(ctx context.Context, l Logger) Logger {
	switch v := l.(type) {
	case *logger:
		lg := *v
		lg.ctx = ctx
		return &lg
	case *Filter:
		fv := *v
		fv.logger = WithContext(ctx, fv.logger)
		return &fv
	default:
		return &logger{logger: l, ctx: ctx}
	}
}

func enabled(l Logger, level Level) bool {
	if lv, ok := l.(leveler); ok {
		return lv.Enabled(level)
	}
	return true
}

var (
	global   = &loggerAppliance{}
	globalMu sync.RWMutex
)

type loggerAppliance struct {
	Logger
	helper *Helper
}

func init() {
	global.SetLogger(DefaultLogger)
}

func (a *loggerAppliance) SetLogger(in Logger) {
	a.Logger = in
	a.helper = NewHelper(in)
}

// SetLogger should be called before any other log call.
func SetLogger(logger Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global.SetLogger(logger)
}

// GetLogger returns global logger appliance as logger in current process.
func GetLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global.Logger
}

func globalHelper() *Helper {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global.helper
}

// Context returns a helper bound to ctx so context valuers are resolved.
func Context(ctx context.Context) *Helper {
	return globalHelper().WithContext(ctx)
}

// Enabled reports whether the global logger emits level.
func Enabled(level Level) bool {
	return globalHelper().Enabled(level)
}

func Debugf(format string, a ...any) { globalHelper().Debugf(format, a...) }
func Infof(format string, a ...any)  { globalHelper().Infof(format, a...) }
func Warnf(format string, a ...any)  { globalHelper().Warnf(format, a...) }
func Errorf(format string, a ...any) { globalHelper().Errorf(format, a...) }

// Fatal logs a message at fatal level and exits.
func Fatal(a ...any) {
	globalHelper().Fatal(a...)
}

// Fatalf logs a message at fatal level and exits.
func Fatalf(format string, a ...any) {
	globalHelper().Fatalf(format, a...)
}

var exit = os.Exit
