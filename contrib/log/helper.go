package log

import (
	"context"
	"fmt"
)

// DefaultMessageKey default message key.
var DefaultMessageKey = "msg"

// Helper is a logger helper.
type Helper struct {
	logger Logger
	msgKey string
}

// HelperOption is Helper option.
type HelperOption func(*Helper)

// WithMessageKey with message key.
func WithMessageKey(k string) HelperOption {
	return func(opts *Helper) {
		opts.msgKey = k
	}
}

// NewHelper new a logger helper. A nil logger uses the global one.
func NewHelper(logger Logger, opts ...HelperOption) *Helper {
	if logger == nil {
		logger = GetLogger()
	}
	h := &Helper{
		msgKey: DefaultMessageKey,
		logger: logger,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// WithContext returns a shallow copy of h with its context changed
// to ctx. The provided ctx must be non-nil.
func (h *Helper) WithContext(ctx context.Context) *Helper {
	return &Helper{
		msgKey: h.msgKey,
		logger: WithContext(ctx, h.logger),
	}
}

// Enabled returns true if the given level above this level.
func (h *Helper) Enabled(level Level) bool {
	return enabled(h.logger, level)
}

// Logger returns the underlying logger.
func (h *Helper) Logger() Logger {
	return h.logger
}

// Log Print log by level and keyvals.
func (h *Helper) Log(level Level, keyvals ...any) {
	_ = h.logger.Log(level, keyvals...)
}

func (h *Helper) logf(level Level, format string, a ...any) {
	if !h.Enabled(level) {
		return
	}
	_ = h.logger.Log(level, h.msgKey, fmt.Sprintf(format, a...))
}

// Debug logs a message at debug level.
func (h *Helper) Debug(a ...any) {
	if !h.Enabled(LevelDebug) {
		return
	}
	_ = h.logger.Log(LevelDebug, h.msgKey, fmt.Sprint(a...))
}

// Debugf logs a message at debug level.
func (h *Helper) Debugf(format string, a ...any) { h.logf(LevelDebug, format, a...) }

// Info logs a message at info level.
func (h *Helper) Info(a ...any) {
	if !h.Enabled(LevelInfo) {
		return
	}
	_ = h.logger.Log(LevelInfo, h.msgKey, fmt.Sprint(a...))
}

// Infof logs a message at info level.
func (h *Helper) Infof(format string, a ...any) { h.logf(LevelInfo, format, a...) }

// Warnf logs a message at warn level.
func (h *Helper) Warnf(format string, a ...any) { h.logf(LevelWarn, format, a...) }

// Errorf logs a message at error level.
func (h *Helper) Errorf(format string, a ...any) { h.logf(LevelError, format, a...) }

// Fatal logs a message at fatal level.
func (h *Helper) Fatal(a ...any) {
	_ = h.logger.Log(LevelFatal, h.msgKey, fmt.Sprint(a...))
	exit(1)
}

// Fatalf logs a message at fatal level.
func (h *Helper) Fatalf(format string, a ...any) {
	_ = h.logger.Log(LevelFatal, h.msgKey, fmt.Sprintf(format, a...))
	exit(1)
}
