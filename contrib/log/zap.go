package log

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the zap backed logger.
type Options struct {
	Level      string `json:"level" yaml:"level"`
	Path       string `json:"path" yaml:"path"` // empty writes to stderr
	MaxSize    int    `json:"max_size" yaml:"max_size"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAge     int    `json:"max_age" yaml:"max_age"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

var _ Logger = (*ZapLogger)(nil)

// ZapLogger adapts a zap core to Logger.
type ZapLogger struct {
	log   *zap.Logger
	level zap.AtomicLevel
}

// NewZapLogger builds a console encoded zap logger. A nil opt logs info and
// above to stderr.
func NewZapLogger(opt *Options) *ZapLogger {
	if opt == nil {
		opt = &Options{Level: "info"}
	}

	level := zap.NewAtomicLevelAt(toZapLevel(ParseLevel(opt.Level)))

	cfg := zap.NewProductionEncoderConfig()
	cfg.ConsoleSeparator = " "
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.MessageKey = "msg"
	cfg.CallerKey = ""
	cfg.StacktraceKey = ""

	var out zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	if opt.Path != "" {
		_ = os.MkdirAll(filepath.Dir(opt.Path), 0o755)
		out = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opt.Path,
			MaxSize:    defaultInt(opt.MaxSize, 100),
			MaxBackups: defaultInt(opt.MaxBackups, 10),
			MaxAge:     defaultInt(opt.MaxAge, 7),
			LocalTime:  true,
			Compress:   opt.Compress,
		})
	}

	return &ZapLogger{
		log:   zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), out, level)),
		level: level,
	}
}

// Log implements Logger.
func (l *ZapLogger) Log(level Level, keyvals ...any) error {
	zl := toZapLevel(level)
	if !l.level.Enabled(zl) {
		return nil
	}
	if len(keyvals) == 0 {
		return nil
	}
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "KEYVALS UNPAIRED")
	}

	var msg string
	fields := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if key == DefaultMessageKey {
			msg = fmt.Sprint(keyvals[i+1])
			continue
		}
		fields = append(fields, zap.Any(key, keyvals[i+1]))
	}

	if ce := l.log.Check(zl, msg); ce != nil {
		ce.Write(fields...)
	}
	return nil
}

// Enabled reports whether level is emitted.
func (l *ZapLogger) Enabled(level Level) bool {
	return l.level.Enabled(toZapLevel(level))
}

// SetLevel changes the minimum level at runtime.
func (l *ZapLogger) SetLevel(level Level) {
	l.level.SetLevel(toZapLevel(level))
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.log.Sync()
}

func toZapLevel(level Level) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelFatal:
		// fatal exits through Helper, zap must not exit on its own.
		return zapcore.DPanicLevel
	}
	return zapcore.InfoLevel
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
