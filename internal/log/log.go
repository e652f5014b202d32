// Package log provides module-scoped loggers backed by zap. Each package
// creates a named logger once; log levels are adjustable per module at
// runtime, individually or through a colon-separated spec string.
package log

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level defines a log level for a module.
type Level = zapcore.Level

// Log levels.
const (
	DEBUG   = zapcore.DebugLevel
	INFO    = zapcore.InfoLevel
	WARNING = zapcore.WarnLevel
	ERROR   = zapcore.ErrorLevel
	PANIC   = zapcore.PanicLevel
	FATAL   = zapcore.FatalLevel
)

// Encoding selects the log output encoding.
type Encoding string

// Log encodings.
const (
	Console Encoding = "console"
	JSON    Encoding = "json"
)

var levelsByName = map[string]Level{
	"debug":   DEBUG,
	"info":    INFO,
	"warning": WARNING,
	"error":   ERROR,
	"panic":   PANIC,
	"fatal":   FATAL,
}

// ParseLevel parses a textual log level.
func ParseLevel(s string) (Level, error) {
	l, ok := levelsByName[strings.ToLower(s)]
	if !ok {
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
	return l, nil
}

func levelName(l Level) string {
	for name, level := range levelsByName {
		if level == l {
			return name
		}
	}
	return l.String()
}

var (
	levelsMu     sync.RWMutex
	defaultLevel = INFO
	moduleLevels = map[string]Level{}
)

// SetLevel sets the log level for the given module.
func SetLevel(module string, level Level) {
	levelsMu.Lock()
	defer levelsMu.Unlock()
	moduleLevels[module] = level
}

// SetDefaultLevel sets the log level for modules without an explicit level.
func SetDefaultLevel(level Level) {
	levelsMu.Lock()
	defer levelsMu.Unlock()
	defaultLevel = level
}

// GetLevel returns the log level in effect for the given module.
func GetLevel(module string) Level {
	levelsMu.RLock()
	defer levelsMu.RUnlock()
	if l, ok := moduleLevels[module]; ok {
		return l
	}
	return defaultLevel
}

// SetSpec sets the log levels for individual modules as well as the default
// level. The spec format is:
//
//	module1=level1:module2=level2:defaultLevel
//
// Valid levels are: debug, info, warning, error, panic, fatal.
func SetSpec(spec string) error {
	type moduleLevel struct {
		module string
		level  Level
	}

	var levels []moduleLevel
	newDefault := defaultLevel

	for _, part := range strings.Split(spec, ":") {
		if part == "" {
			continue
		}
		module, levelStr, found := strings.Cut(part, "=")
		if !found {
			l, err := ParseLevel(part)
			if err != nil {
				return err
			}
			newDefault = l
			continue
		}
		l, err := ParseLevel(levelStr)
		if err != nil {
			return err
		}
		levels = append(levels, moduleLevel{module: module, level: l})
	}

	levelsMu.Lock()
	defer levelsMu.Unlock()

	defaultLevel = newDefault
	for _, ml := range levels {
		moduleLevels[ml.module] = ml.level
	}
	return nil
}

// GetSpec returns the current log levels in SetSpec format.
func GetSpec() string {
	levelsMu.RLock()
	defer levelsMu.RUnlock()

	modules := make([]string, 0, len(moduleLevels))
	for m := range moduleLevels {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	var b strings.Builder
	for _, m := range modules {
		fmt.Fprintf(&b, "%s=%s:", m, levelName(moduleLevels[m]))
	}
	b.WriteString(levelName(defaultLevel))
	return b.String()
}

type options struct {
	stdOut   zapcore.WriteSyncer
	encoding Encoding
}

// Option configures a logger.
type Option func(*options)

// WithStdOut sets the log output destination.
func WithStdOut(w zapcore.WriteSyncer) Option {
	return func(o *options) {
		o.stdOut = w
	}
}

// WithEncoding sets the log output encoding.
func WithEncoding(e Encoding) Option {
	return func(o *options) {
		o.encoding = e
	}
}

// Logger is a module-scoped logger. Strongly typed fields go through the
// embedded zap methods; the printf variants are for free-form messages.
type Logger struct {
	*zap.Logger
	module string
}

// New returns a logger for the given module. The logger observes the
// module's level dynamically, so SetLevel and SetSpec affect existing
// loggers.
func New(module string, opts ...Option) *Logger {
	o := &options{
		stdOut:   zapcore.Lock(os.Stderr),
		encoding: Console,
	}
	for _, opt := range opts {
		opt(o)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if o.encoding == JSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, o.stdOut, zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= GetLevel(module)
	}))

	return &Logger{
		Logger: zap.New(core, zap.AddCaller()).Named(module),
		module: module,
	}
}

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(template string, args ...interface{}) {
	l.Logger.Debug(fmt.Sprintf(template, args...))
}

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(template string, args ...interface{}) {
	l.Logger.Info(fmt.Sprintf(template, args...))
}

// Warnf logs a formatted message at WARNING level.
func (l *Logger) Warnf(template string, args ...interface{}) {
	l.Logger.Warn(fmt.Sprintf(template, args...))
}

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(template string, args ...interface{}) {
	l.Logger.Error(fmt.Sprintf(template, args...))
}
