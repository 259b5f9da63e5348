package log

import (
	"encoding/json"
	//nolint:depguard
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// for init only
func Fatal(v ...any) {
	log.Fatal(v...)
}

// Logger is a zap logger that knows its module path. Fields attached with
// With survive later Module calls.
type Logger struct {
	*zap.Logger
	names  []string
	fields []Field
	build  func(names []string) *zap.Logger
}

// Module returns a child logger named Parent.Name whose level is resolved
// from LOG_LEVEL__PARENT__NAME.
func (l *Logger) Module(name string) *Logger {
	names := append(slices.Clip(l.names), name)
	return &Logger{
		Logger: l.build(names).With(l.fields...),
		names:  names,
		fields: l.fields,
		build:  l.build,
	}
}

func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
		names:  l.names,
		fields: append(slices.Clip(l.fields), fields...),
		build:  l.build,
	}
}

// NewLogger builds the console logger, or a zap JSON config from configFile.
func NewLogger(configFile string) (*Logger, error) {
	lv := newLevels(nil)
	if configFile == "" {
		return newConsoleLogger(lv), nil
	}
	return loadLoggerFromFile(configFile, lv)
}

func loadLoggerFromFile(configFile string, lv *levels) (*Logger, error) {
	bs, err := os.ReadFile(configFile)
	if err != nil {
		return nil, err
	}

	cfg := zap.Config{}
	if err := json.Unmarshal(bs, &cfg); err != nil {
		return nil, err
	}

	zapLogger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	// the file sets the floor; env can only raise it per module
	return &Logger{
		Logger: zapLogger.Named("main"),
		build: func(names []string) *zap.Logger {
			named := zapLogger.Named(strings.Join(names, "."))
			if level := lv.resolve(names); level > cfg.Level.Level() {
				named = named.WithOptions(zap.IncreaseLevel(level))
			}
			return named
		},
	}, nil
}

func newConsoleLogger(lv *levels) *Logger {
	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName: func(name string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + name + "]")
		},
	})
	writer := zapcore.Lock(zapcore.AddSync(os.Stdout))

	return newModuleLogger(func(level zapcore.Level) zapcore.Core {
		return zapcore.NewCore(encoder, writer, level)
	}, lv)
}

// newModuleLogger shares one core per distinct level across all modules.
func newModuleLogger(coreAt func(zapcore.Level) zapcore.Core, lv *levels) *Logger {
	var mu sync.Mutex
	cores := map[zapcore.Level]zapcore.Core{}
	build := func(names []string) *zap.Logger {
		level := lv.resolve(names)

		mu.Lock()
		core, ok := cores[level]
		if !ok {
			core = coreAt(level)
			cores[level] = core
		}
		mu.Unlock()

		name := "main"
		if len(names) > 0 {
			name = strings.Join(names, ".")
		}
		return zap.New(core, zap.AddStacktrace(zapcore.FatalLevel)).Named(name)
	}

	return &Logger{
		Logger: build(nil),
		build:  build,
	}
}

func NewTest(t *testing.T) *Logger {
	logger := zaptest.NewLogger(t)
	return &Logger{
		Logger: logger,
		build: func(names []string) *zap.Logger {
			return logger.Named(strings.Join(names, "."))
		},
	}
}

func NewNop() *Logger {
	logger := zap.NewNop()
	return &Logger{
		Logger: logger,
		build:  func([]string) *zap.Logger { return logger },
	}
}
