package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapConfig defines the zap backend configuration
type ZapConfig struct {
	Level      string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format     string `yaml:"format"` // "json", "console"
	Output     string `yaml:"output"` // "stdout", "stderr", file path
	Caller     bool   `yaml:"caller"`
	Stacktrace bool   `yaml:"stacktrace"`
}

func DefaultZapConfig() ZapConfig {
	return ZapConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stderr",
		Caller:     false,
		Stacktrace: true,
	}
}

// ZapBackend owns a zap logger and exposes it through the Logger interface.
type ZapBackend struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
}

func NewZapBackend(config ZapConfig) (*ZapBackend, error) {
	zapLogger, err := createZapLogger(config)
	if err != nil {
		return nil, err
	}
	return &ZapBackend{
		logger: zapLogger,
		sugar:  zapLogger.Sugar(),
	}, nil
}

// Logger returns a prefixed Logger writing through this backend.
func (z *ZapBackend) Logger(prefix string) Logger {
	return NewLogger(prefix, LogFuncs{
		Debugf: z.sugar.Debugf,
		Infof:  z.sugar.Infof,
		Warnf:  z.sugar.Warnf,
		Errorf: z.sugar.Errorf,
	})
}

// Zap exposes the underlying logger for components that log structured fields.
func (z *ZapBackend) Zap() *zap.Logger {
	return z.logger
}

func (z *ZapBackend) Sync() error {
	return z.logger.Sync()
}

func createZapLogger(config ZapConfig) (*zap.Logger, error) {
	level, err := getLevelFromString(config.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.LevelKey = "level"
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	switch config.Format {
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	output := config.Output
	if output == "" {
		output = "stderr"
	}
	writeSyncer, _, err := zap.Open(output)
	if err != nil {
		return nil, fmt.Errorf("failed to open log output %q: %w", output, err)
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)

	opts := []zap.Option{}
	if config.Caller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(2))
	}
	if config.Stacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return zap.New(core, opts...), nil
}

// zap v1.20 has no zapcore.ParseLevel
func getLevelFromString(levelStr string) (zapcore.Level, error) {
	switch levelStr {
	case "debug":
		return zap.DebugLevel, nil
	case "info", "":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return -1, fmt.Errorf("invalid log level: %s", levelStr)
	}
}
