package config

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BuildLogger constructs the zap logger for a session. The verbosity level
// follows the original CLI convention: 0 is info, 1 is debug, 2+ also turns
// on development mode (stack traces on warnings, caller info).
func (c *Config) BuildLogger() *zap.Logger {
	level := zapcore.InfoLevel
	if c.Verbose >= 1 {
		level = zapcore.DebugLevel
	}

	encoder := zap.NewProductionEncoderConfig()
	encoder.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder
	if !c.Timestamp {
		encoder.TimeKey = zapcore.OmitKey
	}

	zcfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      c.Verbose >= 2,
		Encoding:         "console",
		EncoderConfig:    encoder,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
