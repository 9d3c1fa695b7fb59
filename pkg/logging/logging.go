package logging

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TimeNowFunc lets tests swap out the clock used when stamping request logs.
var TimeNowFunc = time.Now

// TimeFormat is the time format used when writing request logs.
var TimeFormat = time.RFC3339

// RequestIDKey is the key for the request ID in the request context.
const RequestIDKey = "request_id"

// RequestIDHeader is the header carrying a caller-supplied request ID.
const RequestIDHeader = "x-request-id"

// RequestLoggerKey is the key for the per-request logger in the request context.
const RequestLoggerKey = "request_logger"

// NewLogger builds a zap logger from the config. Logs always go to the
// rotating file configured via lumberjack; console output is added unless
// disabled.
func NewLogger(config *Config) (*zap.Logger, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}

	encoder, level, err := buildEncoderAndLevel(config)
	if err != nil {
		return nil, fmt.Errorf("building log encoder and level: %w", err)
	}

	fileSink := zapcore.AddSync(&config.Logger)
	fileCore := zapcore.NewCore(encoder, fileSink, level)

	var core zapcore.Core
	if config.DisableConsoleOutput {
		core = fileCore
	} else {
		console := zapcore.Lock(os.Stdout)
		core = zapcore.NewTee(fileCore, zapcore.NewCore(encoder, console, level))
	}

	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)), nil
}

func buildEncoderAndLevel(config *Config) (zapcore.Encoder, zapcore.Level, error) {
	level, err := config.zapLevel()
	if err != nil {
		return nil, level, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	if config.Debug {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	if config.EncodeTimeAsRFC3339Nano {
		encoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	}

	// Debug mode trades the JSON encoder for a human-readable one.
	if config.Debug {
		return zapcore.NewConsoleEncoder(encoderConfig), level, nil
	}

	return zapcore.NewJSONEncoder(encoderConfig), level, nil
}
