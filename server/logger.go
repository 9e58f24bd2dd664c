// Copyright 2018 The Nakama Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggingFormat int8

const (
	JSONFormat LoggingFormat = iota - 1
	StackdriverFormat
)

// SetupLogging builds the server logger and a plain startup logger from the config.
func SetupLogging(tmpLogger *zap.Logger, config *Config) (*zap.Logger, *zap.Logger) {
	zapLevel := zapcore.InfoLevel
	switch strings.ToLower(config.Logger.Level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		tmpLogger.Fatal("Logger level invalid, must be one of: DEBUG, INFO, WARN, or ERROR")
	}

	format := JSONFormat
	if strings.ToLower(config.Logger.Format) == "stackdriver" {
		format = StackdriverFormat
	}

	consoleLogger := NewJSONLogger(os.Stdout, zapLevel, format)
	var fileLogger *zap.Logger
	if config.Logger.File != "" {
		if config.Logger.Rotation {
			fileLogger = NewRotatingJSONFileLogger(tmpLogger, config, zapLevel, format)
		} else {
			fileLogger = NewJSONFileLogger(tmpLogger, config.Logger.File, zapLevel, format)
		}
	}

	if fileLogger != nil {
		multiLogger := NewMultiLogger(consoleLogger, fileLogger)
		if config.Logger.Stdout {
			return multiLogger, multiLogger
		}
		return fileLogger, multiLogger
	}
	return consoleLogger, consoleLogger
}

func NewJSONFileLogger(consoleLogger *zap.Logger, fpath string, level zapcore.Level, format LoggingFormat) *zap.Logger {
	if len(fpath) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
		consoleLogger.Fatal("Could not create log directory", zap.Error(err))
		return nil
	}
	output, err := os.OpenFile(fpath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		consoleLogger.Fatal("Could not create log file", zap.Error(err))
		return nil
	}
	return NewJSONLogger(output, level, format)
}

func NewRotatingJSONFileLogger(consoleLogger *zap.Logger, config *Config, level zapcore.Level, format LoggingFormat) *zap.Logger {
	fpath := config.Logger.File
	if len(fpath) == 0 {
		consoleLogger.Fatal("Rotating log file is enabled but log file name is empty")
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
		consoleLogger.Fatal("Could not create log directory", zap.Error(err))
		return nil
	}

	jsonEncoder := newJSONEncoder(format)
	writeSyncer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   fpath,
		MaxSize:    config.Logger.MaxSize,
		MaxAge:     config.Logger.MaxAge,
		MaxBackups: config.Logger.MaxBackups,
		LocalTime:  config.Logger.LocalTime,
		Compress:   config.Logger.Compress,
	})
	core := zapcore.NewCore(jsonEncoder, writeSyncer, level)
	return zap.New(core, zap.AddCaller())
}

func NewMultiLogger(loggers ...*zap.Logger) *zap.Logger {
	cores := make([]zapcore.Core, 0, len(loggers))
	for _, logger := range loggers {
		cores = append(cores, logger.Core())
	}
	teeCore := zapcore.NewTee(cores...)
	return zap.New(teeCore, zap.AddCaller())
}

func NewJSONLogger(output *os.File, level zapcore.Level, format LoggingFormat) *zap.Logger {
	jsonEncoder := newJSONEncoder(format)
	core := zapcore.NewCore(jsonEncoder, zapcore.Lock(output), level)
	return zap.New(core, zap.AddCaller())
}

func newJSONEncoder(format LoggingFormat) zapcore.Encoder {
	if format == StackdriverFormat {
		return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "severity",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			EncodeLevel:    stackdriverLevelEncoder,
			EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		})
	}
	return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})
}

func stackdriverLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch l {
	case zapcore.DebugLevel:
		enc.AppendString("DEBUG")
	case zapcore.InfoLevel:
		enc.AppendString("INFO")
	case zapcore.WarnLevel:
		enc.AppendString("WARNING")
	case zapcore.ErrorLevel:
		enc.AppendString("ERROR")
	case zapcore.DPanicLevel:
		enc.AppendString("CRITICAL")
	case zapcore.PanicLevel:
		enc.AppendString("ALERT")
	case zapcore.FatalLevel:
		enc.AppendString("EMERGENCY")
	default:
		enc.AppendString(fmt.Sprintf("LEVEL(%d)", l))
	}
}

// RedirectStdLog sends the standard library logger through zap, for libraries that still use it.
func RedirectStdLog(logger *zap.Logger) func() {
	return zap.RedirectStdLog(logger)
}

// StartupTimestamp is the field logged once the server is ready.
func StartupTimestamp() zap.Field {
	return zap.String("startup", time.Now().UTC().Format(time.RFC3339))
}
