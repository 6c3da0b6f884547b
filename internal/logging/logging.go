/*
Copyright 2026 The ClusterLens Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logging configures the process-wide structured logger.
//
// A zap logger is bridged into logr via zapr and installed as the
// controller-runtime logger, so all packages log through ctrl.Log /
// ctrl.LoggerFrom(ctx) with key/value pairs.
package logging

import (
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
)

// Verbosity levels used with logger.V(...). INFO is the unconditioned
// level; DEBUG and TRACE are progressively chattier.
const (
	INFO  = 0
	DEBUG = 1
	TRACE = 2
)

// NewLogger builds a logr.Logger backed by zap at the given level
// ("debug", "trace", "info", "warn", "error"; unknown values fall back
// to info) and installs it as the controller-runtime logger.
func NewLogger(level string) logr.Logger {
	zapLevel := parseLevel(level)

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zapLog, err := cfg.Build()
	if err != nil {
		// Config is static; Build can only fail on invalid user paths.
		zapLog = zap.NewNop()
	}

	logger := zapr.NewLogger(zapLog)
	ctrl.SetLogger(logger)
	return logger
}

// NewTestLogger installs a development-mode logger for test suites.
func NewTestLogger() logr.Logger {
	zapLog, _ := zap.NewDevelopment()
	logger := zapr.NewLogger(zapLog)
	ctrl.SetLogger(logger)
	return logger
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		// zapr maps V(1) to zap level -1.
		return zapcore.Level(-DEBUG)
	case "trace":
		return zapcore.Level(-TRACE)
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
