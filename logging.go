/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the process logger. Console output uses zap's development
// encoder and json output its production encoder; --verbose lowers the level
// to debug in either case.
func newLogger(cfg *Config) (*zap.Logger, error) {
	var zapCfg zap.Config

	switch cfg.logFormat {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.logFormat)
	}

	level := zapcore.InfoLevel
	if cfg.verbose {
		level = zapcore.DebugLevel
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.DisableStacktrace = !cfg.verbose

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	return logger.With(zap.String("version", releaseVersion)), nil
}

// logServed records a completed plain HTTP response.
func logServed(logger *zap.Logger, what string, r *http.Request, written int, started time.Time) {
	logger.Debug("served "+what,
		zap.String("size", humanReadableSize(int64(written))),
		zap.String("remote", realIP(r)),
		zap.Duration("elapsed", time.Since(started).Round(time.Microsecond)),
	)
}
