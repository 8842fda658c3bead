// Package logging provides category-scoped zap loggers for SnapVault.
// Each subsystem logs through a named child of a single root logger;
// categories can be disabled individually via config.
package logging

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"snapvault/internal/config"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot        Category = "boot"
	CategoryVault       Category = "vault"
	CategoryCatalog     Category = "catalog"
	CategorySeal        Category = "seal"
	CategoryMetrics     Category = "metrics"
	CategoryServer      Category = "server"
	CategoryMaintenance Category = "maintenance"
)

var (
	mu      sync.RWMutex
	root    *zap.Logger
	enabled map[Category]bool // nil means all categories enabled
	file    *os.File
)

// Init builds the root logger from config. Safe to call more than once;
// later calls replace the root logger.
func Init(cfg config.LoggingConfig) error {
	level := zapcore.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info", "":
		level = zapcore.InfoLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if cfg.Format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	sink := zapcore.Lock(os.Stderr)
	var logFile *os.File
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logFile = f
		sink = zapcore.Lock(f)
	}

	core := zapcore.NewCore(enc, sink, level)

	var cats map[Category]bool
	if len(cfg.Categories) > 0 {
		cats = make(map[Category]bool, len(cfg.Categories))
		for _, c := range cfg.Categories {
			cats[Category(c)] = true
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		_ = file.Close()
	}
	file = logFile
	root = zap.New(core)
	enabled = cats
	return nil
}

// For returns the logger for a category. Disabled categories get a nop
// logger; calling For before Init also returns a nop logger.
func For(category Category) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if root == nil {
		return zap.NewNop()
	}
	if enabled != nil && !enabled[category] {
		return zap.NewNop()
	}
	return root.Named(string(category))
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}
