// Package logging provides category-scoped structured logging for aegis.
// Every subsystem logs through a named category so that operators can raise
// or lower verbosity per concern without redeploying.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"
	CategoryBus       Category = "bus"
	CategoryConfig    Category = "config"
	CategoryMemory    Category = "memory"
	CategoryVector    Category = "vector"
	CategoryCAG       Category = "cag"
	CategoryPipeline  Category = "pipeline"
	CategoryReasoning Category = "reasoning"
	CategoryTools     Category = "tools"
	CategoryLLM       Category = "llm"
	CategoryHealth    Category = "health"
	CategoryLearning  Category = "learning"
	CategoryAuth      Category = "auth"
	CategoryAudit     Category = "audit"
	CategorySecure    Category = "secure"
)

var (
	mu      sync.RWMutex
	root    *zap.Logger
	loggers = make(map[Category]*zap.Logger)
)

// Options controls logger construction.
type Options struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// Development switches to the console encoder with human timestamps.
	Development bool
	// OutputPath appends a file sink in addition to stderr when non-empty.
	OutputPath string
}

// Initialize builds the shared zap core. Safe to call more than once; the
// last call wins. Category loggers created earlier keep writing through the
// previous core until re-fetched.
func Initialize(opts Options) error {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.Set(opts.Level); err != nil {
			return err
		}
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	if opts.OutputPath != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, opts.OutputPath)
	}

	logger, err := cfg.Build(zap.AddCallerSkip(0))
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	root = logger
	loggers = make(map[Category]*zap.Logger)
	return nil
}

// Get returns the logger for a category, creating it on first use.
// Falls back to a no-op logger when Initialize has not run (tests).
func Get(cat Category) *zap.Logger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	base := root
	if base == nil {
		base = zap.NewNop()
	}
	l := base.Named(string(cat))
	loggers[cat] = l
	return l
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}

// Hostname is logged at boot for correlation across nodes.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
