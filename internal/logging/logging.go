// Package logging provides categorized zap loggers for forgeloop subsystems.
// Every component logs through a named child of one shared logger, so
// output can be filtered per subsystem. Before Init is called all loggers
// are no-ops, which keeps library code free of nil checks.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a logging subsystem.
type Category string

const (
	CategoryOrchestrator Category = "orchestrator"
	CategoryGap          Category = "gap"
	CategorySynth        Category = "synth"
	CategoryRegistry     Category = "registry"
	CategoryExecutor     Category = "executor"
	CategoryConfidence   Category = "confidence"
	CategoryFeedback     Category = "feedback"
	CategoryLedger       Category = "ledger"
	CategoryOracle       Category = "oracle"
)

var (
	mu   sync.RWMutex
	root = zap.NewNop()
)

// Init installs the process-wide root logger. Verbose enables debug level.
func Init(verbose bool) error {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	SetRoot(logger)
	return nil
}

// SetRoot replaces the root logger. Tests use this with zaptest loggers.
func SetRoot(logger *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = zap.NewNop()
	}
	root = logger
}

// Get returns the named logger for a subsystem.
func Get(cat Category) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Named(string(cat))
}

// Sync flushes buffered log entries. Called once at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
