// Package logging provides categorized structured logging for the parser
// engine. Each subsystem logs under its own category; categories can be
// toggled individually from config. Output goes through a shared zap core so
// the serve and parse paths emit the same format.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup and wiring
	CategoryStore    Category = "store"    // Key-value store operations
	CategoryCache    Category = "cache"    // Parser-code cache (versions, counters)
	CategorySandbox  Category = "sandbox"  // Execution backends
	CategoryTrials   Category = "trials"   // Version trial orchestration
	CategoryCodegen  Category = "codegen"  // Code generation and validation
	CategoryLLM      Category = "llm"      // LLM API calls
	CategoryAPI      Category = "api"      // HTTP surface
	CategoryPipeline Category = "pipeline" // Worker pool / job lifecycle
)

// Options controls logger construction. Zero value is a production logger at
// info level with every category enabled.
type Options struct {
	DebugMode  bool            // Enables debug level and development encoder
	Level      string          // "debug", "info", "warn", "error"
	Categories map[string]bool // nil means all enabled
	JSONFormat bool            // Structured JSON output instead of console
}

// Logger wraps a category-scoped zap sugared logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	enabled  bool
}

var (
	mu      sync.RWMutex
	root    *zap.Logger
	loggers = make(map[Category]*Logger)
	opts    Options
)

// Initialize builds the shared zap core. Safe to call more than once; later
// calls replace the core (used by tests to capture output).
func Initialize(o Options) error {
	cfg := zap.NewProductionConfig()
	if !o.JSONFormat {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	switch strings.ToLower(o.Level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	if o.DebugMode {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	logger, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	root = logger
	opts = o
	loggers = make(map[Category]*Logger)
	return nil
}

// ReplaceRoot swaps the underlying zap logger. Test hook.
func ReplaceRoot(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = l
	loggers = make(map[Category]*Logger)
}

// Get returns the logger for a category, creating it on first use.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	if root == nil {
		// Not initialized: fall back to a nop core so library use without
		// Initialize stays silent rather than panicking.
		root = zap.NewNop()
	}
	enabled := true
	if opts.Categories != nil {
		if v, ok := opts.Categories[string(category)]; ok {
			enabled = v
		}
	}
	l := &Logger{
		category: category,
		sugar:    root.Sugar().Named(string(category)),
		enabled:  enabled,
	}
	loggers[category] = l
	return l
}

// Sync flushes buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l == nil || !l.enabled {
		return
	}
	l.sugar.Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l == nil || !l.enabled {
		return
	}
	l.sugar.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l == nil || !l.enabled {
		return
	}
	l.sugar.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	if l == nil || !l.enabled {
		return
	}
	l.sugar.Errorf(format, args...)
}

// Convenience helpers mirror the categories used across the engine.

func Store(format string, args ...interface{})         { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{})    { Get(CategoryStore).Debug(format, args...) }
func Cache(format string, args ...interface{})         { Get(CategoryCache).Info(format, args...) }
func CacheDebug(format string, args ...interface{})    { Get(CategoryCache).Debug(format, args...) }
func Sandbox(format string, args ...interface{})       { Get(CategorySandbox).Info(format, args...) }
func SandboxDebug(format string, args ...interface{})  { Get(CategorySandbox).Debug(format, args...) }
func Trials(format string, args ...interface{})        { Get(CategoryTrials).Info(format, args...) }
func TrialsDebug(format string, args ...interface{})   { Get(CategoryTrials).Debug(format, args...) }
func Codegen(format string, args ...interface{})       { Get(CategoryCodegen).Info(format, args...) }
func CodegenDebug(format string, args ...interface{})  { Get(CategoryCodegen).Debug(format, args...) }
func LLM(format string, args ...interface{})           { Get(CategoryLLM).Info(format, args...) }
func LLMDebug(format string, args ...interface{})      { Get(CategoryLLM).Debug(format, args...) }
func Pipeline(format string, args ...interface{})      { Get(CategoryPipeline).Info(format, args...) }
func PipelineDebug(format string, args ...interface{}) { Get(CategoryPipeline).Debug(format, args...) }
func API(format string, args ...interface{})           { Get(CategoryAPI).Info(format, args...) }

// Fprintln writes a line to stderr regardless of configuration. Used for
// fatal startup failures before the logger is up.
func Fprintln(args ...interface{}) {
	fmt.Fprintln(os.Stderr, args...)
}
