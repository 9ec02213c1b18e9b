// Package logging provides config-driven categorized file-based logging
// for zenus. Logs are written to <state-root>/logs/debug/ with separate
// files per category. When debug mode is off, every call is a no-op.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system.
type Category string

const (
	CategoryBoot       Category = "boot"       // Boot/initialization
	CategorySession    Category = "session"    // Session lifecycle, transactions
	CategoryPlan       Category = "plan"       // Dependency analysis, level dispatch
	CategoryExec       Category = "exec"       // Step execution
	CategoryGoal       Category = "goal"       // Iterative goal loop
	CategoryLedger     Category = "ledger"     // Action ledger, rollback
	CategoryFailure    Category = "failure"    // Failure store
	CategoryResilience Category = "resilience" // Breakers, budgets, fallbacks
	CategoryCache      Category = "cache"      // Intent cache
	CategoryProvider   Category = "provider"   // LLM provider calls
	CategoryConfig     Category = "config"     // Config load/reload
	CategoryTools      Category = "tools"      // Tool registry and handlers
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	debugMode bool
	logLevel  = LevelInfo
	stateMu   sync.RWMutex
)

// Initialize sets up the logging directory. Called once at session open
// with the state root; debug=false makes the whole package a no-op.
func Initialize(stateRoot string, debug bool, level string) error {
	stateMu.Lock()
	defer stateMu.Unlock()

	debugMode = debug
	switch level {
	case "debug":
		logLevel = LevelDebug
	case "info":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}

	if !debug {
		return nil
	}
	if stateRoot == "" {
		return fmt.Errorf("state root required")
	}
	logsDir = filepath.Join(stateRoot, "logs", "debug")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	Get(CategoryBoot).Info("=== zenus logging initialized (level=%s) ===", level)
	return nil
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return debugMode
}

// Get returns (or creates) a logger for the given category. Returns a
// no-op logger if debug mode is disabled.
func Get(category Category) *Logger {
	if !IsDebugMode() || logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message (only if level <= debug).
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message (always logged if the logger exists).
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// Convenience functions; no-ops when debug mode is disabled.

func Boot(format string, args ...interface{})    { Get(CategoryBoot).Info(format, args...) }
func Session(format string, args ...interface{}) { Get(CategorySession).Info(format, args...) }
func SessionDebug(format string, args ...interface{}) {
	Get(CategorySession).Debug(format, args...)
}
func Plan(format string, args ...interface{})      { Get(CategoryPlan).Info(format, args...) }
func PlanDebug(format string, args ...interface{}) { Get(CategoryPlan).Debug(format, args...) }
func Exec(format string, args ...interface{})      { Get(CategoryExec).Info(format, args...) }
func ExecDebug(format string, args ...interface{}) { Get(CategoryExec).Debug(format, args...) }
func Goal(format string, args ...interface{})      { Get(CategoryGoal).Info(format, args...) }
func GoalDebug(format string, args ...interface{}) { Get(CategoryGoal).Debug(format, args...) }
func Ledger(format string, args ...interface{})    { Get(CategoryLedger).Info(format, args...) }
func LedgerDebug(format string, args ...interface{}) {
	Get(CategoryLedger).Debug(format, args...)
}
func Failure(format string, args ...interface{}) { Get(CategoryFailure).Info(format, args...) }
func Resilience(format string, args ...interface{}) {
	Get(CategoryResilience).Info(format, args...)
}
func ResilienceDebug(format string, args ...interface{}) {
	Get(CategoryResilience).Debug(format, args...)
}
func Cache(format string, args ...interface{})    { Get(CategoryCache).Info(format, args...) }
func Provider(format string, args ...interface{}) { Get(CategoryProvider).Info(format, args...) }
func ProviderDebug(format string, args ...interface{}) {
	Get(CategoryProvider).Debug(format, args...)
}
func Config(format string, args ...interface{}) { Get(CategoryConfig).Info(format, args...) }
func Tools(format string, args ...interface{})  { Get(CategoryTools).Info(format, args...) }
func ToolsDebug(format string, args ...interface{}) {
	Get(CategoryTools).Debug(format, args...)
}

// Timer helps measure operation duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}
