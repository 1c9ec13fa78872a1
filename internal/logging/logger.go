// Package logging provides categorized logging for the delegation
// core, built on zap. Each component logs through its own named
// logger; category helpers keep call sites terse. Tests and embedders
// that want silence call SetNop.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a component logger.
type Category string

const (
	CategoryBoot         Category = "boot"         // Startup, config loading
	CategoryRegistry     Category = "registry"     // Capability registry
	CategoryRouting      Category = "routing"      // Delegation router decisions
	CategoryProtocol     Category = "protocol"     // Dispatch, health, circuit breaker
	CategoryOrchestrator Category = "orchestrator" // Tiered orchestration
	CategoryAudit        Category = "audit"        // Audit pipeline
	CategoryEvents       Category = "events"       // Event bus
	CategoryStore        Category = "store"        // Persistence
)

var (
	mu      sync.RWMutex
	base    = zap.NewNop()
	sugared = map[Category]*zap.SugaredLogger{}
)

// Init installs the process-wide base logger. debug selects the
// development config with debug level enabled; otherwise the
// production config is used.
func Init(debug bool) error {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	Set(logger)
	return nil
}

// Set replaces the base logger. Named sub-loggers are rebuilt lazily.
func Set(logger *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = logger
	sugared = map[Category]*zap.SugaredLogger{}
}

// SetNop silences all logging. Used by tests.
func SetNop() { Set(zap.NewNop()) }

// Sync flushes buffered log entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return base.Sync()
}

// Get returns the sugared logger for a category.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if s, ok := sugared[cat]; ok {
		mu.RUnlock()
		return s
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if s, ok := sugared[cat]; ok {
		return s
	}
	s := base.Named(string(cat)).WithOptions(zap.AddCallerSkip(1)).Sugar()
	sugared[cat] = s
	return s
}

// Per-category printf helpers, matching call sites like
// logging.Orchestrator("phase %s done", id).

func Boot(format string, args ...any)      { Get(CategoryBoot).Infof(format, args...) }
func BootDebug(format string, args ...any) { Get(CategoryBoot).Debugf(format, args...) }

func Registry(format string, args ...any)      { Get(CategoryRegistry).Infof(format, args...) }
func RegistryDebug(format string, args ...any) { Get(CategoryRegistry).Debugf(format, args...) }

func Routing(format string, args ...any)      { Get(CategoryRouting).Infof(format, args...) }
func RoutingDebug(format string, args ...any) { Get(CategoryRouting).Debugf(format, args...) }

func Protocol(format string, args ...any)      { Get(CategoryProtocol).Infof(format, args...) }
func ProtocolDebug(format string, args ...any) { Get(CategoryProtocol).Debugf(format, args...) }
func ProtocolWarn(format string, args ...any)  { Get(CategoryProtocol).Warnf(format, args...) }

func Orchestrator(format string, args ...any)      { Get(CategoryOrchestrator).Infof(format, args...) }
func OrchestratorDebug(format string, args ...any) { Get(CategoryOrchestrator).Debugf(format, args...) }
func OrchestratorWarn(format string, args ...any)  { Get(CategoryOrchestrator).Warnf(format, args...) }

func Audit(format string, args ...any)      { Get(CategoryAudit).Infof(format, args...) }
func AuditDebug(format string, args ...any) { Get(CategoryAudit).Debugf(format, args...) }

func Events(format string, args ...any)      { Get(CategoryEvents).Infof(format, args...) }
func EventsDebug(format string, args ...any) { Get(CategoryEvents).Debugf(format, args...) }
func EventsWarn(format string, args ...any)  { Get(CategoryEvents).Warnf(format, args...) }

func Store(format string, args ...any)      { Get(CategoryStore).Infof(format, args...) }
func StoreDebug(format string, args ...any) { Get(CategoryStore).Debugf(format, args...) }
