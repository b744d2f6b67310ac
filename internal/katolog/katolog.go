// Package katolog provides structured logging shared across the engine.
//
// Every package that mutates shared state logs through a logger obtained
// here instead of importing log/slog directly. Those packages call For
// in a package-level var, so their loggers are fixed at init time; a
// later Configure call affects only loggers obtained after it.
package katolog

import (
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.RWMutex
	current *slog.Logger
)

// Default returns the process-wide logger, lazily created with a slog
// JSON handler writing to stderr the first time it's asked for.
func Default() *slog.Logger {
	mu.RLock()
	if current != nil {
		defer mu.RUnlock()
		return current
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		current = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return current
}

// Configure replaces the process-wide logger returned by later Default
// and For calls. Nothing in this repository calls it.
func Configure(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	current = l
}

// For returns a logger tagged with a component name, e.g. katolog.For("session").
func For(component string) *slog.Logger {
	return Default().With("component", component)
}
