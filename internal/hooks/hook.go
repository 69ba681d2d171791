package hooks

import "context"

// Hook represents a handler invoked when an instance lifecycle event
// occurs.
type Hook interface {
	Execute(ctx context.Context, event Event) error
	Type() string
	ID() string
}

// Config configures the hook manager.
type Config struct {
	// Timeout is a duration string (default: 30s). NewManager only checks
	// that it parses and logs a warning if not; it does not bound hook
	// executions, which are limited by each hook's own timeout.
	Timeout string `koanf:"timeout"`
	// Concurrency bounds the number of hooks executing at once (default: 10).
	Concurrency int `koanf:"concurrency"`
	// StdioFormat enables structured stdio output: "json", "env", or "".
	StdioFormat string `koanf:"stdio_format"`
}

// DefaultConfig returns sensible hook manager defaults.
func DefaultConfig() Config {
	return Config{Timeout: "30s", Concurrency: 10}
}
