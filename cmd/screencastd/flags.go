package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliConfig holds user-supplied flag values prior to validation.
type cliConfig struct {
	configDir   string
	basePort    int
	logLevel    string
	showVersion bool

	hookScripts     []string // event_type=script_path pairs
	hookWebhooks    []string // event_type=webhook_url pairs
	hookStdioFormat string   // "json", "env", or "" (disabled)
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("screencastd", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	var hookScripts stringSliceFlag
	var hookWebhooks stringSliceFlag

	fs.StringVar(&cfg.configDir, "config-dir", "./configs", "Directory of per-instance JSON configuration documents")
	fs.IntVar(&cfg.basePort, "base-port", 8765, "Base port for instances that do not pin one")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.Var(&hookScripts, "hook-script", "Hook script in format event_type=script_path (can be specified multiple times)")
	fs.Var(&hookWebhooks, "hook-webhook", "Hook webhook in format event_type=webhook_url (can be specified multiple times)")
	fs.StringVar(&cfg.hookStdioFormat, "hook-stdio-format", "", "Enable structured stdio output: json|env (empty=disabled)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.hookScripts = hookScripts
	cfg.hookWebhooks = hookWebhooks

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	if cfg.hookStdioFormat != "" && cfg.hookStdioFormat != "json" && cfg.hookStdioFormat != "env" {
		return nil, fmt.Errorf("invalid hook-stdio-format %q, must be 'json' or 'env'", cfg.hookStdioFormat)
	}

	for _, assignment := range cfg.hookScripts {
		if err := validateHookAssignment("hook-script", assignment); err != nil {
			return nil, err
		}
	}
	for _, assignment := range cfg.hookWebhooks {
		if err := validateHookAssignment("hook-webhook", assignment); err != nil {
			return nil, err
		}
	}

	if cfg.basePort <= 0 || cfg.basePort > 65535 {
		return nil, fmt.Errorf("base-port must be between 1 and 65535, got %d", cfg.basePort)
	}

	return cfg, nil
}

// stringSliceFlag implements flag.Value for flags specified multiple times.
type stringSliceFlag []string

func (s *stringSliceFlag) String() string { return strings.Join(*s, ", ") }

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// validateHookAssignment validates an event_type=value flag assignment.
func validateHookAssignment(flagName, assignment string) error {
	parts := strings.SplitN(assignment, "=", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid %s format %q, expected event_type=value", flagName, assignment)
	}
	return nil
}
