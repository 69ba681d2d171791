package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// StdioHook writes event data to stderr in "json" or "env" format.
type StdioHook struct {
	id     string
	format string
	output *os.File
}

// NewStdioHook returns a StdioHook writing to stderr.
func NewStdioHook(id, format string) *StdioHook {
	return &StdioHook{id: id, format: format, output: os.Stderr}
}

// SetOutput overrides the output destination (default: stderr).
func (h *StdioHook) SetOutput(f *os.File) *StdioHook { h.output = f; return h }

// Execute writes event in the configured format.
func (h *StdioHook) Execute(ctx context.Context, event Event) error {
	switch h.format {
	case "json":
		return h.outputJSON(event)
	case "env":
		return h.outputEnv(event)
	default:
		return fmt.Errorf("stdio hook %s: unsupported format %q", h.id, h.format)
	}
}

// Type returns "stdio".
func (h *StdioHook) Type() string { return "stdio" }

// ID returns the hook's configured id.
func (h *StdioHook) ID() string { return h.id }

func (h *StdioHook) outputJSON(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("stdio hook %s: marshal: %w", h.id, err)
	}
	_, err = fmt.Fprintf(h.output, "SCREENCASTD_EVENT: %s\n", data)
	return err
}

func (h *StdioHook) outputEnv(event Event) error {
	lines := []string{
		"# screencastd event: " + string(event.Type),
		fmt.Sprintf("SCREENCASTD_EVENT_TYPE=%s", event.Type),
		fmt.Sprintf("SCREENCASTD_TIMESTAMP=%d", event.Timestamp),
	}
	if event.Instance != "" {
		lines = append(lines, "SCREENCASTD_INSTANCE="+event.Instance)
	}
	if event.SubscriberID != "" {
		lines = append(lines, "SCREENCASTD_SUBSCRIBER_ID="+event.SubscriberID)
	}
	for key, value := range event.Data {
		lines = append(lines, "SCREENCASTD_"+strings.ToUpper(key)+"="+fmt.Sprintf("%v", value))
	}
	lines = append(lines, "")

	for _, line := range lines {
		if _, err := fmt.Fprintln(h.output, line); err != nil {
			return fmt.Errorf("stdio hook %s: %w", h.id, err)
		}
	}
	return nil
}
