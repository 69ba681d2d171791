package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/screencastd/screencastd/internal/config"
	"github.com/screencastd/screencastd/internal/hooks"
	"github.com/screencastd/screencastd/internal/logger"
	"github.com/screencastd/screencastd/internal/observer"
	"github.com/screencastd/screencastd/internal/registry"
	"github.com/screencastd/screencastd/internal/router"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		// parse errors were printed by the flag package; value validation
		// errors from parseFlags are not printed
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	if info, err := os.Stat(cfg.configDir); err != nil || !info.IsDir() {
		log.Error("config directory does not exist", "config_dir", cfg.configDir)
		os.Exit(1)
	}

	hookMgr := buildHookManager(cfg)
	obs := observer.New()
	rt := router.New()
	loader := config.NewLoader(cfg.configDir, cfg.configDir)

	reg := registry.New(cfg.basePort, loader, rt, nil, obs, hookMgr)

	if errs := reg.LoadFromDirectory(context.Background()); len(errs) > 0 {
		for _, e := range errs {
			log.Error("config load error", "error", e)
		}
	}

	listeners := startListeners(reg, rt, log)

	log.Info("screencastd started", "config_dir", cfg.configDir, "base_port", cfg.basePort, "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for _, l := range listeners {
			_ = l.Shutdown()
		}
		for _, err := range reg.StopAll() {
			log.Error("instance stop error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("screencastd stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after shutdown timeout")
		os.Exit(1)
	}
}

// startListeners creates one router.Listener per distinct port among the
// registry's loaded instances and serves each in its own goroutine.
func startListeners(reg *registry.Registry, rt *router.Router, log *slog.Logger) []*router.Listener {
	ports := map[int]bool{}
	for _, snap := range reg.ListAll() {
		ports[snap.Port] = true
	}

	listeners := make([]*router.Listener, 0, len(ports))
	var wg sync.WaitGroup
	for port := range ports {
		l := router.NewListener(port, rt, reg)
		listeners = append(listeners, l)
		wg.Add(1)
		go func(l *router.Listener, port int) {
			defer wg.Done()
			if err := l.Serve(); err != nil {
				log.Error("listener exited with error", "port", port, "error", err)
			}
		}(l, port)
	}
	return listeners
}

// buildHookManager wires the -hook-script/-hook-webhook/-hook-stdio-format
// flags into a hooks.Manager, reusing the event-type vocabulary in
// internal/hooks.
func buildHookManager(cfg *cliConfig) *hooks.Manager {
	hookCfg := hooks.DefaultConfig()
	m := hooks.NewManager(hookCfg, logger.Logger())

	for _, assignment := range cfg.hookScripts {
		eventType, path, ok := splitAssignment(assignment)
		if !ok {
			continue
		}
		_ = m.RegisterHook(eventType, hooks.NewShellHook(path, path, 30*time.Second))
	}
	for _, assignment := range cfg.hookWebhooks {
		eventType, url, ok := splitAssignment(assignment)
		if !ok {
			continue
		}
		_ = m.RegisterHook(eventType, hooks.NewWebhookHook(url, url, 30*time.Second))
	}
	if cfg.hookStdioFormat != "" {
		_ = m.EnableStdioOutput(cfg.hookStdioFormat)
	}

	return m
}

func splitAssignment(assignment string) (hooks.EventType, string, bool) {
	parts := strings.SplitN(assignment, "=", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return hooks.EventType(parts[0]), parts[1], true
}
