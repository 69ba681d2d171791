package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/screencastd/screencastd/internal/errors"
	"github.com/screencastd/screencastd/internal/logger"
)

// envPrefix mirrors the ambient stack's env var convention; per-field
// overrides are opt-in since most operators configure entirely via JSON.
const envPrefix = "SCREENCASTD"

// Loader reads one instance's JSON configuration document, keyed by its
// file name, and produces a validated InstanceConfig.
type Loader struct {
	configDir   string
	projectRoot string
}

// NewLoader returns a Loader rooted at configDir (one JSON file per
// instance) resolving relative paths against projectRoot.
func NewLoader(configDir, projectRoot string) *Loader {
	return &Loader{configDir: configDir, projectRoot: projectRoot}
}

// Load reads <configDir>/<name>.json, applies defaults, validates, and
// returns the typed configuration.
func (l *Loader) Load(name string) (*InstanceConfig, error) {
	path := filepath.Join(l.configDir, name+".json")

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), json.Parser()); err != nil {
		return nil, errors.NewConfigValidationError("file", fmt.Errorf("reading %s: %w", path, err))
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: envPrefix + "_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.TrimPrefix(key, envPrefix+"_")
			return strings.ReplaceAll(strings.ToLower(key), "_", "."), value
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, errors.NewConfigValidationError("env", fmt.Errorf("loading environment overrides: %w", err))
	}

	var cfg InstanceConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.NewConfigValidationError("document", fmt.Errorf("unmarshaling %s: %w", path, err))
	}
	cfg.Name = name

	cfg.ApplyDefaults(l.projectRoot)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Discover lists instance names found as *.json files directly under
// configDir (load-configs-from-directory, §6).
func (l *Loader) Discover() ([]string, error) {
	entries, err := os.ReadDir(l.configDir)
	if err != nil {
		return nil, fmt.Errorf("reading config directory %s: %w", l.configDir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	return names, nil
}

// WatchFunc is invoked with the instance name whose document changed.
type WatchFunc func(name string)

// Watcher observes configDir for created/modified/removed *.json documents
// and invokes a callback with the affected instance name once per fsnotify
// event; events are not debounced.
type Watcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	log     *slog.Logger
}

// NewWatcher starts watching configDir. Call Close when done.
func NewWatcher(configDir string, onChange WatchFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config directory watcher: %w", err)
	}
	if err := fw.Add(configDir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watching config directory %s: %w", configDir, err)
	}

	w := &Watcher{watcher: fw, log: logger.Logger()}

	go func() {
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(ev.Name, ".json") {
					continue
				}
				name := strings.TrimSuffix(filepath.Base(ev.Name), ".json")
				onChange(name)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.log.Error("config_watch_error", slog.Any("error", err))
			}
		}
	}()

	return w, nil
}

// Close stops the directory watch.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watcher.Close()
}
