// Package registry implements the instance registry (C8): creating and
// removing instances from configuration documents, allocating
// non-colliding (port, path) tuples, and exposing status snapshots for
// every managed instance.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/screencastd/screencastd/internal/config"
	"github.com/screencastd/screencastd/internal/hooks"
	"github.com/screencastd/screencastd/internal/instance"
	"github.com/screencastd/screencastd/internal/logger"
	"github.com/screencastd/screencastd/internal/observer"
	"github.com/screencastd/screencastd/internal/router"
	"github.com/screencastd/screencastd/internal/windowlocator"
)

// Registry owns every Instance created from a configuration document: it
// allocates ports, wires each instance to the shared router, and
// aggregates status.
type Registry struct {
	mu        sync.Mutex
	instances map[string]*instance.Instance
	ports     map[string]int // instance name -> allocated port

	basePort int
	loader   *config.Loader
	router   *router.Router
	locator  windowlocator.Locator
	obs      *observer.Registry
	hookMgr  *hooks.Manager
	log      *slog.Logger
}

// New returns an empty Registry. basePort seeds port allocation for
// configs that do not pin one.
func New(basePort int, loader *config.Loader, rt *router.Router, locator windowlocator.Locator, obs *observer.Registry, hookMgr *hooks.Manager) *Registry {
	return &Registry{
		instances: make(map[string]*instance.Instance),
		ports:     make(map[string]int),
		basePort:  basePort,
		loader:    loader,
		router:    rt,
		locator:   locator,
		obs:       obs,
		hookMgr:   hookMgr,
		log:       logger.Logger(),
	}
}

// Create loads configName via the loader, allocates a port when the
// document does not pin one, registers the instance's route, and adds it
// to the registry in the stopped state.
func (r *Registry) Create(configName string) (*instance.Instance, error) {
	cfg, err := r.loader.Load(configName)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[cfg.Name]; exists {
		return nil, fmt.Errorf("instance %s already registered", cfg.Name)
	}

	port := cfg.Server.Port
	if port == 0 {
		port = r.allocatePortLocked()
	}

	if r.router.Conflict(port, cfg.Server.Path, cfg.Name) {
		return nil, fmt.Errorf("instance %s: (port %d, path %s) already routed to a different instance", cfg.Name, port, cfg.Server.Path)
	}

	inst := instance.New(cfg, port, cfg.Server.Path, r.locator, r.obs, r.hookMgr)
	if err := r.router.AddRoute(port, cfg.Server.Path, cfg.Name); err != nil {
		return nil, err
	}

	r.instances[cfg.Name] = inst
	r.ports[cfg.Name] = port
	r.log.Info("instance_created", slog.String("instance", cfg.Name), slog.Int("port", port), slog.String("path", cfg.Server.Path))
	return inst, nil
}

// allocatePortLocked scans upward from basePort, skipping ports already
// held by the registry and ports that fail a bind probe. Must be called
// with r.mu held.
func (r *Registry) allocatePortLocked() int {
	held := make(map[int]bool, len(r.ports))
	for _, p := range r.ports {
		held[p] = true
	}

	for port := r.basePort; ; port++ {
		if held[port] {
			continue
		}
		if probeBind(port) {
			return port
		}
	}
}

func probeBind(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// Remove removes name from the registry. Fails if the instance is not
// stopped (§3's Lifecycle State invariant).
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[name]
	if !ok {
		return fmt.Errorf("instance %s not found", name)
	}
	if !inst.CanRemove() {
		return fmt.Errorf("instance %s: cannot remove while in state %s", name, inst.State())
	}

	r.router.RemoveRoute(inst.Port(), inst.Path())
	delete(r.instances, name)
	delete(r.ports, name)
	r.log.Info("instance_removed", slog.String("instance", name))
	return nil
}

// Start explicitly starts name.
func (r *Registry) Start(name string) error {
	inst, err := r.get(name)
	if err != nil {
		return err
	}
	return inst.Start()
}

// Stop stops name.
func (r *Registry) Stop(name string) error {
	inst, err := r.get(name)
	if err != nil {
		return err
	}
	return inst.Stop()
}

// Restart stops then starts name.
func (r *Registry) Restart(name string) error {
	if err := r.Stop(name); err != nil {
		return err
	}
	return r.Start(name)
}

// GetStatus returns the status snapshot for name.
func (r *Registry) GetStatus(name string) (observer.Snapshot, error) {
	inst, err := r.get(name)
	if err != nil {
		return observer.Snapshot{}, err
	}
	return inst.Status(), nil
}

// ListAll returns the status snapshot of every registered instance.
func (r *Registry) ListAll() []observer.Snapshot {
	r.mu.Lock()
	instances := make([]*instance.Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		instances = append(instances, inst)
	}
	r.mu.Unlock()

	snapshots := make([]observer.Snapshot, 0, len(instances))
	for _, inst := range instances {
		snapshots = append(snapshots, inst.Status())
	}
	return snapshots
}

// StopAll stops every instance, best-effort: a failure on one instance
// does not prevent the others from being asked to stop, matching the
// registry's stop_all collection semantics.
func (r *Registry) StopAll() []error {
	r.mu.Lock()
	instances := make([]*instance.Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		instances = append(instances, inst)
	}
	r.mu.Unlock()

	var errs []error
	for _, inst := range instances {
		if err := inst.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("instance %s: %w", inst.Name(), err))
		}
	}
	return errs
}

// LoadFromDirectory creates an instance for every config document
// discovered by the loader, collecting per-document errors without
// aborting the scan.
func (r *Registry) LoadFromDirectory(ctx context.Context) []error {
	names, err := r.loader.Discover()
	if err != nil {
		return []error{err}
	}

	var errs []error
	for _, name := range names {
		select {
		case <-ctx.Done():
			return append(errs, ctx.Err())
		default:
		}
		if _, err := r.Create(name); err != nil {
			errs = append(errs, fmt.Errorf("config %s: %w", name, err))
		}
	}
	return errs
}

func (r *Registry) get(name string) (*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[name]
	if !ok {
		return nil, fmt.Errorf("instance %s not found", name)
	}
	return inst, nil
}

// AdmitSubscriber implements router.SubscriberAdmitter: it hands an
// upgraded WebSocket connection to the named instance's subscriber_arrives
// event, wrapped to satisfy the subscriber sink contract. When the
// instance disconnects it, the read loop below feeds subscriber_leaves
// back to the instance so the deferred-stop timer can be armed.
func (r *Registry) AdmitSubscriber(name string, conn *websocket.Conn, remoteAddr string) error {
	inst, err := r.get(name)
	if err != nil {
		return err
	}

	id := newSubscriberID()
	sink := &wsSink{conn: conn}
	if err := inst.SubscriberArrives(id, sink); err != nil {
		return err
	}

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		inst.SubscriberLeaves(id)
	}()

	r.log.Info("subscriber_admitted", slog.String("instance", name), slog.String("subscriber_id", id), slog.String("remote_addr", remoteAddr))
	return nil
}

func newSubscriberID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// wsSink adapts a *websocket.Conn to the subscriber.Sink contract (binary
// frames, synchronous Send).
type wsSink struct {
	conn *websocket.Conn
}

func (w *wsSink) Send(data []byte) error {
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsSink) Close() error {
	return w.conn.Close()
}
