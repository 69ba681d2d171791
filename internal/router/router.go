// Package router implements the multi-instance route table (C7): which
// instance owns which (port, path) pair, and the HTTP/WebSocket upgrade
// surface that hands an accepted socket to the matched instance.
package router

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/screencastd/screencastd/internal/errors"
	"github.com/screencastd/screencastd/internal/logger"
)

// routeKey is the case-folded (port, path) pair used as the table's
// primary key (§4.7/§8 invariant 6: path comparison is case-insensitive,
// an intentional deviation from the original source).
type routeKey struct {
	port int
	path string
}

// Router maps (port, path) to an instance name, with a secondary
// port-to-paths index for per-port route listing.
type Router struct {
	mu     sync.RWMutex
	routes map[routeKey]string
	byPort map[int]map[string]string // port -> lowercase path -> original-case path
	log    *slog.Logger
}

// New returns an empty Router.
func New() *Router {
	return &Router{
		routes: make(map[routeKey]string),
		byPort: make(map[int]map[string]string),
		log:    logger.Logger(),
	}
}

// AddRoute binds name to (port, path). Fails with a RouteConflict if the
// (port, path) pair is already bound to a different instance.
func (r *Router) AddRoute(port int, path, name string) error {
	key := routeKey{port: port, path: strings.ToLower(path)}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.routes[key]; ok && existing != name {
		return errors.NewRouteConflict(port, path)
	}

	r.routes[key] = name
	if r.byPort[port] == nil {
		r.byPort[port] = make(map[string]string)
	}
	r.byPort[port][key.path] = path
	return nil
}

// RemoveRoute unbinds (port, path), if present.
func (r *Router) RemoveRoute(port int, path string) {
	key := routeKey{port: port, path: strings.ToLower(path)}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.routes, key)
	if paths, ok := r.byPort[port]; ok {
		delete(paths, key.path)
		if len(paths) == 0 {
			delete(r.byPort, port)
		}
	}
}

// Lookup returns the instance name bound to (port, path), case-insensitive.
func (r *Router) Lookup(port int, path string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.routes[routeKey{port: port, path: strings.ToLower(path)}]
	return name, ok
}

// PathsForPort returns the original-case paths registered on port.
func (r *Router) PathsForPort(port int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	paths, ok := r.byPort[port]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(paths))
	for _, original := range paths {
		out = append(out, original)
	}
	return out
}

// ClearPort removes every route bound to port.
func (r *Router) ClearPort(port int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.routes {
		if key.port == port {
			delete(r.routes, key)
		}
	}
	delete(r.byPort, port)
}

// Conflict reports whether (port, path) is already owned by an instance
// other than exclude.
func (r *Router) Conflict(port int, path, exclude string) bool {
	name, ok := r.Lookup(port, path)
	return ok && name != exclude
}

// SubscriberAdmitter is the callback the router invokes once a WebSocket
// upgrade has matched a route: the registry/instance layer decides whether
// to admit the subscriber.
type SubscriberAdmitter interface {
	AdmitSubscriber(instanceName string, conn *websocket.Conn, remoteAddr string) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Listener is one per-port gin.Engine serving the WebSocket upgrade
// surface and a health endpoint for the single port it was created for.
// Adding a route for a new port does not create a Listener; the caller
// creates one per port it wants served.
type Listener struct {
	port     int
	engine   *gin.Engine
	server   *http.Server
	router   *Router
	admitter SubscriberAdmitter
	log      *slog.Logger
}

// NewListener returns a Listener for port, wired to router and admitter.
func NewListener(port int, router *Router, admitter SubscriberAdmitter) *Listener {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	l := &Listener{
		port:     port,
		engine:   engine,
		router:   router,
		admitter: admitter,
		log:      logger.Logger(),
	}

	engine.GET("/healthz", l.handleHealth)
	engine.NoRoute(l.handleUpgrade)

	l.server = &http.Server{Handler: engine}
	return l
}

func (l *Listener) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleUpgrade matches the request path against the route table and
// upgrades to a WebSocket only on a hit; an unmatched path is rejected
// with 404 without ever upgrading the connection.
func (l *Listener) handleUpgrade(c *gin.Context) {
	name, ok := l.router.Lookup(l.port, c.Request.URL.Path)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no route for path"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.log.Warn("websocket_upgrade_failed", slog.String("path", c.Request.URL.Path), slog.Any("error", err))
		return
	}

	if l.admitter == nil {
		_ = conn.Close()
		return
	}
	if err := l.admitter.AdmitSubscriber(name, conn, c.Request.RemoteAddr); err != nil {
		l.log.Warn("subscriber_admission_failed", slog.String("instance", name), slog.Any("error", err))
		_ = conn.Close()
	}
}

// Serve blocks, listening on the configured port until Shutdown is called.
func (l *Listener) Serve() error {
	l.server.Addr = addrForPort(l.port)
	err := l.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the listener.
func (l *Listener) Shutdown() error {
	return l.server.Close()
}

func addrForPort(port int) string {
	return ":" + strconv.Itoa(port)
}
