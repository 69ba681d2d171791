// Package instance implements the per-instance lifecycle state machine
// (C6): it bridges subscriber arrivals to encoder starts, schedules the
// deferred shutdown after the last subscriber leaves, and recovers from
// encoder crashes up to the crash ledger's threshold.
package instance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/screencastd/screencastd/internal/config"
	"github.com/screencastd/screencastd/internal/container"
	"github.com/screencastd/screencastd/internal/crashledger"
	"github.com/screencastd/screencastd/internal/encoder"
	screenerrors "github.com/screencastd/screencastd/internal/errors"
	"github.com/screencastd/screencastd/internal/fanout"
	"github.com/screencastd/screencastd/internal/hooks"
	"github.com/screencastd/screencastd/internal/logger"
	"github.com/screencastd/screencastd/internal/observer"
	"github.com/screencastd/screencastd/internal/sourcecmd"
	"github.com/screencastd/screencastd/internal/subscriber"
	"github.com/screencastd/screencastd/internal/windowlocator"
)

// State is one of the five lifecycle states in §4.6.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// defaultMaxGOP bounds the closed-GOP deque; the configuration document
// does not expose it (§6), so every instance uses the same conservative
// default.
const defaultMaxGOP = 2

// readyWaitTimeout bounds how long a late subscriber waits for the cache
// to become ready before being admitted to the live stream regardless
// (§5, "Wait-for-cache-ready on late joiner").
const readyWaitTimeout = 10 * time.Second

// Instance is one fully independent streaming pipeline.
type Instance struct {
	name string
	cfg  *config.InstanceConfig
	port int
	path string

	locator windowlocator.Locator
	obs     *observer.Registry
	hookMgr *hooks.Manager
	log     *slog.Logger

	subs *subscriber.Set

	mu           sync.Mutex
	state        State
	errorMessage string
	startTime    time.Time

	supervisor   *encoder.Supervisor
	demux        *container.Demuxer
	fanoutCancel context.CancelFunc

	ledger            *crashledger.Ledger
	deferredStopTimer *time.Timer
}

// New returns a stopped Instance for cfg, bound to the given (port, path).
// locator, obs, and hookMgr may be nil.
func New(cfg *config.InstanceConfig, port int, path string, locator windowlocator.Locator, obs *observer.Registry, hookMgr *hooks.Manager) *Instance {
	name := cfg.Name
	return &Instance{
		name:    name,
		cfg:     cfg,
		port:    port,
		path:    path,
		locator: locator,
		obs:     obs,
		hookMgr: hookMgr,
		log:     logger.WithInstance(logger.Logger(), name),
		subs:    subscriber.New(name),
		state:   StateStopped,
		ledger:  crashledger.New(name, cfg.Process.CrashThreshold, time.Duration(cfg.Process.CrashWindow)*time.Second),
	}
}

// Name returns the instance's unique name.
func (i *Instance) Name() string { return i.name }

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Port and Path return the instance's assigned route.
func (i *Instance) Port() int    { return i.port }
func (i *Instance) Path() string { return i.path }

// Status returns the external status snapshot (§6).
func (i *Instance) Status() observer.Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()

	snap := observer.Snapshot{
		Name:        i.name,
		State:       string(i.state),
		Port:        i.port,
		Path:        i.path,
		SourceType:  i.cfg.Source.Type,
		ClientCount: i.subs.Count(),
		VideoCodec:  i.cfg.FFmpeg.VideoCodec,
		AudioCodec:  i.cfg.FFmpeg.AudioCodec,
		Bitrate:     i.cfg.FFmpeg.Bitrate,
		Framerate:   i.cfg.FFmpeg.Framerate,
	}
	if i.state == StateRunning {
		uptime := time.Since(i.startTime).Seconds()
		snap.UptimeSeconds = &uptime
	}
	if i.errorMessage != "" {
		msg := i.errorMessage
		snap.ErrorMessage = &msg
	}
	return snap
}

// Start explicitly starts a stopped instance without requiring a
// subscriber (the registry's start/restart commands use this instead of
// manufacturing a synthetic subscriber). A no-op if already starting or
// running.
func (i *Instance) Start() error {
	i.mu.Lock()
	if i.state != StateStopped {
		i.mu.Unlock()
		return nil
	}
	i.cancelDeferredStopLocked()
	i.state = StateStarting
	i.mu.Unlock()

	return i.spawnSession(context.Background())
}

// SubscriberArrives handles the subscriber_arrives event: first-subscriber
// optimization when stopped, late-join replay when already running, and a
// bounded wait when still starting.
func (i *Instance) SubscriberArrives(id string, sink subscriber.Sink) error {
	i.mu.Lock()
	state := i.state
	i.cancelDeferredStopLocked()

	switch state {
	case StateStopped:
		i.subs.Add(id, sink)
		i.state = StateStarting
		i.mu.Unlock()

		if err := i.spawnSession(context.Background()); err != nil {
			i.subs.Remove(id)
			return err
		}
		return nil

	case StateRunning, StateStarting:
		i.mu.Unlock()
		return i.admitLateSubscriber(id, sink)

	default:
		i.mu.Unlock()
		return fmt.Errorf("instance %s: cannot accept a subscriber in state %s", i.name, state)
	}
}

// admitLateSubscriber waits (bounded) for the cache to become ready,
// flushes the replay directly to sink, and only then registers sink in
// the broadcast set — guaranteeing no live frame precedes the replay.
func (i *Instance) admitLateSubscriber(id string, sink subscriber.Sink) error {
	deadline := time.Now().Add(readyWaitTimeout)
	for {
		i.mu.Lock()
		demux := i.demux
		running := i.state == StateRunning
		i.mu.Unlock()

		if demux != nil && demux.Ready() {
			if replay := demux.InitialReplay(); replay != nil {
				if err := sink.Send(replay); err != nil {
					return screenerrors.NewSubscriberSendFailure(id, err)
				}
			}
			break
		}
		if running && time.Now().After(deadline) {
			i.log.Warn("late_subscriber_admitted_without_replay", slog.String("subscriber_id", id))
			break
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	i.subs.Add(id, sink)
	return nil
}

// SubscriberLeaves handles the last_subscriber_leaves event, arming the
// deferred-stop timer once the subscriber set becomes empty.
func (i *Instance) SubscriberLeaves(id string) {
	i.subs.Remove(id)
	if !i.subs.IsEmpty() {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateRunning {
		return
	}
	i.armDeferredStopLocked()
}

func (i *Instance) armDeferredStopLocked() {
	i.cancelDeferredStopLocked()
	grace := time.Duration(i.cfg.Process.ShutdownTimeout) * time.Second
	i.deferredStopTimer = time.AfterFunc(grace, func() {
		_ = i.Stop()
	})
}

func (i *Instance) cancelDeferredStopLocked() {
	if i.deferredStopTimer != nil {
		i.deferredStopTimer.Stop()
		i.deferredStopTimer = nil
	}
}

// spawnSession spawns the encoder and fanout engine. The caller must have
// already set state to StateStarting.
func (i *Instance) spawnSession(ctx context.Context) error {
	args, err := sourcecmd.BuildArgs(i.cfg, i.locator)
	if err != nil {
		return i.enterError(err)
	}

	sup := encoder.New(i.name, i.cfg.FFmpeg.FFmpegPath, args)
	if err := sup.Start(ctx); err != nil {
		return i.enterError(err)
	}

	demux := container.New(i.name, defaultMaxGOP)
	fanoutCtx, cancel := context.WithCancel(context.Background())
	eng := fanout.New(i.name, sup, demux, i.subs)

	i.mu.Lock()
	i.supervisor = sup
	i.demux = demux
	i.fanoutCancel = cancel
	i.startTime = time.Now()
	i.state = StateRunning
	i.errorMessage = ""
	i.mu.Unlock()

	i.notify()
	i.fireHook(hooks.EventInstanceRunning)

	go i.runFanout(eng, fanoutCtx)
	go i.watchCrash(sup, fanoutCtx, cancel)

	return nil
}

func (i *Instance) runFanout(eng *fanout.Engine, ctx context.Context) {
	if err := eng.Run(ctx); err != nil {
		i.log.Warn("fanout_engine_error", slog.Any("error", err))
	}
}

// watchCrash observes the encoder's exit. If the instance was deliberately
// stopped (state already stopping/stopped) it does nothing; otherwise it
// records a crash and either re-enters starting (restart) or error.
func (i *Instance) watchCrash(sup *encoder.Supervisor, fanoutCtx context.Context, fanoutCancel context.CancelFunc) {
	<-sup.Exited()

	i.mu.Lock()
	deliberate := i.state == StateStopping || i.state == StateStopped
	i.mu.Unlock()
	if deliberate {
		return
	}

	fanoutCancel()
	i.mu.Lock()
	demux := i.demux
	i.mu.Unlock()
	if demux != nil {
		demux.Reset()
	}
	i.ledger.Record()
	i.fireHook(hooks.EventCrashRecorded)

	if !i.ledger.ShouldRestart() {
		_ = i.enterError(screenerrors.NewSupervisorError("encoder_crash", sup.WaitErr()))
		return
	}

	i.mu.Lock()
	i.state = StateStarting
	i.mu.Unlock()
	i.notify()

	if err := i.spawnSession(context.Background()); err != nil {
		i.log.Error("restart_after_crash_failed", slog.Any("error", err))
	}
}

func (i *Instance) enterError(cause error) error {
	i.mu.Lock()
	i.state = StateError
	i.errorMessage = cause.Error()
	i.mu.Unlock()

	i.ledger.Record()
	i.notify()
	i.fireHook(hooks.EventInstanceError)
	return cause
}

// Stop handles the explicit stop event. Idempotent: stopping an
// already-stopped instance is a no-op.
func (i *Instance) Stop() error {
	i.mu.Lock()
	if i.state != StateRunning && i.state != StateStarting {
		i.mu.Unlock()
		return nil
	}
	i.cancelDeferredStopLocked()
	i.state = StateStopping
	fanoutCancel := i.fanoutCancel
	sup := i.supervisor
	demux := i.demux
	i.mu.Unlock()

	i.notify()
	i.fireHook(hooks.EventInstanceStopping)

	if fanoutCancel != nil {
		fanoutCancel()
	}
	if sup != nil {
		_ = sup.Stop()
	}
	if demux != nil {
		demux.Reset()
	}
	i.subs.CloseAll()

	i.mu.Lock()
	i.state = StateStopped
	i.supervisor = nil
	i.demux = nil
	i.fanoutCancel = nil
	i.mu.Unlock()

	i.notify()
	i.fireHook(hooks.EventInstanceStopped)
	return nil
}

// CanRemove reports whether the instance may be removed from the registry
// (state must be stopped, per §3's Lifecycle State invariant).
func (i *Instance) CanRemove() bool {
	return i.State() == StateStopped
}

func (i *Instance) notify() {
	if i.obs == nil {
		return
	}
	i.obs.Notify(i.Status())
}

func (i *Instance) fireHook(evt hooks.EventType) {
	if i.hookMgr == nil {
		return
	}
	i.hookMgr.TriggerEvent(context.Background(), *hooks.NewEvent(evt, time.Now()).WithInstance(i.name))
}
