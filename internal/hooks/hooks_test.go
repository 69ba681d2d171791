package hooks

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

func TestEvent(t *testing.T) {
	event := NewEvent(EventSubscriberArrived, time.Unix(1000, 0)).
		WithInstance("desk-capture").
		WithSubscriber("sub-1").
		WithData("client_ip", "192.168.1.100")

	if event.Type != EventSubscriberArrived {
		t.Fatalf("expected event type %s, got %s", EventSubscriberArrived, event.Type)
	}
	if event.Instance != "desk-capture" {
		t.Fatalf("expected instance 'desk-capture', got %s", event.Instance)
	}
	if event.SubscriberID != "sub-1" {
		t.Fatalf("expected subscriber id 'sub-1', got %s", event.SubscriberID)
	}
	if str := event.String(); str != "subscriber_arrived:sub-1" {
		t.Fatalf("unexpected string representation: %s", str)
	}
}

func TestShellHookIdentity(t *testing.T) {
	hook := NewShellHook("test-hook", "/bin/echo", 10*time.Second)
	if hook.Type() != "shell" {
		t.Fatalf("expected hook type 'shell', got %s", hook.Type())
	}
	if hook.ID() != "test-hook" {
		t.Fatalf("expected hook id 'test-hook', got %s", hook.ID())
	}
}

func TestShellHookExecuteRunsScript(t *testing.T) {
	hook := NewShellHookWithCommand("test-hook", "/bin/true", nil, time.Second)
	if err := hook.Execute(context.Background(), *NewEvent(EventInstanceRunning, time.Now())); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

type trackingHook struct {
	mu    sync.Mutex
	calls int
	id    string
}

func (h *trackingHook) Execute(ctx context.Context, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	return nil
}
func (h *trackingHook) Type() string { return "tracking" }
func (h *trackingHook) ID() string   { return h.id }

func TestManagerTriggerEventDispatchesToRegisteredHooks(t *testing.T) {
	m := NewManager(DefaultConfig(), slog.New(slog.NewTextHandler(os.Stderr, nil)))
	hook := &trackingHook{id: "tracker"}
	if err := m.RegisterHook(EventInstanceRunning, hook); err != nil {
		t.Fatalf("RegisterHook: %v", err)
	}

	m.TriggerEvent(context.Background(), *NewEvent(EventInstanceRunning, time.Now()))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		hook.mu.Lock()
		calls := hook.calls
		hook.mu.Unlock()
		if calls == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected hook to be invoked exactly once")
}

func TestManagerUnregisterHookStopsFutureDispatch(t *testing.T) {
	m := NewManager(DefaultConfig(), slog.New(slog.NewTextHandler(os.Stderr, nil)))
	hook := &trackingHook{id: "tracker"}
	_ = m.RegisterHook(EventInstanceStopped, hook)

	if !m.UnregisterHook(EventInstanceStopped, "tracker") {
		t.Fatalf("expected UnregisterHook to report the hook was found")
	}

	m.TriggerEvent(context.Background(), *NewEvent(EventInstanceStopped, time.Now()))
	time.Sleep(20 * time.Millisecond)

	hook.mu.Lock()
	defer hook.mu.Unlock()
	if hook.calls != 0 {
		t.Fatalf("expected unregistered hook to receive no events, got %d calls", hook.calls)
	}
}
