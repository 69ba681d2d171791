// Package subscriber tracks the live set of consumers attached to an
// instance's output and fans frames out to them (C4). Membership is
// snapshotted under a read lock and released before any send is attempted,
// so a single slow subscriber never blocks registration/removal or the
// delivery to its peers.
package subscriber

import (
	"log/slog"
	"sync"

	"github.com/screencastd/screencastd/internal/errors"
	"github.com/screencastd/screencastd/internal/logger"
)

// Sink is anything that can receive an instance's raw output bytes. The
// registry's WebSocket connection adapter implements it.
type Sink interface {
	// Send delivers one chunk. It must not block indefinitely: a Sink
	// backed by a bounded channel should return an error immediately when
	// full rather than stall the broadcaster.
	Send(data []byte) error
	// Close tears down the sink's underlying transport.
	Close() error
}

// Set is the concurrency-safe collection of subscribers attached to one
// instance.
type Set struct {
	mu       sync.RWMutex
	instance string
	sinks    map[string]Sink
}

// New returns an empty Set for the named instance.
func New(instanceName string) *Set {
	return &Set{instance: instanceName, sinks: make(map[string]Sink)}
}

// Add registers sink under id. An existing sink under the same id is
// replaced and returned so the caller can close it.
func (s *Set) Add(id string, sink Sink) (previous Sink, replaced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, replaced = s.sinks[id]
	s.sinks[id] = sink
	return previous, replaced
}

// Remove drops id from the set and returns its sink, if present.
func (s *Set) Remove(id string) (Sink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sink, ok := s.sinks[id]
	delete(s.sinks, id)
	return sink, ok
}

// Count returns the number of currently attached subscribers.
func (s *Set) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sinks)
}

// IsEmpty reports whether no subscriber is currently attached.
func (s *Set) IsEmpty() bool {
	return s.Count() == 0
}

// IDs returns a snapshot of the currently attached subscriber ids.
func (s *Set) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sinks))
	for id := range s.sinks {
		ids = append(ids, id)
	}
	return ids
}

// Broadcast sends data to every currently attached subscriber. Membership is
// snapshotted under a read lock and released before any Send call, so I/O on
// one sink never holds up registration or other sinks' delivery. A sink
// whose Send fails is removed and closed; failures are logged, never
// propagated to the caller, since one dead subscriber must not interrupt
// fan-out to the rest.
func (s *Set) Broadcast(data []byte) {
	s.mu.RLock()
	snapshot := make(map[string]Sink, len(s.sinks))
	for id, sink := range s.sinks {
		snapshot[id] = sink
	}
	s.mu.RUnlock()

	for id, sink := range snapshot {
		if err := sink.Send(data); err != nil {
			s.evict(id, sink, err)
		}
	}
}

// SendTo delivers data to a single subscriber by id. An unknown id is a
// no-op. Send failures evict the subscriber the same way Broadcast does.
func (s *Set) SendTo(id string, data []byte) error {
	s.mu.RLock()
	sink, ok := s.sinks[id]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := sink.Send(data); err != nil {
		s.evict(id, sink, err)
		return err
	}
	return nil
}

func (s *Set) evict(id string, sink Sink, cause error) {
	s.mu.Lock()
	if current, ok := s.sinks[id]; ok && current == sink {
		delete(s.sinks, id)
	}
	s.mu.Unlock()

	_ = sink.Close()
	logger.WithSubscriber(logger.WithInstance(logger.Logger(), s.instance), id).
		Warn("subscriber_evicted", slog.Any("error", errors.NewSubscriberSendFailure(id, cause)))
}

// CloseAll removes and closes every subscriber, used when an instance stops.
func (s *Set) CloseAll() {
	s.mu.Lock()
	snapshot := s.sinks
	s.sinks = make(map[string]Sink)
	s.mu.Unlock()

	for _, sink := range snapshot {
		_ = sink.Close()
	}
}
