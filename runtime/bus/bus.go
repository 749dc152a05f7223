// Package bus implements the Progress Event Bus (C9): a per-session
// registry mapping session id to a single progress callback, with strict
// event-ordering left to the supervisor (§4.1) and delivery kept
// synchronous and unbuffered (§4.6: "The bus does not buffer events —
// callbacks are expected to be cheap").
package bus

import (
	"context"
	"errors"
	"sync"
	"time"
)

type (
	// EventType names one of the supervisor's observable events (§4.1).
	EventType string

	// Event is the payload delivered to a session's progress callback.
	// Fields beyond Type/SessionID/RunID/Timestamp are event-specific and
	// carried in Payload so the bus itself never needs to know the
	// supervisor's event vocabulary.
	Event struct {
		Type      EventType
		SessionID string
		RunID     string
		Timestamp time.Time
		Payload   map[string]any
	}

	// Callback receives one event for the session it was registered under.
	// Implementations must be cheap and non-blocking past the transport
	// handoff (§4.6); slow consumers should buffer internally rather than
	// block the supervisor's emitting goroutine.
	Callback func(ctx context.Context, event Event) error

	// Subscription is returned by Register and removes the callback from
	// the bus when closed. Close is idempotent.
	Subscription interface {
		Close()
	}

	// Bus is a per-session progress_callback registry (§4.6).
	Bus struct {
		mu        sync.RWMutex
		callbacks map[string]Callback
		relay     Relay
	}

	// Relay is an optional secondary sink for published events (e.g. a
	// Redis pub/sub relay for horizontally scaled transport replicas, §C
	// "Redis-relayed progress bus"). The in-process registry stays the
	// source of truth within a replica; a Relay failure never blocks or
	// fails Emit.
	Relay interface {
		Publish(ctx context.Context, event Event) error
	}

	subscription struct {
		bus       *Bus
		sessionID string
		once      sync.Once
	}
)

// ErrNoSubscriber is returned by Emit when no callback is registered for the
// event's session. Callers typically log and drop rather than fail the run,
// since a missing subscriber means the transport already disconnected.
var ErrNoSubscriber = errors.New("bus: no subscriber registered for session")

// New constructs an empty Bus. relay may be nil.
func New(relay Relay) *Bus {
	return &Bus{callbacks: make(map[string]Callback), relay: relay}
}

// Register associates cb with sessionID, replacing any previously
// registered callback for that session (the supervisor registers exactly
// once per run on initialize and unregisters on a terminal state, so a
// replace here indicates a new run reusing the same session).
func (b *Bus) Register(sessionID string, cb Callback) (Subscription, error) {
	if sessionID == "" {
		return nil, errors.New("bus: session id is required")
	}
	if cb == nil {
		return nil, errors.New("bus: callback is required")
	}
	b.mu.Lock()
	b.callbacks[sessionID] = cb
	b.mu.Unlock()
	return &subscription{bus: b, sessionID: sessionID}, nil
}

// Emit delivers event to the callback registered for event.SessionID, and
// best-effort forwards it to the configured Relay. Returns ErrNoSubscriber
// if nothing is registered; relay failures are never returned to the caller.
func (b *Bus) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	cb, ok := b.callbacks[event.SessionID]
	relay := b.relay
	b.mu.RUnlock()

	if relay != nil {
		_ = relay.Publish(ctx, event)
	}
	if !ok {
		return ErrNoSubscriber
	}
	return cb(ctx, event)
}

// Unregister removes the callback for sessionID, if any. Idempotent.
func (b *Bus) Unregister(sessionID string) {
	b.mu.Lock()
	delete(b.callbacks, sessionID)
	b.mu.Unlock()
}

func (s *subscription) Close() {
	s.once.Do(func() {
		s.bus.Unregister(s.sessionID)
	})
}
