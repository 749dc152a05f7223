package bus_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/estatecopilot/runtime/runtime/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndEmit(t *testing.T) {
	b := bus.New(nil)
	var received []bus.Event
	var mu sync.Mutex

	sub, err := b.Register("sess-1", func(ctx context.Context, event bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, event)
		return nil
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Emit(context.Background(), bus.Event{Type: bus.EventPlanningStart, SessionID: "sess-1"}))
	require.NoError(t, b.Emit(context.Background(), bus.Event{Type: bus.EventFinalResponse, SessionID: "sess-1"}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, bus.EventPlanningStart, received[0].Type)
	assert.Equal(t, bus.EventFinalResponse, received[1].Type)
	assert.False(t, received[0].Timestamp.IsZero())
}

func TestEmitNoSubscriberReturnsErrNoSubscriber(t *testing.T) {
	b := bus.New(nil)
	err := b.Emit(context.Background(), bus.Event{SessionID: "missing"})
	assert.ErrorIs(t, err, bus.ErrNoSubscriber)
}

func TestCloseSubscriptionStopsDelivery(t *testing.T) {
	b := bus.New(nil)
	calls := 0
	sub, err := b.Register("sess-1", func(ctx context.Context, event bus.Event) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Emit(context.Background(), bus.Event{SessionID: "sess-1"}))
	sub.Close()
	sub.Close() // idempotent

	err = b.Emit(context.Background(), bus.Event{SessionID: "sess-1"})
	assert.ErrorIs(t, err, bus.ErrNoSubscriber)
	assert.Equal(t, 1, calls)
}

type fakeRelay struct {
	mu     sync.Mutex
	events []bus.Event
}

func (f *fakeRelay) Publish(ctx context.Context, event bus.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func TestEmitForwardsToRelayEvenWithoutSubscriber(t *testing.T) {
	relay := &fakeRelay{}
	b := bus.New(relay)

	err := b.Emit(context.Background(), bus.Event{Type: bus.EventError, SessionID: "sess-1"})
	assert.ErrorIs(t, err, bus.ErrNoSubscriber)

	relay.mu.Lock()
	defer relay.mu.Unlock()
	require.Len(t, relay.events, 1)
	assert.Equal(t, bus.EventError, relay.events[0].Type)
}

func TestRegisterRejectsNilCallback(t *testing.T) {
	b := bus.New(nil)
	_, err := b.Register("sess-1", nil)
	assert.Error(t, err)
}

func TestCallbackErrorPropagates(t *testing.T) {
	b := bus.New(nil)
	wantErr := errors.New("transport closed")
	_, err := b.Register("sess-1", func(ctx context.Context, event bus.Event) error {
		return wantErr
	})
	require.NoError(t, err)

	err = b.Emit(context.Background(), bus.Event{SessionID: "sess-1"})
	assert.ErrorIs(t, err, wantErr)
}
