package streambus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct{ exists bool }

func (f fakeChecker) Exists(context.Context, string) (bool, error) { return f.exists, nil }

type fakeLoader struct{ state InitialState }

func (f fakeLoader) LoadInitialState(context.Context, string) (InitialState, error) {
	return f.state, nil
}

type collectingSubscriber struct {
	mu     sync.Mutex
	events []Event
}

func (c *collectingSubscriber) Accept(event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *collectingSubscriber) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func testBus(t *testing.T, checker TaskExistenceChecker, loader InitialStateLoader) *Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, checker, loader, nil)
}

func TestPublishRejectsEmptyUpdateType(t *testing.T) {
	bus := testBus(t, fakeChecker{true}, fakeLoader{})
	_, err := bus.Publish(context.Background(), "task-1", Event{})
	require.ErrorIs(t, err, ErrEmptyUpdateType)
}

func TestSubscribeRejectsMissingTask(t *testing.T) {
	bus := testBus(t, fakeChecker{false}, fakeLoader{})
	_, err := bus.Subscribe(context.Background(), "task-1", &collectingSubscriber{})
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestSubscribeDeliversInitialStateBeforeLiveEvents(t *testing.T) {
	ctx := context.Background()
	loader := fakeLoader{state: InitialState{Updates: []map[string]any{{"message": "started"}}}}
	bus := testBus(t, fakeChecker{true}, loader)

	sub := &collectingSubscriber{}
	unsubscribe, err := bus.Subscribe(ctx, "task-1", sub)
	require.NoError(t, err)
	defer unsubscribe()

	require.Eventually(t, func() bool { return len(sub.snapshot()) >= 1 }, time.Second, 10*time.Millisecond)
	first := sub.snapshot()[0]
	require.Equal(t, "initial_state", first.UpdateType)
}

func TestPublishBroadcastsToSubscriber(t *testing.T) {
	ctx := context.Background()
	bus := testBus(t, fakeChecker{true}, fakeLoader{})

	sub := &collectingSubscriber{}
	unsubscribe, err := bus.Subscribe(ctx, "task-1", sub)
	require.NoError(t, err)
	defer unsubscribe()

	_, err = bus.Publish(ctx, "task-1", Event{ThreadID: "thread-1", UpdateType: "progress", Message: "step one"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, e := range sub.snapshot() {
			if e.UpdateType == "progress" && e.Message == "step one" {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestEventRoundTripsExtras(t *testing.T) {
	event := Event{
		ThreadID:   "thread-1",
		UpdateType: "knowledge_sources",
		Timestamp:  "2026-01-01T00:00:00Z",
		Extras:     map[string]any{"citations": []any{map[string]any{"document_hash": "doc-abc"}}},
	}
	raw, err := event.MarshalJSON()
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, decoded.UnmarshalJSON(raw))
	require.Equal(t, "knowledge_sources", decoded.UpdateType)
	require.NotNil(t, decoded.Extras["citations"])
}
