// Package streambus implements the Stream Bus: one Redis Stream per task
// carrying typed update events, with a shared consumer per task fanning
// out to in-process subscribers. Grounded on the teacher's Pulse client
// wrapper (features/stream/pulse/clients/pulse/client.go) for the
// Add/Sink/Subscribe/Ack/Destroy interface shape, but implemented
// directly over go-redis's XAdd/XReadGroup/XAck: a per-task stream with a
// fixed TTL and exactly one shared consumer doesn't need Pulse's
// cross-process consumer-group rebalancing.
package streambus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/redis-sre/agentcore/redis/keys"
	"github.com/redis-sre/agentcore/telemetry"
)

// TaskTTL matches the owning task's lifetime (spec.md §6 "sre:stream:task:{tid},
// TTL 86400").
const TaskTTL = 24 * time.Hour

// readBlock bounds how long a consumer's XREADGROUP call waits for new
// entries before looping to check whether its subscriber set emptied.
const readBlock = 2 * time.Second

// readCount caps how many entries a single poll consumes.
const readCount = 50

// consumerGroup is shared by every task stream; each stream has exactly
// one logical consumer (this process), so the group name need not vary
// per task.
const consumerGroup = "streambus"

// Event is a single typed update on a task's stream. Extras holds any
// additional top-level keys a publisher supplies beyond the fixed fields,
// so existing keys remain unchanged across event kinds (spec.md §4.8).
type Event struct {
	ThreadID   string         `json:"thread_id"`
	UpdateType string         `json:"update_type"`
	Timestamp  string         `json:"timestamp"`
	Message    string         `json:"message,omitempty"`
	Extras     map[string]any `json:"-"`
}

// MarshalJSON flattens Extras alongside the fixed fields.
func (e Event) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"thread_id":   e.ThreadID,
		"update_type": e.UpdateType,
		"timestamp":   e.Timestamp,
	}
	if e.Message != "" {
		out["message"] = e.Message
	}
	for k, v := range e.Extras {
		if _, reserved := out[k]; !reserved {
			out[k] = v
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the fixed fields and preserves any remaining keys
// in Extras.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.ThreadID, _ = raw["thread_id"].(string)
	e.UpdateType, _ = raw["update_type"].(string)
	e.Timestamp, _ = raw["timestamp"].(string)
	e.Message, _ = raw["message"].(string)
	delete(raw, "thread_id")
	delete(raw, "update_type")
	delete(raw, "timestamp")
	delete(raw, "message")
	if len(raw) > 0 {
		e.Extras = raw
	}
	return nil
}

// ErrEmptyUpdateType is returned by Publish when Event.UpdateType is
// unset; every published event must be classifiable by a consumer.
var ErrEmptyUpdateType = errors.New("streambus: update_type is required")

// TaskExistenceChecker is the narrow dependency Subscribe uses to verify
// a task exists before registering a subscriber, avoiding an import
// cycle with the task package.
type TaskExistenceChecker interface {
	Exists(ctx context.Context, taskID string) (bool, error)
}

// InitialState is delivered to a subscriber immediately on connect: the
// last few updates already recorded, plus the task's result/error if it
// has already finished (spec.md §6 "initial_state carries updates,
// result, error_message").
type InitialState struct {
	Updates      []map[string]any `json:"updates"`
	Result       map[string]any   `json:"result,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// InitialStateLoader supplies the InitialState for a task at subscribe
// time.
type InitialStateLoader interface {
	LoadInitialState(ctx context.Context, taskID string) (InitialState, error)
}

// Bus publishes and fans out task stream events.
type Bus struct {
	rdb     *redis.Client
	checker TaskExistenceChecker
	loader  InitialStateLoader
	logger  telemetry.Logger

	mu        sync.Mutex
	consumers map[string]*taskConsumer
}

// New builds a Bus.
func New(rdb *redis.Client, checker TaskExistenceChecker, loader InitialStateLoader, logger telemetry.Logger) *Bus {
	return &Bus{rdb: rdb, checker: checker, loader: loader, logger: logger, consumers: make(map[string]*taskConsumer)}
}

// Publish appends event to taskID's stream. Callers (typically the
// TaskEmitter/agent workflow) call this for every progress update; TTL is
// refreshed to TaskTTL on every publish.
func (b *Bus) Publish(ctx context.Context, taskID string, event Event) (string, error) {
	if event.UpdateType == "" {
		return "", ErrEmptyUpdateType
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("streambus: marshal event: %w", err)
	}
	key := keys.StreamTask(taskID)
	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{Stream: key, Values: map[string]any{"data": raw}}).Result()
	if err != nil {
		return "", fmt.Errorf("streambus: publish %s: %w", taskID, err)
	}
	b.rdb.Expire(ctx, key, TaskTTL)
	return id, nil
}

// Subscriber receives broadcast events and an initial snapshot. Accept
// must not block for long; a subscriber that returns an error is removed
// from the fan-out set (spec.md §4.8 "subscribers that fail to accept a
// message are removed").
type Subscriber interface {
	Accept(event Event) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(Event) error

// Accept implements Subscriber.
func (f SubscriberFunc) Accept(event Event) error { return f(event) }

// ErrTaskNotFound is returned by Subscribe when the task does not exist.
var ErrTaskNotFound = errors.New("streambus: task not found")

// Subscribe verifies the task exists, registers sub in the task's
// in-process subscriber set, starts the shared consumer if not already
// running, and delivers an initial snapshot before any live events.
// Returns an unsubscribe func the caller must invoke on disconnect.
func (b *Bus) Subscribe(ctx context.Context, taskID string, sub Subscriber) (func(), error) {
	if b.checker != nil {
		ok, err := b.checker.Exists(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("streambus: check task %s: %w", taskID, err)
		}
		if !ok {
			return nil, ErrTaskNotFound
		}
	}

	b.mu.Lock()
	consumer, exists := b.consumers[taskID]
	if !exists {
		consumer = newTaskConsumer(b, taskID)
		b.consumers[taskID] = consumer
	}
	b.mu.Unlock()

	if b.loader != nil {
		state, err := b.loader.LoadInitialState(ctx, taskID)
		if err == nil {
			_ = sub.Accept(Event{
				ThreadID:   taskID,
				UpdateType: "initial_state",
				Timestamp:  time.Now().UTC().Format(time.RFC3339),
				Extras: map[string]any{
					"updates":       state.Updates,
					"result":        state.Result,
					"error_message": state.ErrorMessage,
				},
			})
		}
	}

	id := consumer.addSubscriber(sub)
	if !exists {
		go consumer.run(context.WithoutCancel(ctx))
	}

	return func() { consumer.removeSubscriber(id) }, nil
}

// taskConsumer is the single shared poller for one task's stream,
// fanning out decoded events to every currently-registered subscriber.
type taskConsumer struct {
	bus    *Bus
	taskID string

	mu          sync.Mutex
	subscribers map[int]Subscriber
	nextID      int
}

func newTaskConsumer(bus *Bus, taskID string) *taskConsumer {
	return &taskConsumer{bus: bus, taskID: taskID, subscribers: make(map[int]Subscriber)}
}

func (c *taskConsumer) addSubscriber(sub Subscriber) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.subscribers[id] = sub
	return id
}

func (c *taskConsumer) removeSubscriber(id int) {
	c.mu.Lock()
	delete(c.subscribers, id)
	empty := len(c.subscribers) == 0
	c.mu.Unlock()
	if empty {
		c.bus.mu.Lock()
		if current, ok := c.bus.consumers[c.taskID]; ok && current == c {
			delete(c.bus.consumers, c.taskID)
		}
		c.bus.mu.Unlock()
	}
}

func (c *taskConsumer) snapshot() []Subscriber {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Subscriber, 0, len(c.subscribers))
	for _, s := range c.subscribers {
		out = append(out, s)
	}
	return out
}

func (c *taskConsumer) isEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers) == 0
}

// run polls the stream with a bounded block, batching up to readCount
// entries per read, decoding and broadcasting each to every subscriber
// concurrently, until the subscriber set empties (spec.md §4.8).
func (c *taskConsumer) run(ctx context.Context) {
	key := keys.StreamTask(c.taskID)
	consumerName := "consumer-" + uuid.NewString()
	c.bus.rdb.XGroupCreateMkStream(ctx, key, consumerGroup, "0").Err()

	for {
		if c.isEmpty() {
			return
		}
		res, err := c.bus.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: consumerName,
			Streams:  []string{key, ">"},
			Count:    readCount,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			if c.bus.logger != nil {
				c.bus.logger.Warn(ctx, "streambus: read failed", "task_id", c.taskID, "error", err.Error())
			}
			continue
		}
		for _, stream := range res {
			for _, msg := range stream.Messages {
				event, ok := decodeMessage(msg.Values)
				if !ok {
					c.bus.rdb.XAck(ctx, key, consumerGroup, msg.ID)
					continue
				}
				c.broadcast(event)
				c.bus.rdb.XAck(ctx, key, consumerGroup, msg.ID)
			}
		}
	}
}

// decodeMessage decodes the "data" field: bytes -> string, then attempt
// JSON parse, falling back to a plain-message event on failure (spec.md
// §4.8 "decodes each field... then attempt JSON parse -> fall back to
// string").
func decodeMessage(values map[string]any) (Event, bool) {
	raw, ok := values["data"].(string)
	if !ok {
		return Event{}, false
	}
	var event Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return Event{UpdateType: "progress", Message: raw, Timestamp: time.Now().UTC().Format(time.RFC3339)}, true
	}
	return event, true
}

// broadcast delivers event to every subscriber concurrently, removing
// any that fails to accept it.
func (c *taskConsumer) broadcast(event Event) {
	subs := c.snapshotWithIDs()
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed []int
	for id, sub := range subs {
		wg.Add(1)
		go func(id int, sub Subscriber) {
			defer wg.Done()
			defer func() { _ = recover() }()
			if err := sub.Accept(event); err != nil {
				mu.Lock()
				failed = append(failed, id)
				mu.Unlock()
			}
		}(id, sub)
	}
	wg.Wait()

	if len(failed) == 0 {
		return
	}
	for _, id := range failed {
		c.removeSubscriber(id)
	}
}

func (c *taskConsumer) snapshotWithIDs() map[int]Subscriber {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]Subscriber, len(c.subscribers))
	for id, s := range c.subscribers {
		out[id] = s
	}
	return out
}
