// Package progress implements the Progress Emitter: a polymorphic sink for
// agent status updates that never raises to its caller. Grounded on
// original_source/redis_sre_agent/core/progress.py; the Emit contract
// mirrors progress.py's ProgressEmitter protocol, and the several
// implementations satisfying one interface mirror the teacher's
// agents/runtime/hooks event-subscriber polymorphism.
package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/redis-sre/agentcore/telemetry"
)

// Emitter is the sink contract every progress source writes through.
// Implementations must never panic or otherwise disrupt the caller; any
// internal delivery failure is swallowed and, where an implementation has a
// logger, logged as a warning.
type Emitter interface {
	Emit(ctx context.Context, message, updateType string, metadata map[string]any)
}

// NullEmitter discards every update. Used for batch jobs and tests that
// don't care about progress.
type NullEmitter struct{}

// Emit implements Emitter.
func (NullEmitter) Emit(context.Context, string, string, map[string]any) {}

// LoggingEmitter logs every update at Info level; the level is not
// configurable. A nil Logger discards updates. Useful for debugging
// paths that have no task or CLI destination.
type LoggingEmitter struct {
	Logger telemetry.Logger
}

// Emit implements Emitter.
func (e LoggingEmitter) Emit(ctx context.Context, message, updateType string, metadata map[string]any) {
	if e.Logger == nil {
		return
	}
	e.Logger.Info(ctx, fmt.Sprintf("[%s] %s", updateType, message), "metadata", metadata)
}

// typeStyle pairs a glyph and ANSI color for one update_type, mirroring
// progress.py's CLIEmitter.TYPE_STYLES table.
type typeStyle struct {
	glyph string
	color string
}

var typeStyles = map[string]typeStyle{
	"agent_start":        {"🚀", "green"},
	"agent_complete":      {"✅", "green"},
	"agent_error":         {"❌", "yellow"},
	"agent_reflection":    {"💭", "cyan"},
	"agent_processing":    {"⚙️ ", "blue"},
	"tool_call":           {"🔧", "magenta"},
	"knowledge_sources":   {"📚", "blue"},
	"progress":            {"→", "dim"},
	"instance_context":    {"🔗", "cyan"},
	"instance_created":    {"➕", "green"},
	"instance_error":      {"⚠️ ", "yellow"},
	"task_start":          {"📋", "blue"},
	"error":                {"❌", "yellow"},
}

var ansiColors = map[string]string{
	"reset":   "\033[0m",
	"dim":     "\033[2m",
	"bold":    "\033[1m",
	"blue":    "\033[34m",
	"green":   "\033[32m",
	"yellow":  "\033[33m",
	"cyan":    "\033[36m",
	"magenta": "\033[35m",
}

// CLIEmitter renders symbolized, optionally ANSI-colored lines to a file
// handle (default stderr), choosing a glyph and color per update_type.
type CLIEmitter struct {
	UseColors bool
	Out       io.Writer
}

// NewCLIEmitter builds a CLIEmitter writing to out (stderr if nil), with
// colors enabled only when useColors is true.
func NewCLIEmitter(out io.Writer, useColors bool) *CLIEmitter {
	if out == nil {
		out = os.Stderr
	}
	return &CLIEmitter{UseColors: useColors, Out: out}
}

// Emit implements Emitter.
func (e *CLIEmitter) Emit(_ context.Context, message, updateType string, _ map[string]any) {
	style, ok := typeStyles[updateType]
	if !ok {
		style = typeStyle{"•", "dim"}
	}
	text := message
	if e.UseColors {
		if code, ok := ansiColors[style.color]; ok {
			text = code + message + ansiColors["reset"]
		}
	}
	fmt.Fprintf(e.Out, "%s %s\n", style.glyph, text)
}

// TaskUpdateWriter is the subset of task.Store's surface TaskEmitter needs.
// Kept as an interface so progress never imports the task package directly,
// avoiding an import cycle with taskrunner wiring.
type TaskUpdateWriter interface {
	AddUpdate(ctx context.Context, taskID, message, updateType string, metadata map[string]any) error
}

// TaskEmitter persists notifications to a Task's ordered update list. This
// is the primary emitter for both the worker and any future synchronous
// surfaces: clients poll the task for status and notifications while the
// Thread only ever sees the final assistant message.
type TaskEmitter struct {
	store  TaskUpdateWriter
	taskID string
	logger telemetry.Logger
}

// NewTaskEmitter builds a TaskEmitter bound to a single task.
func NewTaskEmitter(store TaskUpdateWriter, taskID string, logger telemetry.Logger) *TaskEmitter {
	return &TaskEmitter{store: store, taskID: taskID, logger: logger}
}

// TaskID returns the task this emitter writes to.
func (e *TaskEmitter) TaskID() string { return e.taskID }

// Emit implements Emitter. A failed task-store write never fails the
// caller; it is logged best-effort.
func (e *TaskEmitter) Emit(ctx context.Context, message, updateType string, metadata map[string]any) {
	if err := e.store.AddUpdate(ctx, e.taskID, message, updateType, metadata); err != nil {
		if e.logger != nil {
			e.logger.Warn(ctx, "failed to emit task notification", "task_id", e.taskID, "error", err.Error())
		}
	}
}

// ProgressCounter generates monotonically increasing progress values, the
// contract the MCP progress protocol requires.
type ProgressCounter interface {
	Next() int
}

// LocalProgressCounter is a mutex-guarded monotonic counter for
// single-process scenarios.
type LocalProgressCounter struct {
	mu    sync.Mutex
	value int
}

// Next implements ProgressCounter.
func (c *LocalProgressCounter) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value++
	return c.value
}

// ReportProgress sends a single MCP progress notification. Implemented by
// the host protocol integration; progress has no total when indeterminate.
type ReportProgress func(ctx context.Context, progress int, total *int) error

// MCPEmitter forwards updates to a host protocol progress channel using a
// monotonically increasing counter. MCP progress notifications carry no
// message field, so the message is logged for debugging only.
type MCPEmitter struct {
	send    ReportProgress
	counter ProgressCounter
	logger  telemetry.Logger
}

// NewMCPEmitter builds an MCPEmitter. A nil counter defaults to a fresh
// LocalProgressCounter.
func NewMCPEmitter(send ReportProgress, counter ProgressCounter, logger telemetry.Logger) *MCPEmitter {
	if counter == nil {
		counter = &LocalProgressCounter{}
	}
	return &MCPEmitter{send: send, counter: counter, logger: logger}
}

// Emit implements Emitter.
func (e *MCPEmitter) Emit(ctx context.Context, message, updateType string, _ map[string]any) {
	progress := e.counter.Next()
	if err := e.send(ctx, progress, nil); err != nil {
		if e.logger != nil {
			e.logger.Warn(ctx, "failed to send mcp progress notification", "error", err.Error())
		}
		return
	}
	if e.logger != nil {
		e.logger.Debug(ctx, fmt.Sprintf("mcp progress %d: [%s] %s", progress, updateType, message))
	}
}

// CallbackFunc is a legacy-style progress callback.
type CallbackFunc func(ctx context.Context, message, updateType string, metadata map[string]any)

// CallbackEmitter wraps a plain function as an Emitter, for callers that
// would rather pass a closure than implement the interface.
type CallbackEmitter struct {
	Callback CallbackFunc
}

// Emit implements Emitter.
func (e CallbackEmitter) Emit(ctx context.Context, message, updateType string, metadata map[string]any) {
	if e.Callback != nil {
		e.Callback(ctx, message, updateType, metadata)
	}
}

// CompositeEmitter forwards updates to multiple child emitters
// concurrently; one child's failure (or panic) never blocks or suppresses
// delivery to the others.
type CompositeEmitter struct {
	emitters []Emitter
}

// NewCompositeEmitter builds a CompositeEmitter over the given children.
func NewCompositeEmitter(emitters ...Emitter) *CompositeEmitter {
	return &CompositeEmitter{emitters: emitters}
}

// Emit implements Emitter.
func (e *CompositeEmitter) Emit(ctx context.Context, message, updateType string, metadata map[string]any) {
	var wg sync.WaitGroup
	for _, child := range e.emitters {
		wg.Add(1)
		go func(child Emitter) {
			defer wg.Done()
			defer func() { _ = recover() }()
			child.Emit(ctx, message, updateType, metadata)
		}(child)
	}
	wg.Wait()
}

// New builds the appropriate emitter for an execution context: a
// TaskEmitter when a task store and ID are given, a CLIEmitter when cli is
// true, any additional emitters folded in, combined into a CompositeEmitter
// when more than one applies, or a NullEmitter when none do.
func New(taskStore TaskUpdateWriter, taskID string, cli bool, cliColors bool, logger telemetry.Logger, additional ...Emitter) Emitter {
	var emitters []Emitter
	if taskStore != nil && taskID != "" {
		emitters = append(emitters, NewTaskEmitter(taskStore, taskID, logger))
	}
	if cli {
		emitters = append(emitters, NewCLIEmitter(nil, cliColors))
	}
	emitters = append(emitters, additional...)

	switch len(emitters) {
	case 0:
		return NullEmitter{}
	case 1:
		return emitters[0]
	default:
		return NewCompositeEmitter(emitters...)
	}
}
