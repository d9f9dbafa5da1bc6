// Package toolmanager assembles per-query tool sets from declared
// ToolDefinitions, adapts model tool calls into invocations, wraps outputs
// into ResultEnvelopes, and caches tool output by scope/name/argument
// fingerprint. Grounded on the teacher's agents/runtime/runtime/agent_tools.go
// and tools.ToolSpec/JSONCodec pattern, adapted to spec.md §4.4's per-query
// assembly, caching, and transcript-sanitizer requirements, which in turn
// follow original_source/redis_sre_agent/agent/helpers.py
// (sanitize_messages_for_llm, build_result_envelope) exactly.
package toolmanager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/redis-sre/agentcore/llm"
)

// AllInstancesScope is the special cache scope used for aggregate
// operations across every Redis instance.
const AllInstancesScope = "__all__"

// cacheTTL bounds how long a cached tool output stays valid.
const cacheTTL = 10 * time.Minute

// ResultEnvelope is the canonical record of one tool invocation. Preserves
// the full tool description and raw data verbatim so downstream reasoning
// is faithful (spec.md §3 Data Model), mirroring
// helpers.py::build_result_envelope and models.py::ResultEnvelope.
type ResultEnvelope struct {
	ToolKey     string         `json:"tool_key"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Args        map[string]any `json:"args"`
	Status      string         `json:"status"`
	Data        map[string]any `json:"data"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

// Handler executes a single tool call and returns its JSON-serializable
// result. Handlers report domain errors through the returned error; the
// manager converts a non-nil error into a ResultEnvelope with
// status="error" rather than propagating it to the caller, so one failing
// tool never aborts the run (spec.md §7 "Tool failure").
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Definition describes one tool available to the model for a single
// query: its provider-facing schema plus the handler invoked when the
// model calls it.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler

	schema *jsonschema.Schema
}

// compile validates and compiles Parameters once, at tool-set assembly
// time, so a malformed schema fails fast instead of on first invocation.
func (d *Definition) compile() error {
	if d.Parameters == nil {
		return nil
	}
	raw, err := json.Marshal(d.Parameters)
	if err != nil {
		return fmt.Errorf("toolmanager: marshal schema for %s: %w", d.Name, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("toolmanager: decode schema for %s: %w", d.Name, err)
	}
	compiler := jsonschema.NewCompiler()
	resource := fmt.Sprintf("toolmanager://%s", d.Name)
	if err := compiler.AddResource(resource, doc); err != nil {
		return fmt.Errorf("toolmanager: add schema resource for %s: %w", d.Name, err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("toolmanager: compile schema for %s: %w", d.Name, err)
	}
	d.schema = schema
	return nil
}

// validate checks args against the compiled schema. A Definition with no
// Parameters accepts any arguments, permitting unknown keys to survive
// provider-side schema drift (spec.md §4.4).
func (d *Definition) validate(args map[string]any) error {
	if d.schema == nil {
		return nil
	}
	if err := d.schema.Validate(args); err != nil {
		return fmt.Errorf("toolmanager: invalid arguments for %s: %w", d.Name, err)
	}
	return nil
}

// ToLLM renders this tool as a provider-facing llm.ToolDefinition.
func (d *Definition) ToLLM() llm.ToolDefinition {
	return llm.ToolDefinition{Name: d.Name, Description: d.Description, InputSchema: d.Parameters}
}

// ErrUnknownTool is returned when a tool call names a tool not present in
// the assembled set.
var ErrUnknownTool = errors.New("toolmanager: unknown tool")

// Manager holds one query's assembled tool set and the shared output
// cache behind it.
type Manager struct {
	defs  map[string]*Definition
	order []string
	cache *Cache
	scope string
}

// New assembles a Manager from the given definitions, scoped to
// instanceScope for cache keying (pass AllInstancesScope for
// instance-independent tools such as knowledge search). Returns an error
// if any definition's Parameters schema fails to compile.
func New(cache *Cache, instanceScope string, defs ...Definition) (*Manager, error) {
	if instanceScope == "" {
		instanceScope = AllInstancesScope
	}
	m := &Manager{defs: make(map[string]*Definition, len(defs)), cache: cache, scope: instanceScope}
	for i := range defs {
		d := defs[i]
		if err := d.compile(); err != nil {
			return nil, err
		}
		m.defs[d.Name] = &d
		m.order = append(m.order, d.Name)
	}
	return m, nil
}

// ToolDefinitions returns the provider-facing schema for every tool in
// this manager's set, in assembly order.
func (m *Manager) ToolDefinitions() []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.defs[name].ToLLM())
	}
	return out
}

// Resolve invokes the named tool with args, consulting the cache first
// and writing through on a cache miss. Always returns a ResultEnvelope;
// handler and validation failures are captured as status="error"
// envelopes rather than returned as errors, so a single bad tool call
// never aborts the calling loop.
func (m *Manager) Resolve(ctx context.Context, name string, args map[string]any) ResultEnvelope {
	def, ok := m.defs[name]
	if !ok {
		return errorEnvelope(name, args, ErrUnknownTool)
	}
	if err := def.validate(args); err != nil {
		return errorEnvelope(name, args, err)
	}

	if m.cache != nil {
		if cached, ok := m.cache.Get(ctx, m.scope, name, args); ok {
			return cached
		}
	}

	data, err := def.Handler(ctx, args)
	if err != nil {
		env := errorEnvelope(name, args, err)
		env.Description = def.Description
		env.Name = operationName(name)
		return env
	}

	env := ResultEnvelope{
		ToolKey:     name,
		Name:        operationName(name),
		Description: def.Description,
		Args:        args,
		Status:      "success",
		Data:        data,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if m.cache != nil {
		m.cache.Set(ctx, m.scope, name, args, env)
	}
	return env
}

// operationName derives a short operation label from a fully-qualified
// tool name, e.g. "knowledge.kb.search" -> "search".
func operationName(full string) string {
	if full == "" {
		return "tool"
	}
	parts := strings.Split(full, ".")
	return parts[len(parts)-1]
}

func errorEnvelope(name string, args map[string]any, err error) ResultEnvelope {
	return ResultEnvelope{
		ToolKey:   name,
		Name:      operationName(name),
		Args:      args,
		Status:    "error",
		Data:      map[string]any{"error": err.Error()},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// SanitizeMessages prepares a transcript for a model call: keeps
// assistant messages and records the tool_call ids they requested, keeps
// only tool messages whose ToolCallID matches a prior assistant tool
// call, and drops any leading tool messages (providers reject
// tool-first histories). Ported exactly from
// helpers.py::sanitize_messages_for_llm.
func SanitizeMessages(msgs []llm.Message) []llm.Message {
	if len(msgs) == 0 {
		return msgs
	}
	seen := make(map[string]bool)
	clean := make([]llm.Message, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case llm.RoleAssistant:
			for _, tc := range msg.ToolCalls {
				if tc.ID != "" {
					seen[tc.ID] = true
				}
			}
			clean = append(clean, msg)
		case llm.RoleTool:
			if msg.ToolCallID != "" && seen[msg.ToolCallID] {
				clean = append(clean, msg)
			}
		default:
			clean = append(clean, msg)
		}
	}
	for len(clean) > 0 && clean[0].Role == llm.RoleTool {
		clean = clean[1:]
	}
	return clean
}

// Cache stores tool output keyed by (instance scope, tool name, argument
// fingerprint), per spec.md §4.4. Backed by Redis hashes, one per scope,
// so per-scope clear (Clear, including for AllInstancesScope) is a single
// DEL and cross-instance clear (ClearAll) is a SCAN-and-DEL sweep. Failures read-through:
// a cache error never blocks the caller from invoking the tool directly,
// and a corrupt entry is evicted silently rather than returned.
type Cache struct {
	rdb *redis.Client
}

// NewCache builds a Cache over rdb. A nil Cache is valid and simply
// disables caching everywhere it's threaded through.
func NewCache(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func cacheKey(scope string) string {
	return fmt.Sprintf("sre:toolcache:%s", scope)
}

// fingerprint derives a stable cache field from a tool name and its
// arguments.
func fingerprint(tool string, args map[string]any) string {
	raw, _ := json.Marshal(args)
	sum := sha256.Sum256(append([]byte(tool+"|"), raw...))
	return hex.EncodeToString(sum[:])
}

// Get looks up a cached envelope. A read error or an undecodable entry is
// treated as a cache miss; an undecodable entry is evicted silently.
func (c *Cache) Get(ctx context.Context, scope, tool string, args map[string]any) (ResultEnvelope, bool) {
	if c == nil || c.rdb == nil {
		return ResultEnvelope{}, false
	}
	field := fingerprint(tool, args)
	raw, err := c.rdb.HGet(ctx, cacheKey(scope), field).Result()
	if err != nil {
		return ResultEnvelope{}, false
	}
	var env ResultEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		c.rdb.HDel(ctx, cacheKey(scope), field)
		return ResultEnvelope{}, false
	}
	return env, true
}

// Set writes through a successful envelope. Write failures are swallowed:
// caching is an optimization, not a correctness requirement.
func (c *Cache) Set(ctx context.Context, scope, tool string, args map[string]any, env ResultEnvelope) {
	if c == nil || c.rdb == nil {
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	key := cacheKey(scope)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, fingerprint(tool, args), raw)
	pipe.Expire(ctx, key, cacheTTL)
	pipe.Exec(ctx)
}

// Clear removes every cached entry for a single instance scope, returning
// the number of fields deleted.
func (c *Cache) Clear(ctx context.Context, scope string) (int64, error) {
	if c == nil || c.rdb == nil {
		return 0, nil
	}
	n, err := c.rdb.HLen(ctx, cacheKey(scope)).Result()
	if err != nil {
		return 0, fmt.Errorf("toolmanager: cache clear %s: %w", scope, err)
	}
	if err := c.rdb.Del(ctx, cacheKey(scope)).Err(); err != nil {
		return 0, fmt.Errorf("toolmanager: cache clear %s: %w", scope, err)
	}
	return n, nil
}

// ClearAll removes cached entries across every instance scope, including
// AllInstancesScope, returning the total number of keys deleted.
func (c *Cache) ClearAll(ctx context.Context) (int64, error) {
	if c == nil || c.rdb == nil {
		return 0, nil
	}
	var deleted int64
	var cursor uint64
	pattern := cacheKey("*")
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("toolmanager: cache clear all: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("toolmanager: cache clear all: %w", err)
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return deleted, nil
}

// Stats reports the cached-key count for a single scope.
type Stats struct {
	Scope      string `json:"scope"`
	CachedKeys int64  `json:"cached_keys"`
}

// Stats returns cache statistics for a single scope.
func (c *Cache) Stats(ctx context.Context, scope string) (Stats, error) {
	if c == nil || c.rdb == nil {
		return Stats{Scope: scope}, nil
	}
	n, err := c.rdb.HLen(ctx, cacheKey(scope)).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("toolmanager: cache stats %s: %w", scope, err)
	}
	return Stats{Scope: scope, CachedKeys: n}, nil
}

// StatsAll lists every scope with at least one cached entry, plus the
// total number of cached entries across them; per-scope counts are not
// kept.
type StatsAll struct {
	TotalKeys int64    `json:"total_keys"`
	Instances []string `json:"instances"`
}

// StatsAll sweeps every toolcache key and aggregates per-scope counts.
func (c *Cache) StatsAll(ctx context.Context) (StatsAll, error) {
	if c == nil || c.rdb == nil {
		return StatsAll{}, nil
	}
	var out StatsAll
	var cursor uint64
	pattern := cacheKey("*")
	prefix := "sre:toolcache:"
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return out, fmt.Errorf("toolmanager: cache stats all: %w", err)
		}
		for _, key := range keys {
			n, err := c.rdb.HLen(ctx, key).Result()
			if err != nil {
				continue
			}
			out.TotalKeys += n
			out.Instances = append(out.Instances, strings.TrimPrefix(key, prefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(out.Instances)
	return out, nil
}
