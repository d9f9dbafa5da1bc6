// Package redistools adapts the Knowledge Retrieval store and a handful
// of read-oriented Redis admin commands into toolmanager.Definitions,
// implementing the taskrunner.ToolBuilder contract. Grounded on spec.md
// §4.4's "instance target for admin/REST/CLI tools, always includes
// knowledge-search tools" and on toolmanager.New/Definition's existing
// shape (this package supplies Handlers, not a new mechanism).
//
// Only the subset of admin operations useful for read-only diagnosis
// (INFO, CONFIG GET, SLOWLOG, CLIENT LIST) is wired here; the broader
// original_source/redis_sre_agent/tools catalog (docker log tailing,
// support-package capture, Redis Enterprise REST endpoints, rladmin CLI
// wrapping) each shells out to or calls infrastructure this module has
// no deployment-specific way to reach generically, and is left for a
// deployment's own ToolBuilder to add alongside these.
package redistools

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/redis-sre/agentcore/knowledge"
	"github.com/redis-sre/agentcore/toolmanager"
)

// knowledgeSearchSchema is the JSON Schema for the knowledge.kb.search
// tool's arguments.
var knowledgeSearchSchema = map[string]any{
	"type":     "object",
	"required": []any{"query"},
	"properties": map[string]any{
		"query":    map[string]any{"type": "string"},
		"category": map[string]any{"type": "string"},
		"top_k":    map[string]any{"type": "integer"},
	},
}

// KnowledgeDefinition adapts store.Search into a tool definition usable
// in both the full and knowledge-only tool managers.
func KnowledgeDefinition(store *knowledge.Store) toolmanager.Definition {
	return toolmanager.Definition{
		Name:        "knowledge.kb.search",
		Description: "Search the Redis knowledge base for relevant documentation and runbooks.",
		Parameters:  knowledgeSearchSchema,
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			query, _ := args["query"].(string)
			topK := 5
			if v, ok := args["top_k"].(float64); ok && v > 0 {
				topK = int(v)
			}
			filters := knowledge.Filters{}
			if category, ok := args["category"].(string); ok {
				filters.Category = category
			}
			chunks, err := store.Search(ctx, query, filters, topK)
			if err != nil {
				return nil, err
			}
			results := make([]map[string]any, 0, len(chunks))
			for _, c := range chunks {
				results = append(results, map[string]any{
					"document_hash": c.DocumentHash,
					"title":         c.Title,
					"source":        c.Source,
					"content":       c.Content,
					"score":         c.Score,
				})
			}
			return map[string]any{"results": results}, nil
		},
	}
}

// InfoDefinition wraps redis.Client.Info as a tool, scoped to the
// instance rdb already points at.
func InfoDefinition(rdb *redis.Client) toolmanager.Definition {
	return toolmanager.Definition{
		Name:        "redis.admin.info",
		Description: "Return the target Redis instance's INFO output, optionally scoped to one section.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"section": map[string]any{"type": "string"}},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			section, _ := args["section"].(string)
			var res string
			var err error
			if section != "" {
				res, err = rdb.Info(ctx, section).Result()
			} else {
				res, err = rdb.Info(ctx).Result()
			}
			if err != nil {
				return nil, fmt.Errorf("redis.admin.info: %w", err)
			}
			return map[string]any{"info": res}, nil
		},
	}
}

// ConfigGetDefinition wraps CONFIG GET. Never permits CONFIG SET: this
// tool set is read-only diagnosis, matching the corrector's own
// assumption that any CONFIG SET text in a response is a gating pattern
// (agent/correct.go's needsCorrection).
func ConfigGetDefinition(rdb *redis.Client) toolmanager.Definition {
	return toolmanager.Definition{
		Name:        "redis.admin.config_get",
		Description: "Get one or more Redis configuration parameters by glob pattern.",
		Parameters: map[string]any{
			"type":       "object",
			"required":   []any{"pattern"},
			"properties": map[string]any{"pattern": map[string]any{"type": "string"}},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			pattern, _ := args["pattern"].(string)
			if pattern == "" {
				pattern = "*"
			}
			res, err := rdb.ConfigGet(ctx, pattern).Result()
			if err != nil {
				return nil, fmt.Errorf("redis.admin.config_get: %w", err)
			}
			out := make(map[string]any, len(res))
			for k, v := range res {
				out[k] = v
			}
			return map[string]any{"config": out}, nil
		},
	}
}

// SlowlogDefinition wraps SLOWLOG GET.
func SlowlogDefinition(rdb *redis.Client) toolmanager.Definition {
	return toolmanager.Definition{
		Name:        "redis.admin.slowlog",
		Description: "Return recent entries from the target instance's slow log.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"count": map[string]any{"type": "integer"}},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			count := int64(10)
			if v, ok := args["count"].(float64); ok && v > 0 {
				count = int64(v)
			}
			entries, err := rdb.SlowLogGet(ctx, count).Result()
			if err != nil {
				return nil, fmt.Errorf("redis.admin.slowlog: %w", err)
			}
			rows := make([]map[string]any, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, map[string]any{
					"id":        e.ID,
					"duration":  e.Duration.String(),
					"args":      e.Args,
					"client":    e.ClientAddr,
				})
			}
			return map[string]any{"entries": rows}, nil
		},
	}
}

// ClientListDefinition wraps CLIENT LIST.
func ClientListDefinition(rdb *redis.Client) toolmanager.Definition {
	return toolmanager.Definition{
		Name:        "redis.admin.client_list",
		Description: "Return the target instance's connected client list.",
		Handler: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			res, err := rdb.ClientList(ctx).Result()
			if err != nil {
				return nil, fmt.Errorf("redis.admin.client_list: %w", err)
			}
			return map[string]any{"clients": res}, nil
		},
	}
}

// Build assembles the full tool manager (admin tools plus knowledge
// search) and the knowledge-only subset for one resolved instance's
// client, matching taskrunner.ToolBuilder's contract. cache may be nil.
func Build(cache *toolmanager.Cache, instanceScope string, rdb *redis.Client, kb *knowledge.Store) (full, knowledgeOnly *toolmanager.Manager, err error) {
	knowledgeDef := KnowledgeDefinition(kb)

	knowledgeOnly, err = toolmanager.New(cache, instanceScope, knowledgeDef)
	if err != nil {
		return nil, nil, err
	}

	if rdb == nil {
		return knowledgeOnly, knowledgeOnly, nil
	}

	full, err = toolmanager.New(cache, instanceScope, knowledgeDef,
		InfoDefinition(rdb),
		ConfigGetDefinition(rdb),
		SlowlogDefinition(rdb),
		ClientListDefinition(rdb),
	)
	if err != nil {
		return nil, nil, err
	}
	return full, knowledgeOnly, nil
}
