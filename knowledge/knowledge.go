// Package knowledge implements read-only retrieval over the knowledge
// base's chunk keyspace: vector+metadata search, chunk fetch by document,
// and windowed related-chunk lookups. The indexing pipeline that
// populates sre_knowledge:* is out of scope (spec.md §1); this package
// only consumes it. Grounded on keys.py's knowledge_document/
// knowledge_chunk/knowledge_chunk_pattern key shapes and spec.md §4.9.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/redis-sre/agentcore/redis/keys"
)

// Chunk is a single retrievable unit of a knowledge document.
type Chunk struct {
	DocumentHash string  `json:"document_hash"`
	ChunkIndex   int     `json:"chunk_index"`
	Title        string  `json:"title"`
	Source       string  `json:"source"`
	Category     string  `json:"category,omitempty"`
	Severity     string  `json:"severity,omitempty"`
	ProductLabel string  `json:"product_label,omitempty"`
	Content      string  `json:"content"`
	Score        float64 `json:"score,omitempty"`

	// IsTargetChunk marks the chunk the caller originally matched, set
	// only by GetRelatedChunks to distinguish it within the returned
	// window (spec.md §4.9).
	IsTargetChunk bool `json:"is_target_chunk,omitempty"`
}

// Citation is a reference to a specific knowledge-base chunk, with an
// optional preview and relevance score. Composed from search hits: the
// caller truncates Content into ContentPreview at a configured length
// (spec.md §3 Data Model).
type Citation struct {
	DocumentID     string  `json:"document_id,omitempty"`
	DocumentHash   string  `json:"document_hash"`
	ChunkIndex     *int    `json:"chunk_index,omitempty"`
	Title          string  `json:"title"`
	Source         string  `json:"source"`
	ContentPreview string  `json:"content_preview,omitempty"`
	Score          float64 `json:"score,omitempty"`
}

// Filters narrows a search by tag/text fields alongside the vector KNN
// pass.
type Filters struct {
	Category     string
	Source       string
	Severity     string
	ProductLabel string
}

// Store retrieves knowledge chunks from Redis. Construct one per process
// around a shared go-redis client and the name of the search index
// maintained by the (out-of-scope) ingestion pipeline.
type Store struct {
	rdb       *redis.Client
	indexName string
}

// New builds a Store. indexName is the RediSearch index created by the
// ingestion pipeline over the sre_knowledge:* keyspace (e.g.
// "idx:sre_knowledge").
func New(rdb *redis.Client, indexName string) *Store {
	return &Store{rdb: rdb, indexName: indexName}
}

// Search issues a vector KNN query over the knowledge index, narrowed by
// any non-zero Filters fields, and returns up to topK ranked chunks.
// Uses the low-level Do command since go-redis has no typed FT.SEARCH
// wrapper, matching the teacher's approach of issuing raw commands the
// client doesn't model directly (registry/service.go's Do-based paths).
func (s *Store) Search(ctx context.Context, query string, filters Filters, topK int) ([]Chunk, error) {
	if topK <= 0 {
		topK = 5
	}
	tagQuery := buildTagQuery(filters)
	queryExpr := fmt.Sprintf("%s=>[KNN %d @embedding $vec AS score]", tagQuery, topK)

	args := []any{
		"FT.SEARCH", s.indexName, queryExpr,
		"PARAMS", 2, "vec", embeddingPlaceholder(query),
		"SORTBY", "score",
		"DIALECT", 2,
		"LIMIT", 0, topK,
	}
	res, err := s.rdb.Do(ctx, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("knowledge: search: %w", err)
	}
	return parseSearchReply(res)
}

// GetDocumentChunks returns every chunk of a document, ordered by
// ChunkIndex.
func (s *Store) GetDocumentChunks(ctx context.Context, documentHash string) ([]Chunk, error) {
	pattern := keys.KnowledgeChunkPattern(documentHash)
	chunkKeys, err := s.scanKeys(ctx, pattern)
	if err != nil {
		return nil, err
	}
	chunks := make([]Chunk, 0, len(chunkKeys))
	for _, key := range chunkKeys {
		chunk, ok, err := s.loadChunk(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			chunks = append(chunks, chunk)
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	return chunks, nil
}

// GetRelatedChunks returns the window of chunks around chunkIndex
// (inclusive, +/- window), with the originally matched chunk marked
// IsTargetChunk (spec.md §4.9).
func (s *Store) GetRelatedChunks(ctx context.Context, documentHash string, chunkIndex, window int) ([]Chunk, error) {
	all, err := s.GetDocumentChunks(ctx, documentHash)
	if err != nil {
		return nil, err
	}
	low, high := chunkIndex-window, chunkIndex+window
	out := make([]Chunk, 0, len(all))
	for _, c := range all {
		if c.ChunkIndex < low || c.ChunkIndex > high {
			continue
		}
		if c.ChunkIndex == chunkIndex {
			c.IsTargetChunk = true
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) loadChunk(ctx context.Context, key string) (Chunk, bool, error) {
	raw, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return Chunk{}, false, fmt.Errorf("knowledge: load chunk %s: %w", key, err)
	}
	if len(raw) == 0 {
		return Chunk{}, false, nil
	}
	documentHash, chunkIndex := parseChunkKey(key)
	score, _ := strconv.ParseFloat(raw["score"], 64)
	return Chunk{
		DocumentHash: documentHash,
		ChunkIndex:   chunkIndex,
		Title:        raw["title"],
		Source:       raw["source"],
		Category:     raw["category"],
		Severity:     raw["severity"],
		ProductLabel: raw["product_label"],
		Content:      raw["content"],
		Score:        score,
	}, true, nil
}

func (s *Store) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("knowledge: scan %s: %w", pattern, err)
		}
		out = append(out, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// parseChunkKey extracts the document hash and chunk index from a
// "sre_knowledge:{hash}:chunk:{index}" key.
func parseChunkKey(key string) (string, int) {
	parts := strings.Split(key, ":")
	if len(parts) < 4 {
		return "", 0
	}
	idx, _ := strconv.Atoi(parts[len(parts)-1])
	return parts[1], idx
}

func buildTagQuery(f Filters) string {
	var parts []string
	if f.Category != "" {
		parts = append(parts, fmt.Sprintf("@category:{%s}", escapeTag(f.Category)))
	}
	if f.Source != "" {
		parts = append(parts, fmt.Sprintf("@source:{%s}", escapeTag(f.Source)))
	}
	if f.Severity != "" {
		parts = append(parts, fmt.Sprintf("@severity:{%s}", escapeTag(f.Severity)))
	}
	if f.ProductLabel != "" {
		parts = append(parts, fmt.Sprintf("@product_label:{%s}", escapeTag(f.ProductLabel)))
	}
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, " ")
}

func escapeTag(s string) string {
	replacer := strings.NewReplacer("-", "\\-", " ", "\\ ", ".", "\\.")
	return replacer.Replace(s)
}

// embeddingPlaceholder stands in for the query embedding step, which
// belongs to the (out-of-scope) ingestion/embedding pipeline this package
// only consumes. Real deployments pass the caller-computed embedding
// bytes directly; this wraps the query text so Search's signature stays
// stable for callers already holding a query string.
func embeddingPlaceholder(query string) []byte {
	return []byte(query)
}

// parseSearchReply decodes a RESP2/RESP3 FT.SEARCH reply into Chunks.
// go-redis returns FT.SEARCH as a flat []any: [total, key1, fields1,
// key2, fields2, ...] where fieldsN is itself a flat []any of
// alternating field name/value pairs.
func parseSearchReply(reply any) ([]Chunk, error) {
	rows, ok := reply.([]any)
	if !ok || len(rows) == 0 {
		return nil, nil
	}
	var chunks []Chunk
	for i := 1; i+1 < len(rows); i += 2 {
		key, _ := rows[i].(string)
		fields, _ := rows[i+1].([]any)
		documentHash, chunkIndex := parseChunkKey(key)
		chunk := Chunk{DocumentHash: documentHash, ChunkIndex: chunkIndex}
		for j := 0; j+1 < len(fields); j += 2 {
			name, _ := fields[j].(string)
			value, _ := fields[j+1].(string)
			switch name {
			case "title":
				chunk.Title = value
			case "source":
				chunk.Source = value
			case "category":
				chunk.Category = value
			case "severity":
				chunk.Severity = value
			case "product_label":
				chunk.ProductLabel = value
			case "content":
				chunk.Content = value
			case "score":
				chunk.Score, _ = strconv.ParseFloat(value, 64)
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// PreviewLength is the default ContentPreview truncation length for
// Citation construction (spec.md §4.9 "content_preview is the hit's
// content truncated to a caller-configured length").
const PreviewLength = 280

// CitationFromChunk composes a Citation from a search hit, truncating
// Content into ContentPreview at maxLen (PreviewLength if maxLen <= 0).
func CitationFromChunk(c Chunk, maxLen int) Citation {
	if maxLen <= 0 {
		maxLen = PreviewLength
	}
	preview := c.Content
	if len(preview) > maxLen {
		preview = preview[:maxLen]
	}
	idx := c.ChunkIndex
	return Citation{
		DocumentHash:   c.DocumentHash,
		ChunkIndex:     &idx,
		Title:          c.Title,
		Source:         c.Source,
		ContentPreview: preview,
		Score:          c.Score,
	}
}

// KnowledgeSourcesPayload builds the metadata payload for a
// "knowledge_sources" progress event, surfacing retrieved citations live
// as the workflow retrieves them (spec.md §4.9).
func KnowledgeSourcesPayload(citations []Citation) map[string]any {
	raw, _ := json.Marshal(citations)
	var decoded []any
	_ = json.Unmarshal(raw, &decoded)
	return map[string]any{"citations": decoded}
}
