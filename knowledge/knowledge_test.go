package knowledge

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/redis-sre/agentcore/redis/keys"
)

func testStore(t *testing.T) (*Store, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, "idx:sre_knowledge"), rdb
}

func seedChunk(t *testing.T, rdb *redis.Client, documentHash string, index int, fields map[string]any) {
	t.Helper()
	key := keys.KnowledgeChunk(documentHash, index)
	require.NoError(t, rdb.HSet(context.Background(), key, fields).Err())
}

func TestGetDocumentChunksOrdersByIndex(t *testing.T) {
	ctx := context.Background()
	s, rdb := testStore(t)

	seedChunk(t, rdb, "doc-abc", 1, map[string]any{"title": "part 2", "content": "b"})
	seedChunk(t, rdb, "doc-abc", 0, map[string]any{"title": "part 1", "content": "a"})

	chunks, err := s.GetDocumentChunks(ctx, "doc-abc")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Equal(t, 0, chunks[0].ChunkIndex)
	require.Equal(t, 1, chunks[1].ChunkIndex)
}

func TestGetRelatedChunksMarksTarget(t *testing.T) {
	ctx := context.Background()
	s, rdb := testStore(t)

	for i := 0; i < 5; i++ {
		seedChunk(t, rdb, "doc-abc", i, map[string]any{"title": "p", "content": "c"})
	}

	window, err := s.GetRelatedChunks(ctx, "doc-abc", 2, 1)
	require.NoError(t, err)
	require.Len(t, window, 3)
	for _, c := range window {
		if c.ChunkIndex == 2 {
			require.True(t, c.IsTargetChunk)
		} else {
			require.False(t, c.IsTargetChunk)
		}
	}
}

func TestGetRelatedChunksClampsAtDocumentBounds(t *testing.T) {
	ctx := context.Background()
	s, rdb := testStore(t)
	seedChunk(t, rdb, "doc-abc", 0, map[string]any{"title": "p", "content": "c"})
	seedChunk(t, rdb, "doc-abc", 1, map[string]any{"title": "p", "content": "c"})

	window, err := s.GetRelatedChunks(ctx, "doc-abc", 0, 3)
	require.NoError(t, err)
	require.Len(t, window, 2)
}

func TestCitationFromChunkTruncatesPreview(t *testing.T) {
	c := Chunk{DocumentHash: "doc-abc", ChunkIndex: 0, Title: "RDB and AOF", Source: "https://redis.io/x", Content: "0123456789", Score: 0.92}
	cit := CitationFromChunk(c, 4)
	require.Equal(t, "0123", cit.ContentPreview)
	require.Equal(t, "doc-abc", cit.DocumentHash)
	require.NotNil(t, cit.ChunkIndex)
	require.Equal(t, 0, *cit.ChunkIndex)
}

func TestKnowledgeSourcesPayloadCarriesCitations(t *testing.T) {
	citations := []Citation{{DocumentHash: "doc-abc", Title: "RDB and AOF", Source: "https://redis.io/x", Score: 0.92}}
	payload := KnowledgeSourcesPayload(citations)
	got, ok := payload["citations"].([]any)
	require.True(t, ok)
	require.Len(t, got, 1)
}

func TestParseSearchReplyDecodesFlatRows(t *testing.T) {
	reply := []any{
		int64(1),
		"sre_knowledge:doc-abc:chunk:0",
		[]any{"title", "RDB and AOF", "source", "https://redis.io/x", "content", "hello", "score", "0.92"},
	}
	chunks, err := parseSearchReply(reply)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, "doc-abc", chunks[0].DocumentHash)
	require.Equal(t, 0, chunks[0].ChunkIndex)
	require.Equal(t, "RDB and AOF", chunks[0].Title)
	require.InDelta(t, 0.92, chunks[0].Score, 0.001)
}
