package redistools

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/redis-sre/agentcore/knowledge"
	"github.com/redis-sre/agentcore/toolmanager"
)

func testRDB(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestInfoDefinitionReturnsInfoText(t *testing.T) {
	rdb := testRDB(t)
	def := InfoDefinition(rdb)
	m, err := toolmanager.New(nil, "inst-1", def)
	require.NoError(t, err)

	env := m.Resolve(context.Background(), "redis.admin.info", map[string]any{})
	require.Equal(t, "success", env.Status)
	require.Contains(t, env.Data["info"].(string), "redis_version")
}

func TestConfigGetDefinitionReturnsParameters(t *testing.T) {
	rdb := testRDB(t)
	require.NoError(t, rdb.ConfigSet(context.Background(), "maxmemory", "100mb").Err())

	def := ConfigGetDefinition(rdb)
	m, err := toolmanager.New(nil, "inst-1", def)
	require.NoError(t, err)

	env := m.Resolve(context.Background(), "redis.admin.config_get", map[string]any{"pattern": "maxmemory"})
	require.Equal(t, "success", env.Status)
	config := env.Data["config"].(map[string]any)
	require.Equal(t, "100mb", config["maxmemory"])
}

func TestConfigGetDefinitionDefaultsPatternToWildcard(t *testing.T) {
	rdb := testRDB(t)
	def := ConfigGetDefinition(rdb)
	m, err := toolmanager.New(nil, "inst-1", def)
	require.NoError(t, err)

	env := m.Resolve(context.Background(), "redis.admin.config_get", map[string]any{})
	require.Equal(t, "success", env.Status)
}

func TestClientListDefinitionReturnsClients(t *testing.T) {
	rdb := testRDB(t)
	def := ClientListDefinition(rdb)
	m, err := toolmanager.New(nil, "inst-1", def)
	require.NoError(t, err)

	env := m.Resolve(context.Background(), "redis.admin.client_list", map[string]any{})
	require.Equal(t, "success", env.Status)
	require.IsType(t, "", env.Data["clients"])
}

func TestSlowlogDefinitionReturnsEmptyWhenNoEntries(t *testing.T) {
	rdb := testRDB(t)
	def := SlowlogDefinition(rdb)
	m, err := toolmanager.New(nil, "inst-1", def)
	require.NoError(t, err)

	env := m.Resolve(context.Background(), "redis.admin.slowlog", map[string]any{"count": float64(5)})
	require.Equal(t, "success", env.Status)
	entries := env.Data["entries"].([]map[string]any)
	require.Empty(t, entries)
}

func TestBuildWiresAdminAndKnowledgeToolsWhenRDBGiven(t *testing.T) {
	rdb := testRDB(t)
	kb := knowledge.New(rdb, "idx:sre_knowledge")

	full, knowledgeOnly, err := Build(nil, "inst-1", rdb, kb)
	require.NoError(t, err)

	fullNames := toolNames(full)
	require.Contains(t, fullNames, "redis.admin.info")
	require.Contains(t, fullNames, "knowledge.kb.search")

	knowledgeNames := toolNames(knowledgeOnly)
	require.Equal(t, []string{"knowledge.kb.search"}, knowledgeNames)
}

func TestBuildFallsBackToKnowledgeOnlyWithoutRDB(t *testing.T) {
	rdb := testRDB(t)
	kb := knowledge.New(rdb, "idx:sre_knowledge")

	full, knowledgeOnly, err := Build(nil, "", nil, kb)
	require.NoError(t, err)
	require.Same(t, full, knowledgeOnly)
}

func toolNames(m *toolmanager.Manager) []string {
	names := make([]string, 0)
	for _, d := range m.ToolDefinitions() {
		names = append(names, d.Name)
	}
	return names
}
