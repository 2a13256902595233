package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-router/backend/models"
	"go.uber.org/zap"
)

const testCatalog = `
[[strategies]]
id = "default"
name = "Default"

[strategies.allowed_models]
selected_models = ["openai/gpt-4o", "ollama/llama3"]

[strategies.auto_route]
enabled = true
prioritized_models = ["openai/gpt-4o"]
weak_models = ["ollama/llama3"]
classifier_enabled = true
threshold = 0.3

[[strategies.rate_limits]]
dimension = "requests"
window = "minute"
limit = 60.0
scope = "client"

[[strategies.rate_limits]]
dimension = "cost"
window = "day"
limit = 25.0
scope = "strategy"

[[clients]]
id = "c1"
name = "team-a"
enabled = true
strategy_id = "default"
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCatalog(t *testing.T) {
	path := writeCatalog(t, testCatalog)

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)

	require.Len(t, catalog.Strategies, 1)
	s := catalog.Strategies[0]
	assert.Equal(t, "default", s.ID)
	assert.Equal(t, []models.ModelRef{
		{Provider: "openai", Model: "gpt-4o"},
		{Provider: "ollama", Model: "llama3"},
	}, s.AllowedModels.SelectedModels)

	require.NotNil(t, s.AutoRoute)
	assert.True(t, s.AutoRoute.Enabled)
	assert.True(t, s.AutoRoute.ClassifierEnabled)
	assert.Equal(t, 0.3, s.AutoRoute.Threshold)
	assert.Equal(t, models.DefaultAutoModelName, s.AutoRoute.Name())

	require.Len(t, s.RateLimits, 2)
	assert.Equal(t, models.DimensionRequests, s.RateLimits[0].Dimension)
	assert.Equal(t, models.WindowMinute, s.RateLimits[0].Window)
	assert.Equal(t, models.ScopeClient, s.RateLimits[0].Scope)
	assert.Equal(t, models.ScopeStrategy, s.RateLimits[1].Scope)

	require.Len(t, catalog.Clients, 1)
	assert.Equal(t, "c1", catalog.Clients[0].ID)
	assert.True(t, catalog.Clients[0].Enabled)
	assert.Equal(t, "default", catalog.Clients[0].StrategyID)
}

func TestLoadCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not toml", "{{{{"},
		{
			name: "dangling strategy reference",
			content: `
[[clients]]
id = "c1"
name = "team-a"
enabled = true
strategy_id = "missing"
`,
		},
		{
			name: "bad model reference",
			content: `
[[strategies]]
id = "s1"
name = "broken"

[strategies.allowed_models]
selected_models = ["no-slash"]
`,
		},
		{
			name: "threshold out of range",
			content: `
[[strategies]]
id = "s1"
name = "broken"

[strategies.allowed_models]
selected_all = true

[strategies.auto_route]
enabled = true
prioritized_models = ["openai/gpt-4o"]
threshold = 2.0
`,
		},
		{
			name: "duplicate client id",
			content: `
[[strategies]]
id = "s1"
name = "ok"

[strategies.allowed_models]
selected_all = true

[[clients]]
id = "c1"
name = "a"
enabled = true
strategy_id = "s1"

[[clients]]
id = "c1"
name = "b"
enabled = true
strategy_id = "s1"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeCatalog(t, tt.content)
			_, err := LoadCatalog(path)
			assert.Error(t, err)
		})
	}
}

func TestStore_Lookups(t *testing.T) {
	path := writeCatalog(t, testCatalog)
	store, err := NewStore(path, zap.NewNop())
	require.NoError(t, err)

	client, ok := store.Client("c1")
	require.True(t, ok)
	assert.Equal(t, "team-a", client.Name)

	_, ok = store.Client("ghost")
	assert.False(t, ok)

	strategy, ok := store.Strategy("default")
	require.True(t, ok)
	assert.Equal(t, "Default", strategy.Name)

	_, ok = store.Strategy("ghost")
	assert.False(t, ok)

	assert.Len(t, store.Strategies(), 1)
}

func TestStore_ReloadSwapsCatalog(t *testing.T) {
	path := writeCatalog(t, testCatalog)
	store, err := NewStore(path, zap.NewNop())
	require.NoError(t, err)

	updated := `
[[strategies]]
id = "default"
name = "Updated"

[strategies.allowed_models]
selected_all = true

[[clients]]
id = "c2"
name = "team-b"
enabled = true
strategy_id = "default"
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	require.NoError(t, store.Reload())

	_, ok := store.Client("c1")
	assert.False(t, ok, "old clients are replaced wholesale")

	client, ok := store.Client("c2")
	require.True(t, ok)
	assert.Equal(t, "team-b", client.Name)

	strategy, ok := store.Strategy("default")
	require.True(t, ok)
	assert.Equal(t, "Updated", strategy.Name)
}

func TestStore_ReloadKeepsPreviousOnError(t *testing.T) {
	path := writeCatalog(t, testCatalog)
	store, err := NewStore(path, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{{{{"), 0o644))
	assert.Error(t, store.Reload())

	// The previous catalog still serves lookups.
	_, ok := store.Client("c1")
	assert.True(t, ok)
}

func TestStore_WatchReloadsOnChange(t *testing.T) {
	path := writeCatalog(t, testCatalog)
	store, err := NewStore(path, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = store.Watch(ctx)
	}()

	// Give the watcher a moment to install before writing.
	time.Sleep(100 * time.Millisecond)

	updated := `
[[strategies]]
id = "default"
name = "Watched"

[strategies.allowed_models]
selected_all = true

[[clients]]
id = "c9"
name = "team-watch"
enabled = true
strategy_id = "default"
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	assert.Eventually(t, func() bool {
		_, ok := store.Client("c9")
		return ok
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	<-done
}
