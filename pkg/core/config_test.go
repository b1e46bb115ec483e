package core_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	recall "github.com/oceanbase/powermem-recall/pkg/core"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigFromEnv(t *testing.T) {
	chdir(t, t.TempDir())

	tests := []struct {
		name    string
		envVars map[string]string
		check   func(t *testing.T, cfg *recall.Config)
		wantErr bool
	}{
		{
			name: "defaults with SQLite and local embedder",
			envVars: map[string]string{
				"DATABASE_PROVIDER":  "sqlite",
				"EMBEDDING_PROVIDER": "local",
				"RECALL_DATA_DIR":    "/var/lib/recall",
			},
			check: func(t *testing.T, cfg *recall.Config) {
				assert.Equal(t, "sqlite", cfg.Storage.Provider)
				assert.Equal(t, filepath.Join("/var/lib/recall", "knowledge_graph.db"), cfg.Storage.DBPath)
				assert.Equal(t, filepath.Join("/var/lib/recall", "records"), cfg.Memory.RecordsDir)
				assert.Equal(t, filepath.Join("/var/lib/recall", "embeddings"), cfg.Memory.EmbeddingsDir)
				assert.Equal(t, filepath.Join("/var/lib/recall", "chat_history.json"), cfg.Memory.HistoryFile)
				assert.Equal(t, recall.DefaultMaxHistoryLength, cfg.Memory.MaxHistoryLength)
				assert.Equal(t, recall.DefaultTopK, cfg.Memory.DefaultTopK)
				assert.Equal(t, 30*time.Second, cfg.Memory.EmbeddingTimeout.Std())
				assert.NoError(t, cfg.Validate())
			},
		},
		{
			name: "tuned limits with Qwen",
			envVars: map[string]string{
				"DATABASE_PROVIDER":     "sqlite",
				"EMBEDDING_PROVIDER":    "qwen",
				"EMBEDDING_API_KEY":     "test-key",
				"MAX_HISTORY_LENGTH":    "4",
				"SEARCH_TOP_K":          "7",
				"SIMILARITY_THRESHOLD":  "0.25",
				"EMBEDDING_TIMEOUT":     "5s",
				"EMBEDDING_MAX_RETRIES": "1",
			},
			check: func(t *testing.T, cfg *recall.Config) {
				assert.Equal(t, "qwen", cfg.Embedder.Provider)
				assert.Equal(t, "text-embedding-v4", cfg.Embedder.Model)
				assert.Equal(t, 4, cfg.Memory.MaxHistoryLength)
				assert.Equal(t, 7, cfg.Memory.DefaultTopK)
				assert.InDelta(t, 0.25, cfg.Memory.SimilarityThreshold, 1e-9)
				assert.Equal(t, 5*time.Second, cfg.Memory.EmbeddingTimeout.Std())
				assert.Equal(t, 1, cfg.Memory.EmbeddingMaxRetries)
			},
		},
		{
			name: "postgres defaults",
			envVars: map[string]string{
				"DATABASE_PROVIDER": "postgres",
				"POSTGRES_PASSWORD": "secret",
			},
			check: func(t *testing.T, cfg *recall.Config) {
				assert.Equal(t, "localhost", cfg.Storage.Host)
				assert.Equal(t, 5432, cfg.Storage.Port)
				assert.Equal(t, "secret", cfg.Storage.Password)
				assert.Empty(t, cfg.Storage.DBPath)
			},
		},
		{
			name: "openai default model",
			envVars: map[string]string{
				"EMBEDDING_PROVIDER": "openai",
				"EMBEDDING_API_KEY":  "test-key",
			},
			check: func(t *testing.T, cfg *recall.Config) {
				assert.Equal(t, "openai", cfg.Embedder.Provider)
				assert.Equal(t, "text-embedding-ada-002", cfg.Embedder.Model)
			},
		},
		{
			name: "invalid number",
			envVars: map[string]string{
				"MAX_HISTORY_LENGTH": "ten",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{
				"DATABASE_PROVIDER", "EMBEDDING_PROVIDER", "EMBEDDING_API_KEY", "EMBEDDING_MODEL",
				"RECALL_DATA_DIR", "SQLITE_PATH", "MAX_HISTORY_LENGTH", "SEARCH_TOP_K",
				"SIMILARITY_THRESHOLD", "EMBEDDING_TIMEOUT", "EMBEDDING_MAX_RETRIES", "POSTGRES_HOST",
				"POSTGRES_PORT", "POSTGRES_PASSWORD",
			} {
				t.Setenv(k, "")
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := recall.LoadConfigFromEnv()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, recall.ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	files := map[string]string{
		"recall.json": `{
			"storage": {"provider": "sqlite", "db_path": "/tmp/kg.db"},
			"embedder": {"provider": "local", "dimensions": 64},
			"memory": {"data_dir": "/tmp/recall", "max_history_length": 3, "embedding_timeout": "2s"}
		}`,
		"recall.yaml": `
storage:
  provider: sqlite
  db_path: /tmp/kg.db
embedder:
  provider: local
  dimensions: 64
memory:
  data_dir: /tmp/recall
  max_history_length: 3
  embedding_timeout: 2s
`,
		"recall.toml": `
[storage]
provider = "sqlite"
db_path = "/tmp/kg.db"

[embedder]
provider = "local"
dimensions = 64

[memory]
data_dir = "/tmp/recall"
max_history_length = 3
embedding_timeout = "2s"
`,
	}

	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			cfg, err := recall.LoadConfigFromFile(writeFile(t, name, content))
			require.NoError(t, err)

			assert.Equal(t, "/tmp/kg.db", cfg.Storage.DBPath)
			assert.Equal(t, 64, cfg.Embedder.Dimensions)
			assert.Equal(t, 3, cfg.Memory.MaxHistoryLength)
			assert.Equal(t, 2*time.Second, cfg.Memory.EmbeddingTimeout.Std())
			assert.Equal(t, filepath.Join("/tmp/recall", "records"), cfg.Memory.RecordsDir)
			assert.Equal(t, recall.DefaultChunkSize, cfg.Memory.ChunkSize)
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestLoadConfigFromFileErrors(t *testing.T) {
	_, err := recall.LoadConfigFromFile(writeFile(t, "recall.ini", "x=1"))
	assert.ErrorIs(t, err, recall.ErrInvalidConfig)

	_, err = recall.LoadConfigFromJSON(writeFile(t, "bad.json", "{"))
	assert.ErrorIs(t, err, recall.ErrInvalidConfig)

	_, err = recall.LoadConfigFromYAML(writeFile(t, "bad.yaml", "memory:\n  embedding_timeout: soon\n"))
	assert.ErrorIs(t, err, recall.ErrInvalidConfig)

	_, err = recall.LoadConfigFromTOML(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	valid := func() *recall.Config {
		cfg := &recall.Config{Memory: recall.MemoryConfig{DataDir: t.TempDir()}}
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*recall.Config)
	}{
		{"unknown storage provider", func(c *recall.Config) { c.Storage.Provider = "neo4j" }},
		{"postgres without host", func(c *recall.Config) { c.Storage.Provider = "postgres" }},
		{"unknown embedder", func(c *recall.Config) { c.Embedder.Provider = "word2vec" }},
		{"openai without key", func(c *recall.Config) { c.Embedder.Provider = "openai" }},
		{"negative history", func(c *recall.Config) { c.Memory.MaxHistoryLength = -1 }},
		{"threshold out of range", func(c *recall.Config) { c.Memory.SimilarityThreshold = 1.5 }},
		{"overlap not below size", func(c *recall.Config) { c.Memory.ChunkOverlap = c.Memory.ChunkSize }},
		{"negative timeout", func(c *recall.Config) { c.Memory.EmbeddingTimeout = -1 }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, recall.ErrInvalidConfig)
		})
	}
}

func TestFindEnvFile(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("LOG_LEVEL=debug\n"), 0o644))
	chdir(t, nested)

	path, found := recall.FindEnvFile()
	require.True(t, found)
	assert.Equal(t, filepath.Join(root, ".env"), path)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
