package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultDataDir             = "./recall_data"
	DefaultSchemaVersion       = "1"
	DefaultMaxHistoryLength    = 10
	DefaultTopK                = 5
	DefaultChunkSize           = 1000
	DefaultChunkOverlap        = 200
	DefaultEmbeddingTimeout    = 30 * time.Second
	DefaultEmbeddingMaxRetries = 3
)

// Config contains the complete configuration for a recall client.
//
// It includes settings for:
//   - Storage (the knowledge graph database)
//   - Embedder (the embedding provider)
//   - Memory (record, embedding and chat history locations and limits)
//   - Log (log level)
//
// Configuration is read once at startup; there is no reload.
//
// Example:
//
//	config := &core.Config{
//	    Storage: core.StorageConfig{
//	        Provider: "sqlite",
//	        DBPath:   "./data/knowledge_graph.db",
//	    },
//	    Embedder: core.EmbedderConfig{
//	        Provider:   "openai",
//	        APIKey:     "sk-...",
//	        Model:      "text-embedding-ada-002",
//	        Dimensions: 1536,
//	    },
//	    Memory: core.MemoryConfig{
//	        DataDir:          "./data",
//	        MaxHistoryLength: 20,
//	    },
//	}
type Config struct {
	// Storage contains knowledge graph storage configuration.
	Storage StorageConfig `json:"storage" yaml:"storage" toml:"storage"`

	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder" yaml:"embedder" toml:"embedder"`

	// Memory contains record store, search and chat history configuration.
	Memory MemoryConfig `json:"memory" yaml:"memory" toml:"memory"`

	// Log contains logging configuration.
	Log LogConfig `json:"log" yaml:"log" toml:"log"`

	// Logger overrides the logger built from Log. It is never serialized.
	Logger *log.Logger `json:"-" yaml:"-" toml:"-"`
}

// StorageConfig contains configuration for the knowledge graph store.
//
// Supported providers: sqlite (default), postgres, oceanbase
type StorageConfig struct {
	// Provider is the storage backend name.
	Provider string `json:"provider" yaml:"provider" toml:"provider"`

	// DBPath is the SQLite database file (default: <data_dir>/knowledge_graph.db).
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty" toml:"db_path,omitempty"`

	// SchemaVersion is the version tag recorded in the database.
	SchemaVersion string `json:"schema_version,omitempty" yaml:"schema_version,omitempty" toml:"schema_version,omitempty"`

	// Host, Port, User, Password, DBName and SSLMode address server backends.
	Host     string `json:"host,omitempty" yaml:"host,omitempty" toml:"host,omitempty"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty" toml:"port,omitempty"`
	User     string `json:"user,omitempty" yaml:"user,omitempty" toml:"user,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty" toml:"password,omitempty"`
	DBName   string `json:"db_name,omitempty" yaml:"db_name,omitempty" toml:"db_name,omitempty"`
	SSLMode  string `json:"ssl_mode,omitempty" yaml:"ssl_mode,omitempty" toml:"ssl_mode,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai, qwen, local (offline feature hashing)
type EmbedderConfig struct {
	// Provider is the embedding provider name.
	Provider string `json:"provider" yaml:"provider" toml:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" toml:"api_key,omitempty"`

	// Model is the embedding model name (e.g., "text-embedding-ada-002", "text-embedding-v4").
	Model string `json:"model,omitempty" yaml:"model,omitempty" toml:"model,omitempty"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" toml:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors (e.g., 1536, 1024).
	Dimensions int `json:"dimensions,omitempty" yaml:"dimensions,omitempty" toml:"dimensions,omitempty"`
}

// MemoryConfig contains configuration for records, search and chat history.
type MemoryConfig struct {
	// DataDir is the root directory for all file-backed state.
	DataDir string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`

	// RecordsDir holds one file per memory record (default: <data_dir>/records).
	RecordsDir string `json:"records_dir,omitempty" yaml:"records_dir,omitempty" toml:"records_dir,omitempty"`

	// EmbeddingsDir holds the cached embeddings (default: <data_dir>/embeddings).
	EmbeddingsDir string `json:"embeddings_dir,omitempty" yaml:"embeddings_dir,omitempty" toml:"embeddings_dir,omitempty"`

	// HistoryFile mirrors the chat history (default: <data_dir>/chat_history.json).
	HistoryFile string `json:"history_file,omitempty" yaml:"history_file,omitempty" toml:"history_file,omitempty"`

	// MaxHistoryLength bounds the chat history. Default: 10
	MaxHistoryLength int `json:"max_history_length,omitempty" yaml:"max_history_length,omitempty" toml:"max_history_length,omitempty"`

	// DefaultTopK is the result count used when a search does not set one. Default: 5
	DefaultTopK int `json:"default_top_k,omitempty" yaml:"default_top_k,omitempty" toml:"default_top_k,omitempty"`

	// SimilarityThreshold is the default minimum similarity. Default: 0.0
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty" yaml:"similarity_threshold,omitempty" toml:"similarity_threshold,omitempty"`

	// ChunkSize is the document chunk length in characters. Default: 1000
	ChunkSize int `json:"chunk_size,omitempty" yaml:"chunk_size,omitempty" toml:"chunk_size,omitempty"`

	// ChunkOverlap is the overlap between consecutive chunks. Default: 200
	ChunkOverlap int `json:"chunk_overlap,omitempty" yaml:"chunk_overlap,omitempty" toml:"chunk_overlap,omitempty"`

	// EmbeddingTimeout bounds each embedding call. Default: 30s
	EmbeddingTimeout Duration `json:"embedding_timeout,omitempty" yaml:"embedding_timeout,omitempty" toml:"embedding_timeout,omitempty"`

	// EmbeddingMaxRetries is the number of retries after a failed embedding
	// call. Zero means the default (3); a negative value disables retries.
	EmbeddingMaxRetries int `json:"embedding_max_retries,omitempty" yaml:"embedding_max_retries,omitempty" toml:"embedding_max_retries,omitempty"`

	// Username and ModelName are stamped on records appended by the client.
	Username  string `json:"username,omitempty" yaml:"username,omitempty" toml:"username,omitempty"`
	ModelName string `json:"model_name,omitempty" yaml:"model_name,omitempty" toml:"model_name,omitempty"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string `json:"level,omitempty" yaml:"level,omitempty" toml:"level,omitempty"`
}

// Duration is a time.Duration written as a string such as "30s" in
// configuration files.
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText formats the duration as a string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct and applies defaults
//
// Supported environment variables:
//   - DATABASE_PROVIDER (sqlite, postgres, oceanbase), SQLITE_PATH, SCHEMA_VERSION
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_DATABASE, POSTGRES_SSLMODE
//   - OCEANBASE_HOST, OCEANBASE_PORT, OCEANBASE_USER, OCEANBASE_PASSWORD, OCEANBASE_DATABASE
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_BASE_URL, EMBEDDING_DIMS
//   - RECALL_DATA_DIR, RECALL_RECORDS_DIR, RECALL_EMBEDDINGS_DIR, RECALL_HISTORY_FILE
//   - MAX_HISTORY_LENGTH, SEARCH_TOP_K, SIMILARITY_THRESHOLD, CHUNK_SIZE, CHUNK_OVERLAP
//   - EMBEDDING_TIMEOUT (e.g. "30s"), EMBEDDING_MAX_RETRIES
//   - RECALL_USERNAME, RECALL_MODEL_NAME, LOG_LEVEL
//
// Returns a Config instance, or an error wrapping ErrInvalidConfig when a
// numeric variable cannot be parsed.
//
// Example:
//
//	config, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnv() (*Config, error) {
	// Use FindEnvFile to locate .env file (supports upward search)
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	return configFromEnv()
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
//
// Variables already set in the process environment take precedence over
// the file, as with godotenv.Load.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, NewMemoryError("LoadConfigFromEnvFile", fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}
	return configFromEnv()
}

func configFromEnv() (*Config, error) {
	var p envParser

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")
	storage := StorageConfig{
		Provider:      provider,
		DBPath:        os.Getenv("SQLITE_PATH"),
		SchemaVersion: os.Getenv("SCHEMA_VERSION"),
	}

	switch provider {
	case "postgres":
		storage.Host = getEnvOrDefault("POSTGRES_HOST", "localhost")
		storage.Port = p.int("POSTGRES_PORT", 5432)
		storage.User = getEnvOrDefault("POSTGRES_USER", "postgres")
		storage.Password = os.Getenv("POSTGRES_PASSWORD")
		storage.DBName = getEnvOrDefault("POSTGRES_DATABASE", "powermem")
		storage.SSLMode = getEnvOrDefault("POSTGRES_SSLMODE", "disable")
	case "oceanbase":
		storage.Host = getEnvOrDefault("OCEANBASE_HOST", "127.0.0.1")
		storage.Port = p.int("OCEANBASE_PORT", 2881)
		storage.User = getEnvOrDefault("OCEANBASE_USER", "root@sys")
		storage.Password = os.Getenv("OCEANBASE_PASSWORD")
		storage.DBName = getEnvOrDefault("OCEANBASE_DATABASE", "powermem")
	}

	embedderProvider := getEnvOrDefault("EMBEDDING_PROVIDER", "local")
	embedder := EmbedderConfig{
		Provider:   embedderProvider,
		APIKey:     os.Getenv("EMBEDDING_API_KEY"),
		Model:      os.Getenv("EMBEDDING_MODEL"),
		BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
		Dimensions: p.int("EMBEDDING_DIMS", 0),
	}
	switch embedderProvider {
	case "qwen":
		if embedder.BaseURL == "" {
			embedder.BaseURL = os.Getenv("QWEN_EMBEDDING_BASE_URL")
		}
		if embedder.Model == "" {
			embedder.Model = "text-embedding-v4"
		}
	case "openai":
		if embedder.BaseURL == "" {
			embedder.BaseURL = os.Getenv("OPENAI_EMBEDDING_BASE_URL")
		}
		if embedder.Model == "" {
			embedder.Model = "text-embedding-ada-002"
		}
	}

	memory := MemoryConfig{
		DataDir:             getEnvOrDefault("RECALL_DATA_DIR", DefaultDataDir),
		RecordsDir:          os.Getenv("RECALL_RECORDS_DIR"),
		EmbeddingsDir:       os.Getenv("RECALL_EMBEDDINGS_DIR"),
		HistoryFile:         os.Getenv("RECALL_HISTORY_FILE"),
		MaxHistoryLength:    p.int("MAX_HISTORY_LENGTH", DefaultMaxHistoryLength),
		DefaultTopK:         p.int("SEARCH_TOP_K", DefaultTopK),
		SimilarityThreshold: p.float("SIMILARITY_THRESHOLD", 0),
		ChunkSize:           p.int("CHUNK_SIZE", DefaultChunkSize),
		ChunkOverlap:        p.int("CHUNK_OVERLAP", DefaultChunkOverlap),
		EmbeddingTimeout:    Duration(p.duration("EMBEDDING_TIMEOUT", DefaultEmbeddingTimeout)),
		EmbeddingMaxRetries: p.int("EMBEDDING_MAX_RETRIES", DefaultEmbeddingMaxRetries),
		Username:            os.Getenv("RECALL_USERNAME"),
		ModelName:           os.Getenv("RECALL_MODEL_NAME"),
	}

	if p.err != nil {
		return nil, NewMemoryError("LoadConfigFromEnv", p.err)
	}

	config := &Config{
		Storage:  storage,
		Embedder: embedder,
		Memory:   memory,
		Log:      LogConfig{Level: getEnvOrDefault("LOG_LEVEL", "info")},
	}
	config.ApplyDefaults()

	return config, nil
}

// LoadConfigFromJSON loads configuration from a JSON file.
func LoadConfigFromJSON(path string) (*Config, error) {
	return loadConfigFile("LoadConfigFromJSON", path, json.Unmarshal)
}

// LoadConfigFromYAML loads configuration from a YAML file.
func LoadConfigFromYAML(path string) (*Config, error) {
	return loadConfigFile("LoadConfigFromYAML", path, yaml.Unmarshal)
}

// LoadConfigFromTOML loads configuration from a TOML file.
func LoadConfigFromTOML(path string) (*Config, error) {
	return loadConfigFile("LoadConfigFromTOML", path, toml.Unmarshal)
}

// LoadConfigFromFile loads configuration choosing the format from the file
// extension: .json, .yaml/.yml, .toml or .env.
func LoadConfigFromFile(path string) (*Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadConfigFromJSON(path)
	case ".yaml", ".yml":
		return LoadConfigFromYAML(path)
	case ".toml":
		return LoadConfigFromTOML(path)
	case ".env":
		return LoadConfigFromEnvFile(path)
	}
	return nil, NewMemoryError("LoadConfigFromFile", fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, path))
}

func loadConfigFile(op, path string, unmarshal func([]byte, interface{}) error) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError(op, err)
	}

	var config Config
	if err := unmarshal(data, &config); err != nil {
		return nil, NewMemoryError(op, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}
	config.ApplyDefaults()

	return &config, nil
}

// ApplyDefaults fills every unset field with its default. Paths left empty
// are derived from Memory.DataDir.
func (c *Config) ApplyDefaults() {
	if c.Storage.Provider == "" {
		c.Storage.Provider = "sqlite"
	}
	if c.Storage.SchemaVersion == "" {
		c.Storage.SchemaVersion = DefaultSchemaVersion
	}
	if c.Embedder.Provider == "" {
		c.Embedder.Provider = "local"
	}

	m := &c.Memory
	if m.DataDir == "" {
		m.DataDir = DefaultDataDir
	}
	if m.RecordsDir == "" {
		m.RecordsDir = filepath.Join(m.DataDir, "records")
	}
	if m.EmbeddingsDir == "" {
		m.EmbeddingsDir = filepath.Join(m.DataDir, "embeddings")
	}
	if m.HistoryFile == "" {
		m.HistoryFile = filepath.Join(m.DataDir, "chat_history.json")
	}
	if c.Storage.Provider == "sqlite" && c.Storage.DBPath == "" {
		c.Storage.DBPath = filepath.Join(m.DataDir, "knowledge_graph.db")
	}
	if m.MaxHistoryLength == 0 {
		m.MaxHistoryLength = DefaultMaxHistoryLength
	}
	if m.DefaultTopK == 0 {
		m.DefaultTopK = DefaultTopK
	}
	if m.ChunkSize == 0 {
		m.ChunkSize = DefaultChunkSize
		if m.ChunkOverlap == 0 {
			m.ChunkOverlap = DefaultChunkOverlap
		}
	}
	if m.EmbeddingTimeout == 0 {
		m.EmbeddingTimeout = Duration(DefaultEmbeddingTimeout)
	}
	if m.EmbeddingMaxRetries == 0 {
		m.EmbeddingMaxRetries = DefaultEmbeddingMaxRetries
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate validates the configuration.
//
// Checks that:
//   - the storage provider is known and server backends have an address
//   - the embedder provider is known and remote providers have an API key
//   - sizes, limits and thresholds are in range
//
// Returns an error wrapping ErrInvalidConfig if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return NewMemoryError("Validate", fmt.Errorf("%w: %s", ErrInvalidConfig, err))
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Storage.Provider {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage.db_path is required for sqlite")
		}
	case "postgres", "oceanbase":
		if c.Storage.Host == "" || c.Storage.DBName == "" || c.Storage.User == "" {
			return fmt.Errorf("storage host, user and db_name are required for %s", c.Storage.Provider)
		}
	default:
		return fmt.Errorf("unknown storage provider %q", c.Storage.Provider)
	}

	switch c.Embedder.Provider {
	case "openai", "qwen":
		if c.Embedder.APIKey == "" {
			return fmt.Errorf("embedder.api_key is required for %s", c.Embedder.Provider)
		}
	case "local":
	default:
		return fmt.Errorf("unknown embedder provider %q", c.Embedder.Provider)
	}
	if c.Embedder.Dimensions < 0 {
		return fmt.Errorf("embedder.dimensions must not be negative")
	}

	m := c.Memory
	switch {
	case m.MaxHistoryLength <= 0:
		return fmt.Errorf("memory.max_history_length must be positive")
	case m.DefaultTopK <= 0:
		return fmt.Errorf("memory.default_top_k must be positive")
	case m.SimilarityThreshold < -1 || m.SimilarityThreshold > 1:
		return fmt.Errorf("memory.similarity_threshold must be in [-1, 1]")
	case m.ChunkSize <= 0:
		return fmt.Errorf("memory.chunk_size must be positive")
	case m.ChunkOverlap < 0 || m.ChunkOverlap >= m.ChunkSize:
		return fmt.Errorf("memory.chunk_overlap must be in [0, chunk_size)")
	case m.EmbeddingTimeout <= 0:
		return fmt.Errorf("memory.embedding_timeout must be positive")
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envParser reads typed environment variables and keeps the first error.
type envParser struct {
	err error
}

func (p *envParser) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw)
		return def
	}
	return v
}

func (p *envParser) float(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, raw)
		return def
	}
	return v
}

func (p *envParser) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw)
		return def
	}
	return v
}

func (p *envParser) fail(key, raw string) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %s=%q", ErrInvalidConfig, key, raw)
	}
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}

	for i := 0; i < 5; i++ {
		for _, name := range []string{".env", ".env.example"} {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, true
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
