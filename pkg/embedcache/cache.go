// Package embedcache caches one embedding vector per memory record.
//
// Lookups go memory map first, then the sidecar file on disk, and only then
// to the embedding provider. Computed vectors are written through to both
// tiers and reused verbatim from then on.
package embedcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/moby/sys/atomicwriter"
	"golang.org/x/sync/singleflight"

	"github.com/oceanbase/powermem-recall/pkg/embedder"
	"github.com/oceanbase/powermem-recall/pkg/errs"
	"github.com/oceanbase/powermem-recall/pkg/record"
)

// RecordReader loads the record whose text is embedded.
type RecordReader interface {
	Read(ctx context.Context, id string) (*record.Record, error)
}

// Config contains configuration for the embedding cache.
type Config struct {
	// Dir holds one sidecar file per record, named <record id>.json.
	Dir string

	// Provider computes embeddings on a cache miss. Wrap it in an
	// embedder.RetryProvider to get backoff and timeouts.
	Provider embedder.Provider

	// Records resolves a record identifier to its content.
	Records RecordReader

	// Logger receives diagnostics. Nil uses the default logger.
	Logger *log.Logger
}

// Cache is a two-tier embedding cache keyed by record identifier.
// It is safe for concurrent use; concurrent misses for the same identifier
// share a single provider call.
type Cache struct {
	dir      string
	provider embedder.Provider
	records  RecordReader
	logger   *log.Logger

	mu     sync.RWMutex
	memory map[string][]float64

	group singleflight.Group
}

// New creates the sidecar directory if needed and returns an empty cache.
func New(cfg *Config) (*Cache, error) {
	if cfg == nil || cfg.Dir == "" || cfg.Provider == nil || cfg.Records == nil {
		return nil, fmt.Errorf("embedcache.New: %w: dir, provider and records are required", errs.ErrInvalidConfig)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("embedcache.New: %w: %w", errs.ErrStorage, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Cache{
		dir:      cfg.Dir,
		provider: cfg.Provider,
		records:  cfg.Records,
		logger:   logger.WithPrefix("embedcache"),
		memory:   make(map[string][]float64),
	}, nil
}

// Get returns the embedding of the record with the given identifier,
// computing and caching it on a miss.
//
// A provider failure is returned wrapped in errs.ErrEmbeddingService (when the
// provider is a RetryProvider) and nothing is cached. A failure to write the
// sidecar file is logged; the vector is still cached in memory and returned.
func (c *Cache) Get(ctx context.Context, id string) ([]float64, error) {
	if err := checkID(id); err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	if vec, ok := c.fromMemory(id); ok {
		return vec, nil
	}

	v, err, _ := c.group.Do(id, func() (interface{}, error) {
		if vec, ok := c.fromMemory(id); ok {
			return vec, nil
		}
		if vec, ok := c.fromDisk(id); ok {
			c.remember(id, vec)
			return vec, nil
		}
		return c.compute(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	return clone(v.([]float64)), nil
}

// Peek returns a cached embedding without calling the provider.
func (c *Cache) Peek(id string) ([]float64, bool) {
	if checkID(id) != nil {
		return nil, false
	}
	if vec, ok := c.fromMemory(id); ok {
		return vec, true
	}
	vec, ok := c.fromDisk(id)
	if ok {
		c.remember(id, vec)
		return clone(vec), true
	}
	return nil, false
}

// EmbedText embeds free text such as a search query. The result is not cached.
func (c *Cache) EmbedText(ctx context.Context, text string) ([]float64, error) {
	vec, err := c.provider.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("EmbedText: %w", err)
	}
	return vec, nil
}

// Warm computes the embeddings of every identifier that is not cached yet.
// Failures do not stop the warm-up; they are returned keyed by identifier.
func (c *Cache) Warm(ctx context.Context, ids []string) map[string]error {
	failures := make(map[string]error)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			failures[id] = err
			continue
		}
		if _, err := c.Get(ctx, id); err != nil {
			failures[id] = err
		}
	}
	if len(failures) > 0 {
		c.logger.Warn("embedding warm-up incomplete", "requested", len(ids), "failed", len(failures))
	}
	return failures
}

// Len returns the number of vectors held in memory.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.memory)
}

func (c *Cache) compute(ctx context.Context, id string) ([]float64, error) {
	rec, err := c.records.Read(ctx, id)
	if err != nil {
		return nil, err
	}

	vec, err := c.provider.Embed(ctx, rec.EmbeddingText())
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty embedding for %s", errs.ErrEmbeddingService, id)
	}

	if err := c.persist(id, vec); err != nil {
		c.logger.Warn("failed to write embedding sidecar", "id", id, "err", err)
	}
	c.remember(id, vec)

	return vec, nil
}

func (c *Cache) fromMemory(id string) ([]float64, bool) {
	c.mu.RLock()
	vec, ok := c.memory[id]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return clone(vec), true
}

func (c *Cache) remember(id string, vec []float64) {
	c.mu.Lock()
	c.memory[id] = clone(vec)
	c.mu.Unlock()
}

// fromDisk reads the sidecar file. A corrupt file counts as a miss so the
// vector is recomputed and the file rewritten.
func (c *Cache) fromDisk(id string) ([]float64, bool) {
	data, err := os.ReadFile(c.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("failed to read embedding sidecar", "id", id, "err", err)
		return nil, false
	}

	var vec []float64
	if err := json.Unmarshal(data, &vec); err != nil || len(vec) == 0 {
		c.logger.Warn("ignoring corrupt embedding sidecar", "id", id, "err", err)
		return nil, false
	}
	return vec, true
}

func (c *Cache) persist(id string, vec []float64) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	return atomicwriter.WriteFile(c.path(id), data, 0o644)
}

func (c *Cache) path(id string) string {
	return filepath.Join(c.dir, id+".json")
}

func clone(vec []float64) []float64 {
	out := make([]float64, len(vec))
	copy(out, vec)
	return out
}

func checkID(id string) error {
	if id == "" || strings.HasPrefix(id, ".") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: invalid record id %q", errs.ErrInvalidInput, id)
	}
	return nil
}
