package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/oceanbase/powermem-recall/pkg/embedcache"
	"github.com/oceanbase/powermem-recall/pkg/embedder"
	localEmbedder "github.com/oceanbase/powermem-recall/pkg/embedder/local"
	openaiEmbedder "github.com/oceanbase/powermem-recall/pkg/embedder/openai"
	qwenEmbedder "github.com/oceanbase/powermem-recall/pkg/embedder/qwen"
	"github.com/oceanbase/powermem-recall/pkg/extract"
	"github.com/oceanbase/powermem-recall/pkg/history"
	"github.com/oceanbase/powermem-recall/pkg/ingest"
	"github.com/oceanbase/powermem-recall/pkg/record"
	"github.com/oceanbase/powermem-recall/pkg/search"
	"github.com/oceanbase/powermem-recall/pkg/storage"
	"github.com/oceanbase/powermem-recall/pkg/storage/oceanbase"
	postgresStore "github.com/oceanbase/powermem-recall/pkg/storage/postgres"
	sqliteStore "github.com/oceanbase/powermem-recall/pkg/storage/sqlite"
)

// Client is the main recall client.
//
// It provides a single interface over:
//   - the knowledge graph (edges, attributes, hierarchies)
//   - the append-only memory record store
//   - the embedding cache and similarity search
//   - the bounded chat history
//
// The client is thread-safe and can be used concurrently from multiple goroutines.
// Graph writes are serialized; reads run concurrently.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, _ := core.NewClient(config)
//	defer client.Close()
//
//	_, _ = client.RecordExchange(ctx, "What is Go?", "A programming language.")
//	results, _ := client.Search(ctx, "programming languages", core.WithTopK(3))
type Client struct {
	// config contains the client configuration, with defaults applied.
	config *Config

	logger *log.Logger

	// graph is the knowledge graph store.
	graph storage.GraphStore

	// records is the memory record store.
	records *record.Store

	// embedder computes embeddings, with retries and per-attempt timeouts.
	embedder embedder.Provider

	// embeddings caches record embeddings in memory and on disk.
	embeddings *embedcache.Cache

	// searcher ranks records against a query.
	searcher search.Searcher

	// history is the bounded chat history.
	history *history.Buffer

	// chunker splits documents for IngestDocument.
	chunker *ingest.Chunker

	// mu serializes graph writes.
	mu sync.RWMutex
}

// NewClient creates a new recall client.
//
// The client is initialized with:
//   - Graph store (SQLite, PostgreSQL, or OceanBase)
//   - Embedding provider (OpenAI, Qwen, or the offline local provider)
//   - Record store, embedding cache and chat history under Memory.DataDir
//
// Parameters:
//   - cfg: Configuration; unset fields take their defaults
//
// Returns a new Client instance, or an error if initialization fails.
//
// Example:
//
//	config := &core.Config{
//	    Memory:   core.MemoryConfig{DataDir: "./data"},
//	    Embedder: core.EmbedderConfig{Provider: "local"},
//	}
//	client, err := core.NewClient(config)
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, NewMemoryError("NewClient", fmt.Errorf("%w: config is nil", ErrInvalidConfig))
	}
	resolved := *cfg
	resolved.ApplyDefaults()
	if err := resolved.Validate(); err != nil {
		return nil, err
	}

	provider, err := initEmbedder(resolved.Embedder)
	if err != nil {
		return nil, err
	}

	client, err := newClient(&resolved, provider)
	if err != nil {
		_ = provider.Close()
		return nil, err
	}
	return client, nil
}

// NewClientWithEmbedder creates a client that uses the given embedding
// provider instead of the one named in cfg.Embedder. The client takes
// ownership of the provider and closes it on Close.
func NewClientWithEmbedder(cfg *Config, provider embedder.Provider) (*Client, error) {
	if cfg == nil || provider == nil {
		return nil, NewMemoryError("NewClientWithEmbedder", fmt.Errorf("%w: config and provider are required", ErrInvalidConfig))
	}
	resolved := *cfg
	resolved.ApplyDefaults()
	if err := resolved.Validate(); err != nil {
		return nil, err
	}

	return newClient(&resolved, provider)
}

func newClient(cfg *Config, provider embedder.Provider) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = NewLogger(cfg.Log.Level, nil)
	}

	retrying := embedder.NewRetryProvider(provider, &embedder.RetryConfig{
		MaxRetries:     cfg.Memory.EmbeddingMaxRetries,
		AttemptTimeout: cfg.Memory.EmbeddingTimeout.Std(),
		Logger:         logger,
	})

	records, err := record.New(&record.Config{Dir: cfg.Memory.RecordsDir, Logger: logger})
	if err != nil {
		return nil, NewMemoryError("NewClient", err)
	}

	embeddings, err := embedcache.New(&embedcache.Config{
		Dir:      cfg.Memory.EmbeddingsDir,
		Provider: retrying,
		Records:  records,
		Logger:   logger,
	})
	if err != nil {
		return nil, NewMemoryError("NewClient", err)
	}

	searcher, err := search.NewLinearSearcher(&search.LinearConfig{
		Records:    records,
		Embeddings: embeddings,
		Logger:     logger,
	})
	if err != nil {
		return nil, NewMemoryError("NewClient", err)
	}

	chunker, err := ingest.NewChunker(cfg.Memory.ChunkSize, cfg.Memory.ChunkOverlap)
	if err != nil {
		return nil, NewMemoryError("NewClient", err)
	}

	buffer, err := history.Open(&history.Config{
		Path:      cfg.Memory.HistoryFile,
		MaxLength: cfg.Memory.MaxHistoryLength,
		Logger:    logger,
	})
	if err != nil {
		return nil, NewMemoryError("NewClient", err)
	}

	// The graph store is opened last so no earlier failure leaks a connection.
	graph, err := initStorage(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	logger.Debug("client ready",
		"storage", cfg.Storage.Provider,
		"embedder", cfg.Embedder.Provider,
		"data_dir", cfg.Memory.DataDir)

	return &Client{
		config:     cfg,
		logger:     logger,
		graph:      graph,
		records:    records,
		embedder:   retrying,
		embeddings: embeddings,
		searcher:   searcher,
		history:    buffer,
		chunker:    chunker,
	}, nil
}

// Config returns a copy of the resolved configuration.
func (c *Client) Config() Config {
	return *c.config
}

// RecordExchange stores a prompt/response pair as an interaction record and
// appends it to the chat history.
//
// The record is written first. If the history cannot be persisted afterwards,
// the record stays in place and the error is returned.
//
// Returns the identifier of the new record.
func (c *Client) RecordExchange(ctx context.Context, prompt, response string) (string, error) {
	id, err := c.records.AppendInteraction(ctx, prompt, response, c.config.Memory.Username, c.config.Memory.ModelName)
	if err != nil {
		return "", NewMemoryError("RecordExchange", err)
	}
	if err := c.history.Append(prompt, response); err != nil {
		return id, NewMemoryError("RecordExchange", err)
	}
	return id, nil
}

// AppendDocumentChunk stores one chunk of a document as a record.
func (c *Client) AppendDocumentChunk(ctx context.Context, chunkID, text string) (string, error) {
	id, err := c.records.AppendDocumentChunk(ctx, chunkID, text, c.config.Memory.Username, c.config.Memory.ModelName)
	if err != nil {
		return "", NewMemoryError("AppendDocumentChunk", err)
	}
	return id, nil
}

// IngestDocument splits text into overlapping chunks and stores every chunk
// as a document-chunk record. A document with no non-blank text produces no
// records.
//
// If a chunk fails to store, the chunks stored before it remain and the
// partial result is returned with the error.
func (c *Client) IngestDocument(ctx context.Context, text string) (*IngestResult, error) {
	docID, chunks := c.chunker.Document(text)
	result := &IngestResult{
		DocumentID: docID,
		ChunkIDs:   make([]string, 0, len(chunks)),
		RecordIDs:  make([]string, 0, len(chunks)),
	}

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return result, NewMemoryError("IngestDocument", err)
		}
		id, err := c.records.AppendDocumentChunk(ctx, chunk.ID, chunk.Text, c.config.Memory.Username, c.config.Memory.ModelName)
		if err != nil {
			return result, NewMemoryError("IngestDocument", err)
		}
		result.ChunkIDs = append(result.ChunkIDs, chunk.ID)
		result.RecordIDs = append(result.RecordIDs, id)
	}

	c.logger.Info("document ingested", "document_id", docID, "chunks", len(chunks))
	return result, nil
}

// GetRecord reads a record by identifier.
func (c *Client) GetRecord(ctx context.Context, id string) (*Record, error) {
	rec, err := c.records.Read(ctx, id)
	if err != nil {
		return nil, NewMemoryError("GetRecord", err)
	}
	return rec, nil
}

// ListRecords returns every record identifier in ascending order.
func (c *Client) ListRecords(ctx context.Context) ([]string, error) {
	ids, err := c.records.ListAll(ctx)
	if err != nil {
		return nil, NewMemoryError("ListRecords", err)
	}
	return ids, nil
}

// Search returns the records most similar to query, most similar first.
//
// Parameters:
//   - ctx: Context for cancellation
//   - query: Search query (text string)
//   - opts: Optional parameters (TopK, Threshold)
//
// Example:
//
//	results, err := client.Search(ctx, "Python programming",
//	    core.WithTopK(10),
//	    core.WithThreshold(0.3),
//	)
func (c *Client) Search(ctx context.Context, query string, opts ...SearchOption) ([]*SearchResult, error) {
	searchOpts := applySearchOptions(opts)
	if searchOpts.TopK < 0 {
		return nil, NewMemoryError("Search", fmt.Errorf("%w: top k must not be negative", ErrInvalidInput))
	}

	options := &search.Options{
		TopK:      c.config.Memory.DefaultTopK,
		Threshold: c.config.Memory.SimilarityThreshold,
	}
	if searchOpts.TopK > 0 {
		options.TopK = searchOpts.TopK
	}
	if searchOpts.Threshold != nil {
		options.Threshold = *searchOpts.Threshold
	}

	results, err := c.searcher.Search(ctx, query, options)
	if err != nil {
		return nil, NewMemoryError("Search", err)
	}
	return results, nil
}

// GetEmbedding returns the embedding of a record, computing and caching it
// on first use.
func (c *Client) GetEmbedding(ctx context.Context, id string) ([]float64, error) {
	vec, err := c.embeddings.Get(ctx, id)
	if err != nil {
		return nil, NewMemoryError("GetEmbedding", err)
	}
	return vec, nil
}

// WarmEmbeddings computes the embeddings of the given records, or of every
// record when no identifiers are given. Per-record failures are returned
// keyed by identifier; an error is returned only if the records cannot be
// listed.
func (c *Client) WarmEmbeddings(ctx context.Context, ids ...string) (map[string]error, error) {
	if len(ids) == 0 {
		all, err := c.records.ListAll(ctx)
		if err != nil {
			return nil, NewMemoryError("WarmEmbeddings", err)
		}
		ids = all
	}
	return c.embeddings.Warm(ctx, ids), nil
}

// History returns a copy of the chat history, oldest first.
func (c *Client) History() []HistoryEntry {
	return c.history.Snapshot()
}

// ClearHistory empties the chat history and its file.
func (c *Client) ClearHistory() error {
	return NewMemoryError("ClearHistory", c.history.Clear())
}

// AddEdge inserts or replaces the edge (source, target, relType).
//
// Example:
//
//	err := client.AddEdge(ctx, "alice", "bob", "knows", 0.8,
//	    core.WithConfidence(0.9),
//	    core.WithBidirectional(),
//	)
func (c *Client) AddEdge(ctx context.Context, source, target, relType string, strength float64, opts ...GraphOption) error {
	graphOpts := applyGraphOptions(opts)
	edge := storage.NewEdge(source, target, relType, strength)
	edge.Confidence = graphOpts.Confidence
	edge.Bidirectional = graphOpts.Bidirectional
	edge.StartTime = graphOpts.StartTime
	edge.EndTime = graphOpts.EndTime
	edge.Metadata = graphOpts.Metadata

	c.mu.Lock()
	defer c.mu.Unlock()

	return NewMemoryError("AddEdge", c.graph.UpsertEdge(ctx, edge))
}

// UpsertEdge writes a fully specified edge.
//
// Every field is stored as given, Confidence included: a zero Confidence is
// stored as 0 and falls below any positive WithMinConfidence filter. Build the
// edge with NewEdge to start from DefaultConfidence.
//
// Example:
//
//	edge := core.NewEdge("alice", "bob", "knows", 0.8)
//	edge.Bidirectional = true
//	err := client.UpsertEdge(ctx, edge)
func (c *Client) UpsertEdge(ctx context.Context, edge *Edge) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return NewMemoryError("UpsertEdge", c.graph.UpsertEdge(ctx, edge))
}

// GetEdge returns the edge for the triple, or an error wrapping ErrNotFound.
func (c *Client) GetEdge(ctx context.Context, source, target, relType string) (*Edge, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	edge, err := c.graph.GetEdge(ctx, source, target, relType)
	if err != nil {
		return nil, NewMemoryError("GetEdge", err)
	}
	return edge, nil
}

// GetRelated returns the outgoing edges of node plus incoming bidirectional
// edges. An empty relType matches every type.
func (c *Client) GetRelated(ctx context.Context, node, relType string) ([]*Relation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	related, err := c.graph.GetRelated(ctx, node, relType)
	if err != nil {
		return nil, NewMemoryError("GetRelated", err)
	}
	return related, nil
}

// UpdateStrength overwrites the strength of an existing edge. Updating an
// edge that does not exist changes nothing and is logged, not returned.
func (c *Client) UpdateStrength(ctx context.Context, source, target, relType string, strength float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	updated, err := c.graph.UpdateStrength(ctx, source, target, relType, strength)
	if err != nil {
		return NewMemoryError("UpdateStrength", err)
	}
	if !updated {
		c.logger.Warn("strength update matched no edge", "source", source, "target", target, "type", relType)
	}
	return nil
}

// SearchEdges returns edges valid at some point in the requested window with
// at least the requested confidence, ordered by id.
func (c *Client) SearchEdges(ctx context.Context, opts ...EdgeSearchOption) ([]*Edge, error) {
	searchOpts := applyEdgeSearchOptions(opts)

	c.mu.RLock()
	defer c.mu.RUnlock()

	edges, err := c.graph.SearchEdges(ctx, &storage.EdgeSearchOptions{
		Start:         searchOpts.Start,
		End:           searchOpts.End,
		MinConfidence: searchOpts.MinConfidence,
	})
	if err != nil {
		return nil, NewMemoryError("SearchEdges", err)
	}
	return edges, nil
}

// Neighbors returns every node within maxDepth hops of node.
func (c *Client) Neighbors(ctx context.Context, node string, maxDepth int, relType string) ([]*Neighbor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	neighbors, err := c.graph.Neighbors(ctx, node, maxDepth, relType)
	if err != nil {
		return nil, NewMemoryError("Neighbors", err)
	}
	return neighbors, nil
}

// SetAttribute inserts or replaces the attribute name of node.
func (c *Client) SetAttribute(ctx context.Context, node, name, value string, opts ...GraphOption) error {
	graphOpts := applyGraphOptions(opts)

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.graph.UpsertAttribute(ctx, &storage.NodeAttribute{
		NodeID:     node,
		Name:       name,
		Value:      value,
		Confidence: graphOpts.Confidence,
	})
	return NewMemoryError("SetAttribute", err)
}

// GetAttributes returns the attributes of node ordered by name.
func (c *Client) GetAttributes(ctx context.Context, node string) ([]*NodeAttribute, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	attrs, err := c.graph.GetAttributes(ctx, node)
	if err != nil {
		return nil, NewMemoryError("GetAttributes", err)
	}
	return attrs, nil
}

// AddHierarchy inserts or replaces the link (parent, child, hierarchyType).
func (c *Client) AddHierarchy(ctx context.Context, parent, child, hierarchyType string, opts ...GraphOption) error {
	graphOpts := applyGraphOptions(opts)

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.graph.UpsertHierarchy(ctx, &storage.Hierarchy{
		ParentID:   parent,
		ChildID:    child,
		Type:       hierarchyType,
		Confidence: graphOpts.Confidence,
	})
	return NewMemoryError("AddHierarchy", err)
}

// GetChildren returns the links whose parent is node.
func (c *Client) GetChildren(ctx context.Context, node, hierarchyType string) ([]*Hierarchy, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	links, err := c.graph.GetChildren(ctx, node, hierarchyType)
	if err != nil {
		return nil, NewMemoryError("GetChildren", err)
	}
	return links, nil
}

// GetParents returns the links whose child is node.
func (c *Client) GetParents(ctx context.Context, node, hierarchyType string) ([]*Hierarchy, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	links, err := c.graph.GetParents(ctx, node, hierarchyType)
	if err != nil {
		return nil, NewMemoryError("GetParents", err)
	}
	return links, nil
}

// GetAncestors returns every transitive parent of node, nearest first.
func (c *Client) GetAncestors(ctx context.Context, node, hierarchyType string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids, err := c.graph.GetAncestors(ctx, node, hierarchyType)
	if err != nil {
		return nil, NewMemoryError("GetAncestors", err)
	}
	return ids, nil
}

// GetDescendants returns every transitive child of node, nearest first.
func (c *Client) GetDescendants(ctx context.Context, node, hierarchyType string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids, err := c.graph.GetDescendants(ctx, node, hierarchyType)
	if err != nil {
		return nil, NewMemoryError("GetDescendants", err)
	}
	return ids, nil
}

// ApplyExtraction writes a parsed extraction into the graph, edges first,
// then attributes, then hierarchies. It stops at the first failing row; rows
// written before it are kept.
func (c *Client) ApplyExtraction(ctx context.Context, ext *extract.Extraction) (*ExtractionSummary, error) {
	summary := &ExtractionSummary{}
	if ext == nil {
		return summary, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, edge := range ext.Edges {
		if err := c.graph.UpsertEdge(ctx, edge); err != nil {
			return summary, NewMemoryError("ApplyExtraction", err)
		}
		summary.Edges++
	}
	for _, attr := range ext.Attributes {
		if err := c.graph.UpsertAttribute(ctx, attr); err != nil {
			return summary, NewMemoryError("ApplyExtraction", err)
		}
		summary.Attributes++
	}
	for _, link := range ext.Hierarchies {
		if err := c.graph.UpsertHierarchy(ctx, link); err != nil {
			return summary, NewMemoryError("ApplyExtraction", err)
		}
		summary.Hierarchies++
	}

	c.logger.Debug("extraction applied",
		"edges", summary.Edges, "attributes", summary.Attributes, "hierarchies", summary.Hierarchies)
	return summary, nil
}

// ApplyExtractionText parses model output with extract.Parse and writes it
// into the graph. Malformed output writes nothing and returns an error
// wrapping ErrMalformedExtraction.
func (c *Client) ApplyExtractionText(ctx context.Context, text string) (*ExtractionSummary, error) {
	ext, err := extract.Parse(text)
	if err != nil {
		return nil, NewMemoryError("ApplyExtractionText", err)
	}
	return c.ApplyExtraction(ctx, ext)
}

// Close closes the client and releases all resources.
//
// This method:
//   - Closes the graph store connection
//   - Closes the embedding provider
//
// All errors encountered are joined and returned.
//
// Example:
//
//	defer client.Close()
func (c *Client) Close() error {
	var errs []error

	if c.graph != nil {
		if err := c.graph.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.embedder != nil {
		if err := c.embedder.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return NewMemoryError("Close", errors.Join(errs...))
}

// initStorage initializes the graph store backend.
func initStorage(cfg StorageConfig, logger *log.Logger) (storage.GraphStore, error) {
	var (
		store storage.GraphStore
		err   error
	)

	switch cfg.Provider {
	case "sqlite":
		store, err = sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:        cfg.DBPath,
			SchemaVersion: cfg.SchemaVersion,
			Logger:        logger,
		})
	case "postgres":
		store, err = postgresStore.NewClient(&postgresStore.Config{
			Host:          cfg.Host,
			Port:          cfg.Port,
			User:          cfg.User,
			Password:      cfg.Password,
			DBName:        cfg.DBName,
			SSLMode:       cfg.SSLMode,
			SchemaVersion: cfg.SchemaVersion,
			Logger:        logger,
		})
	case "oceanbase":
		store, err = oceanbase.NewClient(&oceanbase.Config{
			Host:          cfg.Host,
			Port:          cfg.Port,
			User:          cfg.User,
			Password:      cfg.Password,
			DBName:        cfg.DBName,
			SchemaVersion: cfg.SchemaVersion,
			Logger:        logger,
		})
	default:
		return nil, NewMemoryError("initStorage", ErrInvalidConfig)
	}
	if err != nil {
		return nil, NewMemoryError("initStorage", err)
	}
	return store, nil
}

// initEmbedder initializes the embedder provider.
func initEmbedder(cfg EmbedderConfig) (embedder.Provider, error) {
	var (
		provider embedder.Provider
		err      error
	)

	switch cfg.Provider {
	case "openai":
		provider, err = openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case "qwen":
		provider, err = qwenEmbedder.NewClient(&qwenEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case "local":
		provider = localEmbedder.NewClient(&localEmbedder.Config{Dimensions: cfg.Dimensions})
	default:
		return nil, NewMemoryError("initEmbedder", ErrInvalidConfig)
	}
	if err != nil {
		return nil, NewMemoryError("initEmbedder", err)
	}
	return provider, nil
}
