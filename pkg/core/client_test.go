package core_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	recall "github.com/oceanbase/powermem-recall/pkg/core"
	"github.com/oceanbase/powermem-recall/pkg/record"
)

func newTestConfig(t *testing.T, dataDir string) *recall.Config {
	t.Helper()
	return &recall.Config{
		Embedder: recall.EmbedderConfig{Provider: "local"},
		Memory: recall.MemoryConfig{
			DataDir:          dataDir,
			MaxHistoryLength: 3,
			ChunkSize:        20,
			ChunkOverlap:     5,
		},
		Logger: recall.NewLogger("error", io.Discard),
	}
}

func newTestClient(t *testing.T) (*recall.Client, string) {
	t.Helper()
	dataDir := t.TempDir()
	client, err := recall.NewClient(newTestConfig(t, dataDir))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, dataDir
}

type failingProvider struct{}

func (failingProvider) Embed(context.Context, string) ([]float64, error) {
	return nil, errors.New("service down")
}

func (failingProvider) EmbedBatch(context.Context, []string) ([][]float64, error) {
	return nil, errors.New("service down")
}

func (failingProvider) Dimensions() int { return 8 }
func (failingProvider) Close() error    { return nil }

func TestNewClient_InvalidConfig(t *testing.T) {
	_, err := recall.NewClient(nil)
	assert.ErrorIs(t, err, recall.ErrInvalidConfig)

	cfg := newTestConfig(t, t.TempDir())
	cfg.Embedder.Provider = "openai"
	_, err = recall.NewClient(cfg)
	assert.ErrorIs(t, err, recall.ErrInvalidConfig)

	cfg = newTestConfig(t, t.TempDir())
	cfg.Embedder = recall.EmbedderConfig{Provider: "openai", APIKey: "k", Model: "no-such-model"}
	_, err = recall.NewClient(cfg)
	assert.ErrorIs(t, err, recall.ErrInvalidConfig)
}

func TestClient_RecordExchange(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	for i := 0; i < 5; i++ {
		_, err := client.RecordExchange(ctx, "prompt "+string(rune('a'+i)), "response")
		require.NoError(t, err)
	}

	ids, err := client.ListRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 5)

	rec, err := client.GetRecord(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, record.TypeInteraction, rec.Type)
	assert.Equal(t, "prompt a", rec.Content.Prompt)

	history := client.History()
	require.Len(t, history, 3)
	assert.Equal(t, "prompt c", history[0].Prompt)
	assert.Equal(t, "prompt e", history[2].Prompt)

	require.NoError(t, client.ClearHistory())
	assert.Empty(t, client.History())

	ids, err = client.ListRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 5, "clearing history keeps records")
}

func TestClient_GetRecordNotFound(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.GetRecord(context.Background(), "20240101T000000.000000000Z_interaction")
	assert.ErrorIs(t, err, recall.ErrNotFound)
}

func TestClient_Search(t *testing.T) {
	ctx := context.Background()
	client, dataDir := newTestClient(t)

	results, err := client.Search(ctx, "anything")
	require.NoError(t, err)
	assert.Empty(t, results)

	target, err := client.RecordExchange(ctx, "What is Go?", "A programming language.")
	require.NoError(t, err)
	_, err = client.RecordExchange(ctx, "Weather tomorrow?", "Sunny with light wind.")
	require.NoError(t, err)
	_, err = client.AppendDocumentChunk(ctx, "manual_chunk_0", "Bread needs flour, water and yeast.")
	require.NoError(t, err)

	results, err = client.Search(ctx, "What is Go?\nA programming language.")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, target, results[0].ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)
	assert.Equal(t, "Prompt: What is Go?\nResponse: A programming language.", results[0].Content)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i].Similarity, results[i-1].Similarity)
	}

	results, err = client.Search(ctx, "What is Go?\nA programming language.", recall.WithTopK(1))
	require.NoError(t, err)
	assert.Len(t, results, 1)

	results, err = client.Search(ctx, "What is Go?\nA programming language.", recall.WithThreshold(0.999))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, target, results[0].ID)

	_, err = client.Search(ctx, "query", recall.WithTopK(-1))
	assert.ErrorIs(t, err, recall.ErrInvalidInput)

	entries, err := os.ReadDir(filepath.Join(dataDir, "embeddings"))
	require.NoError(t, err)
	assert.Len(t, entries, 3, "every record embedding is cached on disk")
}

func TestClient_SearchEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t, t.TempDir())
	cfg.Memory.EmbeddingMaxRetries = -1

	client, err := recall.NewClientWithEmbedder(cfg, failingProvider{})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.RecordExchange(ctx, "hello", "world")
	require.NoError(t, err)

	_, err = client.Search(ctx, "hello")
	assert.ErrorIs(t, err, recall.ErrEmbeddingService)

	failures, err := client.WarmEmbeddings(ctx)
	require.NoError(t, err)
	assert.Len(t, failures, 1)
}

func TestClient_EmbeddingsAndWarmUp(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	id, err := client.RecordExchange(ctx, "cats", "purr")
	require.NoError(t, err)
	_, err = client.RecordExchange(ctx, "dogs", "bark")
	require.NoError(t, err)

	failures, err := client.WarmEmbeddings(ctx)
	require.NoError(t, err)
	assert.Empty(t, failures)

	vec, err := client.GetEmbedding(ctx, id)
	require.NoError(t, err)
	assert.Len(t, vec, 256)

	_, err = client.GetEmbedding(ctx, "../escape")
	assert.ErrorIs(t, err, recall.ErrInvalidInput)
}

func TestClient_IngestDocument(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	text := strings.Repeat("0123456789", 5)
	result, err := client.IngestDocument(ctx, text)
	require.NoError(t, err)

	require.Len(t, result.ChunkIDs, 3)
	require.Len(t, result.RecordIDs, 3)
	assert.NotEmpty(t, result.DocumentID)
	assert.Equal(t, result.DocumentID+"_chunk_0", result.ChunkIDs[0])

	rec, err := client.GetRecord(ctx, result.RecordIDs[2])
	require.NoError(t, err)
	assert.Equal(t, record.TypeDocumentChunk, rec.Type)
	assert.Equal(t, result.ChunkIDs[2], rec.Content.ChunkID)
	assert.Equal(t, text[30:], rec.Content.Text)

	empty, err := client.IngestDocument(ctx, "   \n\t ")
	require.NoError(t, err)
	assert.Empty(t, empty.RecordIDs)
}

func TestClient_Graph(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, client.AddEdge(ctx, "alice", "bob", "knows", 0.8,
		recall.WithBidirectional(),
		recall.WithConfidence(0.9),
		recall.WithEdgeMetadata(map[string]interface{}{"source": "chat"}),
	))
	require.NoError(t, client.AddEdge(ctx, "bob", "acme", "works_at", 0.6,
		recall.WithValidity(&start, nil)))

	edge, err := client.GetEdge(ctx, "alice", "bob", "knows")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, edge.Confidence, 1e-9)
	assert.Equal(t, "chat", edge.Metadata["source"])

	related, err := client.GetRelated(ctx, "bob", "")
	require.NoError(t, err)
	var others []string
	for _, r := range related {
		others = append(others, r.OtherID)
	}
	assert.ElementsMatch(t, []string{"acme", "alice"}, others)

	require.NoError(t, client.UpdateStrength(ctx, "alice", "bob", "knows", 0.3))
	edge, err = client.GetEdge(ctx, "alice", "bob", "knows")
	require.NoError(t, err)
	assert.InDelta(t, 0.3, edge.Strength, 1e-9)

	require.NoError(t, client.UpdateStrength(ctx, "nobody", "bob", "knows", 0.5))
	_, err = client.GetEdge(ctx, "nobody", "bob", "knows")
	assert.ErrorIs(t, err, recall.ErrNotFound)

	confident, err := client.SearchEdges(ctx, recall.WithMinConfidence(0.95))
	require.NoError(t, err)
	require.Len(t, confident, 1)
	assert.Equal(t, "works_at", confident[0].RelationshipType)

	before := start.AddDate(-1, 0, 0)
	early, err := client.SearchEdges(ctx, recall.WithWindow(&before, &before))
	require.NoError(t, err)
	require.Len(t, early, 1)
	assert.Equal(t, "knows", early[0].RelationshipType)

	neighbors, err := client.Neighbors(ctx, "alice", 2, "")
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	assert.Equal(t, "bob", neighbors[0].NodeID)
	assert.Equal(t, "acme", neighbors[1].NodeID)
	assert.Equal(t, 2, neighbors[1].Depth)

	require.NoError(t, client.SetAttribute(ctx, "alice", "age", "30"))
	require.NoError(t, client.SetAttribute(ctx, "alice", "age", "31", recall.WithConfidence(0.5)))
	attrs, err := client.GetAttributes(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, "31", attrs[0].Value)

	require.NoError(t, client.AddHierarchy(ctx, "animal", "mammal", "is_a"))
	require.NoError(t, client.AddHierarchy(ctx, "mammal", "dog", "is_a"))
	children, err := client.GetChildren(ctx, "animal", "is_a")
	require.NoError(t, err)
	require.Len(t, children, 1)
	parents, err := client.GetParents(ctx, "dog", "")
	require.NoError(t, err)
	require.Len(t, parents, 1)
	ancestors, err := client.GetAncestors(ctx, "dog", "is_a")
	require.NoError(t, err)
	assert.Equal(t, []string{"mammal", "animal"}, ancestors)
	descendants, err := client.GetDescendants(ctx, "animal", "is_a")
	require.NoError(t, err)
	assert.Equal(t, []string{"mammal", "dog"}, descendants)
}

func TestClient_UpsertEdgeConfidence(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	require.NoError(t, client.UpsertEdge(ctx, recall.NewEdge("A", "B", "likes", 0.9)))
	edge, err := client.GetEdge(ctx, "A", "B", "likes")
	require.NoError(t, err)
	assert.InDelta(t, recall.DefaultConfidence, edge.Confidence, 1e-9)

	found, err := client.SearchEdges(ctx, recall.WithMinConfidence(0.5))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "B", found[0].TargetID)

	// A literal edge keeps its zero confidence.
	require.NoError(t, client.UpsertEdge(ctx, &recall.Edge{
		SourceID: "A", TargetID: "C", RelationshipType: "likes", Strength: 0.9,
	}))
	edge, err = client.GetEdge(ctx, "A", "C", "likes")
	require.NoError(t, err)
	assert.Zero(t, edge.Confidence)

	found, err = client.SearchEdges(ctx, recall.WithMinConfidence(0.5))
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestClient_ApplyExtractionText(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	output := "```json\n" + `{
		"relationships": [{"source": "go", "target": "google", "type": "created_by", "strength": 0.9}],
		"attributes": [{"node": "go", "name": "released", "value": "2009"}],
		"hierarchies": [{"parent": "language", "child": "go", "type": "is_a", "confidence": 0.8}]
	}` + "\n```"

	summary, err := client.ApplyExtractionText(ctx, output)
	require.NoError(t, err)
	assert.Equal(t, recall.ExtractionSummary{Edges: 1, Attributes: 1, Hierarchies: 1}, *summary)

	edge, err := client.GetEdge(ctx, "go", "google", "created_by")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, edge.Confidence, 1e-9)

	_, err = client.ApplyExtractionText(ctx, `{"relationships": [{"source": "a", "target": "b", "type": "t"}]}`)
	assert.ErrorIs(t, err, recall.ErrMalformedExtraction)
	_, err = client.GetEdge(ctx, "a", "b", "t")
	assert.ErrorIs(t, err, recall.ErrNotFound)

	_, err = client.ApplyExtractionText(ctx, `{"relationships": [], "comment": "extra"}`)
	assert.ErrorIs(t, err, recall.ErrMalformedExtraction)
}

func TestClient_StateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()

	client, err := recall.NewClient(newTestConfig(t, dataDir))
	require.NoError(t, err)
	id, err := client.RecordExchange(ctx, "remember", "this")
	require.NoError(t, err)
	require.NoError(t, client.AddEdge(ctx, "x", "y", "rel", 0.5))
	require.NoError(t, client.Close())

	reopened, err := recall.NewClient(newTestConfig(t, dataDir))
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, []recall.HistoryEntry{{Prompt: "remember", Response: "this"}}, reopened.History())
	ids, err := reopened.ListRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)
	_, err = reopened.GetEdge(ctx, "x", "y", "rel")
	assert.NoError(t, err)
}

func TestClient_ParisScenario(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	capital, err := client.RecordExchange(ctx, "What is the capital of France?", "Paris.")
	require.NoError(t, err)
	tower, err := client.RecordExchange(ctx, "Tell me about the Eiffel Tower", "It is a wrought-iron tower in Paris.")
	require.NoError(t, err)

	results, err := client.Search(ctx, "Paris landmarks", recall.WithTopK(2), recall.WithThreshold(0))
	require.NoError(t, err)
	require.Len(t, results, 2)

	var ids []string
	for _, r := range results {
		ids = append(ids, r.ID)
		assert.Greater(t, r.Similarity, 0.0)
	}
	assert.ElementsMatch(t, []string{capital, tower}, ids)
	assert.GreaterOrEqual(t, results[0].Similarity, results[1].Similarity)
}
