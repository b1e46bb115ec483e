package oceanbase_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/powermem-recall/pkg/storage"
	oceanbaseStore "github.com/oceanbase/powermem-recall/pkg/storage/oceanbase"
)

func setupOceanBaseTest(t *testing.T) (*oceanbaseStore.Client, func()) {
	// Load .env file from project root
	_ = godotenv.Load(filepath.Join("..", "..", "..", ".env"))

	password := os.Getenv("OCEANBASE_PASSWORD")
	if password == "" {
		t.Skip("Skipping OceanBase test: OCEANBASE_PASSWORD not set")
	}

	host := os.Getenv("OCEANBASE_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	portStr := os.Getenv("OCEANBASE_PORT")
	if portStr == "" {
		portStr = "2881"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Skipf("Skipping OceanBase test: invalid OCEANBASE_PORT: %s", portStr)
	}
	user := os.Getenv("OCEANBASE_USER")
	if user == "" {
		user = "root@test"
	}
	dbName := os.Getenv("OCEANBASE_DATABASE")
	if dbName == "" {
		dbName = "powermem_test"
	}

	store, err := oceanbaseStore.NewClient(&oceanbaseStore.Config{
		Host:     host,
		Port:     port,
		User:     user,
		Password: password,
		DBName:   dbName,
	})
	if err != nil {
		t.Skipf("Skipping OceanBase test: failed to connect: %v", err)
	}

	clearTables := func() {
		for _, table := range []string{"edges", "node_attributes", "hierarchies"} {
			_, _ = store.DB().Exec("DELETE FROM " + table)
		}
	}
	clearTables()

	cleanup := func() {
		clearTables()
		_ = store.Close()
	}

	return store, cleanup
}

func TestDSN(t *testing.T) {
	dsn := oceanbaseStore.DSN(&oceanbaseStore.Config{
		Host:     "127.0.0.1",
		Port:     2881,
		User:     "root@sys",
		Password: "p@ss:word",
		DBName:   "recall",
	})

	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.True(t, parsed.ClientFoundRows)
	assert.True(t, parsed.ParseTime)
	assert.Equal(t, time.UTC, parsed.Loc)
	assert.Equal(t, "127.0.0.1:2881", parsed.Addr)
	assert.Equal(t, "root@sys", parsed.User)
	assert.Equal(t, "p@ss:word", parsed.Passwd)
	assert.Equal(t, "recall", parsed.DBName)
}

func TestOceanBaseClient_UpsertAndRelated(t *testing.T) {
	store, cleanup := setupOceanBaseTest(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, store.UpsertEdge(ctx, &storage.Edge{SourceID: "A", TargetID: "B", RelationshipType: "likes", Strength: 0.3, Confidence: 1}))
	require.NoError(t, store.UpsertEdge(ctx, &storage.Edge{
		SourceID: "A", TargetID: "B", RelationshipType: "likes", Strength: 0.9, Confidence: 1,
		Bidirectional: true, Metadata: map[string]interface{}{"k": "v"},
	}))

	stored, err := store.GetEdge(ctx, "A", "B", "likes")
	require.NoError(t, err)
	assert.Equal(t, 0.9, stored.Strength)
	assert.Equal(t, "v", stored.Metadata["k"])

	related, err := store.GetRelated(ctx, "B", "likes")
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "A", related[0].OtherID)
}

func TestOceanBaseClient_SearchEdges(t *testing.T) {
	store, cleanup := setupOceanBaseTest(t)
	defer cleanup()

	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpsertEdge(ctx, &storage.Edge{
		SourceID: "A", TargetID: "B", RelationshipType: "visited", Strength: 1, Confidence: 0.6,
		StartTime: &start, EndTime: &end,
	}))

	after := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	edges, err := store.SearchEdges(ctx, &storage.EdgeSearchOptions{Start: &after})
	require.NoError(t, err)
	assert.Empty(t, edges)

	edges, err = store.SearchEdges(ctx, &storage.EdgeSearchOptions{End: &after, MinConfidence: 0.5})
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestOceanBaseClient_AttributesAndHierarchies(t *testing.T) {
	store, cleanup := setupOceanBaseTest(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, store.UpsertAttribute(ctx, &storage.NodeAttribute{NodeID: "paris", Name: "country", Value: "France", Confidence: 1}))
	attrs, err := store.GetAttributes(ctx, "paris")
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, "France", attrs[0].Value)

	require.NoError(t, store.UpsertHierarchy(ctx, &storage.Hierarchy{ParentID: "city", ChildID: "paris", Type: "category", Confidence: 1}))
	ancestors, err := store.GetAncestors(ctx, "paris", "category")
	require.NoError(t, err)
	assert.Equal(t, []string{"city"}, ancestors)
}
