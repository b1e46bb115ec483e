package extract_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/powermem-recall/pkg/errs"
	"github.com/oceanbase/powermem-recall/pkg/extract"
)

func TestParse_FullDocument(t *testing.T) {
	input := "```json\n" + `{
		"relationships": [
			{"source": "alice", "target": "bob", "type": "knows", "strength": 0.7, "bidirectional": true,
			 "start_time": "2024-01-01T00:00:00Z", "metadata": {"from": "chat"}}
		],
		"attributes": [{"node": "alice", "name": "city", "value": "Paris", "confidence": 0.6}],
		"hierarchies": [{"parent": "person", "child": "alice", "type": "category"}]
	}` + "\n```"

	out, err := extract.Parse(input)
	require.NoError(t, err)

	require.Len(t, out.Edges, 1)
	edge := out.Edges[0]
	assert.Equal(t, "alice", edge.SourceID)
	assert.Equal(t, "bob", edge.TargetID)
	assert.Equal(t, "knows", edge.RelationshipType)
	assert.Equal(t, 0.7, edge.Strength)
	assert.Equal(t, 1.0, edge.Confidence)
	assert.True(t, edge.Bidirectional)
	require.NotNil(t, edge.StartTime)
	assert.True(t, edge.StartTime.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "chat", edge.Metadata["from"])

	require.Len(t, out.Attributes, 1)
	assert.Equal(t, 0.6, out.Attributes[0].Confidence)

	require.Len(t, out.Hierarchies, 1)
	assert.Equal(t, "person", out.Hierarchies[0].ParentID)
	assert.Equal(t, 1.0, out.Hierarchies[0].Confidence)
}

func TestParseRelationships_RejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"empty":            "",
		"not json":         "[{'source': 'a'}]",
		"python literal":   "[dict(source='a')]",
		"unknown field":    `[{"source": "a", "target": "b", "type": "t", "strength": 1, "weight": 2}]`,
		"missing target":   `[{"source": "a", "type": "t", "strength": 1}]`,
		"missing strength": `[{"source": "a", "target": "b", "type": "t"}]`,
		"confidence range": `[{"source": "a", "target": "b", "type": "t", "strength": 1, "confidence": 1.5}]`,
		"reversed window":  `[{"source": "a", "target": "b", "type": "t", "strength": 1, "start_time": "2024-02-01T00:00:00Z", "end_time": "2024-01-01T00:00:00Z"}]`,
		"trailing data":    `[] []`,
		"wrong shape":      `{"relationships": []}`,
	}

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			edges, err := extract.ParseRelationships(input)
			assert.ErrorIs(t, err, errs.ErrMalformedExtraction)
			assert.Nil(t, edges)
		})
	}
}

func TestParseRelationships_Empty(t *testing.T) {
	edges, err := extract.ParseRelationships("[]")
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestParseAttributesAndHierarchies(t *testing.T) {
	attrs, err := extract.ParseAttributes("```\n" + `[{"node": "paris", "name": "country", "value": "France"}]` + "\n```")
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, "France", attrs[0].Value)

	_, err = extract.ParseAttributes(`[{"node": "paris", "value": "France"}]`)
	assert.ErrorIs(t, err, errs.ErrMalformedExtraction)

	links, err := extract.ParseHierarchies(`[{"parent": "city", "child": "paris", "type": "category", "confidence": 0.5}]`)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, 0.5, links[0].Confidence)

	_, err = extract.ParseHierarchies(`[{"parent": "city", "child": "paris"}]`)
	assert.ErrorIs(t, err, errs.ErrMalformedExtraction)
}
