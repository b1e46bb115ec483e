package core_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	recall "github.com/oceanbase/powermem-recall/pkg/core"
)

func TestClient_RecordsStream(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	var want []string
	for i := 0; i < 5; i++ {
		id, err := client.RecordExchange(ctx, fmt.Sprintf("prompt %d", i), "response")
		require.NoError(t, err)
		want = append(want, id)
	}

	var (
		got     []string
		batches []*recall.StreamingRecordsResult
	)
	for batch := range client.RecordsStream(ctx, 2) {
		require.NoError(t, batch.Error)
		batches = append(batches, batch)
		for _, rec := range batch.Records {
			got = append(got, rec.ID)
		}
	}

	assert.Equal(t, want, got)
	require.Len(t, batches, 3)
	assert.Equal(t, 2, batches[2].BatchIndex)
	assert.True(t, batches[2].IsLastBatch)
	assert.False(t, batches[0].IsLastBatch)
}

func TestClient_SearchStream(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	for i := 0; i < 5; i++ {
		_, err := client.RecordExchange(ctx, fmt.Sprintf("prompt %d", i), "response")
		require.NoError(t, err)
	}

	var total int
	var last *recall.StreamingSearchResult
	for batch := range client.SearchStream(ctx, "prompt response", 2, recall.WithTopK(5)) {
		require.NoError(t, batch.Error)
		total += len(batch.Results)
		last = batch
	}
	assert.Equal(t, 5, total)
	require.NotNil(t, last)
	assert.True(t, last.IsLastBatch)

	for batch := range client.SearchStream(ctx, "prompt", 0) {
		assert.ErrorIs(t, batch.Error, recall.ErrInvalidInput)
	}
}

func TestClient_RecordsStreamAbandoned(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client, _ := newTestClient(t)

	for i := 0; i < 5; i++ {
		_, err := client.RecordExchange(ctx, fmt.Sprintf("prompt %d", i), "response")
		require.NoError(t, err)
	}

	stream := client.RecordsStream(ctx, 1)
	require.Eventually(t, func() bool { return len(stream) == 1 }, time.Second, 5*time.Millisecond)

	// The consumer walks away with a batch still buffered.
	cancel()
	time.Sleep(100 * time.Millisecond)

	done := make(chan []*recall.StreamingRecordsResult)
	go func() {
		var got []*recall.StreamingRecordsResult
		for batch := range stream {
			got = append(got, batch)
		}
		done <- got
	}()

	select {
	case got := <-done:
		require.Len(t, got, 1)
		assert.NoError(t, got[0].Error)
		assert.Equal(t, 0, got[0].BatchIndex)
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not closed after cancellation")
	}
}
