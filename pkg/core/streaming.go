package core

import (
	"context"
	"fmt"
)

// StreamingSearchResult is one batch of a streamed search.
type StreamingSearchResult struct {
	// Results is a batch of ranked results.
	Results []*SearchResult

	// BatchIndex is the index of this batch (0-based).
	BatchIndex int

	// IsLastBatch indicates whether this is the last batch.
	IsLastBatch bool

	// Error contains any error that occurred during streaming (if any).
	Error error
}

// StreamingRecordsResult is one batch of streamed records.
type StreamingRecordsResult struct {
	// Records is a batch of records in identifier order.
	Records []*Record

	// BatchIndex is the index of this batch (0-based).
	BatchIndex int

	// IsLastBatch indicates whether this is the last batch.
	IsLastBatch bool

	// Error contains any error that occurred during streaming (if any).
	Error error
}

// SearchStream runs Search and delivers the ranked results in batches of
// batchSize. The ranking is computed once up front; only delivery is
// incremental. The channel is closed after the last batch or the first error.
//
// Example:
//
//	for batch := range client.SearchStream(ctx, "python", 10, core.WithTopK(100)) {
//	    if batch.Error != nil {
//	        log.Fatal(batch.Error)
//	    }
//	    for _, r := range batch.Results {
//	        fmt.Println(r.ID, r.Similarity)
//	    }
//	}
func (c *Client) SearchStream(ctx context.Context, query string, batchSize int, opts ...SearchOption) <-chan *StreamingSearchResult {
	resultChan := make(chan *StreamingSearchResult, 1)

	go func() {
		defer close(resultChan)

		if batchSize <= 0 {
			resultChan <- &StreamingSearchResult{Error: NewMemoryError("SearchStream", errBatchSize)}
			return
		}

		results, err := c.Search(ctx, query, opts...)
		if err != nil {
			resultChan <- &StreamingSearchResult{Error: NewMemoryError("SearchStream", err)}
			return
		}

		for batchIndex, i := 0, 0; ; batchIndex, i = batchIndex+1, i+batchSize {
			end := i + batchSize
			if end > len(results) {
				end = len(results)
			}
			last := end >= len(results)

			select {
			case <-ctx.Done():
				trySend(resultChan, &StreamingSearchResult{BatchIndex: batchIndex, Error: ctx.Err()})
				return
			case resultChan <- &StreamingSearchResult{Results: results[i:end], BatchIndex: batchIndex, IsLastBatch: last}:
			}
			if last {
				return
			}
		}
	}()

	return resultChan
}

// RecordsStream reads every record in identifier order and delivers them in
// batches of batchSize. Records that cannot be read are logged and skipped,
// as Search does. The final batch carries IsLastBatch and may be empty.
func (c *Client) RecordsStream(ctx context.Context, batchSize int) <-chan *StreamingRecordsResult {
	resultChan := make(chan *StreamingRecordsResult, 1)

	go func() {
		defer close(resultChan)

		if batchSize <= 0 {
			resultChan <- &StreamingRecordsResult{Error: NewMemoryError("RecordsStream", errBatchSize)}
			return
		}

		ids, err := c.records.ListAll(ctx)
		if err != nil {
			resultChan <- &StreamingRecordsResult{Error: NewMemoryError("RecordsStream", err)}
			return
		}

		batchIndex := 0
		batch := make([]*Record, 0, batchSize)
		send := func(last bool) bool {
			select {
			case <-ctx.Done():
				trySend(resultChan, &StreamingRecordsResult{BatchIndex: batchIndex, Error: ctx.Err()})
				return false
			case resultChan <- &StreamingRecordsResult{Records: batch, BatchIndex: batchIndex, IsLastBatch: last}:
			}
			batchIndex++
			batch = make([]*Record, 0, batchSize)
			return true
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				trySend(resultChan, &StreamingRecordsResult{BatchIndex: batchIndex, Error: err})
				return
			}
			rec, err := c.records.Read(ctx, id)
			if err != nil {
				c.logger.Warn("skipping record", "id", id, "err", err)
				continue
			}
			batch = append(batch, rec)
			if len(batch) == batchSize {
				if !send(false) {
					return
				}
			}
		}
		send(true)
	}()

	return resultChan
}

var errBatchSize = fmt.Errorf("%w: batch size must be positive", ErrInvalidInput)

// trySend delivers v only if the channel has room. After cancellation the
// consumer may have stopped reading.
func trySend[T any](ch chan<- T, v T) {
	select {
	case ch <- v:
	default:
	}
}
