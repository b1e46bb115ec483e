package core

import (
	"context"
	"sync"

	"github.com/oceanbase/powermem-recall/pkg/extract"
)

// AsyncClient provides asynchronous recall operations.
//
// It wraps the synchronous Client and executes operations in separate goroutines.
// All async methods return channels that receive exactly one result and are
// then closed. The client tracks its goroutines; Wait blocks until they finish.
//
// Example:
//
//	asyncClient, _ := core.NewAsyncClient(config)
//	defer asyncClient.Close()
//
//	resultChan := asyncClient.SearchAsync(ctx, "favorite language")
//	result := <-resultChan
//	if result.Error != nil {
//	    log.Fatal(result.Error)
//	}
type AsyncClient struct {
	*Client
	wg sync.WaitGroup
}

// NewAsyncClient creates a new asynchronous recall client.
//
// Parameters:
//   - cfg: recall configuration
//
// Returns:
//   - *AsyncClient: The asynchronous client instance
//   - error: Error if configuration is invalid or initialization fails
func NewAsyncClient(cfg *Config) (*AsyncClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	return &AsyncClient{
		Client: client,
	}, nil
}

// NewAsyncClientFrom wraps an existing client.
func NewAsyncClientFrom(client *Client) *AsyncClient {
	return &AsyncClient{Client: client}
}

// RecordExchangeAsync records a prompt/response pair asynchronously.
//
// Returns:
//   - <-chan *ExchangeResult: Channel that receives the record identifier and error
func (ac *AsyncClient) RecordExchangeAsync(ctx context.Context, prompt, response string) <-chan *ExchangeResult {
	return runAsync(ac, func() *ExchangeResult {
		id, err := ac.RecordExchange(ctx, prompt, response)
		return &ExchangeResult{RecordID: id, Error: err}
	})
}

// SearchAsync searches records asynchronously.
//
// Parameters:
//   - ctx: Context for controlling request lifecycle
//   - query: Search query text
//   - opts: Optional search options (TopK, Threshold)
//
// Returns:
//   - <-chan *AsyncSearchResult: Channel that receives the ranked results and error
func (ac *AsyncClient) SearchAsync(ctx context.Context, query string, opts ...SearchOption) <-chan *AsyncSearchResult {
	return runAsync(ac, func() *AsyncSearchResult {
		results, err := ac.Search(ctx, query, opts...)
		return &AsyncSearchResult{Results: results, Error: err}
	})
}

// IngestDocumentAsync splits and stores a document asynchronously.
func (ac *AsyncClient) IngestDocumentAsync(ctx context.Context, text string) <-chan *AsyncIngestResult {
	return runAsync(ac, func() *AsyncIngestResult {
		result, err := ac.IngestDocument(ctx, text)
		return &AsyncIngestResult{Result: result, Error: err}
	})
}

// ApplyExtractionAsync writes an extraction into the graph asynchronously.
// Writes from concurrent calls are serialized by the client.
func (ac *AsyncClient) ApplyExtractionAsync(ctx context.Context, ext *extract.Extraction) <-chan *AsyncExtractionResult {
	return runAsync(ac, func() *AsyncExtractionResult {
		summary, err := ac.ApplyExtraction(ctx, ext)
		return &AsyncExtractionResult{Summary: summary, Error: err}
	})
}

// WarmEmbeddingsAsync computes missing embeddings in the background.
func (ac *AsyncClient) WarmEmbeddingsAsync(ctx context.Context, ids ...string) <-chan *AsyncWarmResult {
	return runAsync(ac, func() *AsyncWarmResult {
		failures, err := ac.WarmEmbeddings(ctx, ids...)
		return &AsyncWarmResult{Failures: failures, Error: err}
	})
}

// Wait waits for all asynchronous operations to complete.
//
// It should be called before program exit to ensure all operations complete.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
}

// Close closes the asynchronous client.
//
// It first waits for all asynchronous operations to complete, then closes the underlying client.
func (ac *AsyncClient) Close() error {
	ac.Wait()
	return ac.Client.Close()
}

func runAsync[T any](ac *AsyncClient, call func() T) <-chan T {
	resultChan := make(chan T, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		resultChan <- call()
		close(resultChan)
	}()

	return resultChan
}

// ExchangeResult contains the result of an asynchronous RecordExchange.
type ExchangeResult struct {
	// RecordID is the identifier of the stored record (empty if the record was not stored).
	RecordID string

	// Error is the error returned by the operation (nil if operation succeeded).
	Error error
}

// AsyncSearchResult contains the result of an asynchronous search operation.
type AsyncSearchResult struct {
	// Results is the list of matching records, most similar first.
	Results []*SearchResult

	// Error is the error returned by the operation (nil if operation succeeded).
	Error error
}

// AsyncIngestResult contains the result of an asynchronous document ingestion.
type AsyncIngestResult struct {
	Result *IngestResult
	Error  error
}

// AsyncExtractionResult contains the result of an asynchronous ApplyExtraction.
type AsyncExtractionResult struct {
	Summary *ExtractionSummary
	Error   error
}

// AsyncWarmResult contains the result of an asynchronous embedding warm-up.
type AsyncWarmResult struct {
	Failures map[string]error
	Error    error
}
