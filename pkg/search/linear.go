package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/oceanbase/powermem-recall/pkg/errs"
	"github.com/oceanbase/powermem-recall/pkg/record"
)

// RecordSource enumerates and loads memory records.
type RecordSource interface {
	ListAll(ctx context.Context) ([]string, error)
	Read(ctx context.Context, id string) (*record.Record, error)
}

// Embeddings provides record and query embeddings.
type Embeddings interface {
	Get(ctx context.Context, id string) ([]float64, error)
	EmbedText(ctx context.Context, text string) ([]float64, error)
}

// LinearConfig contains configuration for LinearSearcher.
type LinearConfig struct {
	Records    RecordSource
	Embeddings Embeddings
	Logger     *log.Logger
}

// LinearSearcher scores every record on each query.
type LinearSearcher struct {
	records    RecordSource
	embeddings Embeddings
	logger     *log.Logger
}

var _ Searcher = (*LinearSearcher)(nil)

// NewLinearSearcher creates a LinearSearcher.
func NewLinearSearcher(cfg *LinearConfig) (*LinearSearcher, error) {
	if cfg == nil || cfg.Records == nil || cfg.Embeddings == nil {
		return nil, fmt.Errorf("search: %w: records and embeddings are required", errs.ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &LinearSearcher{
		records:    cfg.Records,
		embeddings: cfg.Embeddings,
		logger:     logger.WithPrefix("search"),
	}, nil
}

// Search embeds the query and returns at most opts.TopK records whose
// similarity is at least opts.Threshold, most similar first. Equal scores keep
// the scan order of ListAll.
//
// Records that cannot be read or embedded are logged and skipped. With no
// records at all the query is not embedded. Cancellation is checked between
// records.
func (s *LinearSearcher) Search(ctx context.Context, query string, opts *Options) ([]*Result, error) {
	topK, threshold := DefaultTopK, 0.0
	if opts != nil {
		if opts.TopK > 0 {
			topK = opts.TopK
		}
		threshold = opts.Threshold
	}

	ids, err := s.records.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	if len(ids) == 0 {
		return []*Result{}, nil
	}

	queryVec, err := s.embeddings.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("Search: embed query: %w", err)
	}

	scored := make([]*Result, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("Search: %w", err)
		}

		rec, err := s.records.Read(ctx, id)
		if err != nil {
			s.logSkip(id, "unreadable record", err)
			continue
		}

		vec, err := s.embeddings.Get(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("Search: %w", ctxErr)
			}
			s.logSkip(id, "embedding unavailable", err)
			continue
		}

		similarity, ok := CosineSimilarity(queryVec, vec)
		if !ok {
			s.logger.Warn("skipping record", "id", id, "reason", "incomparable embedding",
				"query_dims", len(queryVec), "record_dims", len(vec))
			continue
		}

		scored = append(scored, &Result{
			ID:         id,
			Type:       rec.Type,
			Content:    rec.DisplayText(),
			Similarity: similarity,
			Timestamp:  rec.Timestamp,
			Record:     rec,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	results := make([]*Result, 0, topK)
	for _, r := range scored {
		if len(results) == topK {
			break
		}
		if r.Similarity >= threshold {
			results = append(results, r)
		}
	}

	return results, nil
}

func (s *LinearSearcher) logSkip(id, reason string, err error) {
	if errors.Is(err, errs.ErrMalformedRecord) {
		reason = "malformed record"
	}
	s.logger.Warn("skipping record", "id", id, "reason", reason, "err", err)
}

// CosineSimilarity returns dot(a,b)/(|a|*|b|). It reports false when the
// vectors differ in length, are empty or either has zero norm.
func CosineSimilarity(a, b []float64) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) {
		return 0, false
	}
	return sim, true
}
