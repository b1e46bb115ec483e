// Package local provides an offline embedder.Provider based on feature hashing.
//
// Each lowercase word is hashed into one of Dimensions buckets and the result
// is L2-normalised. It needs no network access, which makes it useful for
// development, examples and tests; it captures word overlap, not meaning.
package local

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/oceanbase/powermem-recall/pkg/embedder"
)

// DefaultDimensions is used when Config.Dimensions is zero.
const DefaultDimensions = 256

// Config contains configuration for the hashing embedder.
type Config struct {
	// Dimensions is the vector size.
	Dimensions int
}

// Client is a deterministic hashing embedder.
type Client struct {
	dimensions int
}

var _ embedder.Provider = (*Client)(nil)

// NewClient creates a hashing embedder.
func NewClient(cfg *Config) *Client {
	dims := DefaultDimensions
	if cfg != nil && cfg.Dimensions > 0 {
		dims = cfg.Dimensions
	}
	return &Client{dimensions: dims}
}

// Embed hashes the words of text into a normalised vector. Text without any
// word yields the zero vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float64, c.dimensions)
	for _, word := range Tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(word))
		sum := h.Sum64()
		vec[sum%uint64(c.dimensions)] += 1
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}

	return vec, nil
}

// EmbedBatch embeds each text in turn.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the vector size.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op.
func (c *Client) Close() error {
	return nil
}

// Tokenize splits text into lowercase runs of letters and digits.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
