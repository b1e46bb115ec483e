// Package ingest splits uploaded documents into overlapping chunks that are
// stored as document-chunk memory records.
package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/oceanbase/powermem-recall/pkg/errs"
)

const (
	// DefaultChunkSize is the window length in characters.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the number of characters shared by consecutive chunks.
	DefaultChunkOverlap = 200
)

// Chunk is one window of a document.
type Chunk struct {
	// ID is "<document id>_chunk_<index>".
	ID string

	// Index is the zero-based position of the chunk in the document.
	Index int

	// Text is the chunk content.
	Text string
}

// Chunker cuts text into fixed-size windows measured in runes.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker returns a chunker. size must be positive and overlap must be in
// [0, size).
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("NewChunker: %w: chunk size must be positive, got %d", errs.ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("NewChunker: %w: overlap %d must be in [0, %d)", errs.ErrInvalidConfig, overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split returns the windows of text in order. Windows holding only
// whitespace are dropped; indexes stay contiguous.
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	step := c.size - c.overlap

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		piece := string(runes[start:end])
		if strings.TrimSpace(piece) != "" {
			chunks = append(chunks, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// Document splits text and assigns a fresh document id and chunk ids.
func (c *Chunker) Document(text string) (string, []Chunk) {
	docID := NewDocumentID()
	pieces := c.Split(text)

	chunks := make([]Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = Chunk{ID: ChunkID(docID, i), Index: i, Text: piece}
	}
	return docID, chunks
}

// NewDocumentID returns a random document identifier.
func NewDocumentID() string {
	return uuid.NewString()
}

// ChunkID builds the identifier of the index-th chunk of a document.
func ChunkID(docID string, index int) string {
	return docID + "_chunk_" + strconv.Itoa(index)
}
