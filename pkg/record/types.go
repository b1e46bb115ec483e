// Package record provides the append-only memory record store.
//
// Every conversational exchange or uploaded document fragment is written as
// one JSON file named after its identifier. Files are never rewritten or
// deleted; the identifier doubles as the key of the embedding cache.
package record

import (
	"fmt"
	"time"

	"github.com/oceanbase/powermem-recall/pkg/errs"
)

// Type tags the kind of content a record holds.
type Type string

const (
	// TypeInteraction is a prompt/response exchange.
	TypeInteraction Type = "interaction"

	// TypeDocumentChunk is a fragment of an uploaded document.
	TypeDocumentChunk Type = "document_chunk"
)

// Content is the payload of a record. Interactions fill Prompt and
// Response; document chunks fill ChunkID and Text.
type Content struct {
	Prompt   string `json:"prompt,omitempty"`
	Response string `json:"response,omitempty"`
	ChunkID  string `json:"chunk_id,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Record is a durable, immutable, timestamped unit of text.
type Record struct {
	// ID is the record identifier (the file name without extension).
	ID string `json:"-"`

	// Timestamp is when the record was appended, in UTC.
	Timestamp time.Time `json:"timestamp"`

	// Username identifies who produced the record.
	Username string `json:"username"`

	// ModelName identifies the model that answered, if any.
	ModelName string `json:"model_name"`

	// Type is the record kind.
	Type Type `json:"type"`

	// Content is the record payload.
	Content Content `json:"content"`

	// Metadata holds optional caller-defined fields.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// EmbeddingText returns the single string embedded for this record: the
// prompt and response joined by a newline for interactions, the raw text for
// document chunks.
func (r *Record) EmbeddingText() string {
	if r.Type == TypeDocumentChunk {
		return r.Content.Text
	}
	return r.Content.Prompt + "\n" + r.Content.Response
}

// DisplayText returns the text shown to callers in search results.
func (r *Record) DisplayText() string {
	if r.Type == TypeDocumentChunk {
		return r.Content.Text
	}
	return fmt.Sprintf("Prompt: %s\nResponse: %s", r.Content.Prompt, r.Content.Response)
}

func (r *Record) validate() error {
	switch r.Type {
	case TypeInteraction, TypeDocumentChunk:
	default:
		return fmt.Errorf("%w: unknown record type %q", errs.ErrMalformedRecord, r.Type)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", errs.ErrMalformedRecord)
	}
	return nil
}
