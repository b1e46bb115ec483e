package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/oceanbase/powermem-recall/pkg/errs"
)

// idTimeLayout is fixed-width so identifiers sort in timestamp order.
const idTimeLayout = "20060102T150405.000000000Z"

const fileExt = ".json"

// maxCollisionSuffix bounds the retries when two appends share a timestamp.
// Suffixes are three digits wide so identifiers keep sorting in append order.
const maxCollisionSuffix = 1000

// Config contains configuration for the record store.
type Config struct {
	// Dir is the directory holding one file per record.
	Dir string

	// Logger receives diagnostics. Nil uses the default logger.
	Logger *log.Logger

	// Now overrides the clock used for record timestamps.
	Now func() time.Time
}

// Store is a directory of append-only record files. It is safe for
// concurrent use; uniqueness of identifiers is enforced by the file system.
type Store struct {
	dir    string
	logger *log.Logger
	now    func() time.Time
}

// New creates the record directory if needed and returns the store.
func New(cfg *Config) (*Store, error) {
	if cfg == nil || cfg.Dir == "" {
		return nil, fmt.Errorf("record.New: %w: directory is required", errs.ErrInvalidConfig)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("record.New: %w: %w", errs.ErrStorage, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Store{dir: cfg.Dir, logger: logger.WithPrefix("records"), now: now}, nil
}

// Dir returns the record directory.
func (s *Store) Dir() string {
	return s.dir
}

// AppendInteraction stores a prompt/response exchange and returns its identifier.
func (s *Store) AppendInteraction(ctx context.Context, prompt, response, username, model string) (string, error) {
	return s.Append(ctx, &Record{
		Username:  username,
		ModelName: model,
		Type:      TypeInteraction,
		Content:   Content{Prompt: prompt, Response: response},
	})
}

// AppendDocumentChunk stores a document fragment and returns its identifier.
func (s *Store) AppendDocumentChunk(ctx context.Context, chunkID, text, username, model string) (string, error) {
	if chunkID == "" {
		return "", fmt.Errorf("AppendDocumentChunk: %w: chunk id is required", errs.ErrInvalidInput)
	}
	return s.Append(ctx, &Record{
		Username:  username,
		ModelName: model,
		Type:      TypeDocumentChunk,
		Content:   Content{ChunkID: chunkID, Text: text},
	})
}

// Append writes a new record file. The timestamp is stamped when zero and the
// identifier is always derived by the store. An existing file is never
// overwritten: on collision the identifier gets a numeric suffix.
func (s *Store) Append(ctx context.Context, rec *Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	if err := rec.validate(); err != nil {
		return "", fmt.Errorf("Append: %w", errors.Join(errs.ErrInvalidInput, err))
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("Append: %w: %w", errs.ErrInvalidInput, err)
	}

	id, err := s.createExclusive(baseID(rec), data)
	if err != nil {
		return "", fmt.Errorf("Append: %w", err)
	}

	rec.ID = id
	s.logger.Debug("record appended", "id", id, "type", rec.Type)
	return id, nil
}

// createExclusive writes data to a hidden temp file and hard-links it to the
// first free name, so a reader never observes a partially written record.
func (s *Store) createExclusive(base string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(s.dir, ".pending-*")
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrStorage, err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("%w: %w", errs.ErrStorage, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("%w: %w", errs.ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrStorage, err)
	}

	for n := 0; n < maxCollisionSuffix; n++ {
		id := base
		if n > 0 {
			id = fmt.Sprintf("%s-%03d", base, n)
		}
		err := os.Link(tmpPath, s.path(id))
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %w", errs.ErrStorage, err)
		}
	}

	return "", fmt.Errorf("%w: no free identifier for %s", errs.ErrStorage, base)
}

// Read loads the record with the given identifier.
func (s *Store) Read(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkID(id); err != nil {
		return nil, fmt.Errorf("Read: %w", err)
	}

	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("Read: record %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Read: %w: %w", errs.ErrStorage, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("Read: record %s: %w: %v", id, errs.ErrMalformedRecord, err)
	}
	if err := rec.validate(); err != nil {
		return nil, fmt.Errorf("Read: record %s: %w", id, err)
	}

	rec.ID = id
	return &rec, nil
}

// ListAll returns every record identifier in timestamp order. It is a full
// directory scan; cost is linear in the number of records.
func (s *Store) ListAll(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ListAll: %w: %w", errs.ErrStorage, err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != fileExt {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(ids)

	return ids, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+fileExt)
}

func baseID(rec *Record) string {
	stamp := rec.Timestamp.UTC().Format(idTimeLayout)
	if rec.Type == TypeDocumentChunk {
		return stamp + "_document_chunk_" + sanitize(rec.Content.ChunkID)
	}
	return stamp + "_interaction"
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}

func checkID(id string) error {
	if id == "" || strings.HasPrefix(id, ".") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: invalid record id %q", errs.ErrInvalidInput, id)
	}
	return nil
}
