// Package history keeps the most recent prompt/response pairs in a bounded
// FIFO buffer that is mirrored to a JSON file on every mutation.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/moby/sys/atomicwriter"

	"github.com/oceanbase/powermem-recall/pkg/errs"
)

// DefaultMaxLength is the buffer size used when Config.MaxLength is zero.
const DefaultMaxLength = 10

// Entry is one conversational turn.
type Entry struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// Config contains configuration for the ring buffer.
type Config struct {
	// Path is the JSON file mirroring the buffer.
	Path string

	// MaxLength bounds the number of entries kept. Zero uses DefaultMaxLength.
	MaxLength int

	// Logger receives diagnostics. Nil uses the default logger.
	Logger *log.Logger
}

// Buffer is a bounded, write-through chat history. It is safe for
// concurrent use.
type Buffer struct {
	mu      sync.Mutex
	path    string
	max     int
	entries []Entry
	logger  *log.Logger
}

// Open creates a buffer and loads the persisted history.
func Open(cfg *Config) (*Buffer, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, fmt.Errorf("history.Open: %w: path is required", errs.ErrInvalidConfig)
	}
	max := cfg.MaxLength
	if max == 0 {
		max = DefaultMaxLength
	}
	if max < 0 {
		return nil, fmt.Errorf("history.Open: %w: max length must be positive, got %d", errs.ErrInvalidConfig, max)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("history.Open: %w: %w", errs.ErrStorage, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	b := &Buffer{
		path:    cfg.Path,
		max:     max,
		entries: []Entry{},
		logger:  logger.WithPrefix("history"),
	}
	if err := b.Load(); err != nil {
		return nil, err
	}
	return b, nil
}

// Load replaces the in-memory buffer with the persisted copy.
//
// A missing file yields an empty history. A corrupt file is logged and reset
// to empty. A file holding more than MaxLength entries is cut down to the
// most recent ones and rewritten.
func (b *Buffer) Load() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		b.entries = []Entry{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("Load: %w: %w", errs.ErrStorage, err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		b.logger.Warn("chat history file is corrupt, starting empty", "path", b.path, "err", err)
		b.entries = []Entry{}
		if err := b.write(b.entries); err != nil {
			b.logger.Warn("failed to reset chat history file", "path", b.path, "err", err)
		}
		return nil
	}
	if entries == nil {
		entries = []Entry{}
	}

	if len(entries) > b.max {
		b.logger.Info("truncating chat history", "stored", len(entries), "max", b.max)
		entries = append([]Entry(nil), entries[len(entries)-b.max:]...)
		if err := b.write(entries); err != nil {
			return fmt.Errorf("Load: %w", err)
		}
	}

	b.entries = entries
	return nil
}

// Append pushes a turn, evicting the oldest entries beyond MaxLength, and
// persists the result. On a write failure the buffer is left unchanged.
func (b *Buffer) Append(prompt, response string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := make([]Entry, 0, b.max)
	start := 0
	if len(b.entries)+1 > b.max {
		start = len(b.entries) + 1 - b.max
	}
	next = append(next, b.entries[start:]...)
	next = append(next, Entry{Prompt: prompt, Response: response})

	if err := b.write(next); err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	b.entries = next
	return nil
}

// Snapshot returns a copy of the buffer, oldest first.
func (b *Buffer) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Clear empties the buffer and persists the empty history.
func (b *Buffer) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.write([]Entry{}); err != nil {
		return fmt.Errorf("Clear: %w", err)
	}
	b.entries = []Entry{}
	return nil
}

// Len returns the number of entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// MaxLength returns the configured bound.
func (b *Buffer) MaxLength() int {
	return b.max
}

// write replaces the file atomically; b.mu must be held.
func (b *Buffer) write(entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrStorage, err)
	}
	if err := atomicwriter.WriteFile(b.path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrStorage, err)
	}
	return nil
}
