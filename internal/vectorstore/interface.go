// Package vectorstore implements similarity search over the embedded store:
// dual-writing to a native libsql vector table when the extension is
// available and always to a dense-BLOB fallback table, so search degrades
// gracefully rather than failing outright.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	ErrEmptyVector     = errors.New("vectorstore: embedding vector is empty")
	ErrDimensionMismatch = errors.New("vectorstore: stored embedding dimension does not match the query vector's dimension")
)

// EntityKind names the table family a vector belongs to: "messages",
// "decisions", "mistakes", or "chunks".
type EntityKind string

const (
	EntityMessages  EntityKind = "messages"
	EntityDecisions EntityKind = "decisions"
	EntityMistakes  EntityKind = "mistakes"
	EntityChunks    EntityKind = "chunks"
)

// Record is one embedded vector bound to an owning row.
type Record struct {
	RowID     string
	EntityID  string
	Content   string
	Embedding []float32
	Model     string
}

// ScoredRecord is a Record returned from a similarity search, with its
// cosine similarity against the query.
type ScoredRecord struct {
	Record
	Score float64
}

// Store is the similarity-search surface the rest of the system depends on.
// It never talks to a remote service: every implementation is backed by the
// same embedded database file as the rest of the system, so a single
// directory holds all durable state.
type Store interface {
	// Upsert writes or replaces vectors for kind, creating the native vector
	// table lazily on first use of a given dimension.
	Upsert(ctx context.Context, kind EntityKind, records []Record) error

	// Search returns the k most similar records to queryVector for kind.
	Search(ctx context.Context, kind EntityKind, queryVector []float32, k int) ([]ScoredRecord, error)

	// ExistingIDs returns the subset of entityIDs that already have a
	// vector stored for kind, so callers can skip re-embedding them.
	ExistingIDs(ctx context.Context, kind EntityKind, entityIDs []string) (map[string]bool, error)

	// Delete removes vectors for the given row IDs.
	Delete(ctx context.Context, kind EntityKind, rowIDs []string) error

	// ClearAll removes every vector across all entity kinds. Used when an
	// embedding provider or model changes and old vectors are no longer
	// comparable to new ones.
	ClearAll(ctx context.Context) error

	// Count returns the number of vectors stored for kind.
	Count(ctx context.Context, kind EntityKind) (int, error)
}
