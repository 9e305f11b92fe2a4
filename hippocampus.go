package cortex

import (
	"context"
	"time"
)

// HotFact is a short, deduplicated fact string promoted into fast,
// hit-count-ranked recall.
type HotFact struct {
	ID             int64     `json:"id"`
	Text           string    `json:"text"`
	InsertedAt     time.Time `json:"inserted_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	HitCount       int       `json:"hit_count"`
}

// ColdFact is a vector-indexed long-term fact, ranked by ascending
// embedding distance in a KNN search.
type ColdFact struct {
	RowID      int64     `json:"rowid"`
	Text       string    `json:"text"`
	ArchivedAt time.Time `json:"archived_at"`
	Embedding  []float32 `json:"-"`
}

// ColdFactHit is one KNN search result.
type ColdFactHit struct {
	ColdFact
	Distance float32 `json:"distance"`
}

// Hippocampus is the dual hot/cold long-term memory subsystem. Cold memory
// availability is optional: if the vector index cannot initialize, cold
// operations become no-ops with the documented empty returns, and hot
// memory must continue to work regardless (SPEC_FULL.md §4.3, §9 "Vector
// index optionality").
type Hippocampus interface {
	// InsertHotFact inserts text as a new hot fact, ignoring exact
	// duplicates.
	InsertHotFact(ctx context.Context, text string) error

	// TopHotFacts returns up to n hot facts ordered by hit count
	// descending, then last-accessed descending.
	TopHotFacts(ctx context.Context, n int) ([]HotFact, error)

	// TouchHotFact increments the hit count and refreshes the
	// last-accessed timestamp of the hot fact matching text.
	TouchHotFact(ctx context.Context, text string) error

	// DeleteHotFact removes a hot fact by id.
	DeleteHotFact(ctx context.Context, id int64) error

	// SelectStaleHotFacts returns hot facts last accessed more than
	// olderThan ago with a hit count at most maxHits.
	SelectStaleHotFacts(ctx context.Context, olderThan time.Duration, maxHits int) ([]HotFact, error)

	// ColdAvailable reports whether the vector index initialized
	// successfully; if false, all cold operations below are no-ops.
	ColdAvailable() bool

	// InsertColdFact archives text with its embedding into cold memory.
	// No-op if cold memory is unavailable.
	InsertColdFact(ctx context.Context, text string, embedding []float32) error

	// SearchCold returns up to limit nearest neighbours to embedding,
	// ranked by ascending distance. Returns an empty slice if cold memory
	// is unavailable.
	SearchCold(ctx context.Context, embedding []float32, limit int) ([]ColdFactHit, error)
}

// Embedder embeds text into a fixed-dimensionality vector, the seam used
// by memory_query (SPEC_FULL.md §4.3) to turn a query into a cold-memory
// KNN search.
type Embedder func(ctx context.Context, text string) ([]float32, error)
