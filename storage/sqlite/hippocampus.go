package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cortexlabs/cortex"
)

// InsertHotFact implements cortex.Hippocampus. Exact-duplicate text is
// silently ignored, matching the unique constraint on fact_text.
func (s *Store) InsertHotFact(ctx context.Context, text string) error {
	now := cortex.Now().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO cortex_hot_memory (fact_text, inserted_at, last_accessed_at, hit_count)
		VALUES (?, ?, ?, 0)`, text, now, now)
	return err
}

// TopHotFacts implements cortex.Hippocampus, ordered by hit count
// descending then last-accessed descending.
func (s *Store) TopHotFacts(ctx context.Context, n int) ([]cortex.HotFact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fact_text, inserted_at, last_accessed_at, hit_count
		FROM cortex_hot_memory
		ORDER BY hit_count DESC, last_accessed_at DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []cortex.HotFact
	for rows.Next() {
		var (
			f                         cortex.HotFact
			insertedAt, lastAccessedAt string
		)
		if err := rows.Scan(&f.ID, &f.Text, &insertedAt, &lastAccessedAt, &f.HitCount); err != nil {
			return nil, err
		}
		f.InsertedAt, _ = time.Parse(time.RFC3339Nano, insertedAt)
		f.LastAccessedAt, _ = time.Parse(time.RFC3339Nano, lastAccessedAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// TouchHotFact implements cortex.Hippocampus.
func (s *Store) TouchHotFact(ctx context.Context, text string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cortex_hot_memory SET hit_count = hit_count + 1, last_accessed_at = ?
		WHERE fact_text = ?`, cortex.Now().Format(time.RFC3339Nano), text)
	return err
}

// DeleteHotFact implements cortex.Hippocampus.
func (s *Store) DeleteHotFact(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cortex_hot_memory WHERE id = ?`, id)
	return err
}

// SelectStaleHotFacts implements cortex.Hippocampus.
func (s *Store) SelectStaleHotFacts(ctx context.Context, olderThan time.Duration, maxHits int) ([]cortex.HotFact, error) {
	cutoff := cortex.Now().Add(-olderThan).Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fact_text, inserted_at, last_accessed_at, hit_count
		FROM cortex_hot_memory
		WHERE last_accessed_at < ? AND hit_count <= ?
		ORDER BY last_accessed_at ASC`, cutoff, maxHits)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []cortex.HotFact
	for rows.Next() {
		var (
			f                          cortex.HotFact
			insertedAt, lastAccessedAt string
		)
		if err := rows.Scan(&f.ID, &f.Text, &insertedAt, &lastAccessedAt, &f.HitCount); err != nil {
			return nil, err
		}
		f.InsertedAt, _ = time.Parse(time.RFC3339Nano, insertedAt)
		f.LastAccessedAt, _ = time.Parse(time.RFC3339Nano, lastAccessedAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// ColdAvailable implements cortex.Hippocampus.
func (s *Store) ColdAvailable() bool {
	return s.coldAvailable
}

// InsertColdFact implements cortex.Hippocampus. No-op if cold memory is
// unavailable (SPEC_FULL.md §9 "vector index optionality").
func (s *Store) InsertColdFact(ctx context.Context, text string, embedding []float32) error {
	if !s.coldAvailable {
		return nil
	}
	embJSON, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cortex_cold_memory (fact_text, archived_at, embedding)
		VALUES (?, ?, ?)`, text, cortex.Now().Format(time.RFC3339Nano), string(embJSON))
	return err
}

// SearchCold implements cortex.Hippocampus with a brute-force in-process
// KNN scan (no native vector index), same pattern as the teacher's
// SearchMessages cosine scan: load every row's embedding, score, sort, cut
// to limit. Returns empty results if cold memory is unavailable.
func (s *Store) SearchCold(ctx context.Context, embedding []float32, limit int) ([]cortex.ColdFactHit, error) {
	if !s.coldAvailable {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT rowid, fact_text, archived_at, embedding FROM cortex_cold_memory`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []cortex.ColdFactHit
	for rows.Next() {
		var (
			rowid              int64
			text, archivedAt, embJSON string
		)
		if err := rows.Scan(&rowid, &text, &archivedAt, &embJSON); err != nil {
			return nil, err
		}
		var emb []float32
		if err := json.Unmarshal([]byte(embJSON), &emb); err != nil {
			continue
		}
		archived, _ := time.Parse(time.RFC3339Nano, archivedAt)
		hits = append(hits, cortex.ColdFactHit{
			ColdFact: cortex.ColdFact{RowID: rowid, Text: text, ArchivedAt: archived, Embedding: emb},
			Distance: cosineDistance(embedding, emb),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// cosineDistance returns 1 - cosine similarity, so closer vectors sort
// first by ascending distance, matching the KNN ranking contract.
func cosineDistance(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 2 // maximal distance for mismatched/empty vectors
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return float32(1 - similarity)
}
