// Package index holds the in-memory vector index: the single source of truth
// for retrieval. It is brute-force cosine over a slice of records, safe for
// concurrent upserts from the ingestion watcher interleaved with searches
// from any number of pipeline runs.
package index

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Record is one normalized, embedded unit of ingested content.
type Record struct {
	ID      string
	Title   string
	URL     string
	Content string
	Vector  []float32
}

// Hit pairs a record with its similarity score for one search.
type Hit struct {
	Record
	Score float64
}

// Index maps record ids to slots in an insertion-ordered slice. Re-upserting
// an id replaces the record in place, keeping its original ingestion order so
// score ties stay deterministic.
type Index struct {
	mu        sync.RWMutex
	dimension int
	records   []Record
	slots     map[string]int
}

func New(dimension int) *Index {
	return &Index{
		dimension: dimension,
		slots:     make(map[string]int),
	}
}

func (ix *Index) Dimension() int { return ix.dimension }

// Upsert inserts or replaces the record keyed by its id. The record is
// copied under the lock, so a concurrent search observes either the old or
// the new record, never a partially applied one.
func (ix *Index) Upsert(rec Record) error {
	if len(rec.Vector) != ix.dimension {
		return fmt.Errorf("%w: got %d, index has %d", ErrDimensionMismatch, len(rec.Vector), ix.dimension)
	}
	if rec.ID == "" {
		return errors.New("record id is required")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if slot, ok := ix.slots[rec.ID]; ok {
		ix.records[slot] = rec
		return nil
	}
	ix.slots[rec.ID] = len(ix.records)
	ix.records = append(ix.records, rec)
	return nil
}

// Delete removes the record with the given id, if present. Remaining records
// keep their relative ingestion order.
func (ix *Index) Delete(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	slot, ok := ix.slots[id]
	if !ok {
		return
	}
	ix.records = append(ix.records[:slot], ix.records[slot+1:]...)
	delete(ix.slots, id)
	for i := slot; i < len(ix.records); i++ {
		ix.slots[ix.records[i].ID] = i
	}
}

// Search scores every record against the query vector by cosine similarity
// and returns the top k in descending score order. Ties break toward the
// earlier-ingested record. k larger than the index returns everything.
func (ix *Index) Search(vector []float32, k int) ([]Hit, error) {
	if len(vector) != ix.dimension {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(vector), ix.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	hits := make([]Hit, len(ix.records))
	for i, rec := range ix.records {
		hits[i] = Hit{Record: rec, Score: cosine(vector, rec.Vector)}
	}
	ix.mu.RUnlock()

	// SliceStable preserves ingestion order among equal scores.
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Score > hits[b].Score
	})

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Get returns the current record for an id.
func (ix *Index) Get(id string) (Record, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	slot, ok := ix.slots[id]
	if !ok {
		return Record{}, false
	}
	return ix.records[slot], true
}

func (ix *Index) IsEmpty() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records) == 0
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records)
}

// cosine returns dot(a,b)/(|a||b|), or 0 when either norm is zero so a
// zero-content vector can never produce NaN.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
