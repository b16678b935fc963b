package index_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anasrobo/research-agent/internal/index"
)

func rec(id string, vec ...float32) index.Record {
	return index.Record{ID: id, Title: id, Content: "content of " + id, Vector: vec}
}

func TestIndex_Upsert(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*index.Index)
		record  index.Record
		wantErr bool
		wantLen int
	}{
		{
			name:    "insert",
			record:  rec("a", 1, 0),
			wantLen: 1,
		},
		{
			name: "replace in place",
			setup: func(ix *index.Index) {
				require.NoError(t, ix.Upsert(rec("a", 1, 0)))
			},
			record:  rec("a", 0, 1),
			wantLen: 1,
		},
		{
			name:    "dimension mismatch",
			record:  rec("a", 1, 0, 0),
			wantErr: true,
			wantLen: 0,
		},
		{
			name:    "missing id",
			record:  index.Record{Vector: []float32{1, 0}},
			wantErr: true,
			wantLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix := index.New(2)
			if tt.setup != nil {
				tt.setup(ix)
			}

			err := ix.Upsert(tt.record)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantLen, ix.Len())
		})
	}

	t.Run("dimension mismatch is typed", func(t *testing.T) {
		ix := index.New(2)
		err := ix.Upsert(rec("a", 1))
		assert.ErrorIs(t, err, index.ErrDimensionMismatch)
	})
}

func TestIndex_UpsertIdempotence(t *testing.T) {
	ix := index.New(2)
	require.NoError(t, ix.Upsert(rec("a", 1, 0)))
	require.NoError(t, ix.Upsert(rec("b", 0, 1)))

	first, err := ix.Search([]float32{1, 0}, 10)
	require.NoError(t, err)

	// Re-ingesting the same id with unchanged content leaves results identical.
	require.NoError(t, ix.Upsert(rec("a", 1, 0)))
	second, err := ix.Search([]float32{1, 0}, 10)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, ix.Len())
}

func TestIndex_Search(t *testing.T) {
	ix := index.New(2)
	require.NoError(t, ix.Upsert(rec("far", 0, 1)))
	require.NoError(t, ix.Upsert(rec("near", 1, 0)))
	require.NoError(t, ix.Upsert(rec("mid", 1, 1)))

	hits, err := ix.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "near", hits[0].ID)
	assert.Equal(t, "mid", hits[1].ID)

	// Scores are bounded and non-increasing.
	prev := 1.0
	for _, h := range hits {
		assert.LessOrEqual(t, h.Score, 1.0)
		assert.GreaterOrEqual(t, h.Score, -1.0)
		assert.LessOrEqual(t, h.Score, prev)
		prev = h.Score
	}
}

func TestIndex_SearchTieBreak(t *testing.T) {
	ix := index.New(2)
	// Identical vectors: the earlier-ingested record must win the tie.
	require.NoError(t, ix.Upsert(rec("first", 1, 0)))
	require.NoError(t, ix.Upsert(rec("second", 1, 0)))

	hits, err := ix.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "first", hits[0].ID)
	assert.Equal(t, "second", hits[1].ID)

	// Overwriting the first record must not move it behind the second.
	require.NoError(t, ix.Upsert(rec("first", 1, 0)))
	hits, err = ix.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, "first", hits[0].ID)
}

func TestIndex_SearchEdgeCases(t *testing.T) {
	ix := index.New(2)
	require.NoError(t, ix.Upsert(rec("zero", 0, 0)))
	require.NoError(t, ix.Upsert(rec("a", 1, 0)))

	t.Run("zero vector scores zero, never NaN", func(t *testing.T) {
		hits, err := ix.Search([]float32{1, 0}, 10)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "zero", hits[1].ID)
		assert.Equal(t, 0.0, hits[1].Score)
	})

	t.Run("k larger than index returns all", func(t *testing.T) {
		hits, err := ix.Search([]float32{1, 0}, 100)
		require.NoError(t, err)
		assert.Len(t, hits, 2)
	})

	t.Run("query dimension mismatch", func(t *testing.T) {
		_, err := ix.Search([]float32{1}, 1)
		assert.ErrorIs(t, err, index.ErrDimensionMismatch)
	})

	t.Run("non-positive k", func(t *testing.T) {
		hits, err := ix.Search([]float32{1, 0}, 0)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestIndex_Delete(t *testing.T) {
	ix := index.New(2)
	require.NoError(t, ix.Upsert(rec("a", 1, 0)))
	require.NoError(t, ix.Upsert(rec("b", 0, 1)))

	ix.Delete("a")
	assert.Equal(t, 1, ix.Len())
	_, ok := ix.Get("a")
	assert.False(t, ok)

	// Survivors stay reachable by id after slot compaction.
	got, ok := ix.Get("b")
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)

	ix.Delete("missing") // no-op
	assert.Equal(t, 1, ix.Len())
}

func TestIndex_ConcurrentUpsertAndSearch(t *testing.T) {
	ix := index.New(2)
	require.NoError(t, ix.Upsert(rec("seed", 1, 0)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = ix.Upsert(index.Record{ID: "w", Title: "w", Vector: []float32{float32(n), 1}})
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				hits, err := ix.Search([]float32{1, 0}, 5)
				assert.NoError(t, err)
				assert.NotEmpty(t, hits)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, ix.Len())
}
