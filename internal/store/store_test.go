package store

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arrowvec/arrow/internal/graph"
)

func TestAddFixesDimOnFirstCall(t *testing.T) {
	s := New(4, rand.New(rand.NewSource(1)))
	_, err := s.Add([]float32{1, 0, 0}, "alpha", "doc.txt#chunk1")
	require.NoError(t, err)
	require.Equal(t, 3, s.Dim())
}

func TestAddDimensionMismatch(t *testing.T) {
	s := New(4, rand.New(rand.NewSource(1)))
	_, err := s.Add([]float32{1, 0, 0}, "alpha", "")
	require.NoError(t, err)

	_, err = s.Add([]float32{1, 0, 0, 0}, "beta", "")
	require.Error(t, err)
	var dimErr *DimensionMismatchError
	require.ErrorAs(t, err, &dimErr)
	require.Equal(t, 3, dimErr.Want)
	require.Equal(t, 4, dimErr.Got)
	require.Equal(t, 1, s.Count(), "store must be unchanged after a rejected add")
}

func TestQueryDimensionMismatch(t *testing.T) {
	s := New(4, rand.New(rand.NewSource(1)))
	_, _ = s.Add([]float32{1, 0, 0}, "alpha", "")

	_, err := s.Query([]float32{1, 0}, 1)
	require.Error(t, err)
	var dimErr *DimensionMismatchError
	require.ErrorAs(t, err, &dimErr)
}

func TestQueryEmptyStoreReturnsEmptyNotError(t *testing.T) {
	s := New(4, rand.New(rand.NewSource(1)))
	res, err := s.Query([]float32{1, 2, 3}, 5)
	require.NoError(t, err)
	require.Empty(t, res)
}

func TestQueryKLargerThanCount(t *testing.T) {
	s := New(4, rand.New(rand.NewSource(1)))
	_, _ = s.Add([]float32{1, 0, 0}, "a", "")
	_, _ = s.Add([]float32{0, 1, 0}, "b", "")

	res, err := s.Query([]float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, res, 2)
}

func TestZeroVectorInsertionNoNaN(t *testing.T) {
	s := New(4, rand.New(rand.NewSource(1)))
	_, err := s.Add([]float32{0, 0, 0}, "zero", "")
	require.NoError(t, err)

	res, err := s.Query([]float32{1, 2, 3}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.False(t, res[0].Similarity != res[0].Similarity, "similarity must not be NaN")
}

func TestFetchUnknownID(t *testing.T) {
	s := New(4, rand.New(rand.NewSource(1)))
	var zero graph.NodeID
	_, ok := s.Fetch(zero)
	require.False(t, ok)
}

// TestScenarioS1 mirrors spec.md S1: a single chunk with a known vector.
func TestScenarioS1(t *testing.T) {
	s := New(4, rand.New(rand.NewSource(1)))
	id, err := s.Add([]float32{1, 0, 0}, "alpha beta gamma", "doc.txt#chunk1")
	require.NoError(t, err)

	res, err := s.Query([]float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, id, res[0].ID)
	require.InDelta(t, 1.0, res[0].Similarity, 1e-5)
	require.Equal(t, "doc.txt#chunk1", res[0].Source)
}

// TestScenarioS2 mirrors spec.md S2: M=2, three orthonormal vectors, a tie
// between the two orthogonal ones.
func TestScenarioS2(t *testing.T) {
	s := New(2, rand.New(rand.NewSource(1)))
	e1, err := s.Add([]float32{1, 0, 0}, "e1", "")
	require.NoError(t, err)
	_, err = s.Add([]float32{0, 1, 0}, "e2", "")
	require.NoError(t, err)
	_, err = s.Add([]float32{0, 0, 1}, "e3", "")
	require.NoError(t, err)

	res, err := s.Query([]float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	require.Equal(t, e1, res[0].ID)
	require.InDelta(t, 1.0, res[0].Similarity, 1e-5)
	require.InDelta(t, 0.0, res[1].Similarity, 1e-5)
	require.InDelta(t, 0.0, res[2].Similarity, 1e-5)
}

// TestScenarioS4 mirrors spec.md S4: a dimension mismatch leaves the store
// unchanged.
func TestScenarioS4(t *testing.T) {
	s := New(4, rand.New(rand.NewSource(1)))
	_, err := s.Add([]float32{1, 0, 0}, "alpha", "")
	require.NoError(t, err)

	_, err = s.Add([]float32{1, 0, 0, 9}, "beta", "")
	require.Error(t, err)
	require.Equal(t, 1, s.Count())
}

// TestScenarioS6 mirrors spec.md S6: three adds across two files, two
// chunks each, producing a six-node store with two distinct sources.
func TestScenarioS6(t *testing.T) {
	s := New(8, rand.New(rand.NewSource(1)))
	files := []string{"a.txt#chunk1", "a.txt#chunk2", "b.txt#chunk1", "b.txt#chunk2", "a.txt#chunk1", "a.txt#chunk2"}
	for i, f := range files {
		_, err := s.Add([]float32{float32(i), 1, 0, 0}, "text", f)
		require.NoError(t, err)
	}
	require.Equal(t, 6, s.Count())

	sources := make(map[string]struct{})
	for _, id := range s.IDs() {
		p, ok := s.Fetch(id)
		require.True(t, ok)
		sources[p.Source] = struct{}{}
	}
	fileSet := make(map[string]struct{})
	for src := range sources {
		for i := 0; i < len(src); i++ {
			if src[i] == '#' {
				fileSet[src[:i]] = struct{}{}
				break
			}
		}
	}
	require.Len(t, fileSet, 2)
}

func TestSelfRecall(t *testing.T) {
	rng := rand.New(rand.NewSource(77))
	s := New(8, rng)

	vecs := make([][]float32, 50)
	ids := make([]graph.NodeID, 50)
	for i := range vecs {
		v := make([]float32, 12)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		vecs[i] = v
		id, err := s.Add(v, "chunk", "")
		require.NoError(t, err)
		ids[i] = id
	}

	for i, v := range vecs {
		res, err := s.Query(v, 1)
		require.NoError(t, err)
		require.Len(t, res, 1)
		require.Equal(t, ids[i], res[0].ID)
	}
}

func TestQueryMonotonicInK(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	s := New(8, rng)
	for i := 0; i < 30; i++ {
		v := make([]float32, 6)
		for j := range v {
			v[j] = rng.Float32()
		}
		_, err := s.Add(v, "chunk", "")
		require.NoError(t, err)
	}

	q := []float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}
	small, err := s.Query(q, 3)
	require.NoError(t, err)
	large, err := s.Query(q, 10)
	require.NoError(t, err)

	largeSet := make(map[string]struct{}, len(large))
	for _, r := range large {
		largeSet[r.ID.String()] = struct{}{}
	}
	for _, r := range small {
		_, ok := largeSet[r.ID.String()]
		require.True(t, ok, "query(q, k1) must be a subset of query(q, k2) for k1<=k2")
	}
}
