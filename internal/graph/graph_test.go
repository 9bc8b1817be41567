package graph

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestRNG(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

func randomVec(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}

func newID(rng *rand.Rand) NodeID {
	id, err := uuid.NewRandomFromReader(rng)
	if err != nil {
		panic(err)
	}
	return id
}

func TestInsertSingleNode(t *testing.T) {
	rng := newTestRNG(1)
	g := New(8, rng)
	id := newID(rng)
	g.Insert(id, []float32{1, 0, 0})

	require.Equal(t, 1, g.Len())
	entry, level, ok := g.Entry()
	require.True(t, ok)
	require.Equal(t, id, entry)
	require.GreaterOrEqual(t, level, 0)
}

func TestSearchEmptyGraph(t *testing.T) {
	g := New(8, newTestRNG(1))
	res := g.Search([]float32{1, 2, 3}, 5)
	require.Empty(t, res)
}

func TestSearchFindsExactMatch(t *testing.T) {
	rng := newTestRNG(42)
	g := New(8, rng)

	var target NodeID
	for i := 0; i < 200; i++ {
		id := newID(rng)
		v := randomVec(rng, 16)
		if i == 100 {
			target = id
			v = []float32{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
		}
		g.Insert(id, v)
	}

	res := g.Search([]float32{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}, 1)
	require.Len(t, res, 1)
	require.Equal(t, target, res[0].ID)
	require.InDelta(t, 0, res[0].Dist, 1e-5)
}

func TestSearchKBoundedByCount(t *testing.T) {
	rng := newTestRNG(7)
	g := New(8, rng)
	for i := 0; i < 3; i++ {
		g.Insert(newID(rng), randomVec(rng, 4))
	}
	res := g.Search(randomVec(rng, 4), 10)
	require.Len(t, res, 3)
}

func TestSearchResultsAscendingByDistance(t *testing.T) {
	rng := newTestRNG(9)
	g := New(8, rng)
	for i := 0; i < 50; i++ {
		g.Insert(newID(rng), randomVec(rng, 8))
	}
	res := g.Search(randomVec(rng, 8), 10)
	for i := 1; i < len(res); i++ {
		require.LessOrEqual(t, res[i-1].Dist, res[i].Dist)
	}
}

func TestLayerMonotonicity(t *testing.T) {
	rng := newTestRNG(3)
	g := New(4, rng)
	ids := make([]NodeID, 0, 100)
	for i := 0; i < 100; i++ {
		id := newID(rng)
		ids = append(ids, id)
		g.Insert(id, randomVec(rng, 6))
	}

	for _, id := range ids {
		seenAbsent := false
		for l := 0; l < g.NumLayers(); l++ {
			present := g.HasAt(l, id)
			if !present {
				seenAbsent = true
				continue
			}
			require.False(t, seenAbsent, "node %s present at layer %d after being absent at a lower layer", id, l)
		}
	}
}

func TestDegreeCapRespected(t *testing.T) {
	rng := newTestRNG(5)
	m := 6
	g := New(m, rng)
	ids := make([]NodeID, 0, 300)
	for i := 0; i < 300; i++ {
		id := newID(rng)
		ids = append(ids, id)
		g.Insert(id, randomVec(rng, 5))
	}

	for _, id := range ids {
		for l := 0; l < g.NumLayers(); l++ {
			n := g.NeighborCount(l, id)
			if n < 0 {
				continue
			}
			require.LessOrEqual(t, n, m)
		}
	}
}

func TestDeterministicUnderSeededRNG(t *testing.T) {
	build := func(seed int64) []SearchResult {
		rng := newTestRNG(seed)
		g := New(8, rng)
		for i := 0; i < 60; i++ {
			g.Insert(newID(rng), randomVec(rng, 10))
		}
		return g.Search(randomVec(rng, 10), 5)
	}

	a := build(123)
	b := build(123)
	require.Equal(t, a, b)
}

func TestRestoreRoundTrip(t *testing.T) {
	rng := newTestRNG(11)
	g := New(8, rng)
	for i := 0; i < 40; i++ {
		g.Insert(newID(rng), randomVec(rng, 6))
	}

	entry, level, ok := g.Entry()
	require.True(t, ok)

	restored, err := Restore(g.M, g.Ml(), newTestRNG(99), g.Layers(), entry, level)
	require.NoError(t, err)
	require.Equal(t, g.Len(), restored.Len())
	require.Equal(t, g.NumLayers(), restored.NumLayers())

	q := randomVec(rng, 6)
	want := g.Search(q, 5)
	got := restored.Search(q, 5)
	require.Equal(t, want, got)
}

func TestRestoreRejectsUnknownNeighbor(t *testing.T) {
	bogus := uuid.New()
	real := uuid.New()
	layers := [][]RawNode{
		{
			{ID: real, Vector: []float32{1, 2}, Neighbors: []NodeID{bogus}},
		},
	}
	_, err := Restore(8, 1.0, newTestRNG(1), layers, real, 0)
	require.Error(t, err)
}

func TestRestoreEmptyGraph(t *testing.T) {
	g, err := Restore(8, 1.0, newTestRNG(1), nil, uuid.Nil, 0)
	require.NoError(t, err)
	require.Equal(t, 0, g.Len())
	_, _, ok := g.Entry()
	require.False(t, ok)
}
