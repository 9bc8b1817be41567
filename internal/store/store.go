// Package store implements the index facade: it owns the layer stack (via
// internal/graph), the id→text and id→source payload maps, and the
// level-assignment randomness, and exposes add/query/introspection.
//
// Keeping text and source outside node records avoids serializing payload
// data redundantly across layers and lets internal/graph be tested with
// synthetic vectors and no payloads at all — the same separation the
// teacher drew between its hnsw.Graph and its own []ChunkMeta side slice.
package store

import (
	"math/rand"

	"github.com/google/uuid"

	"github.com/arrowvec/arrow/internal/graph"
	"github.com/arrowvec/arrow/internal/vector"
)

// QueryResult is one row returned by Query, ordered by ascending distance
// (== descending similarity).
type QueryResult struct {
	ID         graph.NodeID
	Text       string
	Source     string
	Similarity float32
}

// Payload is the (text, source) pair recorded for a node at Add time.
type Payload struct {
	Text   string
	Source string // empty means "no source tag"
}

// Store is the index facade. It is not safe for concurrent Add; concurrent
// Query against a Store nobody is mutating is safe.
type Store struct {
	dim   int
	m     int
	graph *graph.Graph
	rng   *rand.Rand

	texts   map[graph.NodeID]string
	sources map[graph.NodeID]string
}

// New creates an empty store with the given max-connections parameter. rng
// drives both level assignment and NodeID generation; pass a seeded
// *rand.Rand for reproducible stores, nil for a reasonable default.
func New(m int, rng *rand.Rand) *Store {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Store{
		m:       m,
		graph:   graph.New(m, rng),
		rng:     rng,
		texts:   make(map[graph.NodeID]string),
		sources: make(map[graph.NodeID]string),
	}
}

// Dim returns the store's fixed vector dimension, or 0 if nothing has been
// added yet.
func (s *Store) Dim() int { return s.dim }

// MaxConnections returns M.
func (s *Store) MaxConnections() int { return s.m }

// Count returns the number of nodes in the store.
func (s *Store) Count() int { return s.graph.Len() }

// Add inserts vec under the given text and optional source tag, returning
// its freshly assigned NodeID. The first Add on a fresh store fixes dim;
// every subsequent Add is checked against it.
func (s *Store) Add(vec []float32, text, source string) (graph.NodeID, error) {
	if s.dim == 0 {
		s.dim = len(vec)
	} else if len(vec) != s.dim {
		return uuid.Nil, &DimensionMismatchError{Want: s.dim, Got: len(vec)}
	}

	id, err := uuid.NewRandomFromReader(s.rng)
	if err != nil {
		return uuid.Nil, &IoFailureError{Err: err}
	}

	s.graph.Insert(id, vec)
	s.texts[id] = text
	if source != "" {
		s.sources[id] = source
	}
	return id, nil
}

// Query returns the k nearest nodes to vec, ordered by ascending distance.
// An empty store yields an empty (nil) result, not an error. Fewer than k
// rows are returned if the store has fewer than k nodes.
func (s *Store) Query(vec []float32, k int) ([]QueryResult, error) {
	if s.dim != 0 && len(vec) != s.dim {
		return nil, &DimensionMismatchError{Want: s.dim, Got: len(vec)}
	}
	if s.Count() == 0 || k <= 0 {
		return nil, nil
	}

	hits := s.graph.Search(vec, k)
	out := make([]QueryResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, QueryResult{
			ID:         h.ID,
			Text:       s.texts[h.ID],
			Source:     s.sources[h.ID],
			Similarity: vector.Similarity(h.Dist),
		})
	}
	return out, nil
}

// IDs returns every node id, in insertion order.
func (s *Store) IDs() []graph.NodeID {
	layers := s.graph.Layers()
	if len(layers) == 0 {
		return nil
	}
	base := layers[0]
	ids := make([]graph.NodeID, len(base))
	for i, n := range base {
		ids[i] = n.ID
	}
	return ids
}

// Fetch returns the payload recorded for id, and whether id exists.
func (s *Store) Fetch(id graph.NodeID) (Payload, bool) {
	text, ok := s.texts[id]
	if !ok {
		return Payload{}, false
	}
	return Payload{Text: text, Source: s.sources[id]}, true
}
