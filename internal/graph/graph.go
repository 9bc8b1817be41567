// Package graph implements the incrementally built, multi-layer proximity
// graph: randomized level assignment, greedy best-first search, and
// insert-with-linking under a per-node degree cap.
//
// Storage is arena-based per layer: each layer holds its nodes in a dense
// slice addressed by a 32-bit position, and each layer's own id→position
// table maps the public, opaque NodeID onto that position. This keeps the hot
// search loop walking plain int32 slices instead of hashing on every
// neighbor hop, following the arena design sketched for this graph's
// predecessor (github.com/screenager/sift's internal/hnsw, which already
// stores nodes in a dense []node keyed by sequential uint32 ids).
package graph

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/google/uuid"

	"github.com/arrowvec/arrow/internal/vector"
)

// NodeID is an opaque, stable, store-unique identifier assigned at
// insertion. It is never reused and never mutated.
type NodeID = uuid.UUID

// DistanceFunc computes a distance between two equal-length vectors.
type DistanceFunc func(a, b []float32) float32

// SearchResult pairs a node id with its distance to the query vector.
type SearchResult struct {
	ID   NodeID
	Dist float32
}

// arenaNode is one vertex within a single layer's dense storage.
type arenaNode struct {
	id        NodeID
	vec       []float32
	neighbors []int32 // positions within this same layer, len <= M
}

// layer is one level of the graph: every member of layer L also exists at
// every layer below L (enforced by Graph.Insert, never by layer itself).
type layer struct {
	nodes []arenaNode
	index map[NodeID]int32
}

func newLayer() *layer {
	return &layer{index: make(map[NodeID]int32)}
}

func (l *layer) size() int { return len(l.nodes) }

func (l *layer) append(id NodeID, vec []float32) int32 {
	idx := int32(len(l.nodes))
	l.nodes = append(l.nodes, arenaNode{id: id, vec: vec})
	l.index[id] = idx
	return idx
}

// addEdge links a -> b if a is under its degree cap and the edge doesn't
// already exist. It does not touch the reverse direction: callers link
// both sides explicitly (spec's degree-cap policy evaluates each side
// independently, so the resulting edge set may be asymmetric at the cap).
func (l *layer) addEdge(a, b int32, m int) {
	na := &l.nodes[a]
	if len(na.neighbors) >= m {
		return
	}
	for _, nb := range na.neighbors {
		if nb == b {
			return
		}
	}
	na.neighbors = append(na.neighbors, b)
}

// Graph is a layered proximity graph over float32 vectors.
type Graph struct {
	M    int
	ml   float64
	rng  *rand.Rand
	dist DistanceFunc

	layers     []*layer
	entry      NodeID
	entryLevel int
	hasEntry   bool
}

// New creates an empty graph. rng drives level assignment (and, via the
// caller, NodeID generation) — callers that need reproducible graphs must
// seed it themselves; this type never falls back to a time-seeded source.
func New(m int, rng *rand.Rand) *Graph {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Graph{
		M:    m,
		ml:   1 / math.Log(float64(m)),
		rng:  rng,
		dist: vector.CosineDistance,
	}
}

// Ml returns the level generation factor 1/ln(M).
func (g *Graph) Ml() float64 { return g.ml }

// Len returns the number of nodes in the graph (layer 0's population).
func (g *Graph) Len() int {
	if len(g.layers) == 0 {
		return 0
	}
	return g.layers[0].size()
}

// NumLayers returns the number of populated layers (0 for an empty graph).
func (g *Graph) NumLayers() int { return len(g.layers) }

// Entry returns the global entry point: the node at the highest layer.
func (g *Graph) Entry() (id NodeID, level int, ok bool) {
	return g.entry, g.entryLevel, g.hasEntry
}

// RandomLevel draws the new node's top layer per spec.md §4.2.1: draw a
// uniform r in (0, 1], top layer = floor(-ln(r) * mL).
func (g *Graph) RandomLevel() int {
	r := 1 - g.rng.Float64() // (0, 1], since Float64 is [0, 1)
	return int(math.Floor(-math.Log(r) * g.ml))
}

// candidate is one entry in a bounded best-first queue.
type candidate struct {
	idx  int32
	id   NodeID
	dist float32
}

// less orders candidates by ascending distance, then by ascending arena
// index (i.e. the node inserted earlier into this layer wins ties) per
// spec.md §4.2.2's tie-breaking rule.
func less(a, b candidate) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.idx < b.idx
}

// boundedQueue keeps the best `cap` candidates seen so far, sorted
// ascending. It is the `best` queue of spec.md §4.2.2.
type boundedQueue struct {
	cap   int
	items []candidate
}

func newBoundedQueue(cap int) *boundedQueue {
	return &boundedQueue{cap: cap, items: make([]candidate, 0, cap)}
}

// insert places c in sorted position, truncates to cap, and reports
// whether c survived the truncation (i.e. whether it actually improved
// the queue).
func (b *boundedQueue) insert(c candidate) bool {
	i := sort.Search(len(b.items), func(i int) bool { return less(c, b.items[i]) })
	if i >= b.cap {
		return false
	}
	b.items = append(b.items, candidate{})
	copy(b.items[i+1:], b.items[i:])
	b.items[i] = c
	if len(b.items) > b.cap {
		b.items = b.items[:b.cap]
	}
	return true
}

func (b *boundedQueue) head() candidate { return b.items[0] }

// searchLayer is the greedy best-first search of spec.md §4.2.2: expand the
// current closest candidate's unvisited neighbors until one full pass over
// its neighbor set adds nothing new to best.
func (g *Graph) searchLayer(l *layer, target []float32, start int32, ef int) *boundedQueue {
	visited := make(map[int32]bool)
	visited[start] = true

	best := newBoundedQueue(ef)
	best.insert(candidate{
		idx:  start,
		id:   l.nodes[start].id,
		dist: g.dist(l.nodes[start].vec, target),
	})

	for {
		head := best.head()
		improved := false
		for _, nbIdx := range l.nodes[head.idx].neighbors {
			if visited[nbIdx] {
				continue
			}
			visited[nbIdx] = true
			d := g.dist(l.nodes[nbIdx].vec, target)
			c := candidate{idx: nbIdx, id: l.nodes[nbIdx].id, dist: d}
			if best.insert(c) {
				improved = true
			}
		}
		if !improved {
			break
		}
	}
	return best
}

// Insert adds vec as a new node under id, per spec.md §4.2.3.
func (g *Graph) Insert(id NodeID, vec []float32) {
	level := g.RandomLevel()

	if !g.hasEntry {
		for l := 0; l <= level; l++ {
			g.layers = append(g.layers, newLayer())
			g.layers[l].append(id, vec)
		}
		g.entry = id
		g.entryLevel = level
		g.hasEntry = true
		return
	}

	entryExisting := g.entryLevel
	for len(g.layers) <= level {
		g.layers = append(g.layers, newLayer())
	}

	curEntry := g.entry

	// Phase 1: refine the entry point from entryExisting down to level+1.
	for l := entryExisting; l > level; l-- {
		lay := g.layers[l]
		startIdx := lay.index[curEntry]
		res := g.searchLayer(lay, vec, startIdx, 1)
		curEntry = res.head().id
	}

	// New layers above the previous height: the new node is their only
	// member, with no edges (it is the new entry point there).
	for l := entryExisting + 1; l <= level; l++ {
		g.layers[l].append(id, vec)
	}

	// Phase 2: insert into layers min(level, entryExisting) .. 0, linking
	// bidirectionally to the single nearest neighbor found at each layer.
	top := level
	if entryExisting < top {
		top = entryExisting
	}
	for l := top; l >= 0; l-- {
		lay := g.layers[l]
		startIdx := lay.index[curEntry]
		res := g.searchLayer(lay, vec, startIdx, 1)
		nearest := res.head()

		newIdx := lay.append(id, vec)
		lay.addEdge(newIdx, nearest.idx, g.M)
		lay.addEdge(nearest.idx, newIdx, g.M)

		curEntry = nearest.id
	}

	if level > entryExisting {
		g.entry = id
		g.entryLevel = level
	}
}

// Search finds the k nearest nodes to query, per spec.md §4.2.4. Returns
// fewer than k entries if the graph has fewer nodes than k.
func (g *Graph) Search(query []float32, k int) []SearchResult {
	if !g.hasEntry || k <= 0 {
		return nil
	}

	curEntry := g.entry
	for l := g.entryLevel; l >= 1; l-- {
		lay := g.layers[l]
		startIdx := lay.index[curEntry]
		res := g.searchLayer(lay, query, startIdx, 1)
		curEntry = res.head().id
	}

	ef := k
	if g.M > ef {
		ef = g.M // widen for recall; an implementation knob per spec.md §4.2.4.
	}

	lay := g.layers[0]
	startIdx := lay.index[curEntry]
	res := g.searchLayer(lay, query, startIdx, ef)

	out := make([]SearchResult, 0, k)
	for i, c := range res.items {
		if i >= k {
			break
		}
		out = append(out, SearchResult{ID: c.id, Dist: c.dist})
	}
	return out
}

// RawNode is the persisted shape of one node: its id, vector, and the ids
// (not positions) of its neighbors within the same layer.
type RawNode struct {
	ID        NodeID
	Vector    []float32
	Neighbors []NodeID
}

// Restore rebuilds a graph from persisted layer data. It validates that
// every neighbor id resolves within the same layer it was declared in and,
// for a non-empty graph, that the entry point exists at its entry level;
// any other violation is the caller's (store's) responsibility to surface
// as CorruptStore with more context.
func Restore(m int, ml float64, rng *rand.Rand, rawLayers [][]RawNode, entry NodeID, entryLevel int) (*Graph, error) {
	g := &Graph{M: m, ml: ml, rng: rng, dist: vector.CosineDistance}
	if g.rng == nil {
		g.rng = rand.New(rand.NewSource(1))
	}

	g.layers = make([]*layer, len(rawLayers))
	for li, nodes := range rawLayers {
		lay := newLayer()
		for _, n := range nodes {
			lay.append(n.ID, n.Vector)
		}
		g.layers[li] = lay
	}

	for li, nodes := range rawLayers {
		lay := g.layers[li]
		for _, n := range nodes {
			srcIdx := lay.index[n.ID]
			for _, nbID := range n.Neighbors {
				nbIdx, ok := lay.index[nbID]
				if !ok {
					return nil, fmt.Errorf("layer %d: node %s references neighbor %s not present in that layer", li, n.ID, nbID)
				}
				lay.nodes[srcIdx].neighbors = append(lay.nodes[srcIdx].neighbors, nbIdx)
			}
		}
	}

	if len(rawLayers) > 0 && len(rawLayers[0]) > 0 {
		if entryLevel < 0 || entryLevel >= len(g.layers) {
			return nil, fmt.Errorf("entry level %d out of range for %d layers", entryLevel, len(g.layers))
		}
		if _, ok := g.layers[entryLevel].index[entry]; !ok {
			return nil, fmt.Errorf("entry point %s not present in layer %d", entry, entryLevel)
		}
		g.entry = entry
		g.entryLevel = entryLevel
		g.hasEntry = true
	}

	return g, nil
}

// Layers returns, for each layer in order, the ids of its member nodes in
// arena (insertion) order, for serialization.
func (g *Graph) Layers() [][]RawNode {
	out := make([][]RawNode, len(g.layers))
	for li, lay := range g.layers {
		nodes := make([]RawNode, len(lay.nodes))
		for i, n := range lay.nodes {
			neighbors := make([]NodeID, len(n.neighbors))
			for j, nbIdx := range n.neighbors {
				neighbors[j] = lay.nodes[nbIdx].id
			}
			nodes[i] = RawNode{ID: n.id, Vector: n.vec, Neighbors: neighbors}
		}
		out[li] = nodes
	}
	return out
}

// NeighborCount returns |neighbors_L(id)|, or -1 if id isn't in layer l.
// Exposed for the degree-cap property test (spec.md §8 invariant 4).
func (g *Graph) NeighborCount(l int, id NodeID) int {
	if l < 0 || l >= len(g.layers) {
		return -1
	}
	lay := g.layers[l]
	idx, ok := lay.index[id]
	if !ok {
		return -1
	}
	return len(lay.nodes[idx].neighbors)
}

// HasAt reports whether id exists at layer l.
func (g *Graph) HasAt(l int, id NodeID) bool {
	if l < 0 || l >= len(g.layers) {
		return false
	}
	_, ok := g.layers[l].index[id]
	return ok
}
