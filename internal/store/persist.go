package store

import (
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/google/renameio"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/arrowvec/arrow/internal/graph"
)

// formatVersion is bumped on incompatible document-shape changes.
const formatVersion = 1

type yamlNode struct {
	ID        string    `yaml:"id"`
	Vector    []float32 `yaml:"vector"`
	Neighbors []string  `yaml:"neighbors"`
}

// yamlDoc is the single self-describing document a store saves to and
// loads from: one file, every layer, every payload, the parameters needed
// to reconstruct the graph exactly.
type yamlDoc struct {
	Version    int                 `yaml:"version"`
	Dim        int                 `yaml:"dim"`
	M          int                 `yaml:"m"`
	ML         float64             `yaml:"ml"`
	Entry      string              `yaml:"entry"`
	EntryLevel int                 `yaml:"entry_level"`
	Layers     [][]yamlNode        `yaml:"layers"`
	Texts      map[string]string   `yaml:"texts"`
	Sources    map[string]string   `yaml:"sources"`
}

// Save writes the store to path as one YAML document, atomically: the
// document is built in memory, marshaled, then written via a temp file in
// the same directory and renamed over path. On any failure path is left
// untouched, following coder-hnsw's SavedGraph.Save discipline (adapted
// here from gob binary to YAML text, since the format must be
// self-describing and human-readable).
func (s *Store) Save(path string) error {
	rawLayers := s.graph.Layers()

	doc := yamlDoc{
		Version: formatVersion,
		Dim:     s.dim,
		M:       s.m,
		ML:      s.graph.Ml(),
		Layers:  make([][]yamlNode, len(rawLayers)),
		Texts:   make(map[string]string, len(s.texts)),
		Sources: make(map[string]string, len(s.sources)),
	}

	if entry, level, ok := s.graph.Entry(); ok {
		doc.Entry = entry.String()
		doc.EntryLevel = level
	}

	for li, nodes := range rawLayers {
		yn := make([]yamlNode, len(nodes))
		for i, n := range nodes {
			neighbors := make([]string, len(n.Neighbors))
			for j, nb := range n.Neighbors {
				neighbors[j] = nb.String()
			}
			yn[i] = yamlNode{ID: n.ID.String(), Vector: n.Vector, Neighbors: neighbors}
		}
		doc.Layers[li] = yn
	}
	for id, text := range s.texts {
		doc.Texts[id.String()] = text
	}
	for id, src := range s.sources {
		doc.Sources[id.String()] = src
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return &IoFailureError{Err: fmt.Errorf("marshal store: %w", err)}
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return &IoFailureError{Err: err}
	}
	return nil
}

// Load reads and validates a store previously written by Save. rng seeds
// the loaded store's level-assignment and NodeID generation for any
// further Add calls; it does not affect the reconstructed graph, whose
// edges and payloads are exactly what was persisted.
func Load(path string, rng *rand.Rand) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IoFailureError{Err: err}
	}

	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &CorruptStoreError{Reason: fmt.Sprintf("malformed document: %v", err)}
	}

	if doc.M > 1 {
		expectedML := 1 / math.Log(float64(doc.M))
		if math.Abs(doc.ML-expectedML) > 1e-6 {
			return nil, &CorruptStoreError{
				Reason: fmt.Sprintf("ml %.6f does not match 1/ln(m)=%.6f for m=%d", doc.ML, expectedML, doc.M),
			}
		}
	}

	idCache := make(map[string]graph.NodeID, len(doc.Texts)+len(doc.Sources))
	parseID := func(raw string) (graph.NodeID, error) {
		if id, ok := idCache[raw]; ok {
			return id, nil
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, err
		}
		idCache[raw] = id
		return id, nil
	}

	rawLayers := make([][]graph.RawNode, len(doc.Layers))
	for li, nodes := range doc.Layers {
		raw := make([]graph.RawNode, len(nodes))
		for i, n := range nodes {
			id, err := parseID(n.ID)
			if err != nil {
				return nil, &CorruptStoreError{Reason: fmt.Sprintf("layer %d: malformed node id %q: %v", li, n.ID, err)}
			}
			neighbors := make([]graph.NodeID, len(n.Neighbors))
			for j, nb := range n.Neighbors {
				nid, err := parseID(nb)
				if err != nil {
					return nil, &CorruptStoreError{Reason: fmt.Sprintf("layer %d: malformed neighbor id %q: %v", li, nb, err)}
				}
				neighbors[j] = nid
			}
			raw[i] = graph.RawNode{ID: id, Vector: n.Vector, Neighbors: neighbors}
		}
		rawLayers[li] = raw
	}

	var entry graph.NodeID
	if doc.Entry != "" {
		entry, err = parseID(doc.Entry)
		if err != nil {
			return nil, &CorruptStoreError{Reason: fmt.Sprintf("malformed entry id %q: %v", doc.Entry, err)}
		}
	}

	g, err := graph.Restore(doc.M, doc.ML, rng, rawLayers, entry, doc.EntryLevel)
	if err != nil {
		return nil, &CorruptStoreError{Reason: err.Error()}
	}

	texts := make(map[graph.NodeID]string, len(doc.Texts))
	for raw, text := range doc.Texts {
		id, err := parseID(raw)
		if err != nil {
			return nil, &CorruptStoreError{Reason: fmt.Sprintf("malformed text id %q: %v", raw, err)}
		}
		if !g.HasAt(0, id) {
			return nil, &CorruptStoreError{Reason: fmt.Sprintf("text id %s not present in layer 0", id)}
		}
		texts[id] = text
	}
	sources := make(map[graph.NodeID]string, len(doc.Sources))
	for raw, src := range doc.Sources {
		id, err := parseID(raw)
		if err != nil {
			return nil, &CorruptStoreError{Reason: fmt.Sprintf("malformed source id %q: %v", raw, err)}
		}
		if !g.HasAt(0, id) {
			return nil, &CorruptStoreError{Reason: fmt.Sprintf("source id %s not present in layer 0", id)}
		}
		sources[id] = src
	}

	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	return &Store{
		dim:     doc.Dim,
		m:       doc.M,
		graph:   g,
		rng:     rng,
		texts:   texts,
		sources: sources,
	}, nil
}
