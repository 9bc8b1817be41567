package store

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/arrowvec/arrow/internal/graph"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.yaml")

	rng := rand.New(rand.NewSource(42))
	s := New(8, rng)
	for i := 0; i < 200; i++ {
		v := make([]float32, 16)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		_, err := s.Add(v, "chunk text", "file.txt#chunk1")
		require.NoError(t, err)
	}

	require.NoError(t, s.Save(path))

	loaded, err := Load(path, rand.New(rand.NewSource(99)))
	require.NoError(t, err)

	require.Equal(t, s.Count(), loaded.Count())
	require.Equal(t, s.Dim(), loaded.Dim())
	require.Equal(t, s.MaxConnections(), loaded.MaxConnections())
	require.ElementsMatch(t, s.IDs(), loaded.IDs())

	for _, id := range s.IDs() {
		want, ok := s.Fetch(id)
		require.True(t, ok)
		got, ok := loaded.Fetch(id)
		require.True(t, ok)
		require.Equal(t, want, got)
	}

	q := make([]float32, 16)
	for j := range q {
		q[j] = 0.1
	}
	want, err := s.Query(q, 5)
	require.NoError(t, err)
	got, err := loaded.Query(q, 5)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestSaveIsAtomicNoPartialFileOnMarshalSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.yaml")

	s := New(4, rand.New(rand.NewSource(1)))
	_, err := s.Add([]float32{1, 0, 0}, "a", "")
	require.NoError(t, err)
	require.NoError(t, s.Save(path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no leftover temp files after a successful save")
	require.Equal(t, "store.yaml", entries[0].Name())
}

// TestScenarioS3 mirrors spec.md S3 at reduced scale: 200 random 16-dim
// vectors, save, reload, self-recall for every vector.
func TestScenarioS3(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.yaml")

	rng := rand.New(rand.NewSource(42))
	s := New(8, rng)
	vecs := make([][]float32, 200)
	ids := make([]graph.NodeID, 200)
	for i := range vecs {
		v := make([]float32, 16)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		vecs[i] = v
		id, err := s.Add(v, "chunk", "")
		require.NoError(t, err)
		ids[i] = id
	}
	require.NoError(t, s.Save(path))

	loaded, err := Load(path, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	hit := 0
	for i, v := range vecs {
		res, err := loaded.Query(v, 1)
		require.NoError(t, err)
		require.Len(t, res, 1)
		if res[0].ID == ids[i] {
			hit++
		}
	}
	require.Equal(t, len(vecs), hit, "expected 100%% self-recall after reload")
}

// TestScenarioS5 mirrors spec.md S5: a neighbor id that isn't in the node
// list fails CorruptStore.
func TestScenarioS5(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.yaml")

	s := New(4, rand.New(rand.NewSource(1)))
	_, err := s.Add([]float32{1, 0, 0}, "a", "")
	require.NoError(t, err)
	require.NoError(t, s.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc yamlDoc
	require.NoError(t, yaml.Unmarshal(data, &doc))
	require.NotEmpty(t, doc.Layers[0])
	doc.Layers[0][0].Neighbors = append(doc.Layers[0][0].Neighbors, "00000000-0000-0000-0000-000000000099")

	corrupted, err := yaml.Marshal(&doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, corrupted, 0o644))

	_, err = Load(path, rand.New(rand.NewSource(1)))
	require.Error(t, err)
	var corruptErr *CorruptStoreError
	require.ErrorAs(t, err, &corruptErr)
}

func TestLoadRejectsBadML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.yaml")

	doc := yamlDoc{Version: 1, Dim: 3, M: 4, ML: 99, Layers: [][]yamlNode{{}}}
	data, err := yaml.Marshal(&doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Load(path, rand.New(rand.NewSource(1)))
	require.Error(t, err)
	var corruptErr *CorruptStoreError
	require.ErrorAs(t, err, &corruptErr)
}

func TestLoadRejectsMalformedDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid, yaml"), 0o644))

	_, err := Load(path, rand.New(rand.NewSource(1)))
	require.Error(t, err)
}

func TestLoadMissingFileIsIoFailure(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), rand.New(rand.NewSource(1)))
	require.Error(t, err)
	var ioErr *IoFailureError
	require.ErrorAs(t, err, &ioErr)
}
