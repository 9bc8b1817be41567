package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsZeroValue(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, Config{}, cfg)
}

func TestLoadParsesFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".arrow.toml")
	content := `
database = "mystore.yaml"
model-dir = "./models"
embedder = "openai"
max-connections = 32
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Config{
		Database:       "mystore.yaml",
		ModelDir:       "./models",
		Embedder:       "openai",
		MaxConnections: 32,
	}, cfg)
}

func TestLoadRejectsMalformedToml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".arrow.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
