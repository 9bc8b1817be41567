package embed

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkEmpty(t *testing.T) {
	require.Empty(t, Chunk(""))
	require.Empty(t, Chunk("   \n\t  "))
}

func TestChunkSingleShortChunk(t *testing.T) {
	got := Chunk("alpha beta gamma")
	require.Equal(t, []string{"alpha beta gamma"}, got)
}

func TestChunkRespectsByteBudget(t *testing.T) {
	word := strings.Repeat("a", 100)
	text := strings.Join([]string{word, word, word, word, word, word}, " ")
	got := Chunk(text)
	for _, c := range got {
		require.LessOrEqual(t, len(c), MaxChunkBytes)
	}
	// 6 words of 100 bytes + separators: 606 bytes total, must split.
	require.Greater(t, len(got), 1)
}

func TestChunkOversizedWordIsOwnChunk(t *testing.T) {
	huge := strings.Repeat("x", 600)
	got := Chunk("lead " + huge + " trail")
	require.Len(t, got, 3)
	require.Equal(t, "lead", got[0])
	require.Equal(t, huge, got[1])
	require.Equal(t, "trail", got[2])
}

func TestChunkOrderPreserved(t *testing.T) {
	text := strings.Repeat("word ", 400) // forces multiple chunks
	got := Chunk(text)
	require.Greater(t, len(got), 1)
	for _, c := range got {
		for _, w := range strings.Fields(c) {
			require.Equal(t, "word", w)
		}
	}
}
