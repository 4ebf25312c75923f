package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitText_Empty(t *testing.T) {
	assert.Nil(t, SplitText("", DefaultSplitConfig()))
	assert.Nil(t, SplitText("   \n\t  ", DefaultSplitConfig()))
}

func TestSplitText_ShortTextSingleChunk(t *testing.T) {
	chunks := SplitText("a short document", DefaultSplitConfig())
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short document", chunks[0])
}

func TestSplitText_LongTextOverlaps(t *testing.T) {
	words := make([]string, 0, 600)
	for i := 0; i < 600; i++ {
		words = append(words, "word")
	}
	text := strings.Join(words, " ")

	cfg := SplitConfig{MaxChars: 200, MinChars: 50, Overlap: 40, MaxChunks: 100}
	chunks := SplitText(text, cfg)

	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), cfg.MaxChars)
		assert.NotEmpty(t, chunk)
	}

	// Consecutive chunks share overlapping content.
	assert.True(t, strings.HasPrefix(chunks[1], "word"))
}

func TestSplitText_PrefersWhitespaceCuts(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta ", 40)
	cfg := SplitConfig{MaxChars: 100, MinChars: 30, Overlap: 0, MaxChunks: 50}

	chunks := SplitText(text, cfg)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		// No chunk starts or ends mid-word when whitespace is available.
		assert.False(t, strings.HasPrefix(chunk, " "))
		assert.False(t, strings.HasSuffix(chunk, " "))
	}
}

func TestSplitText_MaxChunksCap(t *testing.T) {
	text := strings.Repeat("x ", 5000)
	cfg := SplitConfig{MaxChars: 50, MinChars: 10, Overlap: 0, MaxChunks: 3}

	chunks := SplitText(text, cfg)
	assert.Len(t, chunks, 3)
}

func TestSplitText_ZeroConfigFallsBackToDefaults(t *testing.T) {
	chunks := SplitText("tiny", SplitConfig{})
	require.Len(t, chunks, 1)
	assert.Equal(t, "tiny", chunks[0])
}
