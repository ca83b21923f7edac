package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkPagesEmitsOneChunkForShortPage(t *testing.T) {
	c := New(0, 0)
	chunks := c.ChunkPages([]string{"a short page."}, []string{"Intro"})
	require.Len(t, chunks, 1)
	require.Equal(t, 1, chunks[0].PageNumber)
	require.Equal(t, "Intro", chunks[0].SectionTitle)
	require.Equal(t, 0, chunks[0].ChunkIndex)
}

func TestChunkPagesSplitsLongPage(t *testing.T) {
	c := New(50, 10)
	sentence := "This is a sentence that repeats many times. "
	longPage := strings.Repeat(sentence, 40)

	chunks := c.ChunkPages([]string{longPage}, nil)
	require.Greater(t, len(chunks), 1)
	for i, ch := range chunks {
		require.Equal(t, i, ch.ChunkIndex)
		require.LessOrEqual(t, ch.TokenCount, c.MaxChunkTokens+1)
	}
}

func TestChunkIndexIsMonotonicAcrossPages(t *testing.T) {
	c := New(0, 0)
	chunks := c.ChunkPages([]string{"page one.", "page two.", "page three."}, nil)
	require.Len(t, chunks, 3)
	for i, ch := range chunks {
		require.Equal(t, i, ch.ChunkIndex)
		require.Equal(t, i+1, ch.PageNumber)
	}
}

func TestChunkPagesSkipsBlankPages(t *testing.T) {
	c := New(0, 0)
	chunks := c.ChunkPages([]string{"", "real content here."}, nil)
	require.Len(t, chunks, 1)
	require.Equal(t, 2, chunks[0].PageNumber)
}

func TestChunkContentsCoverEveryCharacterOfEachPage(t *testing.T) {
	c := New(30, 5)
	page := strings.Repeat("word ", 200) + "."
	chunks := c.ChunkPages([]string{page}, nil)

	var combined strings.Builder
	for _, ch := range chunks {
		combined.WriteString(ch.Content)
	}
	for _, r := range page {
		require.Contains(t, combined.String(), string(r))
	}
}

func TestSecondChunkBeginsWithTailOfFirst(t *testing.T) {
	c := New(50, 10)
	sentence := "The cat sat on the mat again and again today. "
	chunks := c.ChunkPages([]string{strings.Repeat(sentence, 20)}, nil)
	require.Greater(t, len(chunks), 1)

	overlapChars := c.OverlapTokens * charsPerToken
	tail := chunks[0].Content[len(chunks[0].Content)-overlapChars:]
	require.True(t, strings.HasPrefix(chunks[1].Content, tail))
}

func TestNoTrailingChunkDuplicatesOverlapOnly(t *testing.T) {
	c := New(10, 5)
	// Each 42-character sentence overflows the 40-character budget on its
	// own, so every sentence forces a flush; no two consecutive chunks may
	// be identical.
	page := strings.Repeat("abcdefghij", 4) + ". "
	chunks := c.ChunkPages([]string{page + page}, nil)
	for i := 1; i < len(chunks); i++ {
		require.NotEqual(t, chunks[i-1].Content, chunks[i].Content)
	}
}

func TestCountTokensApproximatesFourCharsPerToken(t *testing.T) {
	require.Equal(t, 0, CountTokens(""))
	require.Equal(t, 1, CountTokens("abcd"))
	require.Equal(t, 2, CountTokens("abcde"))
}
