package queryexec

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/semaj90/ragengine/internal/vectorstore"
)

func intPtr(n int) *int { return &n }

func sampleChunks() []vectorstore.KNNResult {
	return []vectorstore.KNNResult{
		{DocumentID: uuid.New(), FileName: "crypto.pdf", PageNumber: intPtr(3), Content: "AES is a block cipher standardized by NIST."},
		{DocumentID: uuid.New(), FileName: "slides.pptx", SlideNumber: intPtr(7), Content: "Symmetric encryption uses one shared key."},
	}
}

func TestAssemblePromptNumbersSourcesAndIncludesQuestion(t *testing.T) {
	prompt := assemblePrompt("What is AES?", nil, "", sampleChunks())

	require.Contains(t, prompt, "[Source 1] (page 3)")
	require.Contains(t, prompt, "[Source 2] (slide 7)")
	require.Contains(t, prompt, "Question: What is AES?")
	require.True(t, strings.HasPrefix(prompt, systemInstruction))
}

func TestAssemblePromptScalesStructureToMarks(t *testing.T) {
	cases := []struct {
		marks int
		want  string
	}{
		{1, "brief"},
		{2, "brief"},
		{3, "short"},
		{5, "short"},
		{6, "detailed"},
		{10, "detailed"},
		{11, "essay"},
		{20, "essay"},
	}
	for _, c := range cases {
		prompt := assemblePrompt("Explain AES.", intPtr(c.marks), "", sampleChunks())
		require.Contains(t, prompt, fmt.Sprintf("worth %d marks", c.marks))
		require.Contains(t, prompt, c.want, "marks=%d", c.marks)
	}
}

func TestAssemblePromptIncludesFormatHint(t *testing.T) {
	prompt := assemblePrompt("Explain AES.", nil, "answer in bullet points", nil)
	require.Contains(t, prompt, "answer in bullet points")
}

func TestCitedSourcesPairsMarkersToChunks(t *testing.T) {
	chunks := sampleChunks()
	sources := citedSources("AES [Source 1] is symmetric [Source 2].", chunks)

	require.Len(t, sources, 2)
	require.Equal(t, "crypto.pdf", sources[0].FileName)
	require.Equal(t, chunks[0].DocumentID, sources[0].DocumentID)
	require.Equal(t, "slides.pptx", sources[1].FileName)
	require.Equal(t, 7, *sources[1].SlideNumber)
}

func TestCitedSourcesIgnoresOutOfRangeAndDuplicateMarkers(t *testing.T) {
	chunks := sampleChunks()
	sources := citedSources("[Source 1] again [Source 1], bogus [Source 9].", chunks)

	require.Len(t, sources, 1)
	require.Equal(t, "crypto.pdf", sources[0].FileName)
}

func TestCitedSourcesTruncatesLongExcerpts(t *testing.T) {
	chunks := []vectorstore.KNNResult{{FileName: "big.txt", Content: strings.Repeat("a", 1000)}}
	sources := citedSources("[Source 1]", chunks)

	require.Len(t, sources, 1)
	require.Len(t, sources[0].Excerpt, 280)
}

func TestNewAppliesDefaultMaxContextChunks(t *testing.T) {
	e := New(nil, nil, nil, nil, nil, "", 0)
	require.Equal(t, DefaultMaxContextChunks, e.maxContextChunks)
}
