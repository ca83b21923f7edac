package querycache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeLowercasesFoldsPunctuationAndCollapsesWhitespace(t *testing.T) {
	require.Equal(t, "what is the refund policy", Normalize("What is the   Refund Policy?!"))
}

func TestNormalizeTrimsLeadingAndTrailingWhitespace(t *testing.T) {
	require.Equal(t, "hello world", Normalize("  Hello, World!  "))
}

func TestNormalizeIsIdempotent(t *testing.T) {
	for _, s := range []string{"WHAT IS AES??", "  spaced   out  ", "already normal"} {
		once := Normalize(s)
		require.Equal(t, once, Normalize(once))
	}
}

func TestHashIsStableForEquivalentQuestions(t *testing.T) {
	a := Hash(Normalize("What is the refund policy?"))
	b := Hash(Normalize("what is the refund policy"))
	require.Equal(t, a, b)
}

func TestHashDiffersForDifferentQuestions(t *testing.T) {
	a := Hash(Normalize("What is the refund policy?"))
	b := Hash(Normalize("What is the shipping policy?"))
	require.NotEqual(t, a, b)
}

func TestNewAppliesDefaultThresholdWhenZero(t *testing.T) {
	c := New(nil, nil, 0)
	require.Equal(t, DefaultSemanticThreshold, c.threshold)
}

func TestNewPreservesExplicitThreshold(t *testing.T) {
	c := New(nil, nil, 0.8)
	require.Equal(t, 0.8, c.threshold)
}
