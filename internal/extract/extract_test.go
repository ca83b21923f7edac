package extract

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/semaj90/ragengine/internal/models"
)

func TestPlainTextExtractorSplitsOnBlankLines(t *testing.T) {
	input := "Page One Title\nbody text.\n\n\nPage Two Title\nmore body text."
	var e PlainTextExtractor

	result, err := e.Extract(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, 2, result.TotalPages)
	require.Equal(t, "Page One Title", result.PageTitles[0])
	require.Equal(t, "Page Two Title", result.PageTitles[1])
}

func TestPlainTextExtractorSinglePageWhenNoBreak(t *testing.T) {
	var e PlainTextExtractor
	result, err := e.Extract(context.Background(), strings.NewReader("just one page"))
	require.NoError(t, err)
	require.Equal(t, 1, result.TotalPages)
}

func TestForReturnsRegisteredExtractorForEveryFileType(t *testing.T) {
	types := []models.FileType{
		models.FileTypePDF, models.FileTypePPT, models.FileTypePPTX,
		models.FileTypePNG, models.FileTypeJPG, models.FileTypeJPEG, models.FileTypeTXT,
	}
	for _, ft := range types {
		e, err := For(ft)
		require.NoError(t, err, "file type %s should have a registered extractor", ft)
		require.NotNil(t, e)
	}
}

func TestForReturnsErrorForUnknownFileType(t *testing.T) {
	_, err := For(models.FileType("unknown"))
	require.Error(t, err)
}

func TestSetExtractorOverridesRegistry(t *testing.T) {
	e, _ := For(models.FileTypePDF)
	defer SetExtractor(models.FileTypePDF, e)

	called := false
	SetExtractor(models.FileTypePDF, fakeExtractor{onExtract: func() { called = true }})

	got, err := For(models.FileTypePDF)
	require.NoError(t, err)
	_, _ = got.Extract(context.Background(), strings.NewReader("x"))
	require.True(t, called)
}

type fakeExtractor struct {
	onExtract func()
}

func (f fakeExtractor) Extract(ctx context.Context, r io.Reader) (Result, error) {
	f.onExtract()
	return Result{}, nil
}
