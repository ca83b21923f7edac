// Package extract treats file-format parsing as opaque "extractors"
// returning page text/titles per FileType. PDF,
// PPT/PPTX and image OCR extraction are external library concerns; only
// PlainTextExtractor is fully implemented here, with a SetExtractor seam so
// a real PDF/OCR backend can be wired in without touching the pipeline.
package extract

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/semaj90/ragengine/internal/models"
)

// Result is the opaque extraction output the pipeline chunks.
type Result struct {
	PageContents []string
	PageTitles   []string
	TotalPages   int
}

// Extractor pulls page text/titles out of one file format.
type Extractor interface {
	Extract(ctx context.Context, r io.Reader) (Result, error)
}

var registry = map[models.FileType]Extractor{
	models.FileTypeTXT: PlainTextExtractor{},
}

func init() {
	stub := bestEffortStub{}
	registry[models.FileTypePDF] = stub
	registry[models.FileTypePPT] = stub
	registry[models.FileTypePPTX] = stub
	registry[models.FileTypePNG] = stub
	registry[models.FileTypeJPG] = stub
	registry[models.FileTypeJPEG] = stub
}

// SetExtractor swaps the extractor registered for a FileType, allowing a
// real PDF/OCR backend to replace a stub without touching the pipeline.
func SetExtractor(ft models.FileType, e Extractor) {
	registry[ft] = e
}

// For looks up the extractor registered for ft.
func For(ft models.FileType) (Extractor, error) {
	e, ok := registry[ft]
	if !ok {
		return nil, fmt.Errorf("no extractor registered for file type %q", ft)
	}
	return e, nil
}

// PlainTextExtractor treats the whole file as a single page of UTF-8 text,
// using two consecutive blank lines ("\n\n\n") as a page break when present.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Extract(ctx context.Context, r io.Reader) (Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("read plain text: %w", err)
	}

	pages := splitPages(string(data))
	titles := make([]string, len(pages))
	for i, p := range pages {
		titles[i] = firstLine(p)
	}

	return Result{PageContents: pages, PageTitles: titles, TotalPages: len(pages)}, nil
}

func splitPages(text string) []string {
	parts := strings.Split(text, "\n\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{""}
	}
	return out
}

func firstLine(s string) string {
	scanner := bufio.NewScanner(bytes.NewReader([]byte(s)))
	if scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) > 200 {
			line = line[:200]
		}
		return line
	}
	return ""
}

// bestEffortStub returns the file's bytes as a single page of raw text with
// no title, for formats whose real parser isn't wired in. OCR failures
// yield empty text for that page rather than failing the document.
type bestEffortStub struct{}

func (bestEffortStub) Extract(ctx context.Context, r io.Reader) (Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Result{PageContents: []string{""}, PageTitles: []string{""}, TotalPages: 1}, nil
	}
	return Result{PageContents: []string{string(data)}, PageTitles: []string{""}, TotalPages: 1}, nil
}
