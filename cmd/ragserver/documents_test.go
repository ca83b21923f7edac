package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/semaj90/ragengine/internal/models"
)

func TestDetectFileTypeAcceptsSupportedExtensions(t *testing.T) {
	cases := map[string]models.FileType{
		"report.pdf":    models.FileTypePDF,
		"slides.PPT":    models.FileTypePPT,
		"slides.pptx":   models.FileTypePPTX,
		"scan.png":      models.FileTypePNG,
		"photo.jpg":     models.FileTypeJPG,
		"photo.JPEG":    models.FileTypeJPEG,
		"notes.txt":     models.FileTypeTXT,
	}
	for name, want := range cases {
		got, ok := detectFileType(name)
		require.True(t, ok, name)
		require.Equal(t, want, got, name)
	}
}

func TestDetectFileTypeRejectsUnsupportedExtensions(t *testing.T) {
	for _, name := range []string{"archive.zip", "video.mp4", "noext", "script.exe"} {
		_, ok := detectFileType(name)
		require.False(t, ok, name)
	}
}
