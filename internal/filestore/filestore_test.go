package filestore

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestObjectKeyFormatsStorageDirDocumentIdExt(t *testing.T) {
	s := &Store{storageDir: "documents"}
	id := uuid.MustParse("11111111-1111-1111-1111-111111111111")

	require.Equal(t, "documents/11111111-1111-1111-1111-111111111111.pdf", s.objectKey(id, "pdf"))
	require.Equal(t, "documents/11111111-1111-1111-1111-111111111111.pdf", s.objectKey(id, ".pdf"), "leading dot is stripped")
}
