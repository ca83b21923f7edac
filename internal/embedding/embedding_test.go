package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/semaj90/ragengine/internal/keypool"
	"github.com/semaj90/ragengine/internal/models"
)

func fakeEmbeddingValues() string {
	vals := make([]string, models.EmbeddingDim)
	for i := range vals {
		vals[i] = "0.01"
	}
	out := "["
	for i, v := range vals {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out + "]"
}

func TestEmbedReturnsVectorOfCorrectDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"embedding":{"values":%s}}`, fakeEmbeddingValues())
	}))
	defer srv.Close()

	keys := keypool.New(zap.NewNop(), []string{"k1"})
	svc := New(keys, srv.URL, "text-embedding-004")

	vec, err := svc.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	require.Len(t, vec, models.EmbeddingDim)
}

func TestEmbedRejectsWrongDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embedding":{"values":[0.1,0.2,0.3]}}`))
	}))
	defer srv.Close()

	keys := keypool.New(zap.NewNop(), []string{"k1"})
	svc := New(keys, srv.URL, "text-embedding-004")

	_, err := svc.Embed(context.Background(), "hello")
	require.Error(t, err)
}

func TestEmbedBatchProcessesAllTexts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"embedding":{"values":%s}}`, fakeEmbeddingValues())
	}))
	defer srv.Close()

	keys := keypool.New(zap.NewNop(), []string{"k1", "k2"})
	svc := New(keys, srv.URL, "text-embedding-004")

	vecs, err := svc.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
}

func TestToVectorStringFormatsAsPgvectorLiteral(t *testing.T) {
	s := ToVectorString([]float32{1, 2, 3})
	require.Equal(t, "[1,2,3]", s)
}

func TestEmbedForDocumentPinsSameKeyAcrossCalls(t *testing.T) {
	var mu sync.Mutex
	var seenKeys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seenKeys = append(seenKeys, r.URL.Query().Get("key"))
		mu.Unlock()
		fmt.Fprintf(w, `{"embedding":{"values":%s}}`, fakeEmbeddingValues())
	}))
	defer srv.Close()

	keys := keypool.New(zap.NewNop(), []string{"a", "b", "c"})
	svc := New(keys, srv.URL, "text-embedding-004")

	vec1, err := svc.EmbedForDocument(context.Background(), "chunk one", "doc-xyz")
	require.NoError(t, err)
	vec2, err := svc.EmbedForDocument(context.Background(), "chunk two", "doc-xyz")
	require.NoError(t, err)
	require.Len(t, vec1, models.EmbeddingDim)
	require.Len(t, vec2, models.EmbeddingDim)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seenKeys, 2)
	require.Equal(t, seenKeys[0], seenKeys[1], "both calls for one docID must use the same key")
}
