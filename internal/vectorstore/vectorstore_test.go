package vectorstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestKNNReturnsEmptyWithoutChatScopeOrCrossChat(t *testing.T) {
	s := &Store{}
	results, err := s.KNN(context.Background(), uuid.New(), []float32{1, 2, 3}, Scope{AllowCrossChat: false, ChatID: nil}, 10)
	require.NoError(t, err)
	require.Empty(t, results, "must not leak chunks across chats when no chat scope is given")
}
