package main

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGenerateTokenIsUniqueAndPrefixed(t *testing.T) {
	a := generateToken()
	b := generateToken()
	require.NotEqual(t, a, b)
	require.Regexp(t, `^tok_[0-9a-f]{64}$`, a)
}

func TestCurrentUserIDReturnsZeroValueWhenUnset(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(nil)
	require.Equal(t, uuid.UUID{}, currentUserID(c))
}

func TestCurrentUserIDReturnsSetValue(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(nil)
	id := uuid.New()
	c.Set(ctxUserIDKey, id)
	require.Equal(t, id, currentUserID(c))
}
