package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/semaj90/ragengine/internal/apierr"
)

const sessionTTL = 7 * 24 * time.Hour

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Validation, "email and password are required", err))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Internal, "failed to hash password", err))
		return
	}

	var userID uuid.UUID
	err = s.pool.QueryRow(c.Request.Context(), `
		INSERT INTO users (email, password_hash) VALUES ($1, $2)
		RETURNING id
	`, strings.ToLower(req.Email), string(hash)).Scan(&userID)
	if err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Validation, "email already registered", err))
		return
	}

	token, expiresIn, err := s.issueSession(c.Request.Context(), userID, req.Email)
	if err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Internal, "failed to create session", err))
		return
	}

	c.JSON(200, gin.H{
		"userId":    userID,
		"email":     req.Email,
		"token":     token,
		"expiresIn": expiresIn,
	})
}

func (s *server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Validation, "email and password are required", err))
		return
	}

	var userID uuid.UUID
	var hash string
	err := s.pool.QueryRow(c.Request.Context(), `
		SELECT id, password_hash FROM users WHERE email = $1 AND active
	`, strings.ToLower(req.Email)).Scan(&userID, &hash)
	if err != nil {
		abortWithEnvelope(c, apierr.New(apierr.Unauthenticated, "invalid email or password"))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
		abortWithEnvelope(c, apierr.New(apierr.Unauthenticated, "invalid email or password"))
		return
	}

	token, expiresIn, err := s.issueSession(c.Request.Context(), userID, req.Email)
	if err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Internal, "failed to create session", err))
		return
	}

	c.JSON(200, gin.H{
		"userId":    userID,
		"email":     req.Email,
		"token":     token,
		"expiresIn": expiresIn,
	})
}

// issueSession stores {userId, email} in Redis keyed by a random bearer
// token; sessions are server-side state rather than self-contained JWTs so
// they can be revoked.
func (s *server) issueSession(ctx context.Context, userID uuid.UUID, email string) (string, int64, error) {
	token := generateToken()
	err := s.rdb.HSet(ctx, "session:"+token,
		"userId", userID.String(),
		"email", email,
	).Err()
	if err != nil {
		return "", 0, err
	}
	if err := s.rdb.Expire(ctx, "session:"+token, sessionTTL).Err(); err != nil {
		return "", 0, err
	}
	return token, int64(sessionTTL.Seconds()), nil
}

func generateToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return "tok_" + hex.EncodeToString(b)
}

const ctxUserIDKey = "userID"

// requireAuth validates the bearer token against the Redis session store
// and attaches the resolved user ID to the gin context.
func (s *server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == "" || token == auth {
			abortWithEnvelope(c, apierr.New(apierr.Unauthenticated, "missing bearer token"))
			return
		}

		userIDStr, err := s.rdb.HGet(c.Request.Context(), "session:"+token, "userId").Result()
		if err == redis.Nil || err != nil {
			abortWithEnvelope(c, apierr.New(apierr.Unauthenticated, "invalid or expired session"))
			return
		}

		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			abortWithEnvelope(c, apierr.New(apierr.Unauthenticated, "invalid session"))
			return
		}

		c.Set(ctxUserIDKey, userID)
		c.Next()
	}
}

func currentUserID(c *gin.Context) uuid.UUID {
	v, _ := c.Get(ctxUserIDKey)
	id, _ := v.(uuid.UUID)
	return id
}
