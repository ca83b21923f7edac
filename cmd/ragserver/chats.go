package main

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/semaj90/ragengine/internal/apierr"
)

type chatResponse struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

type createChatRequest struct {
	Title string `json:"title" binding:"required"`
}

func (s *server) handleCreateChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Validation, "title is required", err))
		return
	}

	userID := currentUserID(c)
	var resp chatResponse
	err := s.pool.QueryRow(c.Request.Context(), `
		INSERT INTO chats (user_id, title) VALUES ($1, $2)
		RETURNING id, user_id, title, created_at
	`, userID, req.Title).Scan(&resp.ID, &resp.UserID, &resp.Title, &resp.CreatedAt)
	if err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Internal, "failed to create chat", err))
		return
	}

	c.JSON(200, resp)
}

func (s *server) handleListChats(c *gin.Context) {
	userID := currentUserID(c)
	rows, err := s.pool.Query(c.Request.Context(), `
		SELECT id, user_id, title, created_at FROM chats WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Internal, "failed to list chats", err))
		return
	}
	defer rows.Close()

	chats := []chatResponse{}
	for rows.Next() {
		var ch chatResponse
		if err := rows.Scan(&ch.ID, &ch.UserID, &ch.Title, &ch.CreatedAt); err != nil {
			abortWithEnvelope(c, apierr.Wrap(apierr.Internal, "failed to scan chat", err))
			return
		}
		chats = append(chats, ch)
	}
	c.JSON(200, chats)
}

func (s *server) handleGetChat(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithEnvelope(c, apierr.New(apierr.Validation, "invalid chat id"))
		return
	}

	userID := currentUserID(c)
	var resp chatResponse
	err = s.pool.QueryRow(c.Request.Context(), `
		SELECT id, user_id, title, created_at FROM chats WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&resp.ID, &resp.UserID, &resp.Title, &resp.CreatedAt)
	if err == pgx.ErrNoRows {
		abortWithEnvelope(c, apierr.New(apierr.NotFound, "chat not found"))
		return
	} else if err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Internal, "failed to load chat", err))
		return
	}
	c.JSON(200, resp)
}

type updateChatRequest struct {
	Title string `json:"title" binding:"required"`
}

func (s *server) handleUpdateChat(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithEnvelope(c, apierr.New(apierr.Validation, "invalid chat id"))
		return
	}
	var req updateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Validation, "title is required", err))
		return
	}

	userID := currentUserID(c)
	tag, err := s.pool.Exec(c.Request.Context(), `
		UPDATE chats SET title = $1 WHERE id = $2 AND user_id = $3
	`, req.Title, id, userID)
	if err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Internal, "failed to update chat", err))
		return
	}
	if tag.RowsAffected() == 0 {
		abortWithEnvelope(c, apierr.New(apierr.NotFound, "chat not found"))
		return
	}
	c.JSON(200, gin.H{"id": id, "title": req.Title})
}

func (s *server) handleDeleteChat(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithEnvelope(c, apierr.New(apierr.Validation, "invalid chat id"))
		return
	}

	userID := currentUserID(c)
	ctx := c.Request.Context()

	// Documents and chunks cascade from the chats FK; cache and history rows
	// are not FK-linked and need explicit cleanup in the same transaction.
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Internal, "failed to delete chat", err))
		return
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		DELETE FROM chats WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Internal, "failed to delete chat", err))
		return
	}
	if tag.RowsAffected() == 0 {
		abortWithEnvelope(c, apierr.New(apierr.NotFound, "chat not found"))
		return
	}
	if _, err := tx.Exec(ctx, `DELETE FROM query_cache WHERE chat_id = $1`, id); err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Internal, "failed to delete chat cache", err))
		return
	}
	if _, err := tx.Exec(ctx, `DELETE FROM query_history WHERE chat_id = $1`, id); err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Internal, "failed to delete chat history", err))
		return
	}
	if err := tx.Commit(ctx); err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Internal, "failed to delete chat", err))
		return
	}

	c.Status(204)
}
