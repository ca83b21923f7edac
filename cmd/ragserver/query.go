package main

import (
	"errors"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/semaj90/ragengine/internal/apierr"
	"github.com/semaj90/ragengine/internal/models"
	"github.com/semaj90/ragengine/internal/provider"
	"github.com/semaj90/ragengine/internal/queryexec"
	"github.com/semaj90/ragengine/internal/router"
)

type chatHistoryTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type queryRequest struct {
	ChatID             uuid.UUID         `json:"chatId" binding:"required"`
	Question           string            `json:"question" binding:"required"`
	Marks              *int              `json:"marks"`
	FormatInstructions string            `json:"formatInstructions"`
	DocumentIDs        []uuid.UUID       `json:"documentIds"`
	UseCrossChat       bool              `json:"useCrossChat"`
	ChatHistory        []chatHistoryTurn `json:"chatHistory"`
}

func (s *server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Validation, "chatId and question are required", err))
		return
	}

	resp, err := s.queryexec.Answer(c.Request.Context(), queryexec.Request{
		UserID:       currentUserID(c),
		ChatID:       req.ChatID,
		Question:     req.Question,
		Marks:        req.Marks,
		FormatHint:   req.FormatInstructions,
		DocumentIDs:  req.DocumentIDs,
		UseCrossChat: req.UseCrossChat,
	})
	if err != nil {
		abortWithEnvelope(c, classifyQueryError(err))
		return
	}

	c.JSON(200, gin.H{
		"answer":  resp.AnswerText,
		"sources": resp.Sources,
		"metadata": gin.H{
			"retrievalTimeMs":   resp.RetrievalTimeMs,
			"generationTimeMs":  resp.GenerationTimeMs,
			"totalTimeMs":       resp.TotalTimeMs,
			"chunksUsed":        resp.ChunksRetrieved,
			"tokensUsed":        0,
			"processingMode":    resp.ProcessingMode,
		},
	})
}

// classifyQueryError maps an executor failure onto the upstream error kinds;
// a retrieval/cache-layer error surfaces as internal, a router failure as
// an upstream kind.
func classifyQueryError(err error) error {
	var rf *router.RouterFailure
	if errors.As(err, &rf) {
		var pe *provider.Error
		if errors.As(rf.LastError, &pe) && pe.RateLimited {
			return apierr.Wrap(apierr.UpstreamRateLimit, "all LLM providers rate-limited", err)
		}
		return apierr.Wrap(apierr.UpstreamFailure, "all LLM providers failed", err)
	}

	var pe *provider.Error
	if errors.As(err, &pe) {
		if pe.RateLimited {
			return apierr.Wrap(apierr.UpstreamRateLimit, "LLM provider rate-limited", err)
		}
		return apierr.Wrap(apierr.UpstreamFailure, "LLM provider failed", err)
	}

	return apierr.Wrap(apierr.Internal, "failed to answer query", err)
}

func (s *server) handleQueryHistory(c *gin.Context) {
	chatID, err := uuid.Parse(c.Query("chatId"))
	if err != nil {
		abortWithEnvelope(c, apierr.New(apierr.Validation, "chatId is required"))
		return
	}

	rows, err := s.pool.Query(c.Request.Context(), `
		SELECT id, user_id, chat_id, query_text, marks_requested, answer_text, sources_used,
		       retrieval_time_ms, generation_time_ms, total_time_ms, chunks_retrieved,
		       llm_calls_used, processing_mode, created_at
		FROM query_history WHERE chat_id = $1 AND user_id = $2 ORDER BY created_at DESC
	`, chatID, currentUserID(c))
	if err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Internal, "failed to load query history", err))
		return
	}
	defer rows.Close()

	history := []models.QueryHistory{}
	for rows.Next() {
		var h models.QueryHistory
		var sourcesJSON []byte
		if err := rows.Scan(&h.ID, &h.UserID, &h.ChatID, &h.QueryText, &h.MarksRequested, &h.AnswerText,
			&sourcesJSON, &h.RetrievalTimeMs, &h.GenerationTimeMs, &h.TotalTimeMs, &h.ChunksRetrieved,
			&h.LLMCallsUsed, &h.ProcessingMode, &h.CreatedAt); err != nil {
			abortWithEnvelope(c, apierr.Wrap(apierr.Internal, "failed to scan query history", err))
			return
		}
		_ = sonic.Unmarshal(sourcesJSON, &h.SourcesUsed)
		history = append(history, h)
	}

	c.JSON(200, history)
}
