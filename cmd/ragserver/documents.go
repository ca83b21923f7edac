package main

import (
	"mime/multipart"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/semaj90/ragengine/internal/apierr"
	"github.com/semaj90/ragengine/internal/models"
)

type documentResponse struct {
	ID                    uuid.UUID `json:"id"`
	FileName              string    `json:"fileName"`
	FileType              string    `json:"fileType"`
	FileSizeBytes         int64     `json:"fileSizeBytes"`
	TotalPages            *int      `json:"totalPages,omitempty"`
	TotalChunks           int       `json:"totalChunks"`
	ProcessingStatus      string    `json:"processingStatus"`
	ErrorMessage          string    `json:"errorMessage,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
	ProcessingCompletedAt *time.Time `json:"processingCompletedAt,omitempty"`
}

func detectFileType(fileName string) (models.FileType, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	switch models.FileType(ext) {
	case models.FileTypePDF, models.FileTypePPT, models.FileTypePPTX,
		models.FileTypePNG, models.FileTypeJPG, models.FileTypeJPEG, models.FileTypeTXT:
		return models.FileType(ext), true
	default:
		return "", false
	}
}

// ingestDocument validates, stores, and enqueues one uploaded file; shared
// by the single and bulk upload handlers.
func (s *server) ingestDocument(c *gin.Context, userID, chatID uuid.UUID, fh *multipart.FileHeader) (documentResponse, error) {
	if fh.Size > models.MaxFileSizeBytes {
		return documentResponse{}, apierr.New(apierr.Validation, "file exceeds the 50 MiB limit")
	}

	fileType, ok := detectFileType(fh.Filename)
	if !ok {
		return documentResponse{}, apierr.New(apierr.Validation, "unsupported file type")
	}

	src, err := fh.Open()
	if err != nil {
		return documentResponse{}, apierr.Wrap(apierr.Internal, "failed to read upload", err)
	}
	defer src.Close()

	var doc documentResponse
	var docID uuid.UUID
	contentType := fh.Header.Get("Content-Type")

	err = s.pool.QueryRow(c.Request.Context(), `
		INSERT INTO documents
			(user_id, chat_id, file_name, original_file_name, file_type, file_size_bytes, mime_type, status)
		VALUES ($1,$2,$3,$3,$4,$5,$6,'PENDING')
		RETURNING id, file_name, file_type, file_size_bytes, status, created_at
	`, userID, chatID, fh.Filename, string(fileType), fh.Size, contentType).
		Scan(&docID, &doc.FileName, &doc.FileType, &doc.FileSizeBytes, &doc.ProcessingStatus, &doc.CreatedAt)
	if err != nil {
		return documentResponse{}, apierr.Wrap(apierr.Internal, "failed to record document", err)
	}
	doc.ID = docID

	if err := s.files.Save(c.Request.Context(), docID, string(fileType), src, fh.Size, contentType); err != nil {
		return documentResponse{}, apierr.Wrap(apierr.Internal, "failed to store file", err)
	}

	if _, err := s.pool.Exec(c.Request.Context(), `
		INSERT INTO processing_jobs (document_id, status) VALUES ($1, 'QUEUED')
	`, docID); err != nil {
		return documentResponse{}, apierr.Wrap(apierr.Internal, "failed to enqueue processing job", err)
	}

	// The chat's document set changed, so cached answers may now be stale.
	if err := s.cache.Invalidate(c.Request.Context(), chatID); err != nil {
		s.log.Warn("failed to invalidate query cache after upload", zap.Error(err))
	}

	return doc, nil
}

func (s *server) handleUploadDocument(c *gin.Context) {
	chatID, err := uuid.Parse(c.PostForm("chatId"))
	if err != nil {
		abortWithEnvelope(c, apierr.New(apierr.Validation, "chatId is required"))
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Validation, "file part is required", err))
		return
	}

	doc, err := s.ingestDocument(c, currentUserID(c), chatID, fh)
	if err != nil {
		abortWithEnvelope(c, err)
		return
	}
	c.JSON(200, doc)
}

func (s *server) handleUploadDocumentsBulk(c *gin.Context) {
	chatID, err := uuid.Parse(c.PostForm("chatId"))
	if err != nil {
		abortWithEnvelope(c, apierr.New(apierr.Validation, "chatId is required"))
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Validation, "multipart form required", err))
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		abortWithEnvelope(c, apierr.New(apierr.Validation, "at least one file part is required"))
		return
	}

	userID := currentUserID(c)
	docs := make([]documentResponse, 0, len(files))
	for _, fh := range files {
		doc, err := s.ingestDocument(c, userID, chatID, fh)
		if err != nil {
			abortWithEnvelope(c, err)
			return
		}
		docs = append(docs, doc)
	}
	c.JSON(200, docs)
}

func (s *server) handleListDocuments(c *gin.Context) {
	userID := currentUserID(c)

	page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	if size <= 0 || size > 200 {
		size = 20
	}
	if page < 0 {
		page = 0
	}

	args := []any{userID}
	where := "user_id = $1"
	if chatIDStr := c.Query("chatId"); chatIDStr != "" {
		chatID, err := uuid.Parse(chatIDStr)
		if err != nil {
			abortWithEnvelope(c, apierr.New(apierr.Validation, "invalid chatId"))
			return
		}
		args = append(args, chatID)
		where += " AND chat_id = $2"
	}
	args = append(args, size, page*size)
	limitIdx := len(args) - 1
	offsetIdx := len(args)

	rows, err := s.pool.Query(c.Request.Context(), `
		SELECT id, file_name, file_type, file_size_bytes, total_pages, total_chunks,
		       status, error_message, created_at, processing_completed_at
		FROM documents WHERE `+where+`
		ORDER BY created_at DESC LIMIT $`+strconv.Itoa(limitIdx)+` OFFSET $`+strconv.Itoa(offsetIdx),
		args...)
	if err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Internal, "failed to list documents", err))
		return
	}
	defer rows.Close()

	docs := []documentResponse{}
	for rows.Next() {
		var d documentResponse
		var errMsg *string
		if err := rows.Scan(&d.ID, &d.FileName, &d.FileType, &d.FileSizeBytes, &d.TotalPages, &d.TotalChunks,
			&d.ProcessingStatus, &errMsg, &d.CreatedAt, &d.ProcessingCompletedAt); err != nil {
			abortWithEnvelope(c, apierr.Wrap(apierr.Internal, "failed to scan document", err))
			return
		}
		if errMsg != nil {
			d.ErrorMessage = *errMsg
		}
		docs = append(docs, d)
	}

	c.JSON(200, gin.H{"page": page, "size": size, "items": docs})
}

func (s *server) handleDocumentStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithEnvelope(c, apierr.New(apierr.Validation, "invalid document id"))
		return
	}

	userID := currentUserID(c)
	var status string
	var errMsg *string
	err = s.pool.QueryRow(c.Request.Context(), `
		SELECT status, error_message FROM documents WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&status, &errMsg)
	if err == pgx.ErrNoRows {
		abortWithEnvelope(c, apierr.New(apierr.NotFound, "document not found"))
		return
	} else if err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Internal, "failed to load document status", err))
		return
	}

	resp := gin.H{"id": id, "processingStatus": status}
	if errMsg != nil {
		resp["errorMessage"] = *errMsg
	}
	c.JSON(200, resp)
}

func (s *server) handleDeleteDocument(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithEnvelope(c, apierr.New(apierr.Validation, "invalid document id"))
		return
	}

	userID := currentUserID(c)
	var fileType string
	var chatID uuid.UUID
	err = s.pool.QueryRow(c.Request.Context(), `
		SELECT file_type, chat_id FROM documents WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&fileType, &chatID)
	if err == pgx.ErrNoRows {
		abortWithEnvelope(c, apierr.New(apierr.NotFound, "document not found"))
		return
	} else if err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Internal, "failed to load document", err))
		return
	}

	if _, err := s.pool.Exec(c.Request.Context(), `DELETE FROM documents WHERE id = $1`, id); err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Internal, "failed to delete document", err))
		return
	}

	if err := s.files.Delete(c.Request.Context(), id, fileType); err != nil {
		s.log.Warn("failed to delete stored file, database row already removed", zap.Error(err))
	}

	if err := s.cache.Invalidate(c.Request.Context(), chatID); err != nil {
		s.log.Warn("failed to invalidate query cache after delete", zap.Error(err))
	}

	c.Status(204)
}
