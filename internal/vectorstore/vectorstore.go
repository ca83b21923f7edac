// Package vectorstore persists document chunks to a pgvector-enabled
// Postgres schema and runs chat-scoped cosine-distance kNN retrieval over
// them.
package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/semaj90/ragengine/internal/models"
)

// Store persists chunks and runs cosine-distance kNN queries over them.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pgxpool.Pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// BatchInsert inserts all chunks for one document inside a single
// transaction.
func (s *Store) BatchInsert(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch insert: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO document_chunks
				(id, document_id, user_id, chat_id, chunk_index, content, content_hash,
				 page_number, slide_number, section_title, embedding, token_count, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now())
		`, c.ID, c.DocumentID, c.UserID, c.ChatID, c.ChunkIndex, c.Content, c.ContentHash,
			c.PageNumber, c.SlideNumber, nullableString(c.SectionTitle), pgvector.NewVector(c.Embedding), c.TokenCount)
	}

	br := tx.SendBatch(ctx, batch)
	for range chunks {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("batch insert chunk: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	return tx.Commit(ctx)
}

// Scope restricts a kNN query to a chat (unless AllowCrossChat) and
// optionally to a set of document IDs.
type Scope struct {
	ChatID         *uuid.UUID
	DocumentIDs    []uuid.UUID
	AllowCrossChat bool
}

// KNNResult is a retrieved chunk without its embedding column, to avoid
// wire cost on a column never re-read by the caller.
type KNNResult struct {
	ID           uuid.UUID
	DocumentID   uuid.UUID
	FileName     string
	ChunkIndex   int
	Content      string
	PageNumber   *int
	SlideNumber  *int
	SectionTitle string
	TokenCount   int
	Distance     float64
}

// KNN returns the limit nearest chunks to queryVec, ordered by ascending
// cosine distance. If allowCrossChat is false and chatID is nil, it returns
// an empty result rather than leaking across chats.
func (s *Store) KNN(ctx context.Context, userID uuid.UUID, queryVec []float32, scope Scope, limit int) ([]KNNResult, error) {
	if !scope.AllowCrossChat && scope.ChatID == nil {
		return nil, nil
	}

	query := `
		SELECT c.id, c.document_id, d.file_name, c.chunk_index, c.content, c.page_number,
		       c.slide_number, c.section_title, c.token_count,
		       (c.embedding <=> $1) as distance
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.status = 'COMPLETED' AND c.user_id = $2
	`
	args := []any{pgvector.NewVector(queryVec), userID}
	argIndex := 3

	if !scope.AllowCrossChat {
		query += fmt.Sprintf(" AND c.chat_id = $%d", argIndex)
		args = append(args, *scope.ChatID)
		argIndex++
	}

	if len(scope.DocumentIDs) > 0 {
		placeholders := make([]string, len(scope.DocumentIDs))
		for i, id := range scope.DocumentIDs {
			placeholders[i] = fmt.Sprintf("$%d", argIndex)
			args = append(args, id)
			argIndex++
		}
		query += fmt.Sprintf(" AND c.document_id IN (%s)", strings.Join(placeholders, ","))
	}

	query += " ORDER BY c.embedding <=> $1 ASC"
	query += fmt.Sprintf(" LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("knn query: %w", err)
	}
	defer rows.Close()

	var out []KNNResult
	for rows.Next() {
		var r KNNResult
		var sectionTitle *string
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.FileName, &r.ChunkIndex, &r.Content, &r.PageNumber,
			&r.SlideNumber, &sectionTitle, &r.TokenCount, &r.Distance); err != nil {
			return nil, fmt.Errorf("scan knn row: %w", err)
		}
		if sectionTitle != nil {
			r.SectionTitle = *sectionTitle
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteByDocument removes all chunks for a document via a native SQL
// delete, avoiding fetching vectors into application memory.
func (s *Store) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM document_chunks WHERE document_id = $1", documentID)
	return err
}

// DeleteByChat removes all chunks belonging to any document in a chat.
func (s *Store) DeleteByChat(ctx context.Context, chatID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM document_chunks WHERE chat_id = $1", chatID)
	return err
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
