// Package pipeline implements the document processing lifecycle: extract →
// chunk → parallel embed → batch persist → status update, with embedding
// HTTP calls kept strictly outside any database transaction.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/semaj90/ragengine/internal/apierr"
	"github.com/semaj90/ragengine/internal/chunker"
	"github.com/semaj90/ragengine/internal/embedding"
	"github.com/semaj90/ragengine/internal/extract"
	"github.com/semaj90/ragengine/internal/filestore"
	"github.com/semaj90/ragengine/internal/metrics"
	"github.com/semaj90/ragengine/internal/models"
	"github.com/semaj90/ragengine/internal/observability/tracing"
	"github.com/semaj90/ragengine/internal/vectorstore"
)

var tracer = tracing.Tracer("pipeline")

const (
	maxFileLoadAttempts = 5
	fileLoadBaseDelay   = time.Second
	maxConcurrentEmbeds = 20
	errorMessageMaxLen  = 2000
)

// Pipeline wires the collaborators ProcessDocument needs.
type Pipeline struct {
	pool      *pgxpool.Pool
	files     *filestore.Store
	vectors   *vectorstore.Store
	embedder  *embedding.Service
	chunker   *chunker.Chunker
	log       *zap.Logger
}

// New builds a Pipeline over its collaborators.
func New(pool *pgxpool.Pool, files *filestore.Store, vectors *vectorstore.Store, embedder *embedding.Service, chunks *chunker.Chunker, log *zap.Logger) *Pipeline {
	return &Pipeline{pool: pool, files: files, vectors: vectors, embedder: embedder, chunker: chunks, log: log}
}

// docMeta is the subset of Document loaded at the start of processing.
type docMeta struct {
	id       uuid.UUID
	userID   uuid.UUID
	chatID   uuid.UUID
	fileType models.FileType
}

// ProcessDocument runs the full extract/chunk/embed/persist lifecycle for
// one document, failing the document (not propagating a panic) on error.
func (p *Pipeline) ProcessDocument(ctx context.Context, docID uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "pipeline.ProcessDocument", oteltrace.WithAttributes(
		attribute.String("document.id", docID.String()),
	))
	defer span.End()
	overallStart := time.Now()

	meta, err := p.initialize(ctx, docID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.DocumentsProcessed.WithLabelValues("failed").Inc()
		p.fail(ctx, docID, err)
		return err
	}

	stageStart := time.Now()
	if err := p.waitForFile(ctx, docID, meta.fileType); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.DocumentsProcessed.WithLabelValues("failed").Inc()
		p.fail(ctx, docID, err)
		return err
	}
	metrics.ObserveStage("wait_for_file", stageStart)

	stageStart = time.Now()
	result, err := p.extractDocument(ctx, docID, meta.fileType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.DocumentsProcessed.WithLabelValues("failed").Inc()
		p.fail(ctx, docID, err)
		return err
	}
	metrics.ObserveStage("extract", stageStart)

	// An empty extraction (a page of empty text) completes with zero
	// chunks; a document with no pages at all is invalid input.
	if result.TotalPages == 0 || len(result.PageContents) == 0 {
		err := apierr.New(apierr.Validation, "document has zero pages")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.DocumentsProcessed.WithLabelValues("failed").Inc()
		p.fail(ctx, docID, err)
		return err
	}

	chunks := p.chunker.ChunkPages(result.PageContents, result.PageTitles)
	span.SetAttributes(attribute.Int("chunk.count", len(chunks)))

	stageStart = time.Now()
	built, err := p.embedChunks(ctx, docID, chunks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.DocumentsProcessed.WithLabelValues("failed").Inc()
		p.fail(ctx, docID, err)
		return err
	}
	metrics.ObserveStage("embed", stageStart)

	stageStart = time.Now()
	if err := p.persist(ctx, meta, built, result.TotalPages); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.DocumentsProcessed.WithLabelValues("failed").Inc()
		p.fail(ctx, docID, err)
		return err
	}
	metrics.ObserveStage("persist", stageStart)

	metrics.DocumentsProcessed.WithLabelValues("succeeded").Inc()
	metrics.ObserveStage("total", overallStart)
	span.SetStatus(codes.Ok, "")
	return nil
}

// initialize loads document metadata, deletes stale chunks, and marks the
// document PROCESSING, all in one short transaction.
func (p *Pipeline) initialize(ctx context.Context, docID uuid.UUID) (docMeta, error) {
	var meta docMeta

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return meta, fmt.Errorf("begin init transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, "SELECT user_id, chat_id, file_type FROM documents WHERE id = $1", docID)
	if err := row.Scan(&meta.userID, &meta.chatID, &meta.fileType); err != nil {
		return meta, fmt.Errorf("load document metadata: %w", err)
	}
	meta.id = docID

	if _, err := tx.Exec(ctx, "DELETE FROM document_chunks WHERE document_id = $1", docID); err != nil {
		return meta, fmt.Errorf("delete stale chunks: %w", err)
	}

	if _, err := tx.Exec(ctx, "UPDATE documents SET status = $1, processing_started_at = now() WHERE id = $2",
		models.DocumentProcessing, docID); err != nil {
		return meta, fmt.Errorf("mark document processing: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return meta, fmt.Errorf("commit init transaction: %w", err)
	}
	return meta, nil
}

// waitForFile polls file storage up to maxFileLoadAttempts times with
// backoff delay*attempt (base 1s).
func (p *Pipeline) waitForFile(ctx context.Context, docID uuid.UUID, fileType models.FileType) error {
	ext := string(fileType)
	for attempt := 1; attempt <= maxFileLoadAttempts; attempt++ {
		exists, err := p.files.Exists(ctx, docID, ext)
		if err == nil && exists {
			return nil
		}
		if attempt == maxFileLoadAttempts {
			break
		}
		delay := fileLoadBaseDelay * time.Duration(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("File not found in storage for document %s after %d attempts", docID, maxFileLoadAttempts)
}

func (p *Pipeline) extractDocument(ctx context.Context, docID uuid.UUID, fileType models.FileType) (extract.Result, error) {
	extractor, err := extract.For(fileType)
	if err != nil {
		return extract.Result{}, err
	}

	ext := string(fileType)
	r, err := p.files.Get(ctx, docID, ext)
	if err != nil {
		return extract.Result{}, fmt.Errorf("open document file: %w", err)
	}
	defer r.Close()

	return extractor.Extract(ctx, r)
}

type embeddedChunk struct {
	chunk     chunker.Chunk
	embedding []float32
}

// embedChunks fans out over a worker pool of up to maxConcurrentEmbeds
// concurrent tasks; any single chunk failure fails the whole document. No
// database connection is held while these HTTP calls are in flight.
func (p *Pipeline) embedChunks(ctx context.Context, docID uuid.UUID, chunks []chunker.Chunk) ([]embeddedChunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	sem := make(chan struct{}, maxConcurrentEmbeds)
	results := make([]embeddedChunk, len(chunks))
	errCh := make(chan error, len(chunks))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i, c := range chunks {
		i, c := i, c
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			vec, err := p.embedder.EmbedForDocument(ctx, c.Content, docID.String())
			if err != nil {
				select {
				case errCh <- fmt.Errorf("embed chunk %d: %w", c.ChunkIndex, err):
				default:
				}
				cancel()
				return
			}
			results[i] = embeddedChunk{chunk: c, embedding: vec}
		}()
	}
	wg.Wait()
	close(errCh)

	if err, ok := <-errCh; ok {
		return nil, err
	}
	return results, nil
}

func (p *Pipeline) persist(ctx context.Context, meta docMeta, built []embeddedChunk, totalPages int) error {
	// Slide decks index their extraction units as slides, everything else
	// as pages.
	isSlides := meta.fileType == models.FileTypePPT || meta.fileType == models.FileTypePPTX

	chunks := make([]models.DocumentChunk, 0, len(built))
	for _, b := range built {
		sum := sha256.Sum256([]byte(b.chunk.Content))
		var pageNum, slideNum *int
		if b.chunk.PageNumber > 0 {
			n := b.chunk.PageNumber
			if isSlides {
				slideNum = &n
			} else {
				pageNum = &n
			}
		}
		chunks = append(chunks, models.DocumentChunk{
			ID:           uuid.New(),
			DocumentID:   meta.id,
			UserID:       meta.userID,
			ChatID:       meta.chatID,
			ChunkIndex:   b.chunk.ChunkIndex,
			Content:      b.chunk.Content,
			ContentHash:  hex.EncodeToString(sum[:]),
			PageNumber:   pageNum,
			SlideNumber:  slideNum,
			SectionTitle: b.chunk.SectionTitle,
			Embedding:    b.embedding,
			TokenCount:   b.chunk.TokenCount,
		})
	}

	if err := p.vectors.BatchInsert(ctx, chunks); err != nil {
		return fmt.Errorf("persist chunks: %w", err)
	}

	_, err := p.pool.Exec(ctx, `
		UPDATE documents
		SET status = $1, total_pages = $2, total_chunks = $3, processing_completed_at = now()
		WHERE id = $4
	`, models.DocumentCompleted, totalPages, len(chunks), meta.id)
	if err != nil {
		return fmt.Errorf("mark document completed: %w", err)
	}
	return nil
}

// fail marks the document FAILED with a truncated error message; failure
// here is logged but never panics, since the job worker pool owns retry policy.
func (p *Pipeline) fail(ctx context.Context, docID uuid.UUID, cause error) {
	msg := cause.Error()
	if len(msg) > errorMessageMaxLen {
		msg = msg[:errorMessageMaxLen]
	}
	_, err := p.pool.Exec(ctx, "UPDATE documents SET status = $1, error_message = $2 WHERE id = $3",
		models.DocumentFailed, msg, docID)
	if err != nil && p.log != nil {
		p.log.Error("failed to record document failure", zap.Error(err), zap.String("documentId", docID.String()))
	}
}
