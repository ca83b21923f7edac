// Package queryexec implements the Query Executor: the
// request-facing component that checks the query cache, retrieves chunks,
// assembles a grounded prompt, calls the LLM router, and records history.
package queryexec

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/semaj90/ragengine/internal/metrics"
	"github.com/semaj90/ragengine/internal/models"
	"github.com/semaj90/ragengine/internal/observability/tracing"
	"github.com/semaj90/ragengine/internal/querycache"
	"github.com/semaj90/ragengine/internal/vectorstore"
)

var tracer = tracing.Tracer("queryexec")

// DefaultMaxContextChunks bounds how many retrieved chunks are stuffed into
// one prompt.
const DefaultMaxContextChunks = 150

const systemInstruction = `You are a careful assistant answering questions strictly from the supplied source excerpts. ` +
	`Cite every claim with its [Source N] marker. If the excerpts do not contain the answer, say so plainly.`

// ProcessingMode records which execution path produced a Response.
type ProcessingMode string

const (
	ModeCached     ProcessingMode = "cached"
	ModeSingleCall ProcessingMode = "single_call"
	ModeMapReduce  ProcessingMode = "map_reduce"
)

// Embedder produces a dense vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces an LLM completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt, model string) (string, error)
}

// Request is the full set of inputs to Answer.
type Request struct {
	UserID       uuid.UUID
	ChatID       uuid.UUID
	Question     string
	Marks        *int
	FormatHint   string
	DocumentIDs  []uuid.UUID
	UseCrossChat bool
	History      []models.QueryHistory
}

// Response is returned by Answer.
type Response struct {
	AnswerText       string
	Sources          []models.SourceRef
	ChunksRetrieved  int
	LLMCallsUsed     int
	ProcessingMode   ProcessingMode
	RetrievalTimeMs  int64
	GenerationTimeMs int64
	TotalTimeMs      int64
}

// Executor composes the cache, vector store, and router into one
// request/response cycle.
type Executor struct {
	pool             *pgxpool.Pool
	cache            *querycache.Cache
	vectors          *vectorstore.Store
	embedder         Embedder
	router           Generator
	model            string
	maxContextChunks int
}

// New builds an Executor. maxContextChunks <= 0 falls back to
// DefaultMaxContextChunks.
func New(pool *pgxpool.Pool, cache *querycache.Cache, vectors *vectorstore.Store, embedder Embedder, router Generator, model string, maxContextChunks int) *Executor {
	if maxContextChunks <= 0 {
		maxContextChunks = DefaultMaxContextChunks
	}
	return &Executor{
		pool:             pool,
		cache:            cache,
		vectors:          vectors,
		embedder:         embedder,
		router:           router,
		model:            model,
		maxContextChunks: maxContextChunks,
	}
}

// Answer implements cache-check → retrieve → generate →
// record cycle.
func (e *Executor) Answer(ctx context.Context, req Request) (Response, error) {
	ctx, span := tracer.Start(ctx, "queryexec.Answer", oteltrace.WithAttributes(
		attribute.String("chat.id", req.ChatID.String()),
	))
	defer span.End()

	start := time.Now()

	if cached, err := e.cache.Find(ctx, req.ChatID, req.Question); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, fmt.Errorf("query cache lookup: %w", err)
	} else if cached != nil {
		metrics.QueryLatency.WithLabelValues(string(ModeCached)).Observe(time.Since(start).Seconds())
		span.SetAttributes(attribute.String("processing.mode", string(ModeCached)))
		span.SetStatus(codes.Ok, "")
		return Response{
			AnswerText:     cached.ResponseText,
			Sources:        cached.SourcesUsed,
			ProcessingMode: ModeCached,
			LLMCallsUsed:   0,
			TotalTimeMs:    time.Since(start).Milliseconds(),
		}, nil
	}

	retrievalStart := time.Now()
	qVec, err := e.embedder.Embed(ctx, req.Question)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, fmt.Errorf("embed question: %w", err)
	}

	scope := vectorstore.Scope{
		DocumentIDs:    req.DocumentIDs,
		AllowCrossChat: req.UseCrossChat,
	}
	if !req.UseCrossChat {
		chatID := req.ChatID
		scope.ChatID = &chatID
	}

	chunks, err := e.vectors.KNN(ctx, req.UserID, qVec, scope, e.maxContextChunks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, fmt.Errorf("retrieve context chunks: %w", err)
	}
	retrievalMs := time.Since(retrievalStart).Milliseconds()
	span.SetAttributes(attribute.Int("chunks.retrieved", len(chunks)))

	prompt := assemblePrompt(req.Question, req.Marks, req.FormatHint, chunks)

	genStart := time.Now()
	answerText, err := e.router.Generate(ctx, prompt, e.model)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, fmt.Errorf("generate answer: %w", err)
	}
	generationMs := time.Since(genStart).Milliseconds()

	sources := citedSources(answerText, chunks)

	resp := Response{
		AnswerText:       answerText,
		Sources:          sources,
		ChunksRetrieved:  len(chunks),
		LLMCallsUsed:     1,
		ProcessingMode:   ModeSingleCall,
		RetrievalTimeMs:  retrievalMs,
		GenerationTimeMs: generationMs,
		TotalTimeMs:      time.Since(start).Milliseconds(),
	}

	e.recordHistory(ctx, req, resp)
	metrics.QueryLatency.WithLabelValues(string(ModeSingleCall)).Observe(time.Since(start).Seconds())

	if err := e.cache.Store(ctx, req.UserID, req.ChatID, req.Question, answerText, sources); err != nil {
		// Cache writes are best-effort: a store failure must never fail a
		// request that already retrieved and generated successfully.
		span.RecordError(err)
	}

	span.SetStatus(codes.Ok, "")
	return resp, nil
}

func assemblePrompt(question string, marks *int, formatHint string, chunks []vectorstore.KNNResult) string {
	var b strings.Builder
	b.WriteString(systemInstruction)
	b.WriteString("\n\n")

	for i, c := range chunks {
		loc := "page ?"
		if c.PageNumber != nil {
			loc = fmt.Sprintf("page %d", *c.PageNumber)
		} else if c.SlideNumber != nil {
			loc = fmt.Sprintf("slide %d", *c.SlideNumber)
		}
		fmt.Fprintf(&b, "[Source %d] (%s)\n%s\n\n", i+1, loc, c.Content)
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n")

	if marks != nil {
		fmt.Fprintf(&b, "This question is worth %d marks. %s\n", *marks, marksGuidance(*marks))
	}
	if formatHint != "" {
		fmt.Fprintf(&b, "Format guidance: %s\n", formatHint)
	}

	return b.String()
}

// marksGuidance scales the expected answer structure to the marks on
// offer: 1-2 brief, 3-5 short, 6-10 detailed, above that essay-style.
func marksGuidance(marks int) string {
	switch {
	case marks <= 2:
		return "Give a brief answer: one or two sentences covering only the key fact."
	case marks <= 5:
		return "Give a short answer: a focused paragraph covering the main points."
	case marks <= 10:
		return "Give a detailed answer: several paragraphs developing each point with support from the sources."
	default:
		return "Give an essay-style answer: a structured response with an introduction, developed arguments, and a conclusion."
	}
}

var sourceMarker = regexp.MustCompile(`\[Source (\d+)\]`)

// citedSources pairs every [Source N] marker actually mentioned in
// answerText back to the Nth supplied chunk.
func citedSources(answerText string, chunks []vectorstore.KNNResult) []models.SourceRef {
	seen := make(map[int]bool)
	var sources []models.SourceRef

	for _, m := range sourceMarker.FindAllStringSubmatch(answerText, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(chunks) || seen[n] {
			continue
		}
		seen[n] = true
		c := chunks[n-1]
		excerpt := c.Content
		if len(excerpt) > 280 {
			excerpt = excerpt[:280]
		}
		sources = append(sources, models.SourceRef{
			DocumentID:  c.DocumentID,
			FileName:    c.FileName,
			PageNumber:  c.PageNumber,
			SlideNumber: c.SlideNumber,
			Excerpt:     excerpt,
		})
	}
	return sources
}

func (e *Executor) recordHistory(ctx context.Context, req Request, resp Response) {
	_, err := e.pool.Exec(ctx, `
		INSERT INTO query_history
			(id, user_id, chat_id, query_text, marks_requested, answer_text, sources_used,
			 retrieval_time_ms, generation_time_ms, total_time_ms, chunks_retrieved, llm_calls_used,
			 processing_mode, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now())
	`, uuid.New(), req.UserID, req.ChatID, req.Question, req.Marks, resp.AnswerText, sourcesJSON(resp.Sources),
		resp.RetrievalTimeMs, resp.GenerationTimeMs, resp.TotalTimeMs, resp.ChunksRetrieved, resp.LLMCallsUsed,
		string(resp.ProcessingMode))
	if err != nil {
		// Recording history is best-effort: it must never fail a request
		// that already has its answer.
		_ = err
	}
}

func sourcesJSON(sources []models.SourceRef) []byte {
	if sources == nil {
		sources = []models.SourceRef{}
	}
	data, err := sonic.Marshal(sources)
	if err != nil {
		return []byte("[]")
	}
	return data
}
