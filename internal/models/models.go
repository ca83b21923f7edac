// Package models holds the persisted data-model types shared across components.
package models

import (
	"time"

	"github.com/google/uuid"
)

// FileType enumerates the document source formats the engine accepts.
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypePPT  FileType = "ppt"
	FileTypePPTX FileType = "pptx"
	FileTypePNG  FileType = "png"
	FileTypeJPG  FileType = "jpg"
	FileTypeJPEG FileType = "jpeg"
	FileTypeTXT  FileType = "txt"
)

// MaxFileSizeBytes is the upload ceiling (50 MiB).
const MaxFileSizeBytes = 50 * 1024 * 1024

// EmbeddingDim is the fixed dense-vector dimension D used throughout the store.
const EmbeddingDim = 768

// DocumentStatus tracks the lifecycle of a Document.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "PENDING"
	DocumentProcessing DocumentStatus = "PROCESSING"
	DocumentCompleted  DocumentStatus = "COMPLETED"
	DocumentFailed     DocumentStatus = "FAILED"
)

// JobStatus tracks the lifecycle of a ProcessingJob.
type JobStatus string

const (
	JobQueued     JobStatus = "QUEUED"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// User is the owning root for Chat, Document and QueryHistory rows.
// Authentication itself (password verification, session tokens) is an
// external collaborator; this type only carries the fields
// the ingestion/query engine needs to scope ownership.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Chat is the logical scope for document retrieval and query caching.
type Chat struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// Document is one uploaded file and its processing state.
type Document struct {
	ID                    uuid.UUID      `json:"id"`
	UserID                uuid.UUID      `json:"userId"`
	ChatID                uuid.UUID      `json:"chatId"`
	FileName              string         `json:"fileName"`
	OriginalFileName      string         `json:"originalFileName"`
	FileType              FileType       `json:"fileType"`
	FileSizeBytes         int64          `json:"fileSizeBytes"`
	MimeType              string         `json:"mimeType"`
	TotalPages            *int           `json:"totalPages,omitempty"`
	TotalChunks           int            `json:"totalChunks"`
	Status                DocumentStatus `json:"status"`
	ProcessingStartedAt   *time.Time     `json:"processingStartedAt,omitempty"`
	ProcessingCompletedAt *time.Time     `json:"processingCompletedAt,omitempty"`
	ErrorMessage          string         `json:"errorMessage,omitempty"`
	CreatedAt             time.Time      `json:"createdAt"`
	UpdatedAt             time.Time      `json:"updatedAt"`
}

// DocumentChunk is a bounded slice of a document's extracted text plus its embedding.
type DocumentChunk struct {
	ID           uuid.UUID `json:"id"`
	DocumentID   uuid.UUID `json:"documentId"`
	UserID       uuid.UUID `json:"userId"`
	ChatID       uuid.UUID `json:"chatId"`
	ChunkIndex   int       `json:"chunkIndex"`
	Content      string    `json:"content"`
	ContentHash  string    `json:"contentHash"`
	PageNumber   *int      `json:"pageNumber,omitempty"`
	SlideNumber  *int      `json:"slideNumber,omitempty"`
	SectionTitle string    `json:"sectionTitle,omitempty"`
	Embedding    []float32 `json:"embedding,omitempty"`
	TokenCount   int       `json:"tokenCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ProcessingJob is a leasable unit of work over one Document.
type ProcessingJob struct {
	ID          uuid.UUID  `json:"id"`
	DocumentID  uuid.UUID  `json:"documentId"`
	Status      JobStatus  `json:"status"`
	Priority    int        `json:"priority"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"maxAttempts"`
	LastError   string     `json:"lastError,omitempty"`
	LockedBy    string     `json:"lockedBy,omitempty"`
	LockedUntil *time.Time `json:"lockedUntil,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// SourceRef is one cited chunk surfaced back to the caller.
type SourceRef struct {
	DocumentID  uuid.UUID `json:"documentId"`
	FileName    string    `json:"fileName"`
	PageNumber  *int      `json:"pageNumber,omitempty"`
	SlideNumber *int      `json:"slideNumber,omitempty"`
	Excerpt     string    `json:"excerpt"`
}

// QueryCacheEntry is a cached answer keyed by exact-hash, retrievable also by
// semantic similarity of its stored queryEmbedding.
type QueryCacheEntry struct {
	ID             uuid.UUID   `json:"id"`
	UserID         uuid.UUID   `json:"userId"`
	ChatID         uuid.UUID   `json:"chatId"`
	QueryText      string      `json:"queryText"`
	QueryHash      string      `json:"queryHash"`
	QueryEmbedding []float32   `json:"-"`
	ResponseText   string      `json:"responseText"`
	SourcesUsed    []SourceRef `json:"sourcesUsed"`
	CreatedAt      time.Time   `json:"createdAt"`
	ExpiresAt      time.Time   `json:"expiresAt"`
	HitCount       int64       `json:"hitCount"`
}

// QueryHistory is a durable record of one answered query.
type QueryHistory struct {
	ID               uuid.UUID   `json:"id"`
	UserID           uuid.UUID   `json:"userId"`
	ChatID           uuid.UUID   `json:"chatId"`
	QueryText        string      `json:"queryText"`
	QueryEmbedding   []float32   `json:"-"`
	MarksRequested   *int        `json:"marksRequested,omitempty"`
	AnswerText       string      `json:"answerText"`
	SourcesUsed      []SourceRef `json:"sourcesUsed"`
	RetrievalTimeMs  int64       `json:"retrievalTimeMs"`
	GenerationTimeMs int64       `json:"generationTimeMs"`
	TotalTimeMs      int64       `json:"totalTimeMs"`
	ChunksRetrieved  int         `json:"chunksRetrieved"`
	LLMCallsUsed     int         `json:"llmCallsUsed"`
	ProcessingMode   string      `json:"processingMode"`
	CreatedAt        time.Time   `json:"createdAt"`
}

// ApiKeyUsage is the optional cross-restart snapshot of one key's bucket/health state.
type ApiKeyUsage struct {
	KeyIdentifier       string    `json:"keyIdentifier"`
	MinuteBucket        string    `json:"minuteBucket"`
	RequestCount        int64     `json:"requestCount"`
	DayBucket           string    `json:"dayBucket"`
	DailyRequestCount   int64     `json:"dailyRequestCount"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastSuccessAt       time.Time `json:"lastSuccessAt"`
	LastFailureAt       time.Time `json:"lastFailureAt"`
}
