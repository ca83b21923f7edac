package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ensureSchema creates the relational tables and vector indexes this engine
// needs if they don't already exist, executed once at startup rather than
// via a separate migration tool.
func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const schema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chats (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS documents (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	file_name TEXT NOT NULL,
	original_file_name TEXT NOT NULL,
	file_type TEXT NOT NULL,
	file_size_bytes BIGINT NOT NULL,
	mime_type TEXT NOT NULL,
	total_pages INTEGER,
	total_chunks INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'PENDING',
	processing_started_at TIMESTAMPTZ,
	processing_completed_at TIMESTAMPTZ,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS document_chunks (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	user_id UUID NOT NULL,
	chat_id UUID NOT NULL,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	content_hash TEXT,
	page_number INTEGER,
	slide_number INTEGER,
	section_title TEXT,
	embedding vector(768),
	token_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(document_id, chunk_index)
);
CREATE INDEX IF NOT EXISTS document_chunks_embedding_idx ON document_chunks
	USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS processing_jobs (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	status TEXT NOT NULL DEFAULT 'QUEUED',
	priority INTEGER NOT NULL DEFAULT 0,
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	last_error TEXT,
	locked_by TEXT,
	locked_until TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS query_cache (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id UUID NOT NULL,
	chat_id UUID NOT NULL,
	query_text TEXT NOT NULL,
	query_hash TEXT NOT NULL,
	query_embedding vector(768),
	response_text TEXT NOT NULL,
	sources_used JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL,
	hit_count BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS query_cache_embedding_idx ON query_cache
	USING ivfflat (query_embedding vector_cosine_ops) WITH (lists = 100);
CREATE UNIQUE INDEX IF NOT EXISTS query_cache_hash_uniq ON query_cache (chat_id, query_hash);

CREATE TABLE IF NOT EXISTS query_history (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id UUID NOT NULL,
	chat_id UUID NOT NULL,
	query_text TEXT NOT NULL,
	marks_requested INTEGER,
	answer_text TEXT NOT NULL,
	sources_used JSONB NOT NULL DEFAULT '[]',
	retrieval_time_ms BIGINT NOT NULL DEFAULT 0,
	generation_time_ms BIGINT NOT NULL DEFAULT 0,
	total_time_ms BIGINT NOT NULL DEFAULT 0,
	chunks_retrieved INTEGER NOT NULL DEFAULT 0,
	llm_calls_used INTEGER NOT NULL DEFAULT 0,
	processing_mode TEXT NOT NULL DEFAULT 'single_call',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS api_key_usage (
	key_identifier TEXT PRIMARY KEY,
	minute_bucket TEXT NOT NULL DEFAULT '',
	request_count BIGINT NOT NULL DEFAULT 0,
	day_bucket TEXT NOT NULL DEFAULT '',
	daily_request_count BIGINT NOT NULL DEFAULT 0,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	last_success_at TIMESTAMPTZ,
	last_failure_at TIMESTAMPTZ
);
`
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
