// Package jobqueue implements the document-processing worker pool: a
// periodic scheduler that pessimistically leases queued jobs and runs each
// under its own lock window, with bounded retry and stuck-lease recovery.
package jobqueue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/semaj90/ragengine/internal/metrics"
	"github.com/semaj90/ragengine/internal/models"
)

const jobTypeDocument = "document_processing"

const errorMessageMaxLen = 2000

// Processor runs the document pipeline for one job; jobqueue owns all
// lease/retry bookkeeping and only calls this for the actual work.
type Processor interface {
	ProcessDocument(ctx context.Context, docID uuid.UUID) error
}

// Options configures the worker pool's tick cadence and batch shape.
type Options struct {
	PollInterval    time.Duration
	BatchSize       int
	StaggerInterval time.Duration
	LockDuration    time.Duration
}

// DefaultOptions mirrors stated defaults.
func DefaultOptions() Options {
	return Options{
		PollInterval:    2 * time.Second,
		BatchSize:       5,
		StaggerInterval: 2 * time.Second,
		LockDuration:    300 * time.Second,
	}
}

// Pool leases and runs ProcessingJob rows.
type Pool struct {
	pool      *pgxpool.Pool
	processor Processor
	log       *zap.Logger
	opts      Options

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Pool. Call Run to start the periodic scheduler.
func New(pool *pgxpool.Pool, processor Processor, log *zap.Logger, opts Options) *Pool {
	return &Pool{pool: pool, processor: processor, log: log, opts: opts, stopCh: make(chan struct{})}
}

// Run ticks every PollInterval, leasing and dispatching up to BatchSize
// jobs per tick, staggering starts by StaggerInterval. Blocks until Stop is
// called or ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return
		case <-p.stopCh:
			p.wg.Wait()
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// Stop signals Run to return after in-flight jobs complete.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *Pool) tick(ctx context.Context) {
	jobs, err := p.lease(ctx)
	if err != nil {
		if p.log != nil {
			p.log.Error("failed to lease jobs", zap.Error(err))
		}
		return
	}

	for i, job := range jobs {
		i, job := i, job
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if i > 0 && p.opts.StaggerInterval > 0 {
				time.Sleep(time.Duration(i) * p.opts.StaggerInterval)
			}
			p.runJob(ctx, job)
		}()
	}
}

// lease pessimistically claims up to BatchSize queued jobs in one
// statement, ordered by priority then age. PROCESSING rows whose lease
// expired are reclaimed the same way, covering workers that died mid-job.
func (p *Pool) lease(ctx context.Context) ([]models.ProcessingJob, error) {
	workerID := "worker-" + randHex(4)

	rows, err := p.pool.Query(ctx, `
		WITH cte AS (
			SELECT id FROM processing_jobs
			WHERE (status = 'QUEUED' AND (locked_until IS NULL OR locked_until < now()))
			   OR (status = 'PROCESSING' AND locked_until < now())
			ORDER BY priority ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		)
		UPDATE processing_jobs j
		SET status = 'PROCESSING', locked_by = $2, locked_until = now() + $3::interval,
		    started_at = now(), attempts = attempts + 1
		FROM cte WHERE j.id = cte.id
		RETURNING j.id, j.document_id, j.status, j.priority, j.attempts, j.max_attempts,
		          j.last_error, j.locked_by, j.locked_until, j.created_at, j.started_at, j.completed_at
	`, p.opts.BatchSize, workerID, fmt.Sprintf("%d seconds", int(p.opts.LockDuration.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("lease jobs: %w", err)
	}
	defer rows.Close()

	var out []models.ProcessingJob
	for rows.Next() {
		var j models.ProcessingJob
		if err := rows.Scan(&j.ID, &j.DocumentID, &j.Status, &j.Priority, &j.Attempts, &j.MaxAttempts,
			&j.LastError, &j.LockedBy, &j.LockedUntil, &j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan leased job: %w", err)
		}
		out = append(out, j)
	}
	if len(out) > 0 {
		metrics.JobsLeased.WithLabelValues(jobTypeDocument).Add(float64(len(out)))
	}
	return out, rows.Err()
}

// runJob calls the processor and records the outcome: complete,
// requeue-for-retry, or fail permanently and propagate to the parent document.
func (p *Pool) runJob(ctx context.Context, job models.ProcessingJob) {
	err := p.processor.ProcessDocument(ctx, job.DocumentID)
	if err == nil {
		metrics.JobsCompleted.WithLabelValues(jobTypeDocument, "completed").Inc()
		p.markCompleted(ctx, job.ID)
		return
	}

	if job.Attempts < job.MaxAttempts {
		metrics.JobsCompleted.WithLabelValues(jobTypeDocument, "requeued").Inc()
		p.requeue(ctx, job.ID, err)
		return
	}
	metrics.JobsCompleted.WithLabelValues(jobTypeDocument, "failed").Inc()
	p.markFailed(ctx, job.ID, job.DocumentID, err)
}

func (p *Pool) markCompleted(ctx context.Context, jobID uuid.UUID) {
	_, err := p.pool.Exec(ctx, `
		UPDATE processing_jobs
		SET status = 'COMPLETED', completed_at = now(), locked_by = NULL, locked_until = NULL
		WHERE id = $1
	`, jobID)
	if err != nil && p.log != nil {
		p.log.Error("failed to mark job completed", zap.Error(err), zap.String("jobId", jobID.String()))
	}
}

func (p *Pool) requeue(ctx context.Context, jobID uuid.UUID, cause error) {
	_, err := p.pool.Exec(ctx, `
		UPDATE processing_jobs
		SET status = 'QUEUED', last_error = $1, locked_by = NULL, locked_until = NULL
		WHERE id = $2
	`, truncate(cause.Error()), jobID)
	if err != nil && p.log != nil {
		p.log.Error("failed to requeue job", zap.Error(err), zap.String("jobId", jobID.String()))
	}
}

func (p *Pool) markFailed(ctx context.Context, jobID, documentID uuid.UUID, cause error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		if p.log != nil {
			p.log.Error("failed to begin mark-failed transaction", zap.Error(err))
		}
		return
	}
	defer tx.Rollback(ctx)

	msg := truncate(cause.Error())
	if _, err := tx.Exec(ctx, `
		UPDATE processing_jobs SET status = 'FAILED', last_error = $1, completed_at = now() WHERE id = $2
	`, msg, jobID); err != nil {
		if p.log != nil {
			p.log.Error("failed to mark job failed", zap.Error(err))
		}
		return
	}
	if _, err := tx.Exec(ctx, `
		UPDATE documents SET status = 'FAILED', error_message = $1 WHERE id = $2
	`, msg, documentID); err != nil {
		if p.log != nil {
			p.log.Error("failed to mark parent document failed", zap.Error(err))
		}
		return
	}
	if err := tx.Commit(ctx); err != nil && p.log != nil {
		p.log.Error("failed to commit mark-failed transaction", zap.Error(err))
	}
}

func truncate(msg string) string {
	if len(msg) > errorMessageMaxLen {
		return msg[:errorMessageMaxLen]
	}
	return msg
}

func randHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
