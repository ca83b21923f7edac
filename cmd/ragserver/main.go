// Command ragserver wires the whole engine into one process: a gin HTTP
// surface in front of the document pipeline, job worker pool, and query
// executor.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/semaj90/ragengine/internal/chunker"
	"github.com/semaj90/ragengine/internal/config"
	"github.com/semaj90/ragengine/internal/embedding"
	"github.com/semaj90/ragengine/internal/filestore"
	"github.com/semaj90/ragengine/internal/jobqueue"
	"github.com/semaj90/ragengine/internal/keypool"
	"github.com/semaj90/ragengine/internal/observability/tracing"
	"github.com/semaj90/ragengine/internal/pipeline"
	"github.com/semaj90/ragengine/internal/provider"
	"github.com/semaj90/ragengine/internal/querycache"
	"github.com/semaj90/ragengine/internal/queryexec"
	"github.com/semaj90/ragengine/internal/router"
	"github.com/semaj90/ragengine/internal/vectorstore"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, "ragengine", log)
	if err != nil {
		log.Warn("tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer shutdownTracing(context.Background())

	dbURL, err := cfg.ResolvedDatabaseURL()
	if err != nil {
		log.Fatal("parse DATABASE_URL", zap.Error(err))
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := ensureSchema(ctx, pool); err != nil {
		log.Fatal("ensure schema", zap.Error(err))
	}

	rdb := redis.NewClient(mustParseRedisURL(cfg.RedisURL, log))
	defer rdb.Close()

	files, err := filestore.New(ctx, filestore.Config{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Bucket:    cfg.MinIOBucket,
		UseTLS:    cfg.MinIOUseTLS,
	})
	if err != nil {
		log.Fatal("connect minio", zap.Error(err))
	}

	keys := keypool.New(log, cfg.EmbeddingAPIKeys,
		keypool.WithRedis(rdb, "embedkeys:"),
		keypool.WithFailurePolicy(cfg.MaxConsecutiveKeyFailure, cfg.KeyDisableDuration),
	)

	// SIGHUP merges newly configured embedding keys into the pool without a
	// restart; existing keys are never removed mid-flight.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			fresh := config.Load()
			keys.UpdateKeys(fresh.EmbeddingAPIKeys)
			log.Info("reloaded embedding API keys", zap.Int("configured", len(fresh.EmbeddingAPIKeys)))
		}
	}()

	embedder := embedding.New(keys, cfg.EmbeddingBaseURL, cfg.EmbeddingModel,
		embedding.WithKeyWait(time.Duration(cfg.MaxKeyWaitMs)*time.Millisecond))

	var providerStates []*router.ProviderState
	for _, pc := range cfg.Providers {
		client := provider.NewDefault(provider.Name(pc.Name), pc.Model)
		if client == nil {
			continue
		}
		providerStates = append(providerStates, &router.ProviderState{
			Name:   provider.Name(pc.Name),
			Client: client,
			APIKey: pc.APIKey,
			Model:  pc.Model,
			RPM:    pc.RPM,
		})
	}
	if len(providerStates) == 0 {
		log.Warn("no LLM providers configured; queries will fail until LLM_*_API_KEY is set")
	}
	llmRouter := router.New(log, providerStates)
	defer llmRouter.Stop()

	vectors := vectorstore.New(pool)
	chunks := chunker.New(cfg.MaxChunkTokens, cfg.OverlapTokens)

	proc := pipeline.New(pool, files, vectors, embedder, chunks, log)

	jobs := jobqueue.New(pool, proc, log, jobqueue.Options{
		PollInterval:    cfg.JobPollInterval,
		BatchSize:       cfg.JobBatchSize,
		StaggerInterval: cfg.JobStaggerInterval,
		LockDuration:    cfg.JobLockDuration,
	})
	go jobs.Run(ctx)
	defer jobs.Stop()

	cache := querycache.New(pool, embedder, cfg.SemanticCacheThreshold,
		querycache.WithTTL(cfg.QueryCacheTTL),
		querycache.WithRedis(rdb, "querycache:"),
	)
	exec := queryexec.New(pool, cache, vectors, embedder, llmRouter, "", cfg.MaxContextChunks)

	srv := newServer(serverDeps{
		cfg:       cfg,
		log:       log,
		pool:      pool,
		rdb:       rdb,
		files:     files,
		cache:     cache,
		queryexec: exec,
	})

	if cfg.KeepAliveURL != "" && cfg.KeepAliveInterval > 0 {
		go keepAlive(ctx, log, cfg.KeepAliveURL, cfg.KeepAliveInterval)
	}

	engine := srv.routes()
	httpSrv := &http.Server{
		Addr:    getenv("SERVER_ADDR", ":8080"),
		Handler: engine,
	}

	go func() {
		log.Info("ragserver listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown", zap.Error(err))
	}
}

// keepAlive pings the configured URL on an interval so free-tier hosts
// don't idle the process out.
func keepAlive(ctx context.Context, log *zap.Logger, url string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	client := &http.Client{Timeout: 10 * time.Second}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				log.Warn("keepalive request build failed", zap.Error(err))
				continue
			}
			resp, err := client.Do(req)
			if err != nil {
				log.Warn("keepalive ping failed", zap.Error(err))
				continue
			}
			resp.Body.Close()
		}
	}
}

func mustParseRedisURL(raw string, log *zap.Logger) *redis.Options {
	opts, err := redis.ParseURL(raw)
	if err != nil {
		log.Warn("invalid REDIS_URL, falling back to localhost:6379", zap.Error(err))
		return &redis.Options{Addr: "localhost:6379"}
	}
	return opts
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func init() {
	if getenv("GIN_MODE", "release") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
}
