package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/semaj90/ragengine/internal/apierr"
	"github.com/semaj90/ragengine/internal/config"
	"github.com/semaj90/ragengine/internal/filestore"
	"github.com/semaj90/ragengine/internal/querycache"
	"github.com/semaj90/ragengine/internal/queryexec"
)

// server holds every collaborator an HTTP handler might need.
type server struct {
	cfg       *config.Config
	log       *zap.Logger
	pool      *pgxpool.Pool
	rdb       *redis.Client
	files     *filestore.Store
	cache     *querycache.Cache
	queryexec *queryexec.Executor
}

type serverDeps struct {
	cfg       *config.Config
	log       *zap.Logger
	pool      *pgxpool.Pool
	rdb       *redis.Client
	files     *filestore.Store
	cache     *querycache.Cache
	queryexec *queryexec.Executor
}

func newServer(d serverDeps) *server {
	return &server{
		cfg:       d.cfg,
		log:       d.log,
		pool:      d.pool,
		rdb:       d.rdb,
		files:     d.files,
		cache:     d.cache,
		queryexec: d.queryexec,
	}
}

func (s *server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.Use(s.cors())

	r.GET("/health/ping", s.handlePing)
	r.GET("/health/warmup", s.handleWarmup)
	r.GET("/actuator/health", s.handlePing)

	r.POST("/auth/register", s.handleRegister)
	r.POST("/auth/login", s.handleLogin)

	authed := r.Group("/")
	authed.Use(s.requireAuth())
	{
		authed.POST("/chats", s.handleCreateChat)
		authed.GET("/chats", s.handleListChats)
		authed.GET("/chats/:id", s.handleGetChat)
		authed.PUT("/chats/:id", s.handleUpdateChat)
		authed.DELETE("/chats/:id", s.handleDeleteChat)

		authed.POST("/documents/upload", s.handleUploadDocument)
		authed.POST("/documents/upload/bulk", s.handleUploadDocumentsBulk)
		authed.GET("/documents", s.handleListDocuments)
		authed.GET("/documents/:id/status", s.handleDocumentStatus)
		authed.DELETE("/documents/:id", s.handleDeleteDocument)

		authed.POST("/query", s.handleQuery)
		authed.GET("/query/history", s.handleQueryHistory)
	}

	return r
}

// requestLogger mirrors gin.Logger's field set through zap instead of the
// default plain-text writer.
func (s *server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *server) cors() gin.HandlerFunc {
	origins := s.cfg.CORSAllowedOrigins
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// abortWithEnvelope renders the uniform error envelope and stops the chain.
func abortWithEnvelope(c *gin.Context, err error) {
	env := apierr.EnvelopeFor(err, c.Request.URL.Path)
	c.AbortWithStatusJSON(env.Status, env)
}

func (s *server) handlePing(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

func (s *server) handleWarmup(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		abortWithEnvelope(c, apierr.Wrap(apierr.Internal, "database not ready", err))
		return
	}
	c.JSON(200, gin.H{"status": "warm"})
}
