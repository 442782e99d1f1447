// Package api exposes the run trigger, run reports and the live article
// stream over HTTP.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"finpulse/events"
	"finpulse/orchestrator"
	"finpulse/types"
)

// Runner is the collection control surface.
type Runner interface {
	RunCollection(ctx context.Context, sourceID string) types.RunReport
	// RunCollectionAsync starts a run that outlives the request.
	RunCollectionAsync(ctx context.Context, sourceID string)
	Reports() []types.RunReport
	Status() orchestrator.Status
	Sources() []string
}

// ArticleReader looks articles up by id.
type ArticleReader interface {
	Get(ctx context.Context, id string) (*types.Article, error)
}

// Server holds the handlers' collaborators.
type Server struct {
	runner       Runner
	publisher    *events.Publisher
	articles     ArticleReader
	apiKey       string
	heartbeat    time.Duration
	capabilities any
	logger       *zap.Logger
}

// Options configures a Server. Capabilities is reported as is on /health.
type Options struct {
	APIKey       string
	Heartbeat    time.Duration
	Capabilities any
	Logger       *zap.Logger
}

func NewServer(runner Runner, pub *events.Publisher, articles ArticleReader, opts Options) *Server {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		runner:       runner,
		publisher:    pub,
		articles:     articles,
		apiKey:       opts.APIKey,
		heartbeat:    opts.Heartbeat,
		capabilities: opts.Capabilities,
		logger:       opts.Logger,
	}
}

// NewRouter constructs a Gin engine with registered routes.
func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	s.RegisterCollectionRoutes(r)
	s.RegisterStreamRoutes(r)
	s.RegisterArticleRoutes(r)
	s.RegisterHealthRoutes(r)

	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, gin.H{"error": "API not found"})
			return
		}
		c.Status(http.StatusNotFound)
	})
	return r
}

// requestLogger logs each request at debug, server errors at warn.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("request failed", fields...)
			return
		}
		logger.Debug("request", fields...)
	}
}

// requireAPIKey rejects requests without the configured X-API-Key.
func (s *Server) requireAPIKey(c *gin.Context) {
	if s.apiKey == "" {
		c.Next()
		return
	}
	if c.GetHeader("X-API-Key") != s.apiKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
		return
	}
	c.Next()
}
