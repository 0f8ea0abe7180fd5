// Package server exposes an APICache over HTTP: cache administration,
// Prometheus metrics, and a cache-aside proxy in front of an upstream API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rshade/apicache/internal/engine/cache"
	"github.com/rshade/apicache/internal/logging"
	"github.com/rshade/apicache/internal/upstream"
)

const shutdownTimeout = 5 * time.Second

// Server serves the cache HTTP API.
type Server struct {
	cache    *cache.APICache
	upstream *upstream.Client
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
	engine   *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithUpstream enables the /proxy routes against client's base URL.
func WithUpstream(client *upstream.Client) Option {
	return func(s *Server) {
		s.upstream = client
	}
}

// WithGatherer selects the registry served on /metrics (default
// prometheus.DefaultGatherer).
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New builds a Server and its routes.
func New(c *cache.APICache, opts ...Option) *Server {
	s := &Server{
		cache:    c,
		gatherer: prometheus.DefaultGatherer,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api/cache")
	{
		api.GET("/stats", s.stats)
		api.GET("/ttl", s.ttl)
		api.DELETE("", s.invalidate)
		api.DELETE("/all", s.clear)
		api.POST("/cleanup", s.cleanup)
	}

	r.GET("/proxy/*path", s.proxy)
	return r
}

// requestLogger logs each request with a trace ID carried on the request context.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := c.Request.Context()
		traceID := logging.GetOrGenerateTraceID(ctx)
		ctx = logging.ContextWithTraceID(ctx, traceID)
		ctx = s.logger.WithContext(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Trace-Id", traceID)

		c.Next()

		logging.FromContext(ctx).Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request served")
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"cache":  s.cache.Available(),
	})
}

// StatsResponse is the body of GET /api/cache/stats.
type StatsResponse struct {
	Prefix    string          `json:"prefix"`
	Available bool            `json:"available"`
	Stats     cache.Stats     `json:"stats"`
	Inventory cache.Inventory `json:"inventory"`
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, StatsResponse{
		Prefix:    s.cache.Prefix(),
		Available: s.cache.Available(),
		Stats:     s.cache.Stats(),
		Inventory: s.cache.Inspect(),
	})
}

func (s *Server) ttl(c *gin.Context) {
	identity := c.Query("identity")
	if identity == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identity query parameter is required"})
		return
	}
	window := s.cache.ResolveTTL(identity)
	c.JSON(http.StatusOK, gin.H{
		"identity": identity,
		"ttl":      cache.FormatDuration(window),
		"seconds":  int64(window / time.Second),
	})
}

func (s *Server) invalidate(c *gin.Context) {
	pattern := c.Query("pattern")
	if pattern == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pattern query parameter is required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": s.cache.Invalidate(pattern)})
}

func (s *Server) clear(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"removed": s.cache.Clear()})
}

func (s *Server) cleanup(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"removed": s.cache.Cleanup()})
}

// proxy answers GET /proxy/<path>?<query> from the cache, fetching from the
// upstream on a miss. Cache-Control: no-cache bypasses the cache.
func (s *Server) proxy(c *gin.Context) {
	if s.upstream == nil || !s.upstream.HasBase() {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no upstream configured"})
		return
	}

	target, err := s.upstream.Resolve(c.Param("path"), c.Request.URL.Query())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	identity := c.Param("path")
	if q := c.Request.URL.Query().Encode(); q != "" {
		identity += "?" + q
	}

	fetch := func(ctx context.Context) (json.RawMessage, error) {
		return s.upstream.Get(ctx, target)
	}
	opts := cache.SetOptions{NoCache: c.GetHeader("Cache-Control") == "no-cache"}

	body, source, err := cache.Load(c.Request.Context(), s.cache, identity, fetch, opts)
	if err != nil {
		logging.FromContext(c.Request.Context()).Warn().Err(err).Str("url", target).Msg("upstream fetch failed")
		status := http.StatusBadGateway
		var statusErr *upstream.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	// A response shared from another request's upstream fetch is still a miss.
	if source == cache.SourceCache {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info().Str("addr", addr).Msg("server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
