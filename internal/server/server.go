// Package server is the HTTP entry point: it authenticates clients,
// proxies the three supported dialects upstream with retries, and exposes
// the health, stats and record-inspection surface.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xling-dev/xling/internal/balancer"
	"github.com/xling-dev/xling/internal/config"
	"github.com/xling-dev/xling/internal/store"
)

// CompletionFunc produces a streamed completion for the analyze endpoint.
// The returned channel yields text fragments and closes when generation
// finishes.
type CompletionFunc func(ctx context.Context, prompt, model string) (<-chan string, error)

// Server wires the gateway core together behind a gin engine.
type Server struct {
	live     *config.Live
	balancer *balancer.Balancer
	store    *store.Store
	logger   *slog.Logger
	client   *http.Client
	complete CompletionFunc
	engine   *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithHTTPClient sets the upstream HTTP client. Per-request timeouts come
// from provider config, so the client itself carries none.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Server) { s.client = client }
}

// WithCompletionFunc injects the completion backend for /proxy/analyze.
func WithCompletionFunc(fn CompletionFunc) Option {
	return func(s *Server) { s.complete = fn }
}

// New creates a gateway server over a live config, balancer and store.
func New(live *config.Live, bal *balancer.Balancer, st *store.Store, opts ...Option) *Server {
	s := &Server{
		live:     live,
		balancer: bal,
		store:    st,
		logger:   slog.Default(),
		client:   &http.Client{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.buildEngine()
	return s
}

// Handler returns the http.Handler serving all gateway routes.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) buildEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	e := gin.New()
	e.Use(s.recoveryMiddleware())
	e.Use(s.loggingMiddleware())
	e.Use(s.corsMiddleware())

	e.GET("/", s.handleHealth)
	e.GET("/health", s.handleHealth)

	authed := e.Group("/", s.authMiddleware())
	authed.GET("/stats", s.handleStats)
	authed.GET("/v1/models", s.handleModels)
	authed.GET("/models", s.handleModels)

	authed.GET("/proxy/records", s.handleRecords)
	authed.GET("/proxy/stream", s.handleRecordStream)
	authed.GET("/proxy/export", s.handleExport)
	authed.POST("/proxy/analyze", s.handleAnalyze)

	// Proxy paths are dispatched from NoRoute: a /v1/*path wildcard would
	// collide with the explicit /v1/models route above.
	e.NoRoute(s.handleFallback)

	return e
}

// handleFallback routes unmatched paths: proxyable ones go upstream,
// everything else is a 404.
func (s *Server) handleFallback(c *gin.Context) {
	if !proxyablePath(c.Request.URL.Path) {
		writeError(c, http.StatusNotFound, "invalid_request_error", "unknown path: "+c.Request.URL.Path)
		return
	}

	s.authMiddleware()(c)
	if c.IsAborted() {
		return
	}
	s.handleProxy(c)
}

// proxyablePath reports whether a path belongs to the authenticated proxy
// surface.
func proxyablePath(path string) bool {
	for _, prefix := range []string{"/v1/", "/claude/", "/openai/"} {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	switch path {
	case "/responses", "/messages", "/chat/completions":
		return true
	}
	return false
}

// handleHealth reports gateway liveness plus the active provider set.
func (s *Server) handleHealth(c *gin.Context) {
	cfg := s.live.Current()

	names := make([]string, 0, len(cfg.Providers))
	for i := range cfg.Providers {
		names = append(names, cfg.Providers[i].Name)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"providers":   names,
		"loadBalance": cfg.Proxy.LoadBalance,
	})
}

// handleStats exposes the load balancer's per-provider counters.
func (s *Server) handleStats(c *gin.Context) {
	cfg := s.live.Current()
	c.JSON(http.StatusOK, gin.H{
		"loadBalance": cfg.Proxy.LoadBalance,
		"providers":   s.balancer.Stats(cfg.Providers),
		"records":     s.store.Len(),
	})
}

// modelEntry is one element of the synthesized /v1/models list.
type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// handleModels synthesizes an OpenAI-compatible model list containing both
// "provider,model" ids and bare model ids. For a bare id the first
// provider in config order wins.
func (s *Server) handleModels(c *gin.Context) {
	cfg := s.live.Current()
	now := time.Now().Unix()

	var entries []modelEntry
	seen := make(map[string]string) // bare model → owning provider

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		for _, model := range p.Models {
			entries = append(entries, modelEntry{
				ID:      p.Name + "," + model,
				Object:  "model",
				Created: now,
				OwnedBy: p.Name,
			})
			if _, ok := seen[model]; !ok {
				seen[model] = p.Name
			}
		}
	}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		for _, model := range p.Models {
			if seen[model] != p.Name {
				continue
			}
			entries = append(entries, modelEntry{
				ID:      model,
				Object:  "model",
				Created: now,
				OwnedBy: p.Name,
			})
			delete(seen, model)
		}
	}

	c.JSON(http.StatusOK, gin.H{"object": "list", "data": entries})
}
