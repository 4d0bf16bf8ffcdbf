// Package server exposes the categorizer over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ryanburden/mercari-buddy/internal/logger"
)

type RouterConfig struct {
	Handler *Handler
	Logger  *logger.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(cfg.Logger))

	router.GET("/healthz", HealthCheck)

	v1 := router.Group("/v1")
	{
		v1.POST("/categorize", cfg.Handler.CategorizeBatch)
		v1.POST("/categorize/one", cfg.Handler.CategorizeOne)
		v1.POST("/batches", cfg.Handler.SubmitBatch)
		v1.GET("/batches/:id", cfg.Handler.BatchResult)
		v1.GET("/batches/:id/status", cfg.Handler.BatchStatus)
		v1.GET("/metrics", cfg.Handler.Metrics)
	}

	return router
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

type Server struct {
	Engine  *gin.Engine
	handler *Handler

	mu   sync.Mutex
	http *http.Server
}

func NewServer(cfg RouterConfig) *Server {
	return &Server{Engine: NewRouter(cfg), handler: cfg.Handler}
}

// Run serves on address until Shutdown is called
func (s *Server) Run(address string) error {
	srv := &http.Server{
		Addr:              address,
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then cancels and waits for background batch jobs
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.handler.jobs.shutdown()
	return err
}
