package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsforge/sentinel-core/internal/api/handlers"
	"github.com/opsforge/sentinel-core/internal/api/middleware"
	"github.com/opsforge/sentinel-core/internal/config"
	"github.com/opsforge/sentinel-core/internal/monitoring"
	"github.com/opsforge/sentinel-core/pkg/cache"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

// Server hosts the trigger, approval and read surfaces of the pipeline.
type Server struct {
	config   *config.Config
	logger   logger.Logger
	cache    cache.Store
	pipeline handlers.IncidentPipeline
	agent    handlers.DetectReader
	searcher handlers.PatternSearch
	patterns handlers.KnowledgeBase

	router     *gin.Engine
	httpServer *http.Server
}

func NewServer(
	cfg *config.Config,
	log logger.Logger,
	store cache.Store,
	pipeline handlers.IncidentPipeline,
	agent handlers.DetectReader,
	searcher handlers.PatternSearch,
	patterns handlers.KnowledgeBase,
) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	server := &Server{
		config:   cfg,
		logger:   log,
		cache:    store,
		pipeline: pipeline,
		agent:    agent,
		searcher: searcher,
		patterns: patterns,
		router:   router,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.router.Use(gin.Recovery())

	// Request logging
	s.router.Use(middleware.RequestLogger(s.logger))

	// Prometheus request metrics
	s.router.Use(middleware.MetricsMiddleware())

	// Prometheus metrics endpoint
	monitoring.SetupPrometheusMetrics(s.router)
}

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.agent, s.patterns, s.cache, s.logger)

	// Public health endpoints
	s.router.GET("/health", healthHandler.HealthCheck)
	s.router.GET("/ready", healthHandler.ReadinessCheck)

	v1 := s.router.Group("/api/v1")

	v1.GET("/health", healthHandler.HealthCheck)
	v1.GET("/ready", healthHandler.ReadinessCheck)

	// Trigger entry points
	triggerHandler := handlers.NewTriggerHandler(s.pipeline, s.cache, s.logger)
	v1.POST("/triggers/alarm", triggerHandler.Alarm)
	v1.POST("/triggers/anomaly", triggerHandler.Anomaly)
	v1.POST("/triggers/manual", triggerHandler.Manual)
	v1.POST("/triggers/proactive", triggerHandler.Proactive)

	// Incident records, approvals and manual-step completion
	incidentHandler := handlers.NewIncidentHandler(s.pipeline, s.logger)
	v1.GET("/incidents/:id", incidentHandler.GetIncident)
	v1.POST("/approvals/:token/approve", incidentHandler.Approve)
	v1.POST("/approvals/:token/reject", incidentHandler.Reject)
	v1.POST("/executions/:id/steps/:index", incidentHandler.CompleteStep)

	// Detection snapshot reads
	detectHandler := handlers.NewDetectHandler(s.agent, s.logger)
	v1.GET("/detections/latest", detectHandler.Latest)

	// Layered pattern search
	searchHandler := handlers.NewSearchHandler(s.searcher, s.logger)
	v1.POST("/search", searchHandler.Search)

	// Knowledge store operations
	knowledgeHandler := handlers.NewKnowledgeHandler(s.patterns, s.logger)
	v1.GET("/knowledge/patterns/:id", knowledgeHandler.GetPattern)
	v1.GET("/knowledge/stats", knowledgeHandler.Stats)
	v1.POST("/knowledge/reindex", knowledgeHandler.Reindex)
}

func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("sentinel-core REST API server starting", "port", s.config.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		s.logger.Info("Shutting down sentinel-core gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
