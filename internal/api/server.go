// Package api exposes the surveillance analytics over HTTP. Request and
// response field names follow the upstream Spanish contract
// (semana_actual, agrupar_por, fecha_ancla) so existing clients keep
// working.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/episurv-server/internal/analytics"
	"github.com/episurv-server/internal/bulletin"
	"github.com/episurv-server/internal/domain"
	"github.com/episurv-server/internal/epiweek"
	"github.com/episurv-server/internal/grouping"
	"github.com/episurv-server/internal/refdata"
)

// Dependencies are the collaborators the server routes requests to.
type Dependencies struct {
	Engine        *analytics.Engine
	Groups        *grouping.Resolver
	GroupRepo     domain.GroupRepository
	Generator     *bulletin.Generator
	BulletinStore bulletin.Store
	Population    *refdata.PopulationService
	Logger        *logrus.Logger
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	deps          Dependencies
	hub           *Hub
	router        *gin.Engine
	server        *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, deps Dependencies) *Server {
	cfg := configManager.GetConfig()

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestIDMiddleware())
	router.Use(rateLimitMiddleware(cfg.Server.RateLimit, cfg.Server.RateBurst))

	server := &Server{
		configManager: configManager,
		deps:          deps,
		hub:           NewHub(deps.Logger),
		router:        router,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// Start starts the HTTP server and blocks until the context is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go s.hub.Run(ctx)
	go s.pushSummaryTicks(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.GET("/health", s.handleHealth)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/analytics/comparacion", s.handleComparison)
		v1.POST("/analytics/corredor", s.handleCorridor)
		v1.GET("/epiweek", s.handleEpiWeekForDate)
		v1.GET("/epiweek/:anio/:semana", s.handleEpiWeekRange)
		v1.GET("/grupos", s.handleListGroups)
		v1.GET("/poblacion/:anio/:localidad", s.handlePopulation)
		v1.POST("/boletines", s.handleGenerateBulletin)
		v1.GET("/boletines/:id", s.handleGetBulletin)
		v1.GET("/boletines", s.handleListBulletins)
		v1.GET("/dashboard/resumen", s.handleDashboardSummary)
		v1.GET("/ws/dashboard", s.handleDashboardSocket)
	}
}

// pushSummaryTicks nudges dashboard clients to re-fetch the summary on
// a fixed interval.
func (s *Server) pushSummaryTicks(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			year, week := epiweek.DateToEpiWeek(time.Now().UTC())
			s.hub.Broadcast(DashboardEvent{
				Type:    "resumen_actualizado",
				EpiYear: year,
				EpiWeek: week,
			})
		}
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   "1.0.0",
	})
}
