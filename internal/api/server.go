package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/martijn/vaultkeep/internal/api/handler"
	"github.com/martijn/vaultkeep/internal/api/middleware"
	"github.com/martijn/vaultkeep/internal/core/repository"
	"github.com/martijn/vaultkeep/internal/core/service"
	"github.com/martijn/vaultkeep/pkg/config"
)

type Server struct {
	router *gin.Engine
	srv    *http.Server
	config *config.Config
	logger zerolog.Logger
}

// NewServer wires the HTTP routes onto the engine. gatherer backs /metrics.
func NewServer(
	cfg *config.Config,
	engine *service.Engine,
	authService *service.AuthService,
	activityRepo repository.ActivityRepository,
	gatherer prometheus.Gatherer,
	logger zerolog.Logger,
) *Server {
	// Set Gin mode
	if !cfg.IsDevMode() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	router.Use(middleware.CORSMiddleware(cfg.CORSOrigins))

	// Initialize handlers
	authHandler := handler.NewAuthHandler(authService)
	backupHandler := handler.NewBackupHandler(engine)
	restoreHandler := handler.NewRestoreHandler(engine)
	configHandler := handler.NewConfigHandler(engine)
	retentionHandler := handler.NewRetentionHandler(engine)
	activityHandler := handler.NewActivityHandler(activityRepo)
	clientHandler := handler.NewClientHandler(authService)

	// Public routes (no auth required)
	router.POST("/auth/token", authHandler.Token)

	// Protected routes (auth required)
	authMiddleware := middleware.AuthMiddleware(authService)

	// Backups
	backups := router.Group("/backups")
	backups.Use(authMiddleware)
	{
		backups.POST("", backupHandler.CreateBackup)
		backups.GET("", backupHandler.ListBackups)
		backups.GET("/events", backupHandler.Events)
		backups.GET("/:id", backupHandler.GetBackup)
		backups.DELETE("/:id", backupHandler.DeleteBackup)
		backups.POST("/:id/cancel", backupHandler.CancelBackup)
		backups.GET("/:id/validate", backupHandler.ValidateBackup)
	}

	// Restores
	restores := router.Group("/restores")
	restores.Use(authMiddleware)
	{
		restores.POST("", restoreHandler.CreateRestore)
		restores.GET("", restoreHandler.ListRestores)
		restores.GET("/:id", restoreHandler.GetRestore)
	}

	// Backup policy
	router.GET("/config", authMiddleware, configHandler.GetConfig)
	router.PUT("/config", authMiddleware, middleware.RequireAllScope(), configHandler.UpdateConfig)

	// Retention
	router.POST("/retention/sweep", authMiddleware, retentionHandler.Sweep)

	// Audit trail
	router.GET("/activity", authMiddleware, activityHandler.ListActivity)

	// Clients
	clients := router.Group("/clients")
	clients.Use(authMiddleware, middleware.RequireAllScope())
	{
		clients.POST("", clientHandler.CreateClient)
		clients.GET("", clientHandler.ListClients)
		clients.GET("/:id", clientHandler.GetClient)
		clients.PUT("/:id", clientHandler.UpdateClient)
		clients.DELETE("/:id", clientHandler.DeleteClient)
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "ok",
			"backup_running": engine.Running(),
			"time":           time.Now().UTC().Format(time.RFC3339),
		})
	})

	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return &Server{
		router: router,
		config: cfg,
		logger: logger,
		srv: &http.Server{
			Addr:        fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort),
			Handler:     router,
			ReadTimeout: 15 * time.Second,
			// Progress streams and restores outlive any fixed write deadline
			WriteTimeout:   0,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20, // 1 MB
		},
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.srv.Addr

	// Start with or without SSL
	if s.config.SSLCert != "" && s.config.SSLKey != "" {
		s.logger.Info().Str("addr", addr).Msg("starting HTTPS server")
		return s.srv.ListenAndServeTLS(s.config.SSLCert, s.config.SSLKey)
	}

	s.logger.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.srv.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
