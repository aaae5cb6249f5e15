package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/testnet/services/points/api/handlers"
	"example.com/testnet/services/points/api/middleware"
	"example.com/testnet/services/points/config"
	"example.com/testnet/services/points/internal/service"
	"example.com/testnet/services/points/internal/tracing"
)

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server

	users  *service.UserService
	events *service.EventService
	rank   *service.RankService
	tracer tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.Config,
	users *service.UserService,
	events *service.EventService,
	rank *service.RankService,
	tracer tracing.Tracer,
) *Server {
	server := &Server{
		config: cfg,
		users:  users,
		events: events,
		rank:   rank,
		tracer: tracer,
	}

	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      server.router,
		ReadTimeout:  cfg.ServerTimeout,
		WriteTimeout: cfg.ServerTimeout,
	}

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Logger())
	router.Use(gin.Recovery())

	handlers.NewEventsHandler(s.events, s.tracer).RegisterRoutes(router)
	handlers.NewUsersHandler(s.users, s.events).RegisterRoutes(router)
	handlers.NewRankHandler(s.users, s.rank).RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
