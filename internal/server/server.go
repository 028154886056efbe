package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"payment-failure-alerts/internal/config"
	"payment-failure-alerts/internal/service"
)

// Server exposes the ingestion and query APIs over HTTP.
type Server struct {
	monitor *service.Monitor
	cfg     config.ServerConfig
	logger  zerolog.Logger
	http    *http.Server
}

// New constructs the HTTP server.
func New(monitor *service.Monitor, cfg config.ServerConfig, logger zerolog.Logger) *Server {
	s := &Server{
		monitor: monitor,
		cfg:     cfg,
		logger:  logger.With().Str("component", "http").Logger(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.health)

	api := router.Group("/api/v1")
	api.POST("/failures", s.recordFailure)
	api.POST("/attempts", s.recordAttempt)
	api.GET("/aggregate", s.aggregate)
	api.GET("/analytics", s.analytics)
	api.GET("/alerts", s.recentAlerts)

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Run serves until ctx is cancelled, then drains within the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
