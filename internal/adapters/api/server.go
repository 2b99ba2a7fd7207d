package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ServerOptions configures the REST listener
type ServerOptions struct {
	ListenAddress string
	APIKey        string
	GinMode       string
}

// Server serves the REST API
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer builds the router and the HTTP server
func NewServer(svc Service, opts ServerOptions, logger *zap.Logger) *Server {
	if opts.GinMode != "" {
		gin.SetMode(opts.GinMode)
	}
	router := gin.New()
	RegisterRoutes(router, svc, opts.APIKey, logger)

	return &Server{
		httpServer: &http.Server{
			Addr:              opts.ListenAddress,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts listening in the background
func (s *Server) Start() error {
	s.logger.Info("REST API starting", zap.String("address", s.httpServer.Addr))
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop drains in-flight requests
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
