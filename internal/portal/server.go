// Package portal emulates the upload and download API of a Skynet portal
// on top of a local content-addressed store.
package portal

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ochronus/goskynet/internal/app"
	"github.com/ochronus/goskynet/internal/config"
	"github.com/sirupsen/logrus"
)

// Server represents the HTTP server
type Server struct {
	config  *config.Config
	handler *Handler
	logger  *logrus.Logger
	router  *gin.Engine
	srv     *http.Server
	ready   chan net.Addr
}

// NewServer creates a new portal server backed by store
func NewServer(container *app.Container, store Store) *Server {
	cfg := container.Config

	// Set gin mode based on log level
	if cfg.Loglevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(container.Logger))

	handler := NewHandler(store, cfg.Portal.APIKey, container.Logger)

	router.POST("/skynet/skyfile/*filename", handler.RequireAPIKey, handler.Upload)
	router.GET("/:skylink", handler.RequireAPIKey, handler.Download)
	router.HEAD("/:skylink", handler.RequireAPIKey, handler.Head)

	return &Server{
		config:  cfg,
		handler: handler,
		logger:  container.Logger,
		router:  router,
		ready:   make(chan net.Addr, 1),
	}
}

// Start starts the HTTP server with a background context.
func (s *Server) Start() error {
	return s.StartWithContext(context.Background())
}

// StartWithContext starts the HTTP server and shuts down gracefully when the context is canceled.
func (s *Server) StartWithContext(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Portal.BindAddress, s.config.Portal.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.logger.Infof("Starting portal at http://%s", listener.Addr())
	select {
	case s.ready <- listener.Addr():
	default:
	}

	s.srv = &http.Server{
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Ready delivers the listening address once the server accepts connections.
// It holds one address; a restart while it is undrained is not reported.
func (s *Server) Ready() <-chan net.Addr {
	return s.ready
}

// GetRouter returns the underlying gin router (useful for testing)
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if c.Writer.Status() >= 500 {
			entry.Error("request complete")
			return
		}
		entry.Debug("request complete")
	}
}
