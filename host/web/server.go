// Package web serves the operator HTTP API for the gateway
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cangate/host/link"
	"cangate/host/observability"
	"cangate/host/protect"
	"cangate/host/serial"
	"cangate/host/store"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Options wires the server to the rest of the process
type Options struct {
	Link  *link.Link
	Store *store.Store

	// Protect is nil when the deployment has no protection mode
	Protect *protect.State

	CORSOrigins []string
	Logger      zerolog.Logger

	// ListPorts overrides serial port enumeration
	ListPorts func() ([]string, error)
}

// Server is the gin router plus the state its handlers act on
type Server struct {
	link      *link.Link
	store     *store.Store
	protect   *protect.State
	listPorts func() ([]string, error)
	log       zerolog.Logger
	started   time.Time

	router *gin.Engine
}

// New builds the router with middleware and all routes registered
func New(opts Options) *Server {
	observability.RegisterMetrics()

	s := &Server{
		link:      opts.Link,
		store:     opts.Store,
		protect:   opts.Protect,
		listPorts: opts.ListPorts,
		log:       opts.Logger.With().Str("component", "web").Logger(),
		started:   time.Now(),
	}
	if s.listPorts == nil {
		s.listPorts = serial.ListPorts
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(s.log))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	if s.protect != nil {
		r.Use(s.reloadProtection())
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s.router = r
	s.registerRoutes()
	return s
}

// Router exposes the handler, mainly for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info().Msg("http server stopped")
	return nil
}

// reloadProtection refreshes the protection flag from disk before every
// request, so edits by another process are picked up
func (s *Server) reloadProtection() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.protect.Load(); err != nil {
			s.log.Warn().Err(err).Msg("reload protect state")
		}
		c.Next()
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
