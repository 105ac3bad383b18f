// Package server exposes the health check, the read-only admin API and the
// Telegram webhook over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/zulandar/callsheet/internal/bot"
	"github.com/zulandar/callsheet/internal/logging"
	"github.com/zulandar/callsheet/internal/prompts"
)

// DefaultPort is used when Opts.Port is zero.
const DefaultPort = 8080

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// PromptReader returns the current text of a profile.
type PromptReader interface {
	Get(p prompts.Profile) prompts.Pair
}

// SessionLister returns a snapshot of the non-idle sessions.
type SessionLister interface {
	Snapshot() []bot.SessionSnapshot
}

// Opts holds configuration for the HTTP server.
type Opts struct {
	Port        int
	Prompts     PromptReader
	Sessions    SessionLister
	Webhook     http.Handler // optional Telegram webhook
	WebhookPath string       // defaults to /telegram
	Logger      *zerolog.Logger
	Out         io.Writer
}

// Server is the callsheet HTTP server.
type Server struct {
	engine *gin.Engine
	port   int
	log    zerolog.Logger
	out    io.Writer
}

// New builds the router. It does not start listening.
func New(opts Opts) (*Server, error) {
	if opts.Prompts == nil {
		return nil, fmt.Errorf("server: prompts is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("server: sessions is required")
	}
	port := opts.Port
	if port <= 0 {
		port = DefaultPort
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str(logging.FieldComponent, "http").Logger()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(log))
	registerRoutes(engine, opts)

	return &Server{engine: engine, port: port, log: log, out: opts.Out}, nil
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("shutdown")
		}
	}()

	if s.out != nil {
		fmt.Fprintf(s.out, "HTTP server listening on %s\n", ln.Addr())
	}

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// requestLogger logs one line per request at debug level, and at warn for
// server errors.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		ev := log.Debug()
		if status >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}
