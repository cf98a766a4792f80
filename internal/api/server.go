// Package api serves the live mempool view to renderers over HTTP and
// a websocket stream.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ergo-live/internal/domain"
	"ergo-live/internal/mempool"
	"ergo-live/internal/netflow"
	"ergo-live/internal/observability"
	"ergo-live/internal/presentation"
)

// Mempool is the reconciled snapshot.
type Mempool interface {
	State() mempool.State
	Transaction(id string) (*domain.Transaction, bool)
}

// Queue is the presentation queue control surface.
type Queue interface {
	Pause()
	Resume()
	Clear()
	Paused() bool
	Len() int
	Delay() time.Duration
	SetDelay(d time.Duration)
	Displayed() []presentation.Delivery
}

// Tokens resolves cached asset metadata.
type Tokens interface {
	netflow.DecimalsLookup
	Get(id string) (*domain.Token, bool)
}

// LabelStats serves daily label metrics.
type LabelStats interface {
	Range(ctx context.Context, start, end string) ([]*domain.DailyLabelMetrics, error)
	LastDays(ctx context.Context, n int) ([]*domain.DailyLabelMetrics, error)
	ExportCSV(ctx context.Context, w io.Writer) error
	ExportJSON(ctx context.Context, w io.Writer) error
}

// Deps are the services exposed by the API. Labels may be nil.
type Deps struct {
	Mempool Mempool
	Queue   Queue
	Tokens  Tokens
	Labels  LabelStats
}

// Server is the renderer-facing HTTP API.
type Server struct {
	deps   Deps
	hub    *Hub
	engine *gin.Engine
	logger *zap.Logger
}

// New creates the server and registers its routes.
func New(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Length", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	s := &Server{
		deps:   deps,
		hub:    NewHub(deps.Queue, logger),
		engine: r,
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.engine

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(observability.Handler()))

	api := r.Group("/api")
	api.GET("/state", s.getState)
	api.GET("/mempool", s.getMempool)
	api.GET("/mempool/:txId", s.getTransaction)
	api.GET("/transfers/:txId", s.getTransfers)
	api.GET("/displayed", s.getDisplayed)
	api.GET("/tokens/:tokenId", s.getToken)
	api.GET("/labels/daily", s.getDailyLabels)
	api.GET("/labels/export", s.exportLabels)
	api.POST("/queue/:action", s.controlQueue)
	api.GET("/stream", s.hub.Serve)
}

// Hub returns the websocket fan-out; register it as a presentation sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
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

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/metrics" || c.Request.URL.Path == "/health" {
			return
		}
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
