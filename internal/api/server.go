// Package api exposes a small control surface over HTTP: status and trade
// inspection, the panic switch and its reset. Reads come from the snapshot
// store, never from inside a running cycle.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"futures-trading-engine/config"
	"futures-trading-engine/internal/risk"
	"futures-trading-engine/internal/store"
)

// TradeSource reads completed trades; nil when no database is wired
type TradeSource interface {
	RecentTrades(ctx context.Context, symbol string, limit int) ([]risk.Trade, error)
}

// PanicControl is the slice of the risk manager the API may touch
type PanicControl interface {
	PanicClose(closeFn risk.CloseFunc, ts int64) (int, error)
	Resume()
	Positions() []risk.Position
	Trades() []risk.Trade
}

// Server is the HTTP control server
type Server struct {
	cfg       *config.Config
	snapshots *store.SnapshotStore
	trades    TradeSource
	control   PanicControl
	panicFn   risk.CloseFunc
	logger    zerolog.Logger
	router    *gin.Engine
	http      *http.Server
}

// NewServer wires routes. panicFn performs the market close for each open
// position when the panic endpoint fires.
func NewServer(cfg *config.Config, snapshots *store.SnapshotStore, trades TradeSource, control PanicControl, panicFn risk.CloseFunc, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		cfg:       cfg,
		snapshots: snapshots,
		trades:    trades,
		control:   control,
		panicFn:   panicFn,
		logger:    logger.With().Str("component", "api").Logger(),
		router:    router,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/positions", s.handlePositions)
		api.GET("/trades", s.handleTrades)
		api.GET("/metrics", s.handleMetrics)
		api.POST("/panic", s.handlePanic)
		api.POST("/resume", s.handleResume)
	}
}

// Start runs the HTTP server until the context is canceled
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.API.Port),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Int("port", s.cfg.API.Port).Msg("control api listening")
		if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("control api: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"redis":     s.snapshots.Available(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	status, ok := s.snapshots.Status(c.Request.Context(), s.cfg.Symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no status yet"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.control.Positions()})
}

func (s *Server) handleTrades(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be in [1, 1000]"})
			return
		}
		limit = v
	}

	if s.trades != nil {
		trades, err := s.trades.RecentTrades(c.Request.Context(), s.cfg.Symbol, limit)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"trades": trades})
			return
		}
		s.logger.Warn().Err(err).Msg("trade query failed, serving in-memory log")
	}

	trades := s.control.Trades()
	if len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleMetrics(c *gin.Context) {
	status, ok := s.snapshots.Status(c.Request.Context(), s.cfg.Symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no status yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance":        status.Balance,
		"suspended":      status.Suspended,
		"open_positions": len(status.Positions),
		"filter_trend":   status.FilterTrend,
		"indicators":     status.Snapshot,
	})
}

func (s *Server) handlePanic(c *gin.Context) {
	closed, err := s.control.PanicClose(s.panicFn, time.Now().UnixMilli())
	resp := gin.H{"closed": closed, "suspended": true}
	if err != nil {
		resp["error"] = err.Error()
		c.JSON(http.StatusMultiStatus, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleResume(c *gin.Context) {
	s.control.Resume()
	c.JSON(http.StatusOK, gin.H{"suspended": false})
}
