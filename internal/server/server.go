// Package server is the HTTP facade the UI collaborators talk to. It owns
// no state of its own: every handler adapts a core read or a core
// operation, and every response is built from value copies.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianhft/deskrisk/internal/audit"
	"github.com/meridianhft/deskrisk/internal/desk"
	"github.com/meridianhft/deskrisk/internal/ledger"
	"github.com/meridianhft/deskrisk/internal/pricecache"
	"github.com/meridianhft/deskrisk/internal/risk"
	"github.com/meridianhft/deskrisk/internal/scenario"
)

// Server hosts the REST surface.
type Server struct {
	log    *zap.Logger
	desk   *desk.Desk
	limits *risk.LimitRegistry
	blocks *risk.BlockList
	prices *pricecache.Cache
	trail  *audit.Log
	http   *http.Server
}

func New(addr string, d *desk.Desk, limits *risk.LimitRegistry, blocks *risk.BlockList, prices *pricecache.Cache, trail *audit.Log, log *zap.Logger) *Server {
	s := &Server{
		log:    log,
		desk:   d,
		limits: limits,
		blocks: blocks,
		prices: prices,
		trail:  trail,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(log, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(log, true))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", s.submitOrder)
		v1.DELETE("/orders/:id", s.cancelOrder)
		v1.GET("/orders", s.listOrders)
		v1.GET("/trades", s.listTrades)
		v1.GET("/positions", s.listPositions)

		v1.GET("/snapshot", s.getSnapshot)
		v1.GET("/groups", s.getGroups)
		v1.GET("/desk-metrics", s.getDeskMetrics)
		v1.GET("/carry", s.getCarry)

		v1.GET("/tree", s.getTree)
		v1.POST("/shock", s.runShock)

		v1.PUT("/limits", s.overrideLimit)
		v1.GET("/limit-overrides", s.listOverrides)
		v1.POST("/blocks", s.addBlock)
		v1.DELETE("/blocks", s.removeBlock)

		v1.POST("/prices/:symbol", s.updatePrice)
		v1.GET("/audit", s.listAudit)
	}

	s.http = &http.Server{Addr: addr, Handler: router}
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.log.Info("http server listening", zap.String("addr", s.http.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) submitOrder(c *gin.Context) {
	var req ledger.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, gate, err := s.desk.SubmitOrder(req)
	if err != nil {
		var vErr *ledger.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !gate.Passed {
		c.JSON(http.StatusForbidden, gin.H{"gate": gate})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order, "gate": gate})
}

func (s *Server) cancelOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	s.desk.CancelOrder(id)
	c.Status(http.StatusNoContent)
}

func (s *Server) listOrders(c *gin.Context) {
	c.JSON(http.StatusOK, s.desk.Ledger().Orders())
}

func (s *Server) listTrades(c *gin.Context) {
	c.JSON(http.StatusOK, s.desk.Ledger().Trades())
}

func (s *Server) listPositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.desk.Ledger().Positions())
}

func (s *Server) getSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.desk.Valuator().Current())
}

func (s *Server) getGroups(c *gin.Context) {
	c.JSON(http.StatusOK, s.desk.Valuator().Current().Groups)
}

func (s *Server) getDeskMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.desk.Valuator().Current().Metrics)
}

func (s *Server) getCarry(c *gin.Context) {
	c.JSON(http.StatusOK, s.desk.Valuator().Current().Carry)
}

func (s *Server) getTree(c *gin.Context) {
	tree, snap := s.desk.Risk().Tree()
	if tree == nil {
		c.JSON(http.StatusOK, gin.H{"tree": nil, "version": 0})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tree": tree, "version": snap.Version})
}

func (s *Server) runShock(c *gin.Context) {
	var sc scenario.Scenario
	if err := c.ShouldBindJSON(&sc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.desk.RunShock(sc))
}

type limitOverrideRequest struct {
	Type     string          `json:"type" binding:"required"`
	EntityID string          `json:"entity_id" binding:"required"`
	NewLimit decimal.Decimal `json:"new_limit" binding:"required"`
	User     string          `json:"user" binding:"required"`
	Reason   string          `json:"reason" binding:"required"`
}

func (s *Server) overrideLimit(c *gin.Context) {
	var req limitOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ov := s.limits.Override(req.Type, req.EntityID, req.NewLimit, req.User, req.Reason)
	c.JSON(http.StatusOK, ov)
}

func (s *Server) listOverrides(c *gin.Context) {
	c.JSON(http.StatusOK, s.limits.Overrides())
}

type blockRequest struct {
	StrategyID string `json:"strategy_id" binding:"required"`
	Instrument string `json:"instrument" binding:"required"`
}

func (s *Server) addBlock(c *gin.Context) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.blocks.Block(req.StrategyID, req.Instrument)
	c.Status(http.StatusNoContent)
}

func (s *Server) removeBlock(c *gin.Context) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.blocks.Unblock(req.StrategyID, req.Instrument)
	c.Status(http.StatusNoContent)
}

func (s *Server) updatePrice(c *gin.Context) {
	var q pricecache.Quote
	if err := c.ShouldBindJSON(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.prices.Update(c.Param("symbol"), q)
	c.Status(http.StatusNoContent)
}

func (s *Server) listAudit(c *gin.Context) {
	if kind := c.Query("kind"); kind != "" {
		c.JSON(http.StatusOK, s.trail.EventsByKind(kind))
		return
	}
	c.JSON(http.StatusOK, s.trail.Events())
}
