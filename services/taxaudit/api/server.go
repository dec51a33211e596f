// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves diagnostics and stored reports over HTTP.
//
// Routes:
//
//	GET  /v1/health
//	POST /v1/diagnostics     run a full buy/sell diagnostic
//	POST /v1/inspections     static diagnosis from on-chain state
//	GET  /v1/reports         stored report summaries, newest first
//	GET  /v1/reports/:id     one stored report
//	GET  /metrics            Prometheus scrape endpoint
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/AleutianAI/feeaudit/pkg/logging"
	"github.com/AleutianAI/feeaudit/pkg/validation"
	"github.com/AleutianAI/feeaudit/services/taxaudit/report"
	"github.com/AleutianAI/feeaudit/services/taxaudit/scenario"
	"github.com/AleutianAI/feeaudit/services/taxaudit/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// ServiceName labels HTTP spans.
const ServiceName = "feeaudit-api"

// DefaultListLimit caps GET /v1/reports when no limit is given.
const DefaultListLimit = 50

// Diagnoser runs diagnostics. *scenario.Runner implements it.
type Diagnoser interface {
	RunFullDiagnostic(ctx context.Context, p scenario.DiagnosticParams) (*scenario.FullReport, error)
	Inspect(ctx context.Context, trader common.Address) (*scenario.Inspection, error)
}

// Reports stores documents. *store.ReportStore implements it.
type Reports interface {
	Save(ctx context.Context, doc report.Document) error
	Get(ctx context.Context, id string) (report.Document, error)
	List(ctx context.Context, limit int) ([]report.Summary, error)
}

// Deps are the server's collaborators. Metrics may be nil.
type Deps struct {
	Diagnoser Diagnoser
	Reports   Reports
	Metrics   http.Handler
	Logger    *logging.Logger

	// Source is recorded on every document ("simulation" or "chain").
	Source string
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error  string           `json:"error"`
	Report *report.Document `json:"report,omitempty"`
}

// NewRouter builds the gin engine with tracing, recovery and request logging.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	h := &handlers{deps: deps}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(ServiceName))
	router.Use(requestLogger(deps.Logger))

	router.GET("/v1/health", h.health)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	v1 := router.Group("/v1")
	{
		v1.POST("/diagnostics", h.runDiagnostic)
		v1.POST("/inspections", h.inspect)
		v1.GET("/reports", h.listReports)
		v1.GET("/reports/:id", h.getReport)
	}
	return router
}

func requestLogger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

type handlers struct {
	deps Deps
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// diagnosticRequest is the body of POST /v1/diagnostics. Amounts are
// decimal strings in base units.
type diagnosticRequest struct {
	Trader     string `json:"trader" binding:"required,eth_addr"`
	BuyAmount  string `json:"buy_amount" binding:"required,numeric"`
	SellAmount string `json:"sell_amount" binding:"omitempty,numeric"`
	NaiveSell  bool   `json:"naive_sell"`
	PinState   bool   `json:"pin_state"`
}

func (h *handlers) runDiagnostic(c *gin.Context) {
	var req diagnosticRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	buy, err := validation.ParseAmount(req.BuyAmount)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "buy_amount: " + err.Error()})
		return
	}
	params := scenario.DiagnosticParams{
		Trader:    common.HexToAddress(req.Trader),
		BuyAmount: buy,
		NaiveSell: req.NaiveSell,
		PinState:  req.PinState,
	}
	if req.SellAmount != "" {
		if params.SellAmount, err = validation.ParseAmount(req.SellAmount); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "sell_amount: " + err.Error()})
			return
		}
	}

	ctx := c.Request.Context()
	full, runErr := h.deps.Diagnoser.RunFullDiagnostic(ctx, params)
	if full == nil {
		c.JSON(statusFor(runErr), errorResponse{Error: runErr.Error()})
		return
	}

	doc := report.FromFullReport(full, runErr)
	doc.Source = h.deps.Source
	if err := h.deps.Reports.Save(ctx, doc); err != nil {
		h.deps.Logger.Error("save report failed", "report_id", doc.ID, "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "save report: " + err.Error(), Report: &doc})
		return
	}
	if runErr != nil {
		c.JSON(statusFor(runErr), errorResponse{Error: runErr.Error(), Report: &doc})
		return
	}
	c.JSON(http.StatusCreated, doc)
}

type inspectRequest struct {
	Trader string `json:"trader" binding:"required,eth_addr"`
}

func (h *handlers) inspect(c *gin.Context) {
	var req inspectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	ctx := c.Request.Context()
	in, err := h.deps.Diagnoser.Inspect(ctx, common.HexToAddress(req.Trader))
	if err != nil {
		c.JSON(statusFor(err), errorResponse{Error: err.Error()})
		return
	}
	doc := report.FromInspection(uuid.NewString(), time.Now().UTC(), in)
	doc.Source = h.deps.Source
	if err := h.deps.Reports.Save(ctx, doc); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "save report: " + err.Error(), Report: &doc})
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (h *handlers) listReports(c *gin.Context) {
	limit := DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	items, err := h.deps.Reports.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if items == nil {
		items = []report.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"reports": items})
}

func (h *handlers) getReport(c *gin.Context) {
	doc, err := h.deps.Reports.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// statusFor maps runner errors to HTTP status codes.
func statusFor(err error) int {
	var te *scenario.TimeoutError
	var ge *scenario.GatewayError
	switch {
	case errors.Is(err, scenario.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.As(err, &te), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &ge):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
