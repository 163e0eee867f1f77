// Package server exposes the HTTP surface: the expense-report webhook, the
// review queue, and the human reset action.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Veraticus/the-ledger-must-flow/internal/common"
	"github.com/Veraticus/the-ledger-must-flow/internal/dispatch"
	"github.com/Veraticus/the-ledger-must-flow/internal/intake"
	"github.com/Veraticus/the-ledger-must-flow/internal/lifecycle"
	"github.com/Veraticus/the-ledger-must-flow/internal/receipts"
	"github.com/Veraticus/the-ledger-must-flow/internal/service"
)

// maxReceiptBytes bounds receipt uploads at 20 MiB.
const maxReceiptBytes = 20 << 20

// Config tunes the HTTP server.
type Config struct {
	Addr           string
	AllowedOrigins []string
}

// Server wires the intake, dispatch, and review surfaces behind gin.
type Server struct {
	engine       *gin.Engine
	storage      service.Storage
	receiptStore service.ReceiptStore
	normalizer   *intake.Normalizer
	dispatcher   *dispatch.Dispatcher
	controller   *lifecycle.Controller
	logger       *slog.Logger
	addr         string

	// baseCtx scopes background processing kicked off by webhooks so it is
	// not canceled when the originating request completes.
	baseCtx context.Context
}

// New creates the HTTP server.
func New(
	cfg Config,
	storage service.Storage,
	receiptStore service.ReceiptStore,
	normalizer *intake.Normalizer,
	dispatcher *dispatch.Dispatcher,
	controller *lifecycle.Controller,
) *Server {
	s := &Server{
		storage:      storage,
		receiptStore: receiptStore,
		normalizer:   normalizer,
		dispatcher:   dispatcher,
		controller:   controller,
		logger:       slog.Default().With("component", "server"),
		addr:         cfg.Addr,
		baseCtx:      context.Background(),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	engine.GET("/healthz", s.healthz)
	engine.POST("/webhooks/expense-report", s.handleExpenseReport)
	engine.GET("/review", s.handleReview)
	engine.POST("/expenses/:id/reset", s.handleReset)
	engine.POST("/expenses/:id/receipt", s.handleReceiptUpload)

	s.engine = engine
	return s
}

// Run starts serving until the listener fails.
func (s *Server) Run() error {
	s.logger.Info("Server starting", "addr", s.addr)
	return s.engine.Run(s.addr)
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleExpenseReport ingests an expense-report event and kicks off
// background processing for every newly created expense. Redelivery of the
// same report is safe: entries that already advanced are acknowledged
// without reprocessing.
func (s *Server) handleExpenseReport(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	report, err := intake.ParseReport(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := s.normalizer.Ingest(c.Request.Context(), report)
	if err != nil {
		s.logger.Error("Report ingestion failed",
			"report_id", report.ReportID,
			"error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingestion failed"})
		return
	}

	entries := make([]gin.H, 0, len(results))
	for _, result := range results {
		entry := gin.H{
			"external_id": result.ExternalID,
			"disposition": string(result.Disposition),
		}
		if result.Err != nil {
			entry["error"] = result.Err.Error()
		}
		entries = append(entries, entry)

		// Exactly one dispatch per new insert; everything else is already
		// owned by a prior delivery.
		if result.Disposition == intake.DispositionCreated {
			expenseID := result.ExpenseID
			go func() {
				if _, derr := s.dispatcher.OnExpenseReady(s.baseCtx, expenseID); derr != nil {
					s.logger.Warn("Background processing incomplete",
						"expense_id", expenseID,
						"error", derr)
				}
			}()
		}
	}

	c.JSON(http.StatusAccepted, gin.H{
		"report_id": report.ReportID,
		"entries":   entries,
	})
}

// handleReview returns the flagged-expense queue, newest first.
func (s *Server) handleReview(c *gin.Context) {
	expenses, err := s.storage.GetFlaggedExpenses(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to load review queue", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load review queue"})
		return
	}

	items := make([]gin.H, 0, len(expenses))
	for _, exp := range expenses {
		item := gin.H{
			"id":           exp.ID,
			"external_id":  exp.ExternalID,
			"date":         exp.Date.Format("2006-01-02"),
			"amount_cents": exp.AmountCents,
			"merchant":     exp.Merchant,
			"category":     exp.Category,
			"flag_reason":  exp.FlagReason,
			"receipt_path": exp.ReceiptPath,
		}
		if exp.Confidence != nil {
			item["confidence"] = *exp.Confidence
		}
		items = append(items, item)
	}

	c.JSON(http.StatusOK, gin.H{"expenses": items})
}

// handleReset moves a flagged expense back to pending on explicit human
// request and immediately queues it for reprocessing.
func (s *Server) handleReset(c *gin.Context) {
	id := c.Param("id")

	reset, err := s.controller.Reset(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "expense not found"})
			return
		}
		s.logger.Error("Reset failed", "expense_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset failed"})
		return
	}
	if !reset {
		c.JSON(http.StatusConflict, gin.H{"error": "expense is not flagged"})
		return
	}

	go func() {
		if _, derr := s.dispatcher.OnExpenseReady(s.baseCtx, id); derr != nil {
			s.logger.Warn("Reprocessing after reset incomplete",
				"expense_id", id,
				"error", derr)
		}
	}()

	c.JSON(http.StatusOK, gin.H{"id": id, "status": "pending"})
}

// handleReceiptUpload stores a receipt binary and records its location on
// the expense.
func (s *Server) handleReceiptUpload(c *gin.Context) {
	id := c.Param("id")

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxReceiptBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read receipt body"})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "receipt body is empty"})
		return
	}
	if len(data) > maxReceiptBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "receipt exceeds size limit"})
		return
	}

	contentType := receipts.NormalizeContentType(c.GetHeader("Content-Type"))

	path, err := s.receiptStore.Store(c.Request.Context(), data, contentType)
	if err != nil {
		s.logger.Error("Receipt store failed", "expense_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store receipt"})
		return
	}

	if err := s.storage.AttachReceipt(c.Request.Context(), id, path, contentType); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "expense not found"})
			return
		}
		s.logger.Error("Receipt attach failed", "expense_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to attach receipt"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "receipt_path": path})
}
