package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/tabsplit/internal/bill"
	"github.com/MarcoPoloResearchLab/tabsplit/internal/protocol"
	"github.com/MarcoPoloResearchLab/tabsplit/internal/receipts"
	"github.com/MarcoPoloResearchLab/tabsplit/internal/sessions"
)

const receiptFormField = "receipt"

var (
	errMissingSessionService = errors.New("session service dependency required")
	errMissingReceiptService = errors.New("receipt service dependency required")
	errMissingHub            = errors.New("realtime hub dependency required")
)

// SessionService is the session store the HTTP and channel handlers drive.
type SessionService interface {
	Create(ctx context.Context, adminSecret string) (bill.Session, error)
	Get(ctx context.Context, sessionID string) (bill.Session, error)
	VerifySecret(ctx context.Context, sessionID, candidate string) (bool, error)
	ApplyUpdate(ctx context.Context, sessionID string, patch bill.Patch) (bill.Session, error)
}

// ReceiptParser turns an uploaded image into items.
type ReceiptParser interface {
	Parse(ctx context.Context, image []byte) ([]bill.Item, receipts.Outcome)
	MaxImageBytes() int64
}

type Dependencies struct {
	Sessions       SessionService
	Receipts       ReceiptParser
	Hub            *Hub
	Metrics        *Metrics
	MetricsHandler http.Handler
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionService
	}
	if deps.Receipts == nil {
		return nil, errMissingReceiptService
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions: deps.Sessions,
		receipts: deps.Receipts,
		metrics:  deps.Metrics,
		logger:   logger,
	}
	channel := newChannelHandler(deps.Hub, deps.Sessions, deps.Metrics, logger, deps.AllowedOrigins)

	router.GET("/healthz", handler.handleHealth)
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}
	router.GET("/ws", channel.handle)

	api := router.Group("/api")
	api.POST("/create-session", handler.handleCreateSession)
	api.GET("/session/:id", handler.handleGetSession)
	api.POST("/session/:id/verify", handler.handleVerifySecret)
	api.POST("/parse-receipt", handler.handleParseReceipt)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

type httpHandler struct {
	sessions SessionService
	receipts ReceiptParser
	metrics  *Metrics
	logger   *zap.Logger
}

type createSessionRequest struct {
	AdminPin string `json:"adminPin"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

type verifyRequest struct {
	Pin string `json:"pin"`
}

type verifyResponse struct {
	Success bool `json:"success"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleCreateSession(c *gin.Context) {
	var request createSessionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, err := h.sessions.Create(c.Request.Context(), request.AdminPin)
	if err != nil {
		h.respondError(c, "create session failed", err)
		return
	}
	c.JSON(http.StatusOK, createSessionResponse{SessionID: session.ID})
}

func (h *httpHandler) handleGetSession(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "fetch session failed", err)
		return
	}
	c.JSON(http.StatusOK, protocol.NewSessionPayload(session))
}

func (h *httpHandler) handleVerifySecret(c *gin.Context) {
	var request verifyRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	ok, err := h.sessions.VerifySecret(c.Request.Context(), c.Param("id"), request.Pin)
	if err != nil {
		h.respondError(c, "verify secret failed", err)
		return
	}
	if !ok {
		h.respondError(c, "verify secret rejected", sessions.ErrIncorrectSecret)
		return
	}
	c.JSON(http.StatusOK, verifyResponse{Success: true})
}

func (h *httpHandler) handleParseReceipt(c *gin.Context) {
	limit := h.receipts.MaxImageBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+1<<20)

	fileHeader, err := c.FormFile(receiptFormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "receipt_too_large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_receipt"})
		return
	}
	if fileHeader.Size > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "receipt_too_large"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("open receipt upload failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_receipt"})
		return
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		h.logger.Error("read receipt upload failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_receipt"})
		return
	}

	items, outcome := h.receipts.Parse(c.Request.Context(), image)
	h.metrics.receiptParsed(string(outcome))
	c.JSON(http.StatusOK, items)
}

func (h *httpHandler) respondError(c *gin.Context, message string, err error) {
	switch sessions.Classify(err) {
	case sessions.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
	case sessions.KindInvalidInput:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input"})
	case sessions.KindUnauthorized:
		c.JSON(http.StatusUnauthorized, verifyResponse{Success: false})
	default:
		h.logger.Error(message, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
