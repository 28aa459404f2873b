package escrow

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for escrows.
type Handler struct {
	svc *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.Create)
	r.POST("/escrows/:escrowId/fund", h.Fund)
	r.GET("/escrows/:escrowId", h.Get)
}

type createRequest struct {
	JobID       string `json:"jobId" binding:"required"`
	Kind        string `json:"kind" binding:"required"`
	PayerUserID string `json:"payerUserId" binding:"required"`
	AmountCents int64  `json:"amountCents" binding:"required"`
	Currency    string `json:"currency"`
	PaymentRef  string `json:"paymentRef" binding:"required"`
}

// Create handles POST /v1/escrows
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "jobId, kind, payerUserId, amountCents and paymentRef are required",
		})
		return
	}
	kind := Kind(req.Kind)
	if kind != KindJob && kind != KindMaterials {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "kind must be JOB_ESCROW or MATERIALS",
		})
		return
	}
	if req.Currency == "" {
		req.Currency = "usd"
	}

	esc, err := h.svc.Create(c.Request.Context(), req.JobID, kind, req.PayerUserID, req.AmountCents, req.Currency, req.PaymentRef)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "create_rejected",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, esc)
}

type fundRequest struct {
	PaymentRef string `json:"paymentRef" binding:"required"`
	Kind       string `json:"kind" binding:"required"`
}

// Fund handles POST /v1/escrows/:escrowId/fund
func (h *Handler) Fund(c *gin.Context) {
	var req fundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "paymentRef and kind are required",
		})
		return
	}

	outcome, err := h.svc.Fund(c.Request.Context(), c.Param("escrowId"), req.PaymentRef, Kind(req.Kind))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Escrow not found"})
		case errors.Is(err, ErrKindMismatch):
			c.JSON(http.StatusConflict, gin.H{"error": "kind_mismatch", "message": err.Error()})
		default:
			c.JSON(http.StatusConflict, gin.H{"error": "fund_rejected", "message": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// Get handles GET /v1/escrows/:escrowId
func (h *Handler) Get(c *gin.Context) {
	esc, err := h.svc.Get(c.Request.Context(), c.Param("escrowId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Escrow not found",
		})
		return
	}
	c.JSON(http.StatusOK, esc)
}
