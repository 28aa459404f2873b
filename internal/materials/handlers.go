package materials

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for the materials flow.
type Handler struct {
	svc *Service
}

// NewHandler creates a new materials handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up materials routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/jobs/:jobId/materials", h.Open)
	r.POST("/materials/:requestId/receipts", h.SubmitReceipts)
	r.POST("/materials/:requestId/release", h.ReleaseReimbursement)
	r.GET("/materials/:requestId", h.Get)
}

type openRequest struct {
	PayerUserID      string `json:"payerUserId" binding:"required"`
	ContractorUserID string `json:"contractorUserId" binding:"required"`
	BudgetCents      int64  `json:"budgetCents" binding:"required"`
	Currency         string `json:"currency"`
	PaymentRef       string `json:"paymentRef" binding:"required"`
}

// Open handles POST /v1/jobs/:jobId/materials
func (h *Handler) Open(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "payerUserId, contractorUserId, budgetCents and paymentRef are required",
		})
		return
	}
	if req.Currency == "" {
		req.Currency = "usd"
	}

	r, err := h.svc.Open(c.Request.Context(), c.Param("jobId"), req.PayerUserID, req.ContractorUserID, req.BudgetCents, req.Currency, req.PaymentRef)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "open_rejected",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, r)
}

type receiptsRequest struct {
	ActorID    string `json:"actorId" binding:"required"`
	TotalCents int64  `json:"totalCents" binding:"required"`
}

// SubmitReceipts handles POST /v1/materials/:requestId/receipts
func (h *Handler) SubmitReceipts(c *gin.Context) {
	var req receiptsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "actorId and totalCents are required",
		})
		return
	}

	r, err := h.svc.SubmitReceipts(c.Request.Context(), c.Param("requestId"), req.ActorID, req.TotalCents)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "receipts_rejected",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, r)
}

type releaseRequest struct {
	ActorID string `json:"actorId" binding:"required"`
}

// ReleaseReimbursement handles POST /v1/materials/:requestId/release
func (h *Handler) ReleaseReimbursement(c *gin.Context) {
	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "actorId is required",
		})
		return
	}

	result, err := h.svc.ReleaseReimbursement(c.Request.Context(), c.Param("requestId"), req.ActorID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "reimbursement_failed",
			"message": "Reimbursement aborted, see server logs",
		})
		return
	}

	c.JSON(statusForKind(result.Kind), result)
}

// Get handles GET /v1/materials/:requestId
func (h *Handler) Get(c *gin.Context) {
	r, err := h.svc.Get(c.Request.Context(), c.Param("requestId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Materials request not found",
		})
		return
	}
	c.JSON(http.StatusOK, r)
}

func statusForKind(kind ResultKind) int {
	switch kind {
	case ResultOK, ResultAlready:
		return http.StatusOK
	case ResultNotFound:
		return http.StatusNotFound
	case ResultForbidden:
		return http.StatusForbidden
	default:
		return http.StatusConflict
	}
}
