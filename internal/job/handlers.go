package job

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler exposes the job boundary for upstream systems to sync job state,
// payment records and payout accounts into the engine.
type Handler struct {
	store Store
}

// NewHandler creates a new job handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up job sync routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.PUT("/jobs/:jobId", h.PutJob)
	r.GET("/jobs/:jobId", h.GetJob)
	r.PUT("/jobs/:jobId/payment", h.PutPayment)
	r.PUT("/users/:userId/payout-account", h.PutPayoutAccount)
}

// PutJob handles PUT /v1/jobs/:jobId
func (h *Handler) PutJob(c *gin.Context) {
	var j Job
	if err := c.ShouldBindJSON(&j); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "malformed job body",
		})
		return
	}
	j.ID = c.Param("jobId")
	if j.Status == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "status is required",
		})
		return
	}
	j.UpdatedAt = time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = j.UpdatedAt
	}

	if err := h.store.Put(c.Request.Context(), &j); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to store job",
		})
		return
	}
	c.JSON(http.StatusOK, j)
}

// GetJob handles GET /v1/jobs/:jobId
func (h *Handler) GetJob(c *gin.Context) {
	j, err := h.store.Get(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Job not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load job",
		})
		return
	}
	c.JSON(http.StatusOK, j)
}

// PutPayment handles PUT /v1/jobs/:jobId/payment
func (h *Handler) PutPayment(c *gin.Context) {
	var p PaymentRecord
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "malformed payment body",
		})
		return
	}
	p.JobID = c.Param("jobId")
	if p.PayerUserID == "" || p.AmountCents <= 0 || p.Currency == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "payerUserId, positive amountCents and currency are required",
		})
		return
	}
	if p.Status == "" {
		p.Status = PaymentRequiresPayment
	}
	p.UpdatedAt = time.Now().UTC()

	if err := h.store.PutPayment(c.Request.Context(), &p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to store payment",
		})
		return
	}
	c.JSON(http.StatusOK, p)
}

// PutPayoutAccount handles PUT /v1/users/:userId/payout-account
func (h *Handler) PutPayoutAccount(c *gin.Context) {
	var a PayoutAccount
	if err := c.ShouldBindJSON(&a); err != nil || a.RailAccountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "railAccountId is required",
		})
		return
	}
	a.UserID = c.Param("userId")
	if a.Method == "" {
		a.Method = "stripe"
	}

	if err := h.store.PutPayoutAccount(c.Request.Context(), &a); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to store payout account",
		})
		return
	}
	c.JSON(http.StatusOK, a)
}
