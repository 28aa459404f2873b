package reward

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for router rewards.
type Handler struct {
	svc *Service
}

// NewHandler creates a new reward handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up reward routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/rewards", h.Grant)
	r.GET("/rewards/:rewardId", h.Get)
	r.POST("/rewards/:rewardId/settle", h.Settle)
}

type grantRequest struct {
	RouterUserID   string `json:"routerUserId" binding:"required"`
	ReferredUserID string `json:"referredUserId" binding:"required"`
	JobID          string `json:"jobId" binding:"required"`
	AmountCents    int64  `json:"amountCents" binding:"required"`
	Currency       string `json:"currency"`
}

// Grant handles POST /v1/rewards
func (h *Handler) Grant(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "routerUserId, referredUserId, jobId and amountCents are required",
		})
		return
	}
	if req.Currency == "" {
		req.Currency = "usd"
	}

	rwd, err := h.svc.Grant(c.Request.Context(), req.RouterUserID, req.ReferredUserID, req.JobID, req.AmountCents, req.Currency)
	if err != nil {
		if errors.Is(err, ErrDuplicateReferral) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_referral",
				"message": "A reward already exists for this referred user",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "grant_rejected",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, rwd)
}

// Get handles GET /v1/rewards/:rewardId
func (h *Handler) Get(c *gin.Context) {
	rwd, err := h.svc.Get(c.Request.Context(), c.Param("rewardId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Reward not found",
		})
		return
	}
	c.JSON(http.StatusOK, rwd)
}

// Settle handles POST /v1/rewards/:rewardId/settle
func (h *Handler) Settle(c *gin.Context) {
	rwd, err := h.svc.Get(c.Request.Context(), c.Param("rewardId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Reward not found",
		})
		return
	}

	settled, reason, err := h.svc.TrySettle(c.Request.Context(), rwd)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "settle_failed",
			"message": "Settlement aborted, see server logs",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settled": settled, "reason": reason})
}
