package payout

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for the release engine.
type Handler struct {
	svc *Service
}

// NewHandler creates a new payout handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up release routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/jobs/:jobId/release", h.ReleaseJobFunds)
	r.GET("/jobs/:jobId/transfers", h.ListTransfers)
}

type releaseRequest struct {
	ActorID string `json:"actorId" binding:"required"`
}

// ReleaseJobFunds handles POST /v1/jobs/:jobId/release
func (h *Handler) ReleaseJobFunds(c *gin.Context) {
	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "actorId is required",
		})
		return
	}

	result, err := h.svc.ReleaseJobFunds(c.Request.Context(), c.Param("jobId"), req.ActorID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "release_failed",
			"message": "Release aborted, see server logs",
		})
		return
	}

	c.JSON(statusForResult(result), result)
}

// ListTransfers handles GET /v1/jobs/:jobId/transfers
func (h *Handler) ListTransfers(c *gin.Context) {
	legs, err := h.svc.ListByJob(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "transfer_read_failed",
			"message": "Failed to read transfer records",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobId": c.Param("jobId"), "legs": legs})
}

// statusForResult maps engine result codes onto HTTP statuses. The engine
// itself stays transport-agnostic; this is the only translation point.
func statusForResult(r *ReleaseResult) int {
	if r.OK {
		return http.StatusOK
	}
	switch r.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeBadTransferState:
		return http.StatusInternalServerError
	case CodeTransferFailed:
		return http.StatusBadGateway
	default:
		return http.StatusConflict
	}
}
