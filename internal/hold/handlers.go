package hold

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for hold enforcement.
type Handler struct {
	svc *Service
}

// NewHandler creates a new hold handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up hold routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/jobs/:jobId/holds", h.Place)
	r.GET("/jobs/:jobId/holds", h.ListByJob)
	r.POST("/holds/:holdId/release", h.Release)
}

type placeRequest struct {
	Reason  Reason `json:"reason" binding:"required"`
	ActorID string `json:"actorId" binding:"required"`
	Note    string `json:"note"`
}

// Place handles POST /v1/jobs/:jobId/holds
func (h *Handler) Place(c *gin.Context) {
	var req placeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reason and actorId are required",
		})
		return
	}

	hd, err := h.svc.Place(c.Request.Context(), c.Param("jobId"), req.Reason, req.ActorID, req.Note)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "hold_rejected",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, hd)
}

// ListByJob handles GET /v1/jobs/:jobId/holds
func (h *Handler) ListByJob(c *gin.Context) {
	holds, err := h.svc.ListByJob(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "hold_read_failed",
			"message": "Failed to read holds",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobId": c.Param("jobId"), "holds": holds})
}

type releaseHoldRequest struct {
	ActorID string `json:"actorId" binding:"required"`
	Note    string `json:"note"`
}

// Release handles POST /v1/holds/:holdId/release
func (h *Handler) Release(c *gin.Context) {
	var req releaseHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "actorId is required",
		})
		return
	}

	hd, err := h.svc.Release(c.Request.Context(), c.Param("holdId"), req.ActorID, req.Note)
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Hold not found"})
	case errors.Is(err, ErrAlreadyReleased):
		c.JSON(http.StatusConflict, gin.H{"error": "already_released", "message": "Hold was already released"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "release_failed", "message": "Failed to release hold"})
	default:
		c.JSON(http.StatusOK, hd)
	}
}
