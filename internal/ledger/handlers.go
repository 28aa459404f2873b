package ledger

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for wallet reads.
type Handler struct {
	ledger *Ledger
	audit  AuditLogger
}

// NewHandler creates a new ledger handler.
func NewHandler(ledger *Ledger, audit AuditLogger) *Handler {
	return &Handler{ledger: ledger, audit: audit}
}

// RegisterRoutes sets up wallet read routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/wallets/:userId", h.GetWalletTotals)
	r.GET("/wallets/:userId/history", h.GetHistory)
	r.GET("/audit/:entity/:entityId", h.GetAudit)
}

// GetWalletTotals handles GET /v1/wallets/:userId
func (h *Handler) GetWalletTotals(c *gin.Context) {
	userID := c.Param("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Missing user id",
		})
		return
	}

	totals, err := h.ledger.WalletTotals(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "wallet_read_failed",
			"message": "Failed to read wallet totals",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"userId": userID, "totals": totals})
}

// GetHistory handles GET /v1/wallets/:userId/history
func (h *Handler) GetHistory(c *gin.Context) {
	userID := c.Param("userId")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := h.ledger.History(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "history_read_failed",
			"message": "Failed to read ledger history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"userId": userID, "entries": entries})
}

// GetAudit handles GET /v1/audit/:entity/:entityId
func (h *Handler) GetAudit(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "audit_disabled",
			"message": "Audit log is not configured",
		})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := h.audit.QueryAudit(c.Request.Context(), c.Param("entity"), c.Param("entityId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "audit_read_failed",
			"message": "Failed to read audit log",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
