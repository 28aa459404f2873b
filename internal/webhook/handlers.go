package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

const maxBodyBytes = 1 << 16

// Handler receives provider deliveries over HTTP.
type Handler struct {
	processor     *Processor
	signingSecret string
}

// NewHandler creates a webhook HTTP handler. With an empty signing secret,
// signature verification is skipped (development mode only).
func NewHandler(processor *Processor, signingSecret string) *Handler {
	return &Handler{processor: processor, signingSecret: signingSecret}
}

// RegisterRoutes sets up the webhook endpoint.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.HandleStripe)
}

// HandleStripe handles POST /webhooks/stripe
func (h *Handler) HandleStripe(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
		return
	}

	var event stripe.Event
	if h.signingSecret != "" {
		event, err = webhook.ConstructEventWithOptions(payload, c.GetHeader("Stripe-Signature"), h.signingSecret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature"})
			return
		}
	} else if err := json.Unmarshal(payload, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	var object map[string]any
	if event.Data != nil {
		object = event.Data.Object
	}
	if event.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	outcome, err := h.processor.Process(c.Request.Context(), event.ID, string(event.Type), intentRef(string(event.Type), object))
	if err != nil {
		// Non-2xx makes the provider redeliver; the claim table keeps the
		// retry from double-processing once it eventually succeeds.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing_failed"})
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// intentRef digs the payment intent id out of the event payload. Succeeded
// events carry the intent as the object itself; refunds reference it from
// the charge.
func intentRef(eventType string, object map[string]any) string {
	switch eventType {
	case EventPaymentSucceeded:
		if id, ok := object["id"].(string); ok {
			return id
		}
	case EventChargeRefunded:
		if id, ok := object["payment_intent"].(string); ok {
			return id
		}
	}
	return ""
}
