package webhooks

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/solsentry/solsentry/internal/idgen"
	"github.com/solsentry/solsentry/internal/security"
)

// Handler provides HTTP endpoints for webhook management.
type Handler struct {
	store       Store
	validateURL func(string) error
}

// NewHandler creates a new webhook handler.
func NewHandler(store Store) *Handler {
	return &Handler{
		store:       store,
		validateURL: security.ValidateUpstreamURL,
	}
}

// RegisterRoutes sets up webhook management routes. These are free:
// registration is account plumbing, not intelligence.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks", h.CreateWebhook)
	r.GET("/subscribers/:owner/webhooks", h.ListWebhooks)
	r.DELETE("/webhooks/:webhookId", h.DeleteWebhook)
}

// CreateWebhookRequest for creating a webhook subscription.
type CreateWebhookRequest struct {
	Owner     string   `json:"owner" binding:"required"`
	URL       string   `json:"url" binding:"required"`
	Events    []string `json:"events" binding:"required"`
	Protocols []string `json:"protocols"`
}

var validEvents = map[EventType]bool{
	EventExploitDetected:     true,
	EventBreakerStateChanged: true,
}

// CreateWebhook handles POST /webhooks
func (h *Handler) CreateWebhook(c *gin.Context) {
	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	// Subscriber URLs are attacker-controlled input; refuse internal targets.
	if err := h.validateURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_url",
			"message": err.Error(),
		})
		return
	}

	events := make([]EventType, 0, len(req.Events))
	for _, e := range req.Events {
		et := EventType(e)
		if !validEvents[et] {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_event",
				"message": "Unknown event type: " + e,
			})
			return
		}
		events = append(events, et)
	}

	secret := idgen.Hex(32)
	sub := &Subscription{
		ID:        idgen.WithPrefix("wh_"),
		Owner:     req.Owner,
		URL:       req.URL,
		Secret:    secret,
		Events:    events,
		Protocols: req.Protocols,
		Active:    true,
		CreatedAt: time.Now(),
	}

	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to create webhook",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": gin.H{
			"id":        sub.ID,
			"url":       sub.URL,
			"events":    sub.Events,
			"protocols": sub.Protocols,
			"active":    sub.Active,
			"createdAt": sub.CreatedAt,
		},
		"secret": secret, // Only shown once!
		"usage": gin.H{
			"signature": "Verify with HMAC-SHA256(payload, secret)",
			"header":    "X-SolSentry-Signature",
		},
	})
}

// ListWebhooks handles GET /subscribers/:owner/webhooks
func (h *Handler) ListWebhooks(c *gin.Context) {
	owner := c.Param("owner")

	subs, err := h.store.GetByOwner(c.Request.Context(), owner)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list webhooks",
		})
		return
	}

	// Don't expose secrets
	webhooks := make([]gin.H, len(subs))
	for i, sub := range subs {
		webhooks[i] = gin.H{
			"id":          sub.ID,
			"url":         sub.URL,
			"events":      sub.Events,
			"protocols":   sub.Protocols,
			"active":      sub.Active,
			"createdAt":   sub.CreatedAt,
			"lastSuccess": sub.LastSuccess,
			"lastError":   sub.LastError,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"webhooks": webhooks,
	})
}

// DeleteWebhook handles DELETE /webhooks/:webhookId
func (h *Handler) DeleteWebhook(c *gin.Context) {
	webhookID := c.Param("webhookId")

	if err := h.store.Delete(c.Request.Context(), webhookID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "delete_failed",
			"message": "Failed to delete webhook",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "deleted",
		"message": "Webhook deleted",
	})
}
