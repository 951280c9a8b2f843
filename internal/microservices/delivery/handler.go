package delivery

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const InternalKeyHeader = "X-Internal-Key"

type Handler struct {
	notifier *Notifier
}

func NewHandler(n *Notifier) *Handler {
	return &Handler{notifier: n}
}

// RegisterRoutes mounts the notify endpoints used by the HTTP API.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/deliveries", h.PostDelivery)
	rg.POST("/offers/accepted", h.PostOfferAccepted)
	rg.POST("/alerts", h.PostAlert)
}

func (h *Handler) PostDelivery(c *gin.Context) {
	var offer Offer
	if err := c.ShouldBindJSON(&offer); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	delivered, err := h.notifier.NewDelivery(offer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"delivered": delivered})
}

func (h *Handler) PostOfferAccepted(c *gin.Context) {
	var acceptance Acceptance
	if err := c.ShouldBindJSON(&acceptance); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.notifier.OfferAccepted(acceptance); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handler) PostAlert(c *gin.Context) {
	var alert Alert
	if err := c.ShouldBindJSON(&alert); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	delivered, err := h.notifier.AdminAlert(alert)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"delivered": delivered})
}

// RequireInternalKey guards the notify routes with a shared key. An empty
// key leaves the routes open (local development).
func RequireInternalKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}
		got := c.GetHeader(InternalKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid internal key"})
			c.Abort()
			return
		}
		c.Next()
	}
}
