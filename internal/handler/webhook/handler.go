package webhook

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/medsolicita/case-api/pkg/logger"
)

// Reconciler resolves a gateway payment ID against the case it belongs to.
type Reconciler interface {
	ReconcilePayment(ctx context.Context, paymentID string) error
}

type Handler struct {
	reconciler Reconciler
	logger     *logger.Logger
}

func NewHandler(reconciler Reconciler, log *logger.Logger) *Handler {
	return &Handler{reconciler: reconciler, logger: log}
}

// RegisterRoutes mounts the unauthenticated gateway notification endpoint.
// MercadoPago retries deliveries that don't get a 2xx, so both verbs are
// accepted and the handler always acknowledges.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/mercadopago/notification", h.Notification)
	r.GET("/mercadopago/notification", h.Notification)
}

// notificationBody covers the shapes MercadoPago sends: the legacy IPN form
// with a top-level id and the newer webhook form with data.id.
type notificationBody struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	ID    any    `json:"id"`
	Data  struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (h *Handler) Notification(c *gin.Context) {
	topic := c.Query("topic")
	if topic == "" {
		topic = c.Query("type")
	}
	paymentID := c.Query("id")
	if paymentID == "" {
		paymentID = c.Query("data.id")
	}

	if topic == "" || paymentID == "" {
		var body notificationBody
		if err := c.ShouldBindJSON(&body); err == nil {
			if topic == "" {
				topic = body.Topic
				if topic == "" {
					topic = body.Type
				}
			}
			if paymentID == "" {
				paymentID = stringID(body.ID)
				if paymentID == "" {
					paymentID = body.Data.ID
				}
			}
		}
	}

	if topic != "payment" || paymentID == "" {
		h.logger.Debug("ignoring gateway notification", "topic", topic)
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}

	if err := h.reconciler.ReconcilePayment(c.Request.Context(), paymentID); err != nil {
		// Ack anyway: the poll path and gateway retries will catch up.
		h.logger.Error(err, "failed to reconcile payment notification",
			"payment_id", paymentID)
	}

	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

func stringID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatInt(int64(id), 10)
	}
	return ""
}
