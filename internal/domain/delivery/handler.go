package delivery

import (
	"log/slog"
	"net/http"

	"orderrelay/internal/common"
	"orderrelay/internal/domain/order"

	"github.com/gin-gonic/gin"
)

// maxOrderBody caps the inbound order JSON.
const maxOrderBody = 1 << 20

// Handler handles HTTP requests for the relay.
type Handler struct {
	dispatcher *Dispatcher
}

// NewHandler creates a new relay handler.
func NewHandler(dispatcher *Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher}
}

// SubmitOrder handles POST /api/v1/orders
// Delivers the order notification synchronously. Responds 200 when delivered,
// 202 when handed to the redelivery queue and an error status otherwise; the
// outcome is in the body in every case.
func (h *Handler) SubmitOrder(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxOrderBody)

	var payload order.Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result := h.dispatcher.SubmitOrder(c.Request.Context(), payload)

	switch {
	case result.Outcome.Success:
		common.Success(c, http.StatusOK, result)
	case result.Queued:
		common.Success(c, http.StatusAccepted, result)
	default:
		slog.Warn("order not delivered",
			"request_id", common.RequestID(c.Request.Context()),
			"kind", result.Outcome.Error,
			"reason", result.Outcome.Reason,
		)
		kind := common.DeliveryKind(result.Outcome.Error)
		common.Failure(c, common.StatusForKind(kind), result.Outcome.Error, result)
	}
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	s := h.dispatcher.Status()
	common.Success(c, http.StatusOK, gin.H{
		"status":           "ok",
		"service":          "orderrelay",
		"method":           s.Method,
		"connection_state": s.ConnectionState,
		"uptime":           s.Uptime,
	})
}

// Status handles GET /api/v1/status
func (h *Handler) Status(c *gin.Context) {
	common.Success(c, http.StatusOK, h.dispatcher.Status())
}

// Channels handles GET /api/v1/channels
func (h *Handler) Channels(c *gin.Context) {
	common.Success(c, http.StatusOK, h.dispatcher.Channels())
}

// Reconnect handles POST /api/v1/reconnect
// Responds 200 once the session is connected; otherwise the status follows
// the failure kind and the body still carries the connection status.
func (h *Handler) Reconnect(c *gin.Context) {
	resp := h.dispatcher.Reconnect()
	if !resp.Outcome.Success {
		common.Failure(c, common.StatusForKind(common.DeliveryKind(resp.Outcome.Error)), resp.Outcome.Reason, resp)
		return
	}
	common.Success(c, http.StatusOK, resp)
}

// SwitchMethod handles POST /api/v1/method
func (h *Handler) SwitchMethod(c *gin.Context) {
	var req SwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.dispatcher.SwitchMethod(c.Request.Context(), req.Method)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	if !resp.Outcome.Success {
		common.Failure(c, common.StatusForKind(common.DeliveryKind(resp.Outcome.Error)), resp.Outcome.Reason, resp)
		return
	}
	common.Success(c, http.StatusOK, resp)
}

// RegisterRoutes registers relay routes to the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/orders", h.SubmitOrder)
	rg.GET("/status", h.Status)
	rg.GET("/channels", h.Channels)
	rg.POST("/reconnect", h.Reconnect)
	rg.POST("/method", h.SwitchMethod)
}
