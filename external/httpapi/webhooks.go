package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// receiveWebhook answers 500 when applying the event fails so the
// transport redelivers it.
func (h *Handler) receiveWebhook(c *gin.Context) {
	ev, err := h.receiver.Receive(c.Request)
	if err != nil {
		slog.Warn("webhook rejected", "error", err)
		writeError(c, err)
		return
	}
	res, err := h.reconciler.Handle(c.Request.Context(), ev)
	if err != nil {
		slog.Error("failed to apply webhook event", "event_id", ev.ID, "event", ev.Kind, "circle_id", ev.RoomName, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{
			Error: errorBody{Code: "internal", Message: "event could not be applied"},
		})
		return
	}
	c.JSON(http.StatusOK, res)
}
