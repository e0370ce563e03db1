package httpapi

import (
	"net/http"

	"github.com/foxseedlab/circles/internal/apperr"
	"github.com/foxseedlab/circles/internal/circle"
	"github.com/gin-gonic/gin"
)

type joinRequest struct {
	Role circle.Role `json:"role"`
}

type roleRequest struct {
	Role circle.Role `json:"role"`
}

type muteRequest struct {
	Muted  *bool  `json:"muted"`
	Reason string `json:"reason"`
}

type kickRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) join(c *gin.Context) {
	var req joinRequest
	if !bindJSON(c, &req, false) {
		return
	}
	res, err := h.members.Join(c.Request.Context(), requester(c), c.Param("id"), req.Role)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) leave(c *gin.Context) {
	if err := h.members.Leave(c.Request.Context(), requester(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) changeRole(c *gin.Context) {
	var req roleRequest
	if !bindJSON(c, &req, true) {
		return
	}
	res, err := h.members.ChangeRole(c.Request.Context(), requester(c), c.Param("id"), c.Param("uid"), req.Role)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) muteMember(c *gin.Context) {
	var req muteRequest
	if !bindJSON(c, &req, true) {
		return
	}
	if req.Muted == nil {
		writeError(c, apperr.MalformedInput("muted is required"))
		return
	}
	m, err := h.members.MuteMember(c.Request.Context(), requester(c), c.Param("id"), c.Param("uid"), *req.Muted, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) kickMember(c *gin.Context) {
	var req kickRequest
	if !bindJSON(c, &req, false) {
		return
	}
	m, err := h.members.KickMember(c.Request.Context(), requester(c), c.Param("id"), c.Param("uid"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) raiseHand(c *gin.Context) {
	raise, err := h.members.RaiseHand(c.Request.Context(), requester(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, raise)
}

// lowerHand serves both the caller's own hand and, for hosts, /hand/:uid.
func (h *Handler) lowerHand(c *gin.Context) {
	if err := h.members.LowerHand(c.Request.Context(), requester(c), c.Param("id"), c.Param("uid")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
