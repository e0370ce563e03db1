package httpapi

import (
	"net/http"

	"github.com/foxseedlab/circles/internal/apperr"
	"github.com/foxseedlab/circles/internal/circle"
	"github.com/gin-gonic/gin"
)

type setStatusRequest struct {
	Status circle.Status `json:"status"`
}

type listQuery struct {
	Status   string `form:"status"`
	Category string `form:"category"`
	Privacy  string `form:"privacy"`
	IsReplay *bool  `form:"isReplay"`
	Cursor   string `form:"cursor"`
	Limit    int    `form:"limit"`
}

func (h *Handler) createCircle(c *gin.Context) {
	var params circle.CreateParams
	if !bindJSON(c, &params, true) {
		return
	}
	res, err := h.lifecycle.Create(c.Request.Context(), requester(c), params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) updateCircle(c *gin.Context) {
	var patch circle.UpdatePatch
	if !bindJSON(c, &patch, true) {
		return
	}
	updated, err := h.lifecycle.Update(c.Request.Context(), requester(c), c.Param("id"), patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) setStatus(c *gin.Context) {
	var req setStatusRequest
	if !bindJSON(c, &req, true) {
		return
	}
	updated, err := h.lifecycle.SetStatus(c.Request.Context(), requester(c), c.Param("id"), req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) endCircle(c *gin.Context) {
	ended, err := h.lifecycle.End(c.Request.Context(), requester(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ended)
}

func (h *Handler) deleteCircle(c *gin.Context) {
	if err := h.lifecycle.Delete(c.Request.Context(), requester(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) nextStatuses(c *gin.Context) {
	next, err := h.lifecycle.NextStatuses(c.Request.Context(), requester(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"statuses": next})
}

func (h *Handler) listCircles(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, apperr.MalformedInput("invalid query: %v", err))
		return
	}
	page, err := h.members.List(c.Request.Context(), circle.ListFilter{
		Status:   circle.Status(q.Status),
		Category: q.Category,
		Privacy:  circle.Privacy(q.Privacy),
		IsReplay: q.IsReplay,
		Cursor:   q.Cursor,
		Limit:    q.Limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) circleDetail(c *gin.Context) {
	detail, err := h.members.Detail(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}
