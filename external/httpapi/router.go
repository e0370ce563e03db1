package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/foxseedlab/circles/internal/apperr"
	"github.com/foxseedlab/circles/internal/circle"
	"github.com/foxseedlab/circles/internal/identity"
	"github.com/foxseedlab/circles/internal/webhook"
	"github.com/gin-gonic/gin"
)

// Handler exposes the circle components over HTTP.
type Handler struct {
	lifecycle  *circle.LifecycleManager
	members    *circle.MembershipCoordinator
	reconciler *circle.EventReconciler
	verifier   identity.Verifier
	receiver   webhook.Receiver
}

func NewHandler(
	lifecycle *circle.LifecycleManager,
	members *circle.MembershipCoordinator,
	reconciler *circle.EventReconciler,
	verifier identity.Verifier,
	receiver webhook.Receiver,
) *Handler {
	return &Handler{
		lifecycle:  lifecycle,
		members:    members,
		reconciler: reconciler,
		verifier:   verifier,
		receiver:   receiver,
	}
}

func NewRouter(h *Handler, development bool) *gin.Engine {
	if !development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/webhooks/transport", h.receiveWebhook)

	circles := r.Group("/circles", requireIdentity(h.verifier))
	circles.POST("", h.createCircle)
	circles.GET("", h.listCircles)
	circles.GET("/:id", h.circleDetail)
	circles.PATCH("/:id", h.updateCircle)
	circles.DELETE("/:id", h.deleteCircle)
	circles.PUT("/:id/status", h.setStatus)
	circles.POST("/:id/end", h.endCircle)
	circles.GET("/:id/next-statuses", h.nextStatuses)

	circles.POST("/:id/join", h.join)
	circles.POST("/:id/leave", h.leave)
	circles.PUT("/:id/members/:uid/role", h.changeRole)
	circles.PUT("/:id/members/:uid/mute", h.muteMember)
	circles.POST("/:id/members/:uid/kick", h.kickMember)

	circles.POST("/:id/hand", h.raiseHand)
	circles.DELETE("/:id/hand", h.lowerHand)
	circles.DELETE("/:id/hand/:uid", h.lowerHand)

	return r
}

// bindJSON decodes the request body into v. An empty body leaves v as is
// unless the body is required.
func bindJSON(c *gin.Context, v any, required bool) bool {
	err := c.ShouldBindJSON(v)
	if err == nil || (!required && errors.Is(err, io.EOF)) {
		return true
	}
	writeError(c, apperr.MalformedInput("invalid request body: %v", err))
	return false
}
