package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/foxseedlab/circles/internal/apperr"
	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

var errorStatuses = []struct {
	kind   error
	status int
	code   string
}{
	{apperr.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperr.ErrForbidden, http.StatusForbidden, "forbidden"},
	{apperr.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{apperr.ErrInvalidState, http.StatusConflict, "invalid_state"},
	{apperr.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{apperr.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{apperr.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{apperr.ErrMalformedInput, http.StatusBadRequest, "malformed_input"},
}

// writeError maps a domain error kind to its status. Anything unclassified
// is logged and reported as an opaque 500.
func writeError(c *gin.Context, err error) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.kind) {
			c.AbortWithStatusJSON(e.status, errorResponse{Error: errorBody{Code: e.code, Message: err.Error()}})
			return
		}
	}
	slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{
		Error: errorBody{Code: "internal", Message: "internal error"},
	})
}
