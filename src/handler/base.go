package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// BaseHandler is embedded by every HTTP handler (sessions, worktrees) to
// give it a uniform way to answer requests and log the errors it returns.
type BaseHandler struct{}

// NewBaseHandler creates a new base handler.
func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// ErrorResponse is the body of every non-2xx response the daemon returns.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse is the body of a success response that carries no payload
// of its own — session/worktree state changes like "stop" or "dismiss"
// report one of these rather than echoing the mutated record back.
type SuccessResponse struct {
	Status string `json:"status"`
}

// SendError answers with a JSON error body and logs it, tagged with the
// status and request path, so a failing session or worktree operation shows
// up in the daemon's log without every handler having to log it by hand.
func (h *BaseHandler) SendError(c *gin.Context, status int, err error) {
	logrus.WithFields(logrus.Fields{
		"status": status,
		"path":   c.Request.URL.Path,
	}).Error(err.Error())
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

// SendSuccess answers 200 with a short status word ("ok", "killed",
// "dismissed", ...).
func (h *BaseHandler) SendSuccess(c *gin.Context, status string) {
	c.JSON(http.StatusOK, SuccessResponse{Status: status})
}

// SendJSON answers with an arbitrary payload at the given status code.
func (h *BaseHandler) SendJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// BindJSON decodes the request body into obj, wrapping gin's bind error with
// context a caller can pass straight to SendError.
func (h *BaseHandler) BindJSON(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// HandleWelcome answers the root path with a minimal identification
// payload, useful for confirming the daemon is reachable.
func (h *BaseHandler) HandleWelcome(c *gin.Context) {
	h.SendJSON(c, http.StatusOK, gin.H{"service": "conductor"})
}
