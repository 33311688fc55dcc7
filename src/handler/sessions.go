package handler

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"conductor/src/handler/admin"
	"conductor/src/handler/constants"
	"conductor/src/handler/registry"
)

// SessionHandler exposes the Admin session operations over HTTP and a
// WebSocket stream endpoint.
type SessionHandler struct {
	*BaseHandler
	admin    *admin.Admin
	upgrader websocket.Upgrader
}

// NewSessionHandler wires a SessionHandler over an already-constructed
// Admin.
func NewSessionHandler(a *admin.Admin) *SessionHandler {
	return &SessionHandler{
		BaseHandler: NewBaseHandler(),
		admin:       a,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

type createSessionRequest struct {
	Name     string            `json:"name" binding:"required"`
	Command  string            `json:"command" binding:"required"`
	Cwd      string            `json:"cwd"`
	Env      map[string]string `json:"env"`
	Rows     uint16            `json:"rows"`
	Cols     uint16            `json:"cols"`
	Worktree bool              `json:"worktree"`
	RepoPath string            `json:"repo_path"`
}

// HandleListSessions handles GET /sessions.
func (h *SessionHandler) HandleListSessions(c *gin.Context) {
	h.SendJSON(c, http.StatusOK, h.admin.ListSessions())
}

// HandleGetSession handles GET /sessions/:name.
func (h *SessionHandler) HandleGetSession(c *gin.Context) {
	name := c.Param("name")
	proj, ok := h.admin.GetSession(name)
	if !ok {
		h.SendError(c, http.StatusNotFound, registry.ErrNotFound)
		return
	}
	h.SendJSON(c, http.StatusOK, proj)
}

// HandleCreateSession handles POST /sessions. The request's source is
// inferred from the caller: the dashboard origin is restricted to
// whitelisted commands, a direct CLI client is not.
func (h *SessionHandler) HandleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := h.BindJSON(c, &req); err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}

	source := constants.CreateSourceDashboard
	if c.GetHeader("X-Conductor-Source") == "cli" {
		source = constants.CreateSourceCLI
	}

	result, err := h.admin.CreateSession(admin.CreateSessionRequest{
		Name:     req.Name,
		Command:  req.Command,
		Cwd:      req.Cwd,
		Env:      req.Env,
		Rows:     req.Rows,
		Cols:     req.Cols,
		Source:   source,
		Worktree: req.Worktree,
		RepoPath: req.RepoPath,
	})
	if err != nil {
		h.sendCreateError(c, err)
		return
	}
	h.SendJSON(c, http.StatusCreated, result)
}

func (h *SessionHandler) sendCreateError(c *gin.Context, err error) {
	switch err {
	case registry.ErrInvalidName:
		h.SendError(c, http.StatusBadRequest, err)
	case registry.ErrDuplicateName:
		h.SendError(c, http.StatusConflict, err)
	case registry.ErrForbiddenCommand:
		h.SendError(c, http.StatusForbidden, err)
	default:
		h.SendError(c, http.StatusInternalServerError, err)
	}
}

type inputRequest struct {
	Text string `json:"text" binding:"required"`
}

// HandleSendInput handles POST /sessions/:name/input.
func (h *SessionHandler) HandleSendInput(c *gin.Context) {
	var req inputRequest
	if err := h.BindJSON(c, &req); err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}
	if err := h.admin.SendInput(c.Param("name"), req.Text); err != nil {
		h.SendError(c, http.StatusNotFound, err)
		return
	}
	h.SendSuccess(c, "ok")
}

type resizeRequest struct {
	Rows uint16 `json:"rows" binding:"required"`
	Cols uint16 `json:"cols" binding:"required"`
}

// HandleResizeSession handles POST /sessions/:name/resize.
func (h *SessionHandler) HandleResizeSession(c *gin.Context) {
	var req resizeRequest
	if err := h.BindJSON(c, &req); err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}
	source := constants.ResizeSourceDashboard
	if c.GetHeader("X-Conductor-Source") == "cli" {
		source = constants.ResizeSourceCLI
	}
	if err := h.admin.ResizeSession(c.Param("name"), req.Rows, req.Cols, source); err != nil {
		h.SendError(c, http.StatusNotFound, err)
		return
	}
	h.SendSuccess(c, "ok")
}

// HandleGracefulStop handles POST /sessions/:name/stop.
func (h *SessionHandler) HandleGracefulStop(c *gin.Context) {
	if err := h.admin.GracefulStop(c.Param("name")); err != nil {
		h.SendError(c, http.StatusNotFound, err)
		return
	}
	h.SendSuccess(c, "stopping")
}

// HandleKillSession handles DELETE /sessions/:name.
func (h *SessionHandler) HandleKillSession(c *gin.Context) {
	if err := h.admin.KillSession(c.Param("name")); err != nil {
		h.SendError(c, http.StatusNotFound, err)
		return
	}
	h.SendSuccess(c, "killed")
}

// HandleResumeSession handles POST /sessions/:name/resume.
func (h *SessionHandler) HandleResumeSession(c *gin.Context) {
	proj, err := h.admin.ResumeSession(c.Param("name"))
	if err != nil {
		h.SendError(c, http.StatusNotFound, err)
		return
	}
	h.SendJSON(c, http.StatusOK, proj)
}

// HandleDismissResumable handles DELETE /sessions/:name/resumable.
func (h *SessionHandler) HandleDismissResumable(c *gin.Context) {
	if err := h.admin.DismissResumable(c.Param("name")); err != nil {
		h.SendError(c, http.StatusNotFound, err)
		return
	}
	h.SendSuccess(c, "dismissed")
}

// streamMessage mirrors the dashboard's terminal WebSocket protocol: input
// and resize travel client-to-server, output server-to-client.
type streamMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
}

// HandleStream handles GET /sessions/:name/stream: on connect it replays
// get_buffer(), then forwards subscriber queue items until the session's
// exit protocol closes the channel (the null-sentinel equivalent).
func (h *SessionHandler) HandleStream(c *gin.Context) {
	name := c.Param("name")

	buffer, sub, unsubscribe, err := h.admin.Subscribe(name)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.Errorf("session %s: websocket upgrade failed: %v", name, err)
		return
	}
	defer conn.Close()

	if len(buffer) > 0 {
		_ = conn.WriteJSON(streamMessage{Type: "output", Data: string(buffer)})
	}

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() { closeOnce.Do(func() { close(done) }) }

	go func() {
		for {
			select {
			case data, ok := <-sub.Ch:
				if !ok {
					closeDone()
					return
				}
				if err := conn.WriteJSON(streamMessage{Type: "output", Data: string(data)}); err != nil {
					closeDone()
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}

		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			closeDone()
			return
		}

		switch msg.Type {
		case "input":
			if err := h.admin.SendInput(name, msg.Data); err != nil {
				logrus.Warnf("session %s: stream input failed: %v", name, err)
			}
		case "resize":
			if msg.Rows > 0 && msg.Cols > 0 {
				if err := h.admin.ResizeSession(name, msg.Rows, msg.Cols, constants.ResizeSourceDashboard); err != nil {
					logrus.Warnf("session %s: stream resize failed: %v", name, err)
				}
			}
		}
	}
}
