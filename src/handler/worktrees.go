package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"conductor/src/handler/admin"
	"conductor/src/handler/constants"
	"conductor/src/handler/worktree"
)

var errMissingPath = errors.New("missing required query parameter: path")

// WorktreeHandler exposes the Admin worktree operations over HTTP.
type WorktreeHandler struct {
	*BaseHandler
	admin *admin.Admin
}

// NewWorktreeHandler wires a WorktreeHandler over an already-constructed
// Admin.
func NewWorktreeHandler(a *admin.Admin) *WorktreeHandler {
	return &WorktreeHandler{BaseHandler: NewBaseHandler(), admin: a}
}

// HandleListWorktrees handles GET /worktrees?repo_path=....
func (h *WorktreeHandler) HandleListWorktrees(c *gin.Context) {
	h.SendJSON(c, http.StatusOK, h.admin.ListWorktrees(c.Query("repo_path")))
}

// HandleCheckRepo handles GET /worktrees/check?path=....
func (h *WorktreeHandler) HandleCheckRepo(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		h.SendError(c, http.StatusBadRequest, errMissingPath)
		return
	}
	h.SendJSON(c, http.StatusOK, h.admin.CheckRepo(path))
}

// HandlePreviewMerge handles GET /worktrees/:name/preview-merge?repo_path=....
func (h *WorktreeHandler) HandlePreviewMerge(c *gin.Context) {
	preview, err := h.admin.PreviewMergeWorktree(c.Query("repo_path"), c.Param("name"))
	if err != nil {
		h.SendError(c, http.StatusNotFound, err)
		return
	}
	h.SendJSON(c, http.StatusOK, preview)
}

type mergeRequest struct {
	RepoPath string                   `json:"repo_path" binding:"required"`
	Strategy constants.MergeStrategy  `json:"strategy"`
	Message  string                   `json:"message"`
}

// HandleMerge handles POST /worktrees/:name/merge.
func (h *WorktreeHandler) HandleMerge(c *gin.Context) {
	var req mergeRequest
	if err := h.BindJSON(c, &req); err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = constants.MergeSquash
	}
	result, err := h.admin.MergeWorktree(req.RepoPath, c.Param("name"), strategy, req.Message)
	if err != nil {
		h.SendError(c, http.StatusNotFound, err)
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
	}
	h.SendJSON(c, status, result)
}

// HandleRemoveWorktree handles DELETE /worktrees/:name?repo_path=...&force=....
func (h *WorktreeHandler) HandleRemoveWorktree(c *gin.Context) {
	force, _ := strconv.ParseBool(c.Query("force"))
	if err := h.admin.RemoveWorktree(c.Query("repo_path"), c.Param("name"), force); err != nil {
		switch err {
		case worktree.ErrSessionActive:
			h.SendError(c, http.StatusConflict, err)
		default:
			h.SendError(c, http.StatusNotFound, err)
		}
		return
	}
	h.SendSuccess(c, "removed")
}

// HandleDiffWorktree handles GET /worktrees/:name/diff?repo_path=...&files_only=....
func (h *WorktreeHandler) HandleDiffWorktree(c *gin.Context) {
	filesOnly, _ := strconv.ParseBool(c.Query("files_only"))
	diff, files, err := h.admin.DiffWorktree(c.Query("repo_path"), c.Param("name"), filesOnly)
	if err != nil {
		h.SendError(c, http.StatusNotFound, err)
		return
	}
	if filesOnly {
		h.SendJSON(c, http.StatusOK, gin.H{"files": files})
		return
	}
	h.SendJSON(c, http.StatusOK, gin.H{"diff": diff})
}

// HandleGC handles POST /worktrees/gc?max_age_days=...&dry_run=....
func (h *WorktreeHandler) HandleGC(c *gin.Context) {
	maxAgeDays, err := strconv.ParseFloat(c.DefaultQuery("max_age_days", "7"), 64)
	if err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}
	dryRun, _ := strconv.ParseBool(c.Query("dry_run"))
	h.SendJSON(c, http.StatusOK, gin.H{"actions": h.admin.GCWorktrees(maxAgeDays, dryRun)})
}

// HandleWarnings handles GET /worktrees/warnings.
func (h *WorktreeHandler) HandleWarnings(c *gin.Context) {
	h.SendJSON(c, http.StatusOK, gin.H{"warnings": h.admin.WorktreeWarnings()})
}
