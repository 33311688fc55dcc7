package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"conductor/src/handler/admin"
	"conductor/src/handler/constants"
	"conductor/src/handler/session"
)

// Session tool input/output types.

type ListSessionsInput struct{}

type ListSessionsOutput struct {
	Sessions []session.Projection `json:"sessions"`
}

type CreateSessionInput struct {
	Name     string            `json:"name" jsonschema:"Name for the session"`
	Command  string            `json:"command" jsonschema:"Shell command the session runs"`
	Cwd      *string           `json:"cwd,omitempty" jsonschema:"Working directory for the session (default: current directory)"`
	Env      map[string]string `json:"env,omitempty" jsonschema:"Environment variables for the session"`
	Rows     *int              `json:"rows,omitempty" jsonschema:"Terminal row count (default: 24)"`
	Cols     *int              `json:"cols,omitempty" jsonschema:"Terminal column count (default: 80)"`
	Worktree *bool             `json:"worktree,omitempty" jsonschema:"Create and attach a git worktree for this session"`
	RepoPath *string           `json:"repoPath,omitempty" jsonschema:"Repository path to branch the worktree from (default: cwd)"`
}

type CreateSessionOutput struct {
	Session  session.Projection `json:"session"`
	Worktree interface{}        `json:"worktree,omitempty"`
}

type SessionNameInput struct {
	Name string `json:"name" jsonschema:"Session name"`
}

type SendInputInput struct {
	Name string `json:"name" jsonschema:"Session name"`
	Text string `json:"text" jsonschema:"Text to write to the session's terminal"`
}

type ResizeSessionInput struct {
	Name string `json:"name" jsonschema:"Session name"`
	Rows int    `json:"rows" jsonschema:"New terminal row count"`
	Cols int    `json:"cols" jsonschema:"New terminal column count"`
}

type SessionStatusOutput struct {
	Status string `json:"status"`
}

// registerSessionTools registers session-related tools.
func (s *Server) registerSessionTools() error {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_sessions",
		Description: "List all sessions, live and resumable",
	}, LogToolCall("list_sessions", func(ctx context.Context, req *mcp.CallToolRequest, input ListSessionsInput) (*mcp.CallToolResult, ListSessionsOutput, error) {
		return nil, ListSessionsOutput{Sessions: s.admin.ListSessions()}, nil
	}))

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "create_session",
		Description: "Start a new PTY session, optionally backed by a fresh git worktree",
	}, LogToolCall("create_session", func(ctx context.Context, req *mcp.CallToolRequest, input CreateSessionInput) (*mcp.CallToolResult, CreateSessionOutput, error) {
		cwd := ""
		if input.Cwd != nil {
			cwd = *input.Cwd
		}

		rows := 24
		if input.Rows != nil {
			rows = *input.Rows
		}
		cols := 80
		if input.Cols != nil {
			cols = *input.Cols
		}

		useWorktree := false
		if input.Worktree != nil {
			useWorktree = *input.Worktree
		}

		repoPath := ""
		if input.RepoPath != nil {
			repoPath = *input.RepoPath
		}

		result, err := s.admin.CreateSession(admin.CreateSessionRequest{
			Name:     input.Name,
			Command:  input.Command,
			Cwd:      cwd,
			Env:      input.Env,
			Rows:     uint16(rows),
			Cols:     uint16(cols),
			Source:   constants.CreateSourceCLI,
			Worktree: useWorktree,
			RepoPath: repoPath,
		})
		if err != nil {
			return nil, CreateSessionOutput{}, fmt.Errorf("failed to create session: %w", err)
		}

		output := CreateSessionOutput{Session: result.Session}
		if result.Worktree != nil {
			output.Worktree = result.Worktree
		}
		return nil, output, nil
	}))

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_session",
		Description: "Get a single session's current projection",
	}, LogToolCall("get_session", func(ctx context.Context, req *mcp.CallToolRequest, input SessionNameInput) (*mcp.CallToolResult, session.Projection, error) {
		proj, ok := s.admin.GetSession(input.Name)
		if !ok {
			return nil, session.Projection{}, fmt.Errorf("session not found: %s", input.Name)
		}
		return nil, proj, nil
	}))

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "send_input",
		Description: "Write text to a live session's terminal",
	}, LogToolCall("send_input", func(ctx context.Context, req *mcp.CallToolRequest, input SendInputInput) (*mcp.CallToolResult, SessionStatusOutput, error) {
		if err := s.admin.SendInput(input.Name, input.Text); err != nil {
			return nil, SessionStatusOutput{}, fmt.Errorf("failed to send input: %w", err)
		}
		return nil, SessionStatusOutput{Status: "sent"}, nil
	}))

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "resize_session",
		Description: "Resize a live session's terminal",
	}, LogToolCall("resize_session", func(ctx context.Context, req *mcp.CallToolRequest, input ResizeSessionInput) (*mcp.CallToolResult, SessionStatusOutput, error) {
		if err := s.admin.ResizeSession(input.Name, uint16(input.Rows), uint16(input.Cols), constants.ResizeSourceCLI); err != nil {
			return nil, SessionStatusOutput{}, fmt.Errorf("failed to resize session: %w", err)
		}
		return nil, SessionStatusOutput{Status: "resized"}, nil
	}))

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "stop_session",
		Description: "Request an orderly shutdown of a live session",
	}, LogToolCall("stop_session", func(ctx context.Context, req *mcp.CallToolRequest, input SessionNameInput) (*mcp.CallToolResult, SessionStatusOutput, error) {
		if err := s.admin.GracefulStop(input.Name); err != nil {
			return nil, SessionStatusOutput{}, fmt.Errorf("failed to stop session: %w", err)
		}
		return nil, SessionStatusOutput{Status: "stopping"}, nil
	}))

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "kill_session",
		Description: "Hard-kill a live session and remove its metadata",
	}, LogToolCall("kill_session", func(ctx context.Context, req *mcp.CallToolRequest, input SessionNameInput) (*mcp.CallToolResult, SessionStatusOutput, error) {
		if err := s.admin.KillSession(input.Name); err != nil {
			return nil, SessionStatusOutput{}, fmt.Errorf("failed to kill session: %w", err)
		}
		return nil, SessionStatusOutput{Status: "killed"}, nil
	}))

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "resume_session",
		Description: "Recreate a session from a resumable or stale-exited entry",
	}, LogToolCall("resume_session", func(ctx context.Context, req *mcp.CallToolRequest, input SessionNameInput) (*mcp.CallToolResult, session.Projection, error) {
		proj, err := s.admin.ResumeSession(input.Name)
		if err != nil {
			return nil, session.Projection{}, fmt.Errorf("failed to resume session: %w", err)
		}
		return nil, proj, nil
	}))

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "dismiss_resumable",
		Description: "Drop a resumable session entry without resuming it",
	}, LogToolCall("dismiss_resumable", func(ctx context.Context, req *mcp.CallToolRequest, input SessionNameInput) (*mcp.CallToolResult, SessionStatusOutput, error) {
		if err := s.admin.DismissResumable(input.Name); err != nil {
			return nil, SessionStatusOutput{}, fmt.Errorf("failed to dismiss session: %w", err)
		}
		return nil, SessionStatusOutput{Status: "dismissed"}, nil
	}))

	return nil
}
