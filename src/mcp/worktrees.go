package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"conductor/src/handler/constants"
	"conductor/src/handler/worktree"
)

// Worktree tool input/output types.

type ListWorktreesInput struct {
	RepoPath *string `json:"repoPath,omitempty" jsonschema:"Filter to worktrees branched from this repository"`
}

type ListWorktreesOutput struct {
	Worktrees []worktree.Record `json:"worktrees"`
}

type WorktreeRepoNameInput struct {
	RepoPath string `json:"repoPath" jsonschema:"Repository path the worktree was branched from"`
	Name     string `json:"name" jsonschema:"Worktree session name"`
}

type MergeWorktreeInput struct {
	RepoPath string  `json:"repoPath" jsonschema:"Repository path the worktree was branched from"`
	Name     string  `json:"name" jsonschema:"Worktree session name"`
	Strategy *string `json:"strategy,omitempty" jsonschema:"Merge strategy: squash, merge, or rebase (default: squash)"`
	Message  *string `json:"message,omitempty" jsonschema:"Commit message for the merge (default: auto-generated)"`
}

type RemoveWorktreeInput struct {
	RepoPath string `json:"repoPath" jsonschema:"Repository path the worktree was branched from"`
	Name     string `json:"name" jsonschema:"Worktree session name"`
	Force    *bool  `json:"force,omitempty" jsonschema:"Remove even if its session is still active"`
}

type DiffWorktreeInput struct {
	RepoPath  string `json:"repoPath" jsonschema:"Repository path the worktree was branched from"`
	Name      string `json:"name" jsonschema:"Worktree session name"`
	FilesOnly *bool  `json:"filesOnly,omitempty" jsonschema:"Return only the changed-file summary, not the full diff text"`
}

type DiffWorktreeOutput struct {
	Diff  string              `json:"diff,omitempty"`
	Files []worktree.DiffFile `json:"files,omitempty"`
}

type GCWorktreesInput struct {
	MaxAgeDays *float64 `json:"maxAgeDays,omitempty" jsonschema:"Remove worktrees inactive longer than this many days (default: 3)"`
	DryRun     *bool    `json:"dryRun,omitempty" jsonschema:"Report actions without performing them"`
}

type GCWorktreesOutput struct {
	Actions []worktree.GCAction `json:"actions"`
}

type WorktreeWarningsInput struct{}

type WorktreeWarningsOutput struct {
	Warnings []worktree.Warning `json:"warnings"`
}

type CheckRepoInput struct {
	Path string `json:"path" jsonschema:"Filesystem path to check for a containing git repository"`
}

// registerWorktreeTools registers worktree-related tools.
func (s *Server) registerWorktreeTools() error {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_worktrees",
		Description: "List managed git worktrees, optionally filtered to a repository",
	}, LogToolCall("list_worktrees", func(ctx context.Context, req *mcp.CallToolRequest, input ListWorktreesInput) (*mcp.CallToolResult, ListWorktreesOutput, error) {
		repoPath := ""
		if input.RepoPath != nil {
			repoPath = *input.RepoPath
		}
		return nil, ListWorktreesOutput{Worktrees: s.admin.ListWorktrees(repoPath)}, nil
	}))

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "check_repo",
		Description: "Check whether a path is inside a git repository and summarize its worktree state",
	}, LogToolCall("check_repo", func(ctx context.Context, req *mcp.CallToolRequest, input CheckRepoInput) (*mcp.CallToolResult, worktree.RepoInfo, error) {
		return nil, s.admin.CheckRepo(input.Path), nil
	}))

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "preview_merge_worktree",
		Description: "Report a worktree's ahead/behind/conflict status against its base branch without mutating anything",
	}, LogToolCall("preview_merge_worktree", func(ctx context.Context, req *mcp.CallToolRequest, input WorktreeRepoNameInput) (*mcp.CallToolResult, worktree.MergePreview, error) {
		preview, err := s.admin.PreviewMergeWorktree(input.RepoPath, input.Name)
		if err != nil {
			return nil, worktree.MergePreview{}, fmt.Errorf("failed to preview merge: %w", err)
		}
		return nil, preview, nil
	}))

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "merge_worktree",
		Description: "Fold a worktree's branch back into its base branch",
	}, LogToolCall("merge_worktree", func(ctx context.Context, req *mcp.CallToolRequest, input MergeWorktreeInput) (*mcp.CallToolResult, worktree.MergeResult, error) {
		strategy := constants.MergeSquash
		if input.Strategy != nil {
			strategy = constants.MergeStrategy(*input.Strategy)
		}
		message := ""
		if input.Message != nil {
			message = *input.Message
		}
		result, err := s.admin.MergeWorktree(input.RepoPath, input.Name, strategy, message)
		if err != nil {
			return nil, worktree.MergeResult{}, fmt.Errorf("failed to merge worktree: %w", err)
		}
		if !result.Success {
			return nil, result, fmt.Errorf("merge did not complete: %s", result.Message)
		}
		return nil, result, nil
	}))

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "remove_worktree",
		Description: "Delete a worktree's git state and its tracked record",
	}, LogToolCall("remove_worktree", func(ctx context.Context, req *mcp.CallToolRequest, input RemoveWorktreeInput) (*mcp.CallToolResult, SessionStatusOutput, error) {
		force := false
		if input.Force != nil {
			force = *input.Force
		}
		if err := s.admin.RemoveWorktree(input.RepoPath, input.Name, force); err != nil {
			return nil, SessionStatusOutput{}, fmt.Errorf("failed to remove worktree: %w", err)
		}
		return nil, SessionStatusOutput{Status: "removed"}, nil
	}))

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "diff_worktree",
		Description: "Show a worktree's diff against its base commit, or just the changed-file summary",
	}, LogToolCall("diff_worktree", func(ctx context.Context, req *mcp.CallToolRequest, input DiffWorktreeInput) (*mcp.CallToolResult, DiffWorktreeOutput, error) {
		filesOnly := false
		if input.FilesOnly != nil {
			filesOnly = *input.FilesOnly
		}
		text, files, err := s.admin.DiffWorktree(input.RepoPath, input.Name, filesOnly)
		if err != nil {
			return nil, DiffWorktreeOutput{}, fmt.Errorf("failed to diff worktree: %w", err)
		}
		return nil, DiffWorktreeOutput{Diff: text, Files: files}, nil
	}))

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "gc_worktrees",
		Description: "Remove orphaned worktrees, and finalized or stale worktrees older than a given age",
	}, LogToolCall("gc_worktrees", func(ctx context.Context, req *mcp.CallToolRequest, input GCWorktreesInput) (*mcp.CallToolResult, GCWorktreesOutput, error) {
		maxAgeDays := 3.0
		if input.MaxAgeDays != nil {
			maxAgeDays = *input.MaxAgeDays
		}
		dryRun := false
		if input.DryRun != nil {
			dryRun = *input.DryRun
		}
		return nil, GCWorktreesOutput{Actions: s.admin.GCWorktrees(maxAgeDays, dryRun)}, nil
	}))

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "worktree_warnings",
		Description: "Report a health summary across all managed worktrees",
	}, LogToolCall("worktree_warnings", func(ctx context.Context, req *mcp.CallToolRequest, input WorktreeWarningsInput) (*mcp.CallToolResult, WorktreeWarningsOutput, error) {
		return nil, WorktreeWarningsOutput{Warnings: s.admin.WorktreeWarnings()}, nil
	}))

	return nil
}
