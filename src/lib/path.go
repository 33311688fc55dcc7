package lib

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FormatPath resolves a user- or request-supplied filesystem path into an
// absolute, cleaned form. conductor is a long-running daemon rather than a
// one-shot CLI, so a relative path can't be trusted to mean what the caller
// intended — it depends on the daemon's cwd at the moment of the call, not
// the caller's. Every path that reaches a worktree or session operation
// goes through here first so repo/worktree records store a value that is
// still correct after the process's cwd changes (or in a goroutine that
// never shared cwd with the caller to begin with).
func FormatPath(path string) (string, error) {
	if path == "" {
		path = "."
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", path, err)
	}
	return filepath.Clean(abs), nil
}
