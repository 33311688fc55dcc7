package admin

import (
	"testing"
	"time"

	"conductor/src/handler/constants"
	"conductor/src/handler/policy"
	"conductor/src/handler/registry"
)

func newTestAdmin(t *testing.T) *Admin {
	t.Helper()
	provider, err := policy.NewFileProvider("")
	if err != nil {
		t.Fatal(err)
	}
	reg, err := registry.New(t.TempDir(), provider)
	if err != nil {
		t.Fatal(err)
	}
	return New(reg, nil)
}

func TestCreateSessionWithoutWorktree(t *testing.T) {
	a := newTestAdmin(t)
	result, err := a.CreateSession(CreateSessionRequest{
		Name:    "s1",
		Command: "sh -c 'sleep 1'",
		Source:  constants.CreateSourceCLI,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if result.Session.Name != "s1" {
		t.Fatalf("got %+v", result.Session)
	}
	if result.Worktree != nil {
		t.Fatalf("expected no worktree record")
	}
	_ = a.KillSession("s1")
}

func TestCreateSessionWithWorktreeFailsWithoutManager(t *testing.T) {
	a := newTestAdmin(t)
	_, err := a.CreateSession(CreateSessionRequest{
		Name:     "s1",
		Command:  "sh",
		Source:   constants.CreateSourceCLI,
		Worktree: true,
		RepoPath: t.TempDir(),
	})
	if err == nil {
		t.Fatal("expected error when worktree manager is nil")
	}
}

func TestGetSessionUnknownReturnsFalse(t *testing.T) {
	a := newTestAdmin(t)
	if _, ok := a.GetSession("nope"); ok {
		t.Fatal("expected ok=false")
	}
}

func TestSubscribeUnknownSessionReturnsNotFound(t *testing.T) {
	a := newTestAdmin(t)
	if _, _, _, err := a.Subscribe("nope"); err != registry.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSendInputAndKill(t *testing.T) {
	a := newTestAdmin(t)
	if _, err := a.CreateSession(CreateSessionRequest{
		Name:    "s2",
		Command: "sh -c 'cat'",
		Source:  constants.CreateSourceCLI,
	}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := a.SendInput("s2", "hello\n"); err != nil {
		t.Fatalf("SendInput: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := a.KillSession("s2"); err != nil {
		t.Fatalf("KillSession: %v", err)
	}
}
