package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"conductor/src/handler/constants"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-q", "-m", "initial")
	return dir
}

func TestSafeNameReplacesUnsafeChars(t *testing.T) {
	cases := map[string]string{
		"my session":     "my-session",
		"feature/login":  "feature-login",
		"--leading-dash":  "leading-dash",
		"plain-name":     "plain-name",
	}
	for in, want := range cases {
		if got := SafeName(in); got != want {
			t.Errorf("SafeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCreateAllocatesCollisionFreeBranch(t *testing.T) {
	repo := initTestRepo(t)
	store := NewStore(filepath.Join(repo, "state.json"))
	mgr := NewManager(store)

	rec1, err := mgr.Create("task", "sess-1", repo)
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if rec1.Branch != "conductor/task" {
		t.Fatalf("got branch %q", rec1.Branch)
	}

	rec2, err := mgr.Create("task", "sess-2", repo)
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if rec2.Branch != "conductor/task-2" {
		t.Fatalf("got branch %q, want collision-suffixed", rec2.Branch)
	}
	if rec2.WorktreePath == rec1.WorktreePath {
		t.Fatalf("expected distinct worktree paths")
	}
}

func TestCreateRejectsNonGitDirectory(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "state.json"))
	mgr := NewManager(store)
	if _, err := mgr.Create("task", "sess-1", t.TempDir()); err != ErrNotGitRepo {
		t.Fatalf("got %v, want ErrNotGitRepo", err)
	}
}

func TestGCDryRunDoesNotMutate(t *testing.T) {
	repo := initTestRepo(t)
	store := NewStore(filepath.Join(repo, "state.json"))
	mgr := NewManager(store)

	rec, err := mgr.Create("task", "sess-1", repo)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rec.Status = constants.WorktreeOrphaned
	if err := store.Update(rec); err != nil {
		t.Fatal(err)
	}

	actions := mgr.GC(0, true)
	if len(actions) != 1 || actions[0].Action != "would remove" {
		t.Fatalf("got %+v", actions)
	}

	if _, ok := store.Get(repo, "task"); !ok {
		t.Fatal("dry-run GC must not remove the record")
	}
}

func TestGCRemovesOrphanedWorktree(t *testing.T) {
	repo := initTestRepo(t)
	store := NewStore(filepath.Join(repo, "state.json"))
	mgr := NewManager(store)

	rec, err := mgr.Create("task", "sess-1", repo)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rec.Status = constants.WorktreeOrphaned
	if err := store.Update(rec); err != nil {
		t.Fatal(err)
	}

	actions := mgr.GC(0, false)
	if len(actions) != 1 || actions[0].Action != "removed" {
		t.Fatalf("got %+v", actions)
	}
	if _, ok := store.Get(repo, "task"); ok {
		t.Fatal("expected record to be removed")
	}
}

func TestWarningsFlagsOrphanedAsError(t *testing.T) {
	repo := initTestRepo(t)
	store := NewStore(filepath.Join(repo, "state.json"))
	mgr := NewManager(store)

	rec, err := mgr.Create("task", "sess-1", repo)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rec.Status = constants.WorktreeOrphaned
	if err := store.Update(rec); err != nil {
		t.Fatal(err)
	}

	warnings := mgr.Warnings()
	if len(warnings) != 1 || warnings[0].Level != "error" {
		t.Fatalf("got %+v", warnings)
	}
}

func TestRemoveRefusesActiveSessionWithoutForce(t *testing.T) {
	repo := initTestRepo(t)
	store := NewStore(filepath.Join(repo, "state.json"))
	mgr := NewManager(store)

	rec, err := mgr.Create("task", "sess-1", repo)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	mgr.SetActiveSessions(map[string]bool{"sess-1": true})

	if err := mgr.Remove(rec, false); err != ErrSessionActive {
		t.Fatalf("got %v, want ErrSessionActive", err)
	}
}

func TestPreviewMergeReportsNothingToMergeWhenZeroAhead(t *testing.T) {
	repo := initTestRepo(t)
	store := NewStore(filepath.Join(repo, "state.json"))
	mgr := NewManager(store)

	rec, err := mgr.Create("task", "sess-1", repo)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	preview := mgr.PreviewMerge(rec)
	if preview.CanMerge {
		t.Fatalf("expected CanMerge=false with zero commits ahead, got %+v", preview)
	}
}
