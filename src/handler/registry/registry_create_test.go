package registry

import (
	"errors"
	"testing"

	"conductor/src/handler/constants"
	"conductor/src/handler/policy"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	provider, err := policy.NewFileProvider("")
	if err != nil {
		t.Fatal(err)
	}
	reg, err := New(t.TempDir(), provider)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestCreateRejectsInvalidName(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Create(CreateOptions{
		Name:    "",
		Command: "echo hi",
		Source:  constants.CreateSourceCLI,
	})
	if !errors.Is(err, ErrInvalidName) {
		t.Fatalf("got %v, want ErrInvalidName", err)
	}
}

func TestCreateRejectsForbiddenDashboardCommand(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Create(CreateOptions{
		Name:    "s1",
		Command: "not-a-whitelisted-tool --flag",
		Source:  constants.CreateSourceDashboard,
	})
	if !errors.Is(err, ErrForbiddenCommand) {
		t.Fatalf("got %v, want ErrForbiddenCommand", err)
	}
}

func TestRemoveUnknownNameReturnsNotFound(t *testing.T) {
	reg := newTestRegistry(t)
	if err := reg.Remove("does-not-exist"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestDismissResumableUnknownNameReturnsNotFound(t *testing.T) {
	reg := newTestRegistry(t)
	if err := reg.DismissResumable("does-not-exist"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
