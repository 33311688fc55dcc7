package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsAreWhitelistedAndHaveLabels(t *testing.T) {
	for _, r := range Defaults() {
		if !r.Whitelisted {
			t.Errorf("record %q not whitelisted", r.Command)
		}
		if r.Label == "" {
			t.Errorf("record %q missing label", r.Command)
		}
	}
}

func TestBaseCommand(t *testing.T) {
	got, err := BaseCommand("claude --resume ABC")
	if err != nil {
		t.Fatal(err)
	}
	if got != "claude" {
		t.Fatalf("got %q, want claude", got)
	}
}

func TestFileProviderMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlDoc := `
commands:
  - command: claude
    label: "Claude Code (custom)"
    whitelisted: true
  - command: mytool
    label: "My Tool"
    whitelisted: true
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := NewFileProvider(path)
	if err != nil {
		t.Fatal(err)
	}

	claude, ok := p.Get("claude")
	if !ok || claude.Label != "Claude Code (custom)" {
		t.Fatalf("expected overridden claude record, got %+v ok=%v", claude, ok)
	}

	mytool, ok := p.Get("mytool")
	if !ok || mytool.Label != "My Tool" {
		t.Fatalf("expected mytool record, got %+v ok=%v", mytool, ok)
	}

	bash, ok := p.Get("bash")
	if !ok {
		t.Fatal("expected unrelated default 'bash' record to survive the merge")
	}
	_ = bash
}

func TestFileProviderReloadBumpsVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	p, err := NewFileProvider(path)
	if err != nil {
		t.Fatal(err)
	}
	v1 := p.Version()

	if err := os.WriteFile(path, []byte("commands: []\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := p.Reload(); err != nil {
		t.Fatal(err)
	}
	if p.Version() <= v1 {
		t.Fatalf("expected version to increase after reload, got %d -> %d", v1, p.Version())
	}
}

func TestFileProviderMissingFileUsesDefaultsOnly(t *testing.T) {
	p, err := NewFileProvider(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.Get("claude"); !ok {
		t.Fatal("expected default claude record when config file is absent")
	}
}
