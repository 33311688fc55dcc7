package pty

import (
	"reflect"
	"testing"
)

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"echo hello", []string{"echo", "hello"}},
		{`echo "hello world"`, []string{"echo", "hello world"}},
		{"echo 'a b' c", []string{"echo", "a b", "c"}},
		{"codex --resume ABC", []string{"codex", "--resume", "ABC"}},
		{"  spaced   out  ", []string{"spaced", "out"}},
	}
	for _, tc := range cases {
		got, err := SplitCommand(tc.in)
		if err != nil {
			t.Fatalf("SplitCommand(%q) error: %v", tc.in, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("SplitCommand(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSplitCommandUnterminatedQuote(t *testing.T) {
	if _, err := SplitCommand(`echo "unterminated`); err == nil {
		t.Fatal("expected error for unterminated quote")
	}
}

func TestBuildEnvStripsClaudePrefix(t *testing.T) {
	t.Setenv("CLAUDE_SESSION_ID", "abc123")
	t.Setenv("CLAUDE_FOO", "bar")
	t.Setenv("KEEP_ME", "1")

	env := buildEnv(map[string]string{"OVERLAY": "yes"})

	for _, kv := range env {
		if len(kv) >= len(claudeEnvPrefix) && kv[:len(claudeEnvPrefix)] == claudeEnvPrefix {
			t.Errorf("env var %q should have been stripped", kv)
		}
	}
	foundTerm, foundOverlay := false, false
	for _, kv := range env {
		if kv == "TERM=xterm-256color" {
			foundTerm = true
		}
		if kv == "OVERLAY=yes" {
			foundOverlay = true
		}
	}
	if !foundTerm {
		t.Error("expected TERM=xterm-256color to be set")
	}
	if !foundOverlay {
		t.Error("expected overlay env var to be present")
	}
}

func TestBuildEnvOverlayOverridesInherited(t *testing.T) {
	t.Setenv("MY_VAR", "original")
	env := buildEnv(map[string]string{"MY_VAR": "overridden"})

	count := 0
	for _, kv := range env {
		if kv == "MY_VAR=overridden" {
			count++
		}
		if kv == "MY_VAR=original" {
			t.Error("inherited value should have been overridden, not appended alongside")
		}
	}
	if count != 1 {
		t.Errorf("expected MY_VAR=overridden exactly once, got %d", count)
	}
}
