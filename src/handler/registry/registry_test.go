package registry

import "testing"

func TestStripResumeFlagRemovesExistingOccurrence(t *testing.T) {
	got := stripResumeFlag("claude --resume OLD123 --verbose", "--resume")
	want := "claude --verbose"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestStripResumeFlagNoOccurrence(t *testing.T) {
	got := stripResumeFlag("claude --verbose", "--resume")
	if got != "claude --verbose" {
		t.Fatalf("got %q", got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	if got := sanitizeFilename("my session"); got != "my_session" {
		t.Fatalf("got %q", got)
	}
}
