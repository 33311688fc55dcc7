package api

import (
	"testing"
)

func TestRedactQuery(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no query string",
			input:    "/sessions/build-1",
			expected: "/sessions/build-1",
		},
		{
			name:     "no sensitive params",
			input:    "/worktrees?repoPath=%2Fhome%2Frepo",
			expected: "/worktrees?repoPath=%2Fhome%2Frepo",
		},
		{
			name:     "password param",
			input:    "/sessions?password=supersecret",
			expected: "/sessions?password=%5BREDACTED%5D",
		},
		{
			name:     "token param",
			input:    "/sessions?token=abc123",
			expected: "/sessions?token=%5BREDACTED%5D",
		},
		{
			name:     "bearer param",
			input:    "/sessions?bearer=xyz",
			expected: "/sessions?bearer=%5BREDACTED%5D",
		},
		{
			name:     "authorization param",
			input:    "/sessions?authorization=Bearer%20xyz",
			expected: "/sessions?authorization=%5BREDACTED%5D",
		},
		{
			name:     "case insensitive PASSWORD",
			input:    "/sessions?PASSWORD=secret",
			expected: "/sessions?PASSWORD=%5BREDACTED%5D",
		},
		{
			name:     "multiple sensitive params",
			input:    "/sessions?password=p1&token=t1&name=test",
			expected: "/sessions?name=test&password=%5BREDACTED%5D&token=%5BREDACTED%5D",
		},
		{
			name:     "unrelated param named key is not redacted",
			input:    "/worktrees?key=mykey123",
			expected: "/worktrees?key=mykey123",
		},
		{
			name:     "empty query string",
			input:    "/sessions?",
			expected: "/sessions?",
		},
		{
			name:     "malformed query redacted wholesale",
			input:    "/sessions?%zz",
			expected: "/sessions?[REDACTED]",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := redactQuery(tc.input)
			if result != tc.expected {
				t.Errorf("redactQuery(%q) = %q, expected %q", tc.input, result, tc.expected)
			}
		})
	}
}

func TestSessionPathPatternExtractsName(t *testing.T) {
	testCases := []struct {
		path string
		want string
		ok   bool
	}{
		{"/sessions/build-1", "build-1", true},
		{"/sessions/build-1/stream", "build-1", true},
		{"/sessions", "", false},
		{"/worktrees/build-1", "", false},
	}

	for _, tc := range testCases {
		m := sessionPathPattern.FindStringSubmatch(tc.path)
		if tc.ok && (m == nil || m[1] != tc.want) {
			t.Errorf("path %q: expected session %q, got %v", tc.path, tc.want, m)
		}
		if !tc.ok && m != nil {
			t.Errorf("path %q: expected no match, got %v", tc.path, m)
		}
	}
}
