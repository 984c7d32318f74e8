package pathutil

import (
	"path/filepath"
	"testing"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    string
		shouldError bool
	}{
		{
			name:     "empty path",
			input:    "",
			expected: ".",
		},
		{
			name:     "simple subdir",
			input:    "locks",
			expected: "locks",
		},
		{
			name:     "nested subdir",
			input:    ".internal/locks",
			expected: ".internal/locks",
		},
		{
			name:     "leading slash tolerated",
			input:    "/.internal/locks",
			expected: ".internal/locks",
		},
		{
			name:     "safe relative navigation",
			input:    "a/../locks",
			expected: "locks",
		},
		{
			name:     "current directory",
			input:    "./locks",
			expected: "locks",
		},
		{
			name:        "directory traversal",
			input:       "../../../etc",
			shouldError: true,
		},
		{
			name:        "mixed traversal",
			input:       "locks/../../etc",
			shouldError: true,
		},
		{
			name:        "null byte",
			input:       "locks\x00evil",
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Clean(tt.input)
			if tt.shouldError {
				if err == nil {
					t.Errorf("expected error for input %q, got %q", tt.input, result)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error for input %q: %v", tt.input, err)
				return
			}
			if result != tt.expected {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSafeJoin(t *testing.T) {
	tests := []struct {
		name        string
		root        string
		sub         string
		expected    string
		shouldError bool
	}{
		{
			name:     "default subdir",
			root:     "/var/lib/lockfs",
			sub:      ".internal/locks",
			expected: filepath.Join("/var/lib/lockfs", ".internal/locks"),
		},
		{
			name:     "leading slash subdir",
			root:     "/var/lib/lockfs",
			sub:      "/.internal/locks",
			expected: filepath.Join("/var/lib/lockfs", ".internal/locks"),
		},
		{
			name:     "empty subdir stays at root",
			root:     "/var/lib/lockfs",
			sub:      "",
			expected: "/var/lib/lockfs",
		},
		{
			name:        "escape via traversal",
			root:        "/var/lib/lockfs",
			sub:         "../outside",
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := SafeJoin(tt.root, tt.sub)
			if tt.shouldError {
				if err == nil {
					t.Errorf("expected error joining %q and %q, got %q", tt.root, tt.sub, result)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error joining %q and %q: %v", tt.root, tt.sub, err)
				return
			}
			if result != tt.expected {
				t.Errorf("SafeJoin(%q, %q) = %q, want %q", tt.root, tt.sub, result, tt.expected)
			}
		})
	}
}
