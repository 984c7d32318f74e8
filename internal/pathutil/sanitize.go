// Package pathutil provides path containment checks for the configured lock
// directory. The lock subdirectory comes from configuration; joining it with
// the root must never escape the root.
package pathutil

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is returned when a configured path would escape its root.
var ErrUnsafePath = errors.New("path escapes root directory")

// Clean normalizes a configured subdirectory path. A leading slash is
// tolerated and treated as relative to the root. Traversal above the root
// is rejected.
func Clean(path string) (string, error) {
	if path == "" {
		return ".", nil
	}

	if strings.Contains(path, "\x00") {
		return "", ErrUnsafePath
	}

	cleaned := filepath.Clean("/" + strings.TrimPrefix(path, "/"))

	// Count traversal depth on the raw input: more ".." than levels means
	// the path tried to climb above the root.
	depth := 0
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		switch part {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return "", ErrUnsafePath
			}
		default:
			depth++
		}
	}

	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" {
		return ".", nil
	}
	return cleaned, nil
}

// SafeJoin joins root with the configured subdirectory, guaranteeing the
// result stays inside root.
func SafeJoin(root, sub string) (string, error) {
	cleanRoot := filepath.Clean(root)

	cleanSub, err := Clean(sub)
	if err != nil {
		return "", err
	}

	joined := filepath.Join(cleanRoot, cleanSub)

	rel, err := filepath.Rel(cleanRoot, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrUnsafePath
	}

	return joined, nil
}
