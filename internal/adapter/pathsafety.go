package adapter

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ResolveWithin resolves path against root and refuses to return a
// location outside root — the path-safety helper shared by the
// container and remote backends, whose filesystems are sandboxed to a
// working root. The local backend has no root confinement and does not
// use this helper.
//
// It returns the resolved absolute path and a display path made relative
// to root where possible.
func ResolveWithin(root, path string) (resolved, display string, err error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	clean := filepath.Clean(path)

	rootClean := filepath.Clean(root)
	rel, relErr := filepath.Rel(rootClean, clean)
	if relErr != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("path %q escapes working root %q", path, root)
	}

	display = rel
	if display == "." {
		display = ""
	}
	return clean, display, nil
}
