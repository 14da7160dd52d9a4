package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aimi/goalgraph/internal/config"
	"github.com/aimi/goalgraph/internal/errors"
)

// PathCheckMode indicates whether a graph file is about to be read or written.
type PathCheckMode int

const (
	PathCheckRead  PathCheckMode = iota // import
	PathCheckWrite                      // export
)

// ValidatePath checks an export or import path and returns it cleaned and
// absolute; callers open the returned path, never the raw input:
//  1. no ".." components
//  2. a .jsonl extension
//  3. the file sits directly in ~/.goalgraph/exports or a configured allowed
//     directory (skipped when AllowUnsafePaths is set)
//  4. neither the file nor its parent directory is a symlink
//
// Files must be direct children of an allowed directory so that no
// intermediate component can be swapped between the check and the open.
func ValidatePath(path string, mode PathCheckMode, cfg *config.Config) (string, error) {
	if path == "" {
		return "", errors.NewInvalidRequest("path is required")
	}
	if containsTraversal(path) {
		return "", errors.NewInvalidRequest("path must not contain directory traversal (..)")
	}

	cleaned := filepath.Clean(path)
	if filepath.Ext(cleaned) != ".jsonl" {
		return "", errors.NewInvalidRequest("path must have .jsonl extension")
	}
	absPath, err := filepath.Abs(cleaned)
	if err != nil {
		return "", errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}

	if cfg == nil || !cfg.AllowUnsafePaths {
		allowed, err := allowedDirs(cfg)
		if err != nil {
			return "", err
		}
		parent := filepath.Dir(absPath)
		if !isDirectlyIn(parent, allowed) {
			return "", errors.NewInvalidRequest(fmt.Sprintf(
				"file must be directly in an allowed directory (no subdirectories); allowed: %v", allowed))
		}
		if info, err := os.Lstat(parent); err == nil && info.Mode()&os.ModeSymlink != 0 {
			return "", errors.NewInvalidRequest("parent directory must not be a symlink")
		}
	}

	if mode == PathCheckRead {
		if _, err := os.Stat(absPath); os.IsNotExist(err) {
			return "", fileNotFound(path)
		}
	}
	if info, err := os.Lstat(absPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return "", errors.NewInvalidRequest("path must not be a symlink")
	}
	return absPath, nil
}

func fileNotFound(path string) error {
	gerr := errors.NewInvalidRequest(fmt.Sprintf("file not found: %s", path))
	gerr.Details = map[string]any{"path": path}
	return gerr
}

// allowedDirs returns the default exports directory plus every absolute
// configured path, with symlinked entries resolved to their targets.
func allowedDirs(cfg *config.Config) ([]string, error) {
	def, err := DefaultExportsDir()
	if err != nil {
		return nil, err
	}
	dirs := []string{def}
	if cfg != nil {
		for _, p := range cfg.AllowedPaths {
			if filepath.IsAbs(p) {
				dirs = append(dirs, filepath.Clean(p))
			}
		}
	}

	result := make([]string, 0, len(dirs))
	for _, d := range dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid allowed path: %v", err))
		}
		if info, err := os.Lstat(abs); err == nil && info.Mode()&os.ModeSymlink != 0 {
			if abs, err = filepath.EvalSymlinks(abs); err != nil {
				return nil, errors.NewInvalidRequest(fmt.Sprintf("cannot resolve symlink in allowed path: %v", err))
			}
		}
		result = append(result, abs)
	}
	return result, nil
}

func isDirectlyIn(parent string, dirs []string) bool {
	parent = filepath.Clean(parent)
	for _, d := range dirs {
		if parent == filepath.Clean(d) {
			return true
		}
	}
	return false
}

// DefaultExportsDir returns ~/.goalgraph/exports.
func DefaultExportsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to get home directory: %w", err))
	}
	return filepath.Join(home, ".goalgraph", "exports"), nil
}

func containsTraversal(path string) bool {
	// Forward slashes count on every platform since paths come from callers.
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == filepath.Separator }) {
		if part == ".." {
			return true
		}
	}
	return false
}
