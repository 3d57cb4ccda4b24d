// Package sandbox provides the safety primitives shared by every tool in the
// Tool Runtime: path containment, command/launcher allowlisting, and an
// optional Docker-backed execution sandbox.
package sandbox

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// ErrPathEscape is returned whenever a resolved path would leave repoRoot.
var ErrPathEscape = errors.New("path escapes repo root")

// ResolvePath joins path with repoRoot, canonicalises both sides (following
// symlinks), and verifies the canonical result stays inside the canonical
// root. Comparison is always done on canonical absolute paths — a raw
// strings.HasPrefix on the uncanonicalised inputs would misclassify siblings
// like /tmp/repo vs /tmp/repo2.
func ResolvePath(path, repoRoot string) (string, error) {
	var joined string
	if filepath.IsAbs(path) {
		joined = filepath.Clean(path)
	} else {
		joined = filepath.Clean(filepath.Join(repoRoot, path))
	}

	absRoot, _ := filepath.Abs(repoRoot)
	rootReal, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		rootReal = absRoot
	}

	absJoined, _ := filepath.Abs(joined)
	real, err := filepath.EvalSymlinks(absJoined)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("security.path_resolve_failed", "path", path, "error", err)
			return "", fmt.Errorf("%w: cannot resolve path", ErrPathEscape)
		}
		real, err = resolveMissing(absJoined, rootReal)
		if err != nil {
			return "", err
		}
	}

	if !isPathInside(real, rootReal) {
		slog.Warn("security.path_escape", "path", path, "resolved", real, "root", rootReal)
		return "", fmt.Errorf("%w: %s", ErrPathEscape, path)
	}

	if hasMutableSymlinkParent(real) {
		slog.Warn("security.mutable_symlink_parent", "path", path, "resolved", real)
		return "", fmt.Errorf("%w: mutable symlink component in %s", ErrPathEscape, path)
	}

	if err := checkHardlink(real); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPathEscape, err)
	}

	return real, nil
}

// resolveMissing handles a non-existent target: if it is itself a broken
// symlink, the link's target is canonicalised and checked; otherwise the
// deepest existing ancestor is canonicalised and the remaining components
// are re-appended.
func resolveMissing(absPath, rootReal string) (string, error) {
	if linfo, lerr := os.Lstat(absPath); lerr == nil && linfo.Mode()&os.ModeSymlink != 0 {
		target, readErr := os.Readlink(absPath)
		if readErr != nil {
			return "", fmt.Errorf("%w: cannot read broken symlink", ErrPathEscape)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(absPath), target)
		}
		target = filepath.Clean(target)

		resolved, resolveErr := resolveThroughExistingAncestors(target)
		if resolveErr != nil {
			return "", fmt.Errorf("%w: cannot resolve symlink target", ErrPathEscape)
		}
		if !isPathInside(resolved, rootReal) {
			return "", fmt.Errorf("%w: broken symlink target outside root", ErrPathEscape)
		}
		return resolved, nil
	}

	resolved, err := resolveThroughExistingAncestors(absPath)
	if err != nil {
		return "", fmt.Errorf("%w: cannot resolve parent directory", ErrPathEscape)
	}
	return resolved, nil
}

// isPathInside reports whether child is equal to or nested under parent,
// comparing only canonical absolute paths.
func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// resolveThroughExistingAncestors walks up from target to the deepest
// existing ancestor, canonicalises that ancestor, then re-appends the
// remaining path components — handling chains of symlinks whose intermediate
// targets would otherwise escape undetected.
func resolveThroughExistingAncestors(target string) (string, error) {
	if real, err := filepath.EvalSymlinks(target); err == nil {
		return real, nil
	}

	current := target
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent

		if realParent, err := filepath.EvalSymlinks(current); err == nil {
			result := realParent
			for _, component := range tail {
				result = filepath.Join(result, component)
			}
			return result, nil
		}
	}
	return filepath.Clean(target), nil
}

// hasMutableSymlinkParent reports whether any path component is a symlink
// whose containing directory is writable by this process — such a link
// could be rebound between resolution and use (TOCTOU).
func hasMutableSymlinkParent(path string) bool {
	clean := filepath.Clean(path)
	components := strings.Split(clean, string(filepath.Separator))
	current := string(filepath.Separator)
	for _, comp := range components {
		if comp == "" {
			continue
		}
		current = filepath.Join(current, comp)
		info, err := os.Lstat(current)
		if err != nil {
			break
		}
		if info.Mode()&os.ModeSymlink != 0 {
			parentDir := filepath.Dir(current)
			if syscall.Access(parentDir, 0x2 /* W_OK */) == nil {
				return true
			}
		}
	}
	return false
}

// checkHardlink rejects regular files with nlink > 1; directories are exempt
// since they naturally carry nlink > 1.
func checkHardlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil
	}
	if info.IsDir() {
		return nil
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if stat.Nlink > 1 {
			return fmt.Errorf("hardlinked file not allowed (nlink=%d)", stat.Nlink)
		}
	}
	return nil
}

// RelativeTo returns path relative to root, for payloads that must carry a
// repo-relative file_path rather than an absolute one.
func RelativeTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}
