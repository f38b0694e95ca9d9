// Package sandbox confines every filesystem operation to a single root
// directory. Resolver is the only way to turn client input into a path on
// disk; Lister, Transfers and Mutations accept nothing but its output.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Path is a location proven to lie inside the root.
type Path struct {
	// Rel is slash separated and relative to the root; "" is the root.
	Rel string
	// Abs is the canonical absolute path. Diagnostics only.
	Abs string
}

// IsRoot reports whether p is the sandbox root itself.
func (p Path) IsRoot() bool { return p.Rel == "" }

// Resolver validates client-supplied relative paths against a fixed root.
type Resolver struct {
	root string
}

// NewResolver canonicalizes root (absolute, symlinks evaluated) and checks
// that it is an existing directory.
func NewResolver(root string) (*Resolver, error) {
	if root == "" {
		return nil, errors.New("sandbox root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %s is not a directory", canonical)
	}
	return &Resolver{root: canonical}, nil
}

// Root returns the canonical root.
func (r *Resolver) Root() Path {
	return Path{Abs: r.root}
}

// Resolve maps raw onto a Path inside the root. The empty string is the
// root. Backslashes are treated as separators, leading and trailing
// separators are ignored, and anything containing a colon is rejected.
// After joining, ".." segments and symlinks are resolved and the result
// must be the root or a descendant of it.
func (r *Resolver) Resolve(raw string) (Path, error) {
	cleaned, err := normalize(raw)
	if err != nil {
		return Path{}, err
	}
	if cleaned == "" {
		return r.Root(), nil
	}

	joined := filepath.Join(r.root, filepath.FromSlash(cleaned))
	canonical, err := evalExisting(joined)
	if err != nil {
		return Path{}, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	return r.contain(canonical)
}

// ResolveChild resolves name as a single entry directly under parent. The
// entry itself is not canonicalized, so a symlink named name refers to the
// link and not its target.
func (r *Resolver) ResolveChild(parent Path, name string) (Path, error) {
	if err := ValidateName(name); err != nil {
		return Path{}, err
	}
	if _, err := r.contain(parent.Abs); err != nil {
		return Path{}, err
	}
	return Path{
		Rel: path.Join(parent.Rel, name),
		Abs: filepath.Join(parent.Abs, name),
	}, nil
}

func (r *Resolver) contain(canonical string) (Path, error) {
	if !within(r.root, canonical) {
		return Path{}, ErrPathEscape
	}
	rel, err := filepath.Rel(r.root, canonical)
	if err != nil {
		return Path{}, ErrPathEscape
	}
	if rel == "." {
		rel = ""
	}
	return Path{Rel: filepath.ToSlash(rel), Abs: canonical}, nil
}

// ValidateName checks that name is usable as a single directory entry.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: blank", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, "/\\:\x00"):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func normalize(raw string) (string, error) {
	s := raw
	if strings.Contains(s, "%") {
		if decoded, err := url.PathUnescape(s); err == nil {
			s = decoded
		}
	}
	s = strings.ReplaceAll(s, `\`, "/")
	if strings.ContainsRune(s, ':') {
		return "", fmt.Errorf("%w: volume marker", ErrInvalidPath)
	}
	if strings.ContainsRune(s, 0) {
		return "", fmt.Errorf("%w: NUL byte", ErrInvalidPath)
	}
	return strings.Trim(s, "/"), nil
}

// within reports whether p equals root or lies beneath it, comparing whole
// path segments so that /srv/root2 is not inside /srv/root.
func within(root, p string) bool {
	if p == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

// evalExisting evaluates symlinks on the longest existing prefix of p and
// appends the remaining, not yet existing, components unchanged.
func evalExisting(p string) (string, error) {
	var tail []string
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if _, lerr := os.Lstat(cur); lerr == nil {
			// Present but unresolvable: a dangling symlink.
			return "", fmt.Errorf("dangling symlink %s", filepath.Base(cur))
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}
