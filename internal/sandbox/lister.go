package sandbox

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

// DirEntry is a subdirectory in a listing.
type DirEntry struct {
	Name string
}

// FileEntry is a file in a listing.
type FileEntry struct {
	Name     string
	Size     int64
	Modified time.Time // UTC
}

// Listing is a snapshot of one directory's immediate children.
type Listing struct {
	Path   string
	Abs    string
	Parent *string // nil at the root
	Dirs   []DirEntry
	Files  []FileEntry

	// Fallback is set by Browse when the requested path could not be used
	// and the root was listed instead.
	Fallback bool
}

// Lister reads directory contents. It holds no state; every call reads
// the filesystem.
type Lister struct {
	resolver *Resolver
}

// NewLister creates a lister bound to resolver.
func NewLister(resolver *Resolver) *Lister {
	return &Lister{resolver: resolver}
}

// Browse resolves raw and lists it. Paths that are rejected, missing, or
// not directories fall back to the root.
func (l *Lister) Browse(ctx context.Context, raw string) (*Listing, error) {
	fallback := false
	dir, err := l.resolver.Resolve(raw)
	if err != nil {
		dir, fallback = l.resolver.Root(), true
	} else if info, serr := os.Stat(dir.Abs); serr != nil || !info.IsDir() {
		dir, fallback = l.resolver.Root(), true
	}
	listing, err := l.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	listing.Fallback = fallback
	return listing, nil
}

// List enumerates dir. Directories and files are sorted by name separately.
// Entries that vanish while the listing is being built are skipped; the
// directory itself vanishing is an internal error.
func (l *Lister) List(ctx context.Context, dir Path) (*Listing, error) {
	entries, err := os.ReadDir(dir.Abs)
	if err != nil {
		return nil, fmt.Errorf("read directory %q: %w", dir.Rel, err)
	}

	out := &Listing{
		Path:  dir.Rel,
		Abs:   dir.Abs,
		Dirs:  []DirEntry{},
		Files: []FileEntry{},
	}
	if !dir.IsRoot() {
		parent := path.Dir(dir.Rel)
		if parent == "." {
			parent = ""
		}
		out.Parent = &parent
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if isTombstone(e.Name()) {
			continue
		}
		// Stat follows symlinks so a link to a directory lists as one.
		info, err := os.Stat(filepath.Join(dir.Abs, e.Name()))
		if err != nil {
			continue
		}
		if info.IsDir() {
			out.Dirs = append(out.Dirs, DirEntry{Name: e.Name()})
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		out.Files = append(out.Files, FileEntry{
			Name:     e.Name(),
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
		})
	}

	sort.SliceStable(out.Dirs, func(i, j int) bool {
		return nameLess(out.Dirs[i].Name, out.Dirs[j].Name)
	})
	sort.SliceStable(out.Files, func(i, j int) bool {
		return nameLess(out.Files[i].Name, out.Files[j].Name)
	})
	return out, nil
}

// nameLess orders names the way the host filesystem compares them:
// case-insensitively on Windows and macOS, bytewise elsewhere. Names that
// fold equal fall back to bytewise order so the result is deterministic.
func nameLess(a, b string) bool {
	if caseInsensitiveFS {
		la, lb := strings.ToLower(a), strings.ToLower(b)
		if la != lb {
			return la < lb
		}
	}
	return a < b
}

var caseInsensitiveFS = runtime.GOOS == "windows" || runtime.GOOS == "darwin"
