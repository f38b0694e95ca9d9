package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charlievieth/fastwalk"
	"github.com/google/uuid"
)

// Entry kinds accepted by Delete.
const (
	KindFile      = "file"
	KindDirectory = "directory"
)

// DefaultFolderName is used by CreateFolder when no name is given.
const DefaultFolderName = "New Folder"

// tombstonePrefix marks a directory that Delete has claimed and is
// removing. Listings skip such entries.
const tombstonePrefix = ".boxdir-deleting-"

// isTombstone reports whether name is a directory being deleted.
func isTombstone(name string) bool {
	return strings.HasPrefix(name, tombstonePrefix)
}

// Mutations creates, renames and deletes entries. Each operation is a
// single filesystem call that fails atomically on conflict; existence
// probes are only used to pick an error.
type Mutations struct {
	resolver    *Resolver
	defaultName string
}

// NewMutations creates a mutation service. An empty defaultName selects
// DefaultFolderName.
func NewMutations(resolver *Resolver, defaultName string) *Mutations {
	if strings.TrimSpace(defaultName) == "" {
		defaultName = DefaultFolderName
	}
	return &Mutations{resolver: resolver, defaultName: defaultName}
}

// CreateFolder makes a directory called name in parent. An entry of that
// name, file or directory, is ErrConflict.
func (m *Mutations) CreateFolder(ctx context.Context, parent Path, name string) (Path, error) {
	if strings.TrimSpace(name) == "" {
		name = m.defaultName
	}
	target, err := m.resolver.ResolveChild(parent, name)
	if err != nil {
		return Path{}, err
	}
	if err := os.Mkdir(target.Abs, 0o755); err != nil {
		switch {
		case errors.Is(err, fs.ErrExist):
			return Path{}, fmt.Errorf("%w: %s", ErrConflict, target.Rel)
		case errors.Is(err, fs.ErrNotExist):
			return Path{}, fmt.Errorf("%w: directory %q", ErrNotFound, parent.Rel)
		}
		return Path{}, fmt.Errorf("mkdir %q: %w", target.Rel, err)
	}
	return target, nil
}

// Rename moves oldName to newName within parent. Files and directories
// behave the same. The move never replaces an existing newName.
func (m *Mutations) Rename(ctx context.Context, parent Path, oldName, newName string) (Path, error) {
	if strings.TrimSpace(oldName) == "" || strings.TrimSpace(newName) == "" {
		return Path{}, fmt.Errorf("%w: blank", ErrInvalidName)
	}
	src, err := m.resolver.ResolveChild(parent, oldName)
	if err != nil {
		return Path{}, err
	}
	dst, err := m.resolver.ResolveChild(parent, newName)
	if err != nil {
		return Path{}, err
	}
	if _, err := os.Lstat(src.Abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Path{}, fmt.Errorf("%w: %s", ErrNotFound, src.Rel)
		}
		return Path{}, fmt.Errorf("stat %q: %w", src.Rel, err)
	}

	if err := renameNoReplace(src.Abs, dst.Abs); err != nil {
		switch {
		case errors.Is(err, fs.ErrExist):
			return Path{}, fmt.Errorf("%w: %s", ErrConflict, dst.Rel)
		case errors.Is(err, fs.ErrNotExist):
			return Path{}, fmt.Errorf("%w: %s", ErrNotFound, src.Rel)
		}
		return Path{}, fmt.Errorf("rename %q: %w", src.Rel, err)
	}
	return dst, nil
}

// Delete removes name from parent. kind must be KindFile or KindDirectory
// and must match the entry: a directory is not found when asked to delete
// a file of that name, and the reverse. Symlinks count as files and are
// never followed. A directory is first renamed to a private tombstone so
// that exactly one of several concurrent deletes claims it; the others get
// ErrNotFound. Write protection is then cleared throughout the subtree and
// it is removed. If removal fails part way, what remains is put back under
// its original name.
func (m *Mutations) Delete(ctx context.Context, parent Path, name, kind string) (Path, error) {
	if kind != KindFile && kind != KindDirectory {
		return Path{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	target, err := m.resolver.ResolveChild(parent, name)
	if err != nil {
		return Path{}, err
	}
	info, err := os.Lstat(target.Abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Path{}, fmt.Errorf("%w: %s %s", ErrNotFound, kind, target.Rel)
		}
		return Path{}, fmt.Errorf("stat %q: %w", target.Rel, err)
	}
	if info.IsDir() != (kind == KindDirectory) {
		return Path{}, fmt.Errorf("%w: %s %s", ErrNotFound, kind, target.Rel)
	}

	if kind == KindFile {
		if err := os.Remove(target.Abs); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Path{}, fmt.Errorf("%w: file %s", ErrNotFound, target.Rel)
			}
			return Path{}, fmt.Errorf("remove %q: %w", target.Rel, err)
		}
		return target, nil
	}

	if err := deleteDirectory(ctx, target); err != nil {
		return Path{}, err
	}
	return target, nil
}

func deleteDirectory(ctx context.Context, target Path) error {
	tomb := filepath.Join(filepath.Dir(target.Abs), tombstonePrefix+uuid.NewString())
	if err := renameNoReplace(target.Abs, tomb); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: directory %s", ErrNotFound, target.Rel)
		}
		return fmt.Errorf("claim %q: %w", target.Rel, err)
	}

	// The entry may have been swapped for a file after the kind check.
	info, err := os.Lstat(tomb)
	if err != nil {
		return fmt.Errorf("stat claimed %q: %w", target.Rel, err)
	}
	if !info.IsDir() {
		restore(tomb, target.Abs)
		return fmt.Errorf("%w: directory %s", ErrNotFound, target.Rel)
	}

	if err := clearTree(ctx, tomb); err != nil {
		restore(tomb, target.Abs)
		return fmt.Errorf("clear attributes under %q: %w", target.Rel, err)
	}
	if err := os.RemoveAll(tomb); err != nil {
		restore(tomb, target.Abs)
		return fmt.Errorf("remove %q: %w", target.Rel, err)
	}
	return nil
}

// restore puts a claimed entry back. If the original name has been taken
// in the meantime the tombstone is left where it is.
func restore(tomb, original string) {
	renameNoReplace(tomb, original)
}

// clearTree makes every directory and file under root removable. The root
// is handled first so an unreadable top directory can still be walked.
// Symlinks are not followed.
func clearTree(ctx context.Context, root string) error {
	if err := makeWritable(root, true); err != nil {
		return err
	}
	conf := fastwalk.Config{Follow: false}
	return fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if p == root || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		return makeWritable(p, d.IsDir())
	})
}
