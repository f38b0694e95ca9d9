// Package webdav exposes the sandbox over WebDAV. Every call goes through
// the same Resolver, Transfers and Mutations as the JSON API, so the
// containment, upload and no-overwrite rules hold for WebDAV clients too.
package webdav

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"golang.org/x/net/webdav"

	"github.com/fruitsalade/boxdir/internal/audit"
	"github.com/fruitsalade/boxdir/internal/sandbox"
)

// Change is one mutation attempted through WebDAV. Paths are relative to
// the root; Target is the new path of a rename. Err is nil on success.
type Change struct {
	Op     string
	Path   string
	Target string
	Kind   string
	Size   int64
	Err    error
}

// Notifier is called after every WebDAV mutation attempt, before the
// response is written.
type Notifier func(ctx context.Context, c Change)

// FS implements webdav.FileSystem on top of a sandbox root.
type FS struct {
	resolver  *sandbox.Resolver
	transfers *sandbox.Transfers
	mutations *sandbox.Mutations
	notify    Notifier
}

var _ webdav.FileSystem = (*FS)(nil)

// NewFS creates a WebDAV filesystem over resolver's root. notify may be
// nil.
func NewFS(resolver *sandbox.Resolver, transfers *sandbox.Transfers, mutations *sandbox.Mutations, notify Notifier) *FS {
	return &FS{resolver: resolver, transfers: transfers, mutations: mutations, notify: notify}
}

func (f *FS) changed(ctx context.Context, c Change) {
	if f.notify != nil {
		f.notify(ctx, c)
	}
}

// clientPath is name as a root-relative path, for reporting attempts that
// never resolved.
func clientPath(name string) string {
	return strings.Trim(path.Clean("/"+name), "/")
}

// split returns the parent directory and base name of a WebDAV path.
// The root has an empty base.
func split(name string) (dir, base string) {
	name = strings.Trim(path.Clean("/"+name), "/")
	if name == "" {
		return "", ""
	}
	dir, base = path.Split(name)
	return strings.TrimSuffix(dir, "/"), base
}

// child resolves the parent of name and then name as an entry of it. The
// root is not an entry of anything.
func (f *FS) child(name string) (sandbox.Path, sandbox.Path, error) {
	dir, base := split(name)
	if base == "" {
		return sandbox.Path{}, sandbox.Path{}, fmt.Errorf("%w: root", sandbox.ErrInvalidPath)
	}
	parent, err := f.resolver.Resolve(dir)
	if err != nil {
		return sandbox.Path{}, sandbox.Path{}, err
	}
	target, err := f.resolver.ResolveChild(parent, base)
	if err != nil {
		return sandbox.Path{}, sandbox.Path{}, err
	}
	return parent, target, nil
}

// Mkdir creates a directory. The parent must already exist.
func (f *FS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	dir, base := split(name)
	if base == "" {
		return pathError("mkdir", name, os.ErrExist)
	}
	parent, err := f.resolver.Resolve(dir)
	if err != nil {
		f.changed(ctx, Change{Op: audit.OpCreateFolder, Path: clientPath(name), Err: err})
		return pathError("mkdir", name, err)
	}
	created, err := f.mutations.CreateFolder(ctx, parent, base)
	if err != nil {
		f.changed(ctx, Change{Op: audit.OpCreateFolder, Path: path.Join(parent.Rel, base), Err: err})
		return pathError("mkdir", name, err)
	}
	f.changed(ctx, Change{Op: audit.OpCreateFolder, Path: created.Rel, Kind: sandbox.KindDirectory})
	return nil
}

// OpenFile opens name for reading, or creates it. Existing files are
// never opened for writing, and creation always fails if the name is
// taken. Nothing is created until content has been written and the file
// is closed.
func (f *FS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	if flag&os.O_CREATE != 0 {
		parent, target, err := f.child(name)
		if err != nil {
			f.changed(ctx, Change{Op: audit.OpUpload, Path: clientPath(name), Err: err})
			return nil, pathError("open", name, err)
		}
		if _, err := os.Lstat(target.Abs); err == nil {
			f.changed(ctx, Change{
				Op:   audit.OpUpload,
				Path: target.Rel,
				Err:  fmt.Errorf("%w: %s", sandbox.ErrConflict, target.Rel),
			})
			return nil, pathError("open", name, os.ErrExist)
		}
		return &upload{
			ctx:    ctx,
			fsys:   f,
			dir:    parent,
			name:   path.Base(target.Rel),
			target: target,
		}, nil
	}
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, pathError("open", name, os.ErrPermission)
	}

	p, err := f.resolver.Resolve(name)
	if err != nil {
		return nil, pathError("open", name, err)
	}
	file, err := os.Open(p.Abs)
	if err != nil {
		return nil, pathError("open", name, err)
	}
	return file, nil
}

// RemoveAll deletes a file or a directory tree. The root cannot be
// removed.
func (f *FS) RemoveAll(ctx context.Context, name string) error {
	parent, target, err := f.child(name)
	if err != nil {
		f.changed(ctx, Change{Op: audit.OpDelete, Path: clientPath(name), Err: err})
		return pathError("remove", name, err)
	}
	info, err := os.Lstat(target.Abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %s", sandbox.ErrNotFound, target.Rel)
		}
		f.changed(ctx, Change{Op: audit.OpDelete, Path: target.Rel, Err: err})
		return pathError("remove", name, err)
	}
	kind := sandbox.KindFile
	if info.IsDir() {
		kind = sandbox.KindDirectory
	}
	_, err = f.mutations.Delete(ctx, parent, path.Base(target.Rel), kind)
	f.changed(ctx, Change{Op: audit.OpDelete, Path: target.Rel, Kind: kind, Err: err})
	if err != nil {
		return pathError("remove", name, err)
	}
	return nil
}

// Rename renames an entry within its directory. Moves between
// directories are refused.
func (f *FS) Rename(ctx context.Context, oldName, newName string) error {
	oldDir, oldBase := split(oldName)
	newDir, newBase := split(newName)
	if oldBase == "" || newBase == "" || oldDir != newDir {
		return pathError("rename", oldName, os.ErrPermission)
	}
	parent, err := f.resolver.Resolve(oldDir)
	if err != nil {
		f.changed(ctx, Change{Op: audit.OpRename, Path: clientPath(oldName), Target: clientPath(newName), Err: err})
		return pathError("rename", oldName, err)
	}
	oldPath := path.Join(parent.Rel, oldBase)
	renamed, err := f.mutations.Rename(ctx, parent, oldBase, newBase)
	if err != nil {
		f.changed(ctx, Change{Op: audit.OpRename, Path: oldPath, Target: path.Join(parent.Rel, newBase), Err: err})
		return pathError("rename", oldName, err)
	}
	f.changed(ctx, Change{Op: audit.OpRename, Path: oldPath, Target: renamed.Rel})
	return nil
}

// Stat describes name, following symlinks that stay inside the root.
func (f *FS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	p, err := f.resolver.Resolve(name)
	if err != nil {
		return nil, pathError("stat", name, err)
	}
	info, err := os.Stat(p.Abs)
	if err != nil {
		return nil, pathError("stat", name, err)
	}
	return info, nil
}

// pathError converts sandbox and OS errors into the *fs.PathError values
// x/net/webdav inspects with os.IsNotExist and os.IsExist. The path is
// the client's, never the absolute one.
func pathError(op, name string, err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		err = pe.Err
	}
	switch {
	case errors.Is(err, fs.ErrNotExist), sandbox.KindOf(err) == sandbox.KindNotFound:
		err = fs.ErrNotExist
	case errors.Is(err, fs.ErrExist), sandbox.KindOf(err) == sandbox.KindConflict:
		err = fs.ErrExist
	case errors.Is(err, fs.ErrPermission), sandbox.KindOf(err) == sandbox.KindInvalidInput:
		err = fs.ErrPermission
	}
	return &fs.PathError{Op: op, Path: name, Err: err}
}
