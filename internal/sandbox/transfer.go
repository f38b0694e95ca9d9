package sandbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Download is an open regular file. The caller must Close it.
type Download struct {
	File     *os.File
	Name     string
	Size     int64
	Modified time.Time
}

// Close releases the underlying file.
func (d *Download) Close() error {
	return d.File.Close()
}

// Transfers moves file content in and out of the sandbox.
type Transfers struct{}

// NewTransfers creates a transfer service.
func NewTransfers() *Transfers {
	return &Transfers{}
}

// Open opens p for reading. Missing paths, directories and anything that is
// not a regular file are ErrNotFound.
func (t *Transfers) Open(ctx context.Context, p Path) (*Download, error) {
	if p.IsRoot() {
		return nil, fmt.Errorf("%w: root is a directory", ErrNotFound)
	}
	f, err := os.Open(p.Abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p.Rel)
		}
		return nil, fmt.Errorf("open %q: %w", p.Rel, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %q: %w", p.Rel, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is not a file", ErrNotFound, p.Rel)
	}
	return &Download{
		File:     f,
		Name:     info.Name(),
		Size:     info.Size(),
		Modified: info.ModTime().UTC(),
	}, nil
}

// Upload streams body into a new file in dir. Only the base name of
// fileName is used. The file is created exclusively: an existing entry of
// the same name yields ErrConflict and is left untouched. A body with no
// bytes is ErrEmptyUpload. If the copy fails part way the partial file is
// removed.
func (t *Transfers) Upload(ctx context.Context, dir Path, fileName string, body io.Reader) (*FileEntry, error) {
	name := BaseName(fileName)
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	info, err := os.Stat(dir.Abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: directory %q", ErrNotFound, dir.Rel)
	}

	br := bufio.NewReader(&ctxReader{ctx: ctx, r: body})
	if _, err := br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyUpload
		}
		return nil, fmt.Errorf("read upload: %w", err)
	}

	target := filepath.Join(dir.Abs, name)
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrExist):
			return nil, fmt.Errorf("%w: %s", ErrConflict, name)
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%w: directory %q", ErrNotFound, dir.Rel)
		}
		return nil, fmt.Errorf("create %q: %w", name, err)
	}

	n, err := io.Copy(f, br)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(target)
		return nil, fmt.Errorf("write %q: %w", name, err)
	}

	stat, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", name, err)
	}
	return &FileEntry{
		Name:     name,
		Size:     n,
		Modified: stat.ModTime().UTC(),
	}, nil
}

// BaseName strips any directory components, in either separator style,
// from a client-supplied file name.
func BaseName(fileName string) string {
	s := strings.ReplaceAll(fileName, `\`, "/")
	s = strings.TrimRight(s, "/")
	if s == "" {
		return ""
	}
	return path.Base(s)
}

// ctxReader stops a copy once ctx is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
