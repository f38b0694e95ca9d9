package webdav

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/fruitsalade/boxdir/internal/audit"
	"github.com/fruitsalade/boxdir/internal/sandbox"
)

var errWriteOnly = errors.New("file is open for upload only")

// upload is the webdav.File returned when a client creates a file. Its
// content is piped into Transfers.Upload, the same path the JSON API
// uses: the file is created exclusively, an empty body is refused and a
// body that fails part way leaves nothing behind.
//
// x/net/webdav copies the request body with io.Copy, which uses ReadFrom
// and so reports a broken body here. The upload is committed by Stat or
// Close, whichever comes first.
type upload struct {
	ctx    context.Context
	fsys   *FS
	dir    sandbox.Path
	name   string
	target sandbox.Path

	startOnce sync.Once
	pw        *io.PipeWriter
	done      chan struct{}
	entry     *sandbox.FileEntry
	err       error
	used      bool

	finishOnce sync.Once
}

var (
	_ io.ReaderFrom = (*upload)(nil)
	_ io.Writer     = (*upload)(nil)
)

func (u *upload) start() {
	u.startOnce.Do(func() {
		pr, pw := io.Pipe()
		u.pw = pw
		u.done = make(chan struct{})
		go func() {
			defer close(u.done)
			u.entry, u.err = u.fsys.transfers.Upload(u.ctx, u.dir, u.name, pr)
			pr.CloseWithError(u.err)
		}()
	})
}

func (u *upload) Write(p []byte) (int, error) {
	u.start()
	u.used = true
	return u.pw.Write(p)
}

// ReadFrom streams r into the upload. A read error aborts it and removes
// whatever was written.
func (u *upload) ReadFrom(r io.Reader) (int64, error) {
	u.start()
	u.used = true
	n, err := io.Copy(u.pw, r)
	if err != nil {
		u.finish(err)
		return n, err
	}
	return n, nil
}

// finish ends the body, with cause as its error when non-nil, and waits
// for the upload to settle. Only the first call has any effect.
func (u *upload) finish(cause error) error {
	u.start()
	u.finishOnce.Do(func() {
		u.pw.CloseWithError(cause)
		<-u.done
		if u.err == nil && cause != nil {
			u.err = cause
		}
		if !u.used {
			return
		}
		c := Change{Op: audit.OpUpload, Path: u.target.Rel, Kind: sandbox.KindFile, Err: u.err}
		if u.entry != nil {
			c.Size = u.entry.Size
		}
		u.fsys.changed(u.ctx, c)
	})
	return u.err
}

func (u *upload) Stat() (os.FileInfo, error) {
	if err := u.finish(nil); err != nil {
		return nil, err
	}
	return os.Stat(u.target.Abs)
}

func (u *upload) Close() error {
	return u.finish(nil)
}

func (u *upload) Read(p []byte) (int, error) {
	return 0, errWriteOnly
}

func (u *upload) Seek(offset int64, whence int) (int64, error) {
	return 0, errWriteOnly
}

func (u *upload) Readdir(count int) ([]fs.FileInfo, error) {
	return nil, errWriteOnly
}
