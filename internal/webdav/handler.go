package webdav

import (
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"

	"github.com/fruitsalade/boxdir/internal/audit"
	"github.com/fruitsalade/boxdir/internal/logging"
	"github.com/fruitsalade/boxdir/internal/sandbox"
)

// Options configures NewHandler.
type Options struct {
	// Prefix is the URL path the mount is served under.
	Prefix string
	// MaxUploadSize bounds request bodies. Zero means no limit.
	MaxUploadSize int64
	// Notify receives every mutation attempt. May be nil.
	Notify Notifier
}

// NewHandler creates a WebDAV HTTP handler serving the sandbox.
//
// COPY and MOVE are always treated as Overwrite: F, so an existing
// destination answers 412 instead of being deleted first.
func NewHandler(resolver *sandbox.Resolver, transfers *sandbox.Transfers, mutations *sandbox.Mutations, opts Options) http.Handler {
	fsys := NewFS(resolver, transfers, mutations, opts.Notify)
	dav := &webdav.Handler{
		FileSystem: fsys,
		LockSystem: webdav.NewMemLS(),
		Prefix:     opts.Prefix,
		Logger: func(r *http.Request, err error) {
			if err == nil {
				return
			}
			logging.WithContext(r.Context()).Debug("webdav request failed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Error(err))
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "COPY", "MOVE":
			r = r.Clone(r.Context())
			r.Header.Set("Overwrite", "F")
		case http.MethodPut:
			if opts.MaxUploadSize > 0 && r.ContentLength > opts.MaxUploadSize {
				fsys.changed(r.Context(), Change{
					Op:   audit.OpUpload,
					Path: clientPath(strings.TrimPrefix(r.URL.Path, opts.Prefix)),
					Err:  &http.MaxBytesError{Limit: opts.MaxUploadSize},
				})
				http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
				return
			}
		}
		if opts.MaxUploadSize > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, opts.MaxUploadSize)
		} else if r.Body != nil {
			r.Body = bodyReader{r.Body}
		}
		dav.ServeHTTP(w, r)
	})
}

// bodyReader hides any WriterTo on a request body so that io.Copy hands
// the body to upload.ReadFrom, where a read error can abort the upload.
type bodyReader struct {
	rc io.ReadCloser
}

func (b bodyReader) Read(p []byte) (int, error) { return b.rc.Read(p) }
func (b bodyReader) Close() error               { return b.rc.Close() }
