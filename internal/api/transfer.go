package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fruitsalade/boxdir/internal/audit"
	"github.com/fruitsalade/boxdir/internal/events"
	"github.com/fruitsalade/boxdir/internal/logging"
	"github.com/fruitsalade/boxdir/internal/metrics"
	"github.com/fruitsalade/boxdir/internal/sandbox"
	"github.com/fruitsalade/boxdir/pkg/protocol"
)

var errRangeNotSatisfiable = errors.New("range not satisfiable")

// handleDownload streams ?path= as an attachment. A single byte range is
// honoured with 206; multiple ranges are answered with the whole file.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("path")
	p, err := s.resolver.Resolve(raw)
	if err != nil {
		metrics.RecordPathRejection("download")
		logging.WithContext(r.Context()).Debug("download path rejected", zap.String("requested", raw), zap.Error(err))
		s.sendError(w, http.StatusNotFound, "not found")
		return
	}

	dl, err := s.transfers.Open(r.Context(), p)
	if err != nil {
		metrics.RecordContentDownload(0, false)
		s.sendSandboxError(w, r, "download", err)
		return
	}
	defer dl.Close()

	offset, length, partial, err := parseRangeHeader(r.Header.Get("Range"), dl.Size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", dl.Size))
		s.sendError(w, http.StatusRequestedRangeNotSatisfiable, "requested range not satisfiable")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Name}))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Last-Modified", dl.Modified.Format(http.TimeFormat))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))

	if partial {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, dl.Size))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if r.Method == http.MethodHead {
		return
	}

	n, err := io.Copy(w, io.NewSectionReader(dl.File, offset, length))
	if err != nil {
		logging.WithContext(r.Context()).Warn("content transfer error", zap.String("path", p.Rel), zap.Error(err))
	}
	metrics.RecordContentDownload(n, err == nil)
}

// parseRangeHeader interprets a Range header against a file of size bytes.
// Headers it does not understand, including multi-range requests, select
// the whole file. A well-formed range that starts past the end yields
// errRangeNotSatisfiable.
func parseRangeHeader(header string, size int64) (offset, length int64, partial bool, err error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return 0, size, false, nil
	}
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return 0, size, false, nil
	}

	if startStr == "" {
		suffix, perr := strconv.ParseInt(endStr, 10, 64)
		if perr != nil || suffix < 0 {
			return 0, size, false, nil
		}
		if suffix == 0 || size == 0 {
			return 0, 0, false, errRangeNotSatisfiable
		}
		if suffix > size {
			suffix = size
		}
		return size - suffix, suffix, true, nil
	}

	start, perr := strconv.ParseInt(startStr, 10, 64)
	if perr != nil || start < 0 {
		return 0, size, false, nil
	}
	end := size - 1
	if endStr != "" {
		e, perr := strconv.ParseInt(endStr, 10, 64)
		if perr != nil || e < start {
			return 0, size, false, nil
		}
		if e < end {
			end = e
		}
	}
	if start >= size {
		return 0, 0, false, errRangeNotSatisfiable
	}
	return start, end - start + 1, true, nil
}

// handleUpload stores the request body in the directory ?path=. The body
// is either multipart/form-data, where the first part carrying a file
// name is used, or raw bytes named by ?name=.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rawDir := q.Get("path")
	dir, err := s.resolver.Resolve(rawDir)
	if err != nil {
		metrics.RecordPathRejection("upload")
		metrics.RecordContentUpload(0, false)
		s.record(r, audit.OpUpload, rawDir, "", err)
		s.sendSandboxError(w, r, "upload", err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)

	var entry *sandbox.FileEntry
	name := q.Get("name")
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "multipart/form-data" {
		entry, name, err = s.uploadMultipart(r, dir)
	} else {
		entry, err = s.transfers.Upload(r.Context(), dir, name, r.Body)
	}

	target := path.Join(dir.Rel, sandbox.BaseName(name))
	if err != nil {
		metrics.RecordContentUpload(0, false)
		s.record(r, audit.OpUpload, target, "", err)
		s.sendSandboxError(w, r, "upload", err)
		return
	}

	target = path.Join(dir.Rel, entry.Name)
	metrics.RecordContentUpload(entry.Size, true)
	s.record(r, audit.OpUpload, target, "", nil)
	s.publish(events.Event{Type: events.EventUpload, Path: target, Kind: sandbox.KindFile, Size: entry.Size})

	logging.WithContext(r.Context()).Info("file uploaded",
		zap.String("path", target),
		zap.Int64("size", entry.Size))

	s.writeJSON(w, http.StatusCreated, protocol.FileEntry{
		Name:     entry.Name,
		Size:     entry.Size,
		Modified: entry.Modified,
	})
}

func (s *Server) uploadMultipart(r *http.Request, dir sandbox.Path) (*sandbox.FileEntry, string, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", sandbox.ErrEmptyUpload, err)
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, "", sandbox.ErrEmptyUpload
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, "", err
			}
			return nil, "", fmt.Errorf("%w: malformed multipart body: %v", sandbox.ErrEmptyUpload, err)
		}
		name := part.FileName()
		if name == "" {
			part.Close()
			continue
		}
		entry, err := s.transfers.Upload(r.Context(), dir, name, part)
		part.Close()
		return entry, name, err
	}
}
