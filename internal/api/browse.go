package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/fruitsalade/boxdir/internal/logging"
	"github.com/fruitsalade/boxdir/internal/metrics"
	"github.com/fruitsalade/boxdir/internal/sandbox"
	"github.com/fruitsalade/boxdir/pkg/protocol"
)

// handleBrowse lists ?path=. Unusable paths list the root instead of
// failing.
func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("path")
	listing, err := s.lister.Browse(r.Context(), raw)
	if err != nil {
		s.sendSandboxError(w, r, "browse", err)
		return
	}
	if listing.Fallback {
		metrics.RecordPathRejection("browse")
		logging.WithContext(r.Context()).Debug("browse fell back to root", zap.String("requested", raw))
	}

	resp := toBrowseResponse(listing)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Add("Vary", "Accept-Encoding")

	if !acceptsGzip(r) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
		return
	}
	w.Header().Set("Content-Encoding", "gzip")
	w.WriteHeader(http.StatusOK)
	gz := gzip.NewWriter(w)
	if err := json.NewEncoder(gz).Encode(resp); err != nil {
		logging.WithContext(r.Context()).Warn("browse encode failed", zap.Error(err))
	}
	gz.Close()
}

func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(strings.TrimSpace(coding), "gzip") {
			return strings.ReplaceAll(params, " ", "") != "q=0"
		}
	}
	return false
}

func toBrowseResponse(l *sandbox.Listing) protocol.BrowseResponse {
	resp := protocol.BrowseResponse{
		Path:         l.Path,
		AbsolutePath: l.Abs,
		Parent:       l.Parent,
		Directories:  make([]protocol.DirEntry, 0, len(l.Dirs)),
		Files:        make([]protocol.FileEntry, 0, len(l.Files)),
	}
	for _, d := range l.Dirs {
		resp.Directories = append(resp.Directories, protocol.DirEntry{Name: d.Name})
	}
	for _, f := range l.Files {
		resp.Files = append(resp.Files, protocol.FileEntry{
			Name:     f.Name,
			Size:     f.Size,
			Modified: f.Modified,
		})
	}
	return resp
}
