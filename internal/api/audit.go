package api

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/fruitsalade/boxdir/internal/audit"
	"github.com/fruitsalade/boxdir/internal/logging"
	"github.com/fruitsalade/boxdir/pkg/protocol"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// handleAudit returns the newest audit entries. It is only available when
// the audit trail is kept in a store that can be read back.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	reader, ok := s.recorder.(audit.Reader)
	if !ok {
		s.sendError(w, http.StatusNotFound, "audit log not available")
		return
	}

	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.sendError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAuditLimit)
	}

	entries, err := reader.Recent(r.Context(), limit)
	if err != nil {
		if errors.Is(err, audit.ErrNotStored) {
			s.sendError(w, http.StatusNotFound, "audit log not available")
			return
		}
		logging.WithContext(r.Context()).Error("audit query failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := protocol.AuditResponse{Entries: make([]protocol.AuditEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, protocol.AuditEntry{
			Time:       e.Time.UTC(),
			RequestID:  e.RequestID,
			RemoteAddr: e.RemoteAddr,
			Op:         e.Op,
			Path:       e.Path,
			Target:     e.Target,
			Outcome:    e.Outcome,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}
