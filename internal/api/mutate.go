package api

import (
	"encoding/json"
	"net/http"
	"path"

	"go.uber.org/zap"

	"github.com/fruitsalade/boxdir/internal/audit"
	"github.com/fruitsalade/boxdir/internal/events"
	"github.com/fruitsalade/boxdir/internal/logging"
	"github.com/fruitsalade/boxdir/internal/metrics"
	"github.com/fruitsalade/boxdir/internal/sandbox"
	"github.com/fruitsalade/boxdir/pkg/protocol"
)

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logging.WithContext(r.Context()).Debug("invalid request body", zap.Error(err))
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateFolderRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	parent, err := s.resolver.Resolve(req.Path)
	if err != nil {
		metrics.RecordPathRejection(audit.OpCreateFolder)
		s.record(r, audit.OpCreateFolder, req.Path, "", err)
		s.sendSandboxError(w, r, audit.OpCreateFolder, err)
		return
	}

	created, err := s.mutations.CreateFolder(r.Context(), parent, req.Name)
	if err != nil {
		s.record(r, audit.OpCreateFolder, path.Join(parent.Rel, req.Name), "", err)
		s.sendSandboxError(w, r, audit.OpCreateFolder, err)
		return
	}

	s.record(r, audit.OpCreateFolder, created.Rel, "", nil)
	s.publish(events.Event{Type: events.EventCreate, Path: created.Rel, Kind: sandbox.KindDirectory})
	logging.WithContext(r.Context()).Info("folder created", zap.String("path", created.Rel))

	s.writeJSON(w, http.StatusCreated, protocol.MutationResponse{Status: "created", Path: created.Rel})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req protocol.RenameRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	parent, err := s.resolver.Resolve(req.Path)
	if err != nil {
		metrics.RecordPathRejection(audit.OpRename)
		s.record(r, audit.OpRename, req.Path, "", err)
		s.sendSandboxError(w, r, audit.OpRename, err)
		return
	}

	oldPath := path.Join(parent.Rel, req.OldName)
	renamed, err := s.mutations.Rename(r.Context(), parent, req.OldName, req.NewName)
	if err != nil {
		s.record(r, audit.OpRename, oldPath, path.Join(parent.Rel, req.NewName), err)
		s.sendSandboxError(w, r, audit.OpRename, err)
		return
	}

	s.record(r, audit.OpRename, oldPath, renamed.Rel, nil)
	s.publish(events.Event{Type: events.EventRename, Path: renamed.Rel, OldPath: oldPath})
	logging.WithContext(r.Context()).Info("entry renamed",
		zap.String("from", oldPath),
		zap.String("to", renamed.Rel))

	s.writeJSON(w, http.StatusOK, protocol.MutationResponse{Status: "renamed", Path: renamed.Rel})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req protocol.DeleteRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	parent, err := s.resolver.Resolve(req.Path)
	if err != nil {
		metrics.RecordPathRejection(audit.OpDelete)
		s.record(r, audit.OpDelete, req.Path, "", err)
		s.sendSandboxError(w, r, audit.OpDelete, err)
		return
	}

	deleted, err := s.mutations.Delete(r.Context(), parent, req.Name, req.Type)
	if err != nil {
		s.record(r, audit.OpDelete, path.Join(parent.Rel, req.Name), "", err)
		s.sendSandboxError(w, r, audit.OpDelete, err)
		return
	}

	s.record(r, audit.OpDelete, deleted.Rel, "", nil)
	s.publish(events.Event{Type: events.EventDelete, Path: deleted.Rel, Kind: req.Type})
	logging.WithContext(r.Context()).Info("entry deleted",
		zap.String("path", deleted.Rel),
		zap.String("type", req.Type))

	s.writeJSON(w, http.StatusOK, protocol.MutationResponse{Status: "deleted", Path: deleted.Rel})
}
