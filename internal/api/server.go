// Package api maps HTTP requests onto the sandbox and its results back
// onto JSON responses.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/boxdir/internal/audit"
	"github.com/fruitsalade/boxdir/internal/events"
	"github.com/fruitsalade/boxdir/internal/logging"
	"github.com/fruitsalade/boxdir/internal/metrics"
	"github.com/fruitsalade/boxdir/internal/ratelimit"
	"github.com/fruitsalade/boxdir/internal/sandbox"
	"github.com/fruitsalade/boxdir/internal/webdav"
	"github.com/fruitsalade/boxdir/pkg/protocol"
)

// Version is reported by /health. Overridden at build time with -ldflags.
var Version = "dev"

// maxJSONBody bounds request bodies of the mutation endpoints.
const maxJSONBody = 1 << 20

// auditTimeout bounds how long a mutation response waits on the audit
// trail.
var auditTimeout = 5 * time.Second

// Server is the HTTP API server.
type Server struct {
	resolver      *sandbox.Resolver
	lister        *sandbox.Lister
	transfers     *sandbox.Transfers
	mutations     *sandbox.Mutations
	broadcaster   *events.Broadcaster
	recorder      audit.Recorder
	limiter       *ratelimit.Limiter
	maxUploadSize int64
	dav           http.Handler

	streamsDone chan struct{}
	closeOnce   sync.Once
}

// NewServer creates a new API server. recorder and limiter may be nil.
func NewServer(
	resolver *sandbox.Resolver,
	lister *sandbox.Lister,
	transfers *sandbox.Transfers,
	mutations *sandbox.Mutations,
	broadcaster *events.Broadcaster,
	recorder audit.Recorder,
	limiter *ratelimit.Limiter,
	maxUploadSize int64,
) *Server {
	return &Server{
		resolver:      resolver,
		lister:        lister,
		transfers:     transfers,
		mutations:     mutations,
		broadcaster:   broadcaster,
		recorder:      recorder,
		limiter:       limiter,
		maxUploadSize: maxUploadSize,
		streamsDone:   make(chan struct{}),
	}
}

// CloseStreams ends all open event streams. http.Server.Shutdown does not
// interrupt long-lived responses, so it is registered with
// RegisterOnShutdown.
func (s *Server) CloseStreams() {
	s.closeOnce.Do(func() { close(s.streamsDone) })
}

// EnableWebDAV mounts a WebDAV view of the sandbox at /webdav/. WebDAV
// mutations are audited and published like their JSON counterparts.
func (s *Server) EnableWebDAV() {
	dav := webdav.NewHandler(s.resolver, s.transfers, s.mutations, webdav.Options{
		Prefix:        "/webdav",
		MaxUploadSize: s.maxUploadSize,
		Notify:        s.davChanged,
	})
	s.dav = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), clientAddrKey{}, ratelimit.ClientIP(r))
		dav.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Handler returns the HTTP handler with logging, metrics and, when
// configured, rate limiting.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/v1/browse", s.handleBrowse)
	mux.HandleFunc("GET /api/v1/download", s.handleDownload)
	mux.HandleFunc("POST /api/v1/upload", s.handleUpload)

	mux.HandleFunc("POST /api/v1/folders", s.handleCreateFolder)
	mux.HandleFunc("POST /api/v1/rename", s.handleRename)
	mux.HandleFunc("POST /api/v1/delete", s.handleDelete)

	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/audit", s.handleAudit)

	if s.dav != nil {
		mux.Handle("/webdav/", s.dav)
		mux.Handle("/webdav", s.dav)
	}

	var h http.Handler = mux
	if s.limiter != nil {
		h = ratelimit.Middleware(s.limiter)(h)
	}
	return metrics.Middleware(logging.Middleware(h))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := protocol.HealthResponse{Status: "ok", Version: Version}
	if usage, err := s.resolver.Usage(); err == nil {
		resp.Disk = &protocol.DiskUsage{
			Total:     usage.Total,
			Free:      usage.Free,
			Available: usage.Available,
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// sendSandboxError translates err into a status code and a message that
// never includes filesystem paths. Only internal failures are logged as
// errors.
func (s *Server) sendSandboxError(w http.ResponseWriter, r *http.Request, op string, err error) {
	code, message := statusFor(err)
	logger := logging.WithContext(r.Context()).With(zap.String("op", op), zap.Error(err))
	switch {
	case code < http.StatusInternalServerError:
		logger.Debug("request rejected", zap.Int("status", code))
	case r.Context().Err() != nil:
		logger.Warn("request aborted by client")
	default:
		logger.Error("operation failed")
	}
	s.sendError(w, code, message)
}

func statusFor(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, "upload exceeds size limit"
	}
	switch sandbox.KindOf(err) {
	case sandbox.KindInvalidInput:
		switch {
		case errors.Is(err, sandbox.ErrInvalidKind):
			return http.StatusBadRequest, `type must be "file" or "directory"`
		case errors.Is(err, sandbox.ErrInvalidName):
			return http.StatusBadRequest, "invalid name"
		case errors.Is(err, sandbox.ErrEmptyUpload):
			return http.StatusBadRequest, "no file uploaded"
		}
		return http.StatusBadRequest, "invalid path"
	case sandbox.KindNotFound:
		return http.StatusNotFound, "not found"
	case sandbox.KindConflict:
		return http.StatusConflict, "an entry with that name already exists"
	}
	return http.StatusInternalServerError, "internal error"
}

// record feeds a mutation outcome to metrics and the audit trail. Audit
// failures are logged and otherwise ignored.
func (s *Server) record(r *http.Request, op, path, target string, err error) {
	s.recordEntry(r.Context(), ratelimit.ClientIP(r), op, path, target, err)
}

func (s *Server) recordEntry(ctx context.Context, remoteAddr, op, path, target string, err error) {
	outcome := sandbox.Outcome(err)
	metrics.RecordMutation(op, outcome)
	if s.recorder == nil {
		return
	}
	entry := audit.Entry{
		Time:       time.Now().UTC(),
		RequestID:  logging.GetRequestID(ctx),
		RemoteAddr: remoteAddr,
		Op:         op,
		Path:       path,
		Target:     target,
		Outcome:    outcome,
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if rerr := s.recorder.Record(ctx, entry); rerr != nil {
		metrics.RecordAudit(false)
		logging.WithContext(ctx).Warn("audit record failed", zap.String("op", op), zap.Error(rerr))
		return
	}
	metrics.RecordAudit(true)
}

// publish sends an event to the broadcaster if one is configured.
func (s *Server) publish(e events.Event) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(e)
}
