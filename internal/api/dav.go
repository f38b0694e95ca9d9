package api

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fruitsalade/boxdir/internal/audit"
	"github.com/fruitsalade/boxdir/internal/events"
	"github.com/fruitsalade/boxdir/internal/logging"
	"github.com/fruitsalade/boxdir/internal/metrics"
	"github.com/fruitsalade/boxdir/internal/sandbox"
	"github.com/fruitsalade/boxdir/internal/webdav"
)

type clientAddrKey struct{}

var davEventTypes = map[string]string{
	audit.OpCreateFolder: events.EventCreate,
	audit.OpUpload:       events.EventUpload,
	audit.OpRename:       events.EventRename,
	audit.OpDelete:       events.EventDelete,
}

// davChanged audits a WebDAV mutation and, when it succeeded, publishes
// the same event the JSON API would.
func (s *Server) davChanged(ctx context.Context, c webdav.Change) {
	if errors.Is(c.Err, sandbox.ErrInvalidPath) {
		metrics.RecordPathRejection(c.Op)
	}
	if c.Op == audit.OpUpload {
		metrics.RecordContentUpload(c.Size, c.Err == nil)
	}
	remoteAddr, _ := ctx.Value(clientAddrKey{}).(string)
	s.recordEntry(ctx, remoteAddr, c.Op, c.Path, c.Target, c.Err)
	if c.Err != nil {
		logging.WithContext(ctx).Debug("webdav mutation failed",
			zap.String("op", c.Op),
			zap.String("path", c.Path),
			zap.Error(c.Err))
		return
	}

	e := events.Event{Type: davEventTypes[c.Op], Path: c.Path, Kind: c.Kind, Size: c.Size}
	if c.Op == audit.OpRename {
		e.Path, e.OldPath = c.Target, c.Path
	}
	s.publish(e)
	logging.WithContext(ctx).Info("webdav mutation",
		zap.String("op", c.Op),
		zap.String("path", e.Path))
}
