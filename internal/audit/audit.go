// Package audit records every mutation attempt against the sandbox.
package audit

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Operations recorded by the API.
const (
	OpCreateFolder = "create_folder"
	OpUpload       = "upload"
	OpRename       = "rename"
	OpDelete       = "delete"
)

// Entry is one mutation attempt. Path is the client-visible path relative
// to the root; Target is the new path for renames.
type Entry struct {
	Time       time.Time
	RequestID  string
	RemoteAddr string
	Op         string
	Path       string
	Target     string
	Outcome    string
}

// Recorder persists entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Reader is a Recorder whose entries can be read back.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// ErrNotStored is returned when no configured recorder keeps entries.
var ErrNotStored = errors.New("audit entries are not stored")

// LogRecorder writes entries to a zap logger.
type LogRecorder struct {
	logger *zap.Logger
}

// NewLogRecorder returns a recorder that logs at info level.
func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	return &LogRecorder{logger: logger.Named("audit")}
}

// Record logs e.
func (r *LogRecorder) Record(ctx context.Context, e Entry) error {
	fields := []zap.Field{
		zap.Time("time", e.Time),
		zap.String("op", e.Op),
		zap.String("path", e.Path),
		zap.String("outcome", e.Outcome),
		zap.String("remote_addr", e.RemoteAddr),
	}
	if e.RequestID != "" {
		fields = append(fields, zap.String("request_id", e.RequestID))
	}
	if e.Target != "" {
		fields = append(fields, zap.String("target", e.Target))
	}
	r.logger.Info("mutation", fields...)
	return nil
}

// Multi fans entries out to several recorders. Every recorder is called
// even if an earlier one fails.
type Multi []Recorder

// Record passes e to each recorder and joins their errors.
func (m Multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recent reads from the first recorder that implements Reader.
func (m Multi) Recent(ctx context.Context, limit int) ([]Entry, error) {
	for _, r := range m {
		if rd, ok := r.(Reader); ok {
			return rd.Recent(ctx, limit)
		}
	}
	return nil, ErrNotStored
}
