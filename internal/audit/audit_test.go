package audit

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogRecorder(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := NewLogRecorder(zap.New(core))

	err := r.Record(context.Background(), Entry{
		Time:    time.Now(),
		Op:      OpRename,
		Path:    "a.txt",
		Target:  "b.txt",
		Outcome: "ok",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["op"] != OpRename || fields["target"] != "b.txt" {
		t.Errorf("fields = %v", fields)
	}
	if _, ok := fields["request_id"]; ok {
		t.Error("empty request_id should be omitted")
	}
	if entries[0].LoggerName != "audit" {
		t.Errorf("logger name = %q", entries[0].LoggerName)
	}
}

type stubRecorder struct {
	calls int
	err   error
}

func (s *stubRecorder) Record(ctx context.Context, e Entry) error {
	s.calls++
	return s.err
}

func TestMultiCallsEveryRecorder(t *testing.T) {
	boom := errors.New("boom")
	a, b := &stubRecorder{err: boom}, &stubRecorder{}
	err := Multi{a, b}.Record(context.Background(), Entry{Op: OpDelete})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("calls = %d, %d", a.calls, b.calls)
	}
	if err := (Multi{}).Record(context.Background(), Entry{}); err != nil {
		t.Errorf("empty Multi: %v", err)
	}
}

type stubReader struct {
	stubRecorder
	entries []Entry
}

func (s *stubReader) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit < len(s.entries) {
		return s.entries[:limit], nil
	}
	return s.entries, nil
}

func TestMultiRecentUsesFirstReader(t *testing.T) {
	logOnly := NewLogRecorder(zap.NewNop())
	store := &stubReader{entries: []Entry{{Op: OpUpload}, {Op: OpDelete}}}

	got, err := Multi{logOnly, store}.Recent(context.Background(), 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].Op != OpUpload {
		t.Errorf("entries = %+v", got)
	}

	if _, err := (Multi{logOnly}).Recent(context.Background(), 10); !errors.Is(err, ErrNotStored) {
		t.Errorf("log-only Recent err = %v, want ErrNotStored", err)
	}
}

// Requires PostgreSQL; skipped unless TEST_DATABASE_URL is set.
func TestPostgresRecorder(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	r, err := NewPostgresRecorder(ctx, dbURL)
	if err != nil {
		t.Fatalf("NewPostgresRecorder: %v", err)
	}
	defer r.Close()
	r.db.ExecContext(ctx, "TRUNCATE audit_log")

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, op := range []string{OpCreateFolder, OpUpload} {
		e := Entry{Time: base.Add(time.Duration(i) * time.Second), Op: op, Path: "x", Outcome: "ok", RequestID: "req"}
		if err := r.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := r.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Op != OpUpload || got[1].Op != OpCreateFolder {
		t.Errorf("order = %s, %s", got[0].Op, got[1].Op)
	}
	if !got[0].Time.Equal(base.Add(time.Second)) {
		t.Errorf("time = %v", got[0].Time)
	}
}
