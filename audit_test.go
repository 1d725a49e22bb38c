package siteguard

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteAuditSinkRoundTrip(t *testing.T) {
	sink, err := NewSQLiteAuditSink(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	defer sink.Close()

	ctx := context.Background()
	events := []AuditEvent{
		{IPKey: "k1", Action: "add", Source: SourceManual, Reason: "operator"},
		{IPKey: "k2", Action: "add", Source: SourceAuto, Reason: "lockout"},
		{IPKey: "k1", Action: "remove", Source: SourceManual},
	}
	for _, event := range events {
		if err := sink.RecordBlacklistEvent(ctx, event); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := sink.RecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	// Newest first.
	if got[0].Action != "remove" || got[0].IPKey != "k1" {
		t.Fatalf("unexpected ordering: %+v", got[0])
	}
	if got[0].CreatedAt.IsZero() {
		t.Fatalf("expected CreatedAt to be stamped")
	}
}

func TestSQLiteAuditSinkLimitClamp(t *testing.T) {
	sink, err := NewSQLiteAuditSink(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	defer sink.Close()

	if _, err := sink.RecentEvents(context.Background(), -5); err != nil {
		t.Fatalf("negative limit must fall back to the default: %v", err)
	}
}
