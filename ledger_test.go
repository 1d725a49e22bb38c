package siteguard

import (
	"testing"
	"time"
)

func TestLedgerFoldsRepeats(t *testing.T) {
	ledger := NewRejectionLedger(time.Minute)
	event := RejectionEvent{IPKey: "k1", Form: "contact", Signal: SignalHoneypot}
	ledger.Record(event)
	ledger.Record(event)
	ledger.Record(event)

	events := ledger.Snapshot()
	if len(events) != 1 {
		t.Fatalf("expected folded entry, got %d", len(events))
	}
	if events[0].Count != 3 {
		t.Fatalf("expected count 3, got %d", events[0].Count)
	}
}

func TestLedgerIgnoresEmptyEvents(t *testing.T) {
	ledger := NewRejectionLedger(time.Minute)
	ledger.Record(RejectionEvent{IPKey: "", Signal: SignalHoneypot})
	ledger.Record(RejectionEvent{IPKey: "k", Signal: SignalNone})
	if len(ledger.Snapshot()) != 0 {
		t.Fatalf("incomplete events must be dropped")
	}
}

func TestLedgerExpiry(t *testing.T) {
	ledger := NewRejectionLedger(50 * time.Millisecond)
	ledger.Record(RejectionEvent{IPKey: "k1", Signal: SignalSpamPattern})
	time.Sleep(80 * time.Millisecond)

	if len(ledger.Snapshot()) != 0 {
		t.Fatalf("expired entries must not appear in snapshots")
	}
	ledger.Cleanup()
	ledger.mu.RLock()
	remaining := len(ledger.entries)
	ledger.mu.RUnlock()
	if remaining != 0 {
		t.Fatalf("cleanup must drop expired entries, %d left", remaining)
	}
}

func TestLedgerSummary(t *testing.T) {
	ledger := NewRejectionLedger(time.Minute)
	ledger.Record(RejectionEvent{IPKey: "k1", Signal: SignalHoneypot})
	ledger.Record(RejectionEvent{IPKey: "k1", Signal: SignalHoneypot})
	ledger.Record(RejectionEvent{IPKey: "k2", Signal: SignalSpamPattern})

	summary := ledger.Summary()
	if summary.ActiveIPs != 2 {
		t.Fatalf("expected 2 active IPs, got %d", summary.ActiveIPs)
	}
	if summary.BySignal[SignalHoneypot] != 2 || summary.BySignal[SignalSpamPattern] != 1 {
		t.Fatalf("unexpected signal counts: %+v", summary.BySignal)
	}
	if summary.Total != 3 {
		t.Fatalf("expected total 3, got %d", summary.Total)
	}
	if summary.LastUpdated.IsZero() {
		t.Fatalf("expected LastUpdated to be set")
	}
}
