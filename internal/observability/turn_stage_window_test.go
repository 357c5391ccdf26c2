package observability

import "testing"

func TestTurnStageWindowSnapshot(t *testing.T) {
	w := newTurnStageWindow(8)
	w.Observe("awaiting_reply", 500)
	w.Observe("awaiting_reply", 700)
	w.Observe("awaiting_reply", 900)
	w.ObserveIndicator("loop_retry")
	w.ObserveIndicator("loop_retry")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "awaiting_reply" {
		t.Fatalf("Stage = %q, want %q", s.Stage, "awaiting_reply")
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 2500 {
		t.Fatalf("TargetP95MS = %.2f, want 2500", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 {
		t.Fatalf("len(Indicators) = %d, want 1", len(snap.Indicators))
	}
	if snap.Indicators[0].Name != "loop_retry" {
		t.Fatalf("Indicators[0].Name = %q, want %q", snap.Indicators[0].Name, "loop_retry")
	}
	if snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators[0].Count = %d, want %d", snap.Indicators[0].Count, 2)
	}

	w.Observe("rolling", 100)
	if got := w.Snapshot(); len(got.Stages) != 2 {
		t.Fatalf("len(Stages) after second stage = %d, want 2", len(got.Stages))
	}
	w.Reset()
	if got := w.Snapshot(); len(got.Stages) != 0 || len(got.Indicators) != 0 {
		t.Fatalf("snapshot after Reset() not empty: %+v", got)
	}
}

func TestTurnStageWindowWrapsAtCapacity(t *testing.T) {
	w := newTurnStageWindow(4)
	for i := 0; i < 10; i++ {
		w.Observe("transcribing", float64(100+i))
	}
	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Samples != 4 {
		t.Fatalf("Samples = %d, want window capacity 4", s.Samples)
	}
	if s.LastMS != 109 {
		t.Fatalf("LastMS = %.2f, want 109", s.LastMS)
	}
}
