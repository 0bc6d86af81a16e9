package memory

import (
	"path/filepath"
	"testing"

	"github.com/alvmarrod/screen-weaver/internal/storage"
)

func TestFlushAndLoadFromStorage(t *testing.T) {
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	g := newTestGraph()
	visit(g, "s1", "Inbox", "Inbox", "step_1")
	visit(g, "s2", "Settings", "Settings", "step_2")
	g.MarkFeatureCompleted([]string{"Mail", "Settings"}, "step_2")

	if err := g.Flush(store, "session-a"); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	r := NewFeatureGraph(WithClock(fixedClock()))
	if err := r.LoadFromStorage(store, "session-a"); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	features, states, transitions := r.GetStats()
	if features != 3 || states != 2 || transitions != 1 {
		t.Errorf("unexpected stats %d/%d/%d", features, states, transitions)
	}
	snap := r.Snapshot()
	if snap.Features["feature_2"].Status != storage.StatusCompleted {
		t.Error("completion status lost")
	}
	if p := snap.States["s2"].PathFromRoot; len(p) != 2 || p[1].FromStateID != "s1" {
		t.Errorf("unexpected restored path %+v", p)
	}
	if r.PreviousStateID() != "" {
		t.Error("restored graph should start a fresh position")
	}

	if err := r.LoadFromStorage(store, "session-b"); err == nil {
		t.Error("expected error for an unknown session")
	}
}

func TestLoadFromStorage_KeepsAuditLog(t *testing.T) {
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	g := NewFeatureGraph(WithClock(fixedClock()))
	g.Initialize("Mail", "Mail client")
	g.UpdateFeatureStructure(UpdateSpec{Type: UpdateAddNew, Name: "Drafts"}, "step_1")
	if err := g.Flush(store, "session-a"); err != nil {
		t.Fatal(err)
	}

	r := NewFeatureGraph(WithClock(fixedClock()))
	if err := r.LoadFromStorage(store, "session-a"); err != nil {
		t.Fatal(err)
	}
	events := r.Events()
	if len(events) != 2 || events[0].Type != storage.EventInitialize || events[1].Type != storage.EventAddNew {
		t.Fatalf("audit log not restored: %+v", events)
	}

	// A flush after resuming must not drop what was restored
	r.MarkFeatureCompleted([]string{"Mail", "Drafts"}, "step_2")
	if err := r.Flush(store, "session-a"); err != nil {
		t.Fatal(err)
	}
	again := NewFeatureGraph()
	if err := again.LoadFromStorage(store, "session-a"); err != nil {
		t.Fatal(err)
	}
	if got := again.Events(); len(got) != 3 || got[2].Type != storage.EventMarkCompleted {
		t.Errorf("unexpected audit log after second flush: %+v", got)
	}
}
