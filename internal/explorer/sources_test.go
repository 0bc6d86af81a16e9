package explorer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHTTPSource_Capture(t *testing.T) {
	var dumps int
	mux := http.NewServeMux()
	mux.HandleFunc("/bridge/window", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(inboxWindow + "\n"))
	})
	mux.HandleFunc("/bridge/dump", func(w http.ResponseWriter, r *http.Request) {
		dumps++
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(inboxDump(dumps)))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src, err := NewHTTPSource(srv.URL+"/bridge/", 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		screen, err := src.Capture(context.Background())
		if err != nil {
			t.Fatalf("capture %d failed: %v", i, err)
		}
		if screen.Window != inboxWindow {
			t.Errorf("unexpected window %q", screen.Window)
		}
		if screen.Dump != inboxDump(i+1) {
			t.Errorf("capture %d returned a stale dump", i)
		}
	}
}

func TestHTTPSource_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "device offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src, err := NewHTTPSource(srv.URL, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := src.Capture(context.Background()); err == nil {
		t.Error("expected an error for a failing bridge")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Capture(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	if _, err := NewHTTPSource("not a url", time.Second); err == nil {
		t.Error("expected error for an invalid url")
	}
}

func TestHTTPSource_CancelAbortsHungBridge(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	src, err := NewHTTPSource(srv.URL, 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err = src.Capture(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("capture outlived its context by %v", elapsed)
	}
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "002.xml"), []byte(folderDump), 0644)
	os.WriteFile(filepath.Join(dir, "002.window"), []byte(listWindow+"\n"), 0644)
	os.WriteFile(filepath.Join(dir, "001.xml"), []byte(inboxDump(4)), 0644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644)

	src, err := NewDirSource(dir, inboxWindow)
	if err != nil {
		t.Fatal(err)
	}

	first, err := src.Capture(context.Background())
	if err != nil || first.Window != inboxWindow || first.Dump != inboxDump(4) {
		t.Errorf("unexpected first capture %q (%v)", first.Window, err)
	}
	second, err := src.Capture(context.Background())
	if err != nil || second.Window != listWindow || second.Dump != folderDump {
		t.Errorf("unexpected second capture %q (%v)", second.Window, err)
	}
	if _, err := src.Capture(context.Background()); !errors.Is(err, ErrSourceExhausted) {
		t.Errorf("expected ErrSourceExhausted, got %v", err)
	}

	if _, err := NewDirSource(t.TempDir(), ""); err == nil {
		t.Error("expected error for a directory without dumps")
	}
}

func TestReplayDecider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.json")
	script := `[
	  {"instruction": "open settings", "feature_path": ["Mail", "Settings"], "action": {"kind": "tap", "mark": 3},
	   "updates": [{"type": "add_new", "parent_path": ["Mail"], "name": "Settings"}]},
	  {"instruction": "wiggle", "action": {"kind": "wiggle"}},
	  {"instruction": "scroll", "action": {"kind": "swipe", "mark": 1, "distance": -0.5, "axis": "horizontal"}}
	]`
	if err := os.WriteFile(path, []byte(script), 0644); err != nil {
		t.Fatal(err)
	}

	d, err := NewReplayDecider(path)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	first, _ := d.Decide(ctx, nil)
	if first.Action.Kind != ActionTap || first.Action.Mark != 3 || len(first.Updates) != 1 {
		t.Errorf("unexpected first decision %+v", first)
	}
	if first.Action.String() != "tap(3)" {
		t.Errorf("unexpected action string %q", first.Action)
	}
	second, _ := d.Decide(ctx, nil)
	if second.Action.Kind != ActionUnknown {
		t.Errorf("expected unknown kind for an unrecognized name, got %s", second.Action.Kind)
	}
	third, _ := d.Decide(ctx, nil)
	if third.Action.String() != "swipe(1, -0.5, horizontal)" {
		t.Errorf("unexpected swipe string %q", third.Action)
	}
	last, _ := d.Decide(ctx, nil)
	if last.Action.Kind != ActionStop {
		t.Errorf("expected stop once the script runs out, got %s", last.Action.Kind)
	}
}

func TestParseActionKind(t *testing.T) {
	tests := map[string]ActionKind{
		"tap":      ActionTap,
		"LONG_TAP": ActionLongTap,
		" swipe ":  ActionSwipe,
		"text":     ActionText,
		"back":     ActionBack,
		"stop":     ActionStop,
		"fly":      ActionUnknown,
		"":         ActionUnknown,
	}
	for in, want := range tests {
		if got := ParseActionKind(in); got != want {
			t.Errorf("ParseActionKind(%q) = %s, want %s", in, got, want)
		}
	}
}
