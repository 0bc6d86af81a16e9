package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alvmarrod/screen-weaver/internal/uitree"
	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
)

// HTTPSource captures screens from a device bridge that serves the current
// hierarchy at GET <base>/dump and the foreground window at GET <base>/window
type HTTPSource struct {
	base      *url.URL
	collector *colly.Collector
	transport *contextTransport

	// one capture at a time, so the transport carries a single context
	mu sync.Mutex
}

// contextTransport attaches the context of the capture in progress to every
// outgoing request; colly itself builds requests without one
type contextTransport struct {
	base http.RoundTripper
	mu   sync.Mutex
	ctx  context.Context
}

func (t *contextTransport) set(ctx context.Context) {
	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	ctx := t.ctx
	t.mu.Unlock()
	if ctx != nil {
		req = req.WithContext(ctx)
	}
	return t.base.RoundTrip(req)
}

// NewHTTPSource creates a source for the bridge at baseURL
func NewHTTPSource(baseURL string, timeout time.Duration) (*HTTPSource, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid device url %q", baseURL)
	}

	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.MaxDepth(0),
	)
	transport := &contextTransport{base: http.DefaultTransport}
	c.WithTransport(transport)
	c.SetRequestTimeout(timeout)

	c.OnResponse(func(r *colly.Response) {
		r.Ctx.Put("body", string(r.Body))
		logrus.Debugf("Bridge fetched %s (status=%d, %d bytes)", r.Request.URL, r.StatusCode, len(r.Body))
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.Request != nil {
			logrus.Warnf("Bridge request %s failed: %v (status: %d)", r.Request.URL, err, r.StatusCode)
		} else {
			logrus.Warnf("Bridge request failed with nil response: %v", err)
		}
	})

	return &HTTPSource{base: base, collector: c, transport: transport}, nil
}

// Capture fetches the window first so a screen change between the two
// requests attributes the newer dump to the older window, never the reverse.
// Cancelling ctx aborts a request that is still waiting on the bridge.
func (s *HTTPSource) Capture(ctx context.Context) (Screen, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport.set(ctx)
	defer s.transport.set(nil)

	window, err := s.get(ctx, "window")
	if err != nil {
		return Screen{}, err
	}
	dump, err := s.get(ctx, "dump")
	if err != nil {
		return Screen{}, err
	}
	return Screen{
		Window:     strings.TrimSpace(window),
		Dump:       dump,
		CapturedAt: time.Now(),
	}, nil
}

func (s *HTTPSource) get(ctx context.Context, endpoint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	target := s.base.JoinPath(endpoint).String()
	reqCtx := colly.NewContext()
	if err := s.collector.Request("GET", target, nil, reqCtx, nil); err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", endpoint, err)
	}
	return reqCtx.Get("body"), nil
}

// DirSource replays recorded dumps (*.xml) from a directory in name order.
// A sibling file with the same base name and a .window extension supplies
// the foreground window; without one the default window is used.
type DirSource struct {
	files         []string
	defaultWindow string
	next          int
	mu            sync.Mutex
}

// NewDirSource lists the dumps in dir
func NewDirSource(dir, defaultWindow string) (*DirSource, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.xml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list dumps: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no *.xml dumps in %s", dir)
	}
	sort.Strings(files)
	return &DirSource{files: files, defaultWindow: defaultWindow}, nil
}

// Capture returns the next recorded dump, or ErrSourceExhausted
func (s *DirSource) Capture(ctx context.Context) (Screen, error) {
	if err := ctx.Err(); err != nil {
		return Screen{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.files) {
		return Screen{}, ErrSourceExhausted
	}
	path := s.files[s.next]
	s.next++

	data, err := os.ReadFile(path)
	if err != nil {
		return Screen{}, fmt.Errorf("failed to read dump %s: %w", path, err)
	}

	window := s.defaultWindow
	if w, err := os.ReadFile(strings.TrimSuffix(path, ".xml") + ".window"); err == nil {
		window = strings.TrimSpace(string(w))
	}

	logrus.Debugf("Replaying %s", filepath.Base(path))
	return Screen{Window: window, Dump: string(data), CapturedAt: time.Now()}, nil
}

// ReplayDecider returns scripted decisions in order and stops when they run out
type ReplayDecider struct {
	decisions []Decision
	next      int
	mu        sync.Mutex
}

// NewReplayDecider reads a JSON array of decisions
func NewReplayDecider(path string) (*ReplayDecider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read decisions: %w", err)
	}
	var decisions []Decision
	if err := json.Unmarshal(data, &decisions); err != nil {
		return nil, fmt.Errorf("failed to parse decisions: %w", err)
	}
	return &ReplayDecider{decisions: decisions}, nil
}

// Decide ignores the observation and returns the next scripted decision
func (d *ReplayDecider) Decide(ctx context.Context, obs *Observation) (Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.next >= len(d.decisions) {
		return Decision{Instruction: "script finished", Action: Action{Kind: ActionStop}}, nil
	}
	dec := d.decisions[d.next]
	d.next++
	return dec, nil
}

// LoggingActuator only logs the actions it is asked to perform
type LoggingActuator struct{}

func (LoggingActuator) Tap(ctx context.Context, p uitree.Point) error {
	logrus.Infof("tap at (%d, %d)", p.X, p.Y)
	return nil
}

func (LoggingActuator) LongTap(ctx context.Context, p uitree.Point) error {
	logrus.Infof("long tap at (%d, %d)", p.X, p.Y)
	return nil
}

func (LoggingActuator) Swipe(ctx context.Context, from, to uitree.Point) error {
	logrus.Infof("swipe (%d, %d) -> (%d, %d)", from.X, from.Y, to.X, to.Y)
	return nil
}

func (LoggingActuator) Input(ctx context.Context, text string) error {
	logrus.Infof("input %q", text)
	return nil
}

func (LoggingActuator) Back(ctx context.Context) error {
	logrus.Info("back")
	return nil
}
