// Package explorer drives one exploration session: capture a screen, turn
// it into an observation, ask the decision provider what to do, record the
// state in the feature graph and act on the device.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alvmarrod/screen-weaver/internal/compress"
	"github.com/alvmarrod/screen-weaver/internal/config"
	"github.com/alvmarrod/screen-weaver/internal/graphcodec"
	"github.com/alvmarrod/screen-weaver/internal/memory"
	"github.com/alvmarrod/screen-weaver/internal/metrics"
	"github.com/alvmarrod/screen-weaver/internal/som"
	"github.com/alvmarrod/screen-weaver/internal/stateid"
	"github.com/alvmarrod/screen-weaver/internal/storage"
	"github.com/alvmarrod/screen-weaver/internal/uitree"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoScreen means the capture held no element of the target app
	ErrNoScreen = errors.New("target app not on screen")
	// ErrSourceExhausted is returned by a perception provider with nothing left to capture
	ErrSourceExhausted = errors.New("perception source exhausted")
)

// Termination reasons returned by Run
const (
	ReasonMaxSteps      = "max_steps"
	ReasonStopped       = "decider_stop"
	ReasonExhausted     = "source_exhausted"
	ReasonCancelled     = "cancelled"
	ReasonCaptureFailed = "capture_failed"
	ReasonDecideFailed  = "decider_error"
)

const defaultRetryDelay = 500 * time.Millisecond

// Option configures an Explorer
type Option func(*Explorer)

// WithStorage checkpoints the graph into store under sessionID on every flush
func WithStorage(store *storage.Storage, sessionID string) Option {
	return func(e *Explorer) {
		e.store = store
		e.sessionID = sessionID
	}
}

// WithPerception sets the screen source
func WithPerception(p PerceptionProvider) Option {
	return func(e *Explorer) { e.perception = p }
}

// WithDecider sets the decision provider
func WithDecider(d DecisionProvider) Option {
	return func(e *Explorer) { e.decider = d }
}

// WithActuator sets the device actuator
func WithActuator(a Actuator) Option {
	return func(e *Explorer) { e.actuator = a }
}

// WithRetryDelay sets the pause between failed capture attempts
func WithRetryDelay(d time.Duration) Option {
	return func(e *Explorer) { e.retryDelay = d }
}

// Explorer runs the capture, decide, act loop
type Explorer struct {
	cfg        *config.Config
	graph      *memory.FeatureGraph
	tracker    *metrics.Tracker
	store      *storage.Storage
	sessionID  string
	perception PerceptionProvider
	decider    DecisionProvider
	actuator   Actuator
	retryDelay time.Duration

	step     int
	latest   *Observation
	latestMu sync.RWMutex
	flushMu  sync.Mutex
}

// pendingStep is the executed action whose outcome the next capture shows
type pendingStep struct {
	instruction string
	actions     []string
	success     bool
}

// New creates an explorer writing its artifacts under cfg.OutputDir
func New(cfg *config.Config, graph *memory.FeatureGraph, tracker *metrics.Tracker, opts ...Option) (*Explorer, error) {
	// Configs built by hand skip LoadConfig; zero intervals must not reach the loop
	config.ApplyDefaults(cfg)

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	e := &Explorer{
		cfg:        cfg,
		graph:      graph,
		tracker:    tracker,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.step = lastStep(graph.Snapshot())
	if e.actuator == nil {
		e.actuator = LoggingActuator{}
	}
	return e, nil
}

// Process runs one capture through the pipeline: parse, mark on the full
// tree, compress, render, identify. The rendering and mark mapping are
// written as step_N.txt and step_N_marks.json.
func (e *Explorer) Process(screen Screen) (*Observation, error) {
	start := time.Now()

	forest, err := uitree.ParseString(screen.Dump, e.cfg.TargetApp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse screen: %w", err)
	}
	if len(forest) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoScreen, e.cfg.TargetApp)
	}

	marks := som.Assign(forest, som.Options{
		OcclusionThreshold: e.cfg.OcclusionThreshold,
		LaterOnTop:         true,
	})
	tree := compress.Compress(forest, compress.Options{MaxRounds: e.cfg.CompressRounds})
	rendering := compress.Render(tree)

	n := e.step + 1
	stepID := fmt.Sprintf("step_%d", n)
	textPath := filepath.Join(e.cfg.OutputDir, stepID+".txt")
	if err := os.WriteFile(textPath, []byte(rendering), 0644); err != nil {
		logrus.Warnf("Failed to write rendering for %s: %v", stepID, err)
	}
	if data, err := marks.MarshalMapping(); err != nil {
		logrus.Warnf("Failed to encode marks for %s: %v", stepID, err)
	} else if err := os.WriteFile(filepath.Join(e.cfg.OutputDir, stepID+"_marks.json"), data, 0644); err != nil {
		logrus.Warnf("Failed to write marks for %s: %v", stepID, err)
	}

	obs := &Observation{
		Step:       n,
		StepID:     stepID,
		Window:     screen.Window,
		StateID:    stateid.IdentifyArtifact(screen.Window, textPath),
		Rendering:  rendering,
		Marks:      marks.Mapping(),
		MarkTexts:  marks.Texts(),
		CapturedAt: screen.CapturedAt,
		MarkSet:    marks,
		Tree:       tree,
	}
	e.step = n

	if e.tracker != nil {
		e.tracker.AddMarks(marks.Len())
		e.tracker.RecordPipelineTime(time.Since(start))
	}
	logrus.Debugf("%s: %d nodes, %d marks (%d occluded), state %s",
		stepID, forest.Count(), marks.Len(), marks.Occluded, obs.StateID)
	return obs, nil
}

// Run explores until the step budget is spent, the decider stops, the
// source runs dry or ctx is cancelled. It returns the termination reason.
func (e *Explorer) Run(ctx context.Context) (string, error) {
	if e.perception == nil || e.decider == nil {
		return "", fmt.Errorf("explorer needs a perception provider and a decider")
	}

	pending := pendingStep{
		instruction: "launch " + e.cfg.TargetApp,
		actions:     []string{"launch"},
		success:     true,
	}

	start := e.step
	for e.step-start < e.cfg.MaxSteps {
		if ctx.Err() != nil {
			return ReasonCancelled, nil
		}

		obs, err := e.observe(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrSourceExhausted):
				return ReasonExhausted, nil
			case ctx.Err() != nil:
				return ReasonCancelled, nil
			}
			return ReasonCaptureFailed, err
		}

		obs.Features = e.graph.Summary()
		e.setLatest(obs)

		decision, err := e.decider.Decide(ctx, obs)
		if err != nil {
			if ctx.Err() != nil {
				return ReasonCancelled, nil
			}
			return ReasonDecideFailed, fmt.Errorf("decide %s: %w", obs.StepID, err)
		}

		e.applyStructure(decision, obs.StepID)
		e.recordState(obs, decision, pending)

		if obs.Step%e.cfg.CheckpointEvery == 0 {
			if err := e.Flush(); err != nil {
				logrus.Errorf("Checkpoint at %s failed: %v", obs.StepID, err)
			}
		}

		if decision.Action.Kind == ActionStop {
			logrus.Infof("Decider stopped exploration at %s", obs.StepID)
			return ReasonStopped, nil
		}

		pending = pendingStep{
			instruction: decision.Instruction,
			actions:     []string{decision.Action.String()},
			success:     e.act(ctx, obs.MarkSet, decision.Action),
		}
	}

	return ReasonMaxSteps, nil
}

// observe captures and processes one screen, retrying failed captures and
// unusable dumps up to MaxCaptureRetries times
func (e *Explorer) observe(ctx context.Context) (*Observation, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxCaptureRetries; attempt++ {
		if attempt > 1 && e.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.retryDelay):
			}
		}

		screen, err := e.perception.Capture(ctx)
		if err == nil {
			if e.tracker != nil {
				e.tracker.IncrementScreensCaptured()
			}
			var obs *Observation
			if obs, err = e.Process(screen); err == nil {
				return obs, nil
			}
		}
		if errors.Is(err, ErrSourceExhausted) || ctx.Err() != nil {
			return nil, err
		}

		lastErr = err
		if e.tracker != nil {
			e.tracker.IncrementCaptureFailures()
		}
		logrus.Warnf("Capture attempt %d/%d failed: %v", attempt, e.cfg.MaxCaptureRetries, err)
	}
	return nil, fmt.Errorf("no screen after %d attempts: %w", e.cfg.MaxCaptureRetries, lastErr)
}

func (e *Explorer) applyStructure(d Decision, stepID string) {
	for _, u := range d.Updates {
		e.graph.UpdateFeatureStructure(u, stepID)
	}
	for _, path := range d.Completed {
		e.graph.MarkFeatureCompleted(path, stepID)
	}
}

func (e *Explorer) recordState(obs *Observation, d Decision, pending pendingStep) {
	name := d.StateName
	if name == "" {
		name = stateid.ShortWindowName(obs.Window)
	}
	featurePath := d.FeaturePath
	if len(featurePath) == 0 {
		featurePath = []string{e.cfg.RootFeature}
	}

	_, _, before := e.graph.GetStats()
	isNew := e.graph.AddState(memory.StateInput{
		StateID:      obs.StateID,
		StateName:    name,
		ActivityName: obs.Window,
		FeaturePath:  featurePath,
		StepID:       obs.StepID,
		Instruction:  pending.instruction,
		Actions:      pending.actions,
		Success:      pending.success,
	})
	_, _, after := e.graph.GetStats()

	if e.tracker != nil {
		e.tracker.RecordState(isNew)
		if after > before {
			e.tracker.IncrementTransitionsRecorded()
		}
	}
}

// act performs the action and reports whether it was carried out
func (e *Explorer) act(ctx context.Context, marks *som.MarkSet, a Action) bool {
	var err error
	switch a.Kind {
	case ActionTap, ActionLongTap:
		var p uitree.Point
		if p, err = marks.Resolve(a.Mark); err != nil {
			break
		}
		if a.Kind == ActionTap {
			err = e.actuator.Tap(ctx, p)
		} else {
			err = e.actuator.LongTap(ctx, p)
		}
	case ActionSwipe:
		err = e.swipe(ctx, marks, a)
	case ActionText:
		if a.Mark > 0 {
			var p uitree.Point
			if p, err = marks.Resolve(a.Mark); err != nil {
				break
			}
			if err = e.actuator.Tap(ctx, p); err != nil {
				break
			}
		}
		err = e.actuator.Input(ctx, a.Text)
	case ActionBack:
		err = e.actuator.Back(ctx)
	default:
		err = fmt.Errorf("unsupported action %q", a.Kind)
	}

	if err != nil {
		logrus.Warnf("Action %s failed: %v", a, err)
		return false
	}
	return true
}

func (e *Explorer) swipe(ctx context.Context, marks *som.MarkSet, a Action) error {
	region, err := marks.ScrollRegion(a.Mark)
	if err != nil {
		return err
	}
	axis, err := som.ParseAxis(a.Axis)
	if err != nil {
		return err
	}
	from, to, err := region.Swipe(a.Distance, axis)
	if err != nil {
		return err
	}
	return e.actuator.Swipe(ctx, from, to)
}

// Flush writes the graph files, the audit log and, when storage is
// configured, the SQLite checkpoint. Safe to call between any two steps
// and from another goroutine.
func (e *Explorer) Flush() error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	var errs []error
	if _, _, err := graphcodec.Save(e.cfg.OutputDir, e.graph); err != nil {
		errs = append(errs, err)
	}
	if err := graphcodec.WriteAuditLog(e.cfg.OutputDir, e.graph.Events()); err != nil {
		errs = append(errs, err)
	}
	if e.store != nil {
		if err := e.graph.Flush(e.store, e.sessionID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Latest returns the most recent observation, or nil before the first capture
func (e *Explorer) Latest() *Observation {
	e.latestMu.RLock()
	defer e.latestMu.RUnlock()
	return e.latest
}

// lastStep finds the highest step_N number in a restored graph so a resumed
// session never reuses a step id
func lastStep(g *storage.Graph) int {
	last := 0
	check := func(id string) {
		if n, ok := strings.CutPrefix(id, "step_"); ok {
			if v, err := strconv.Atoi(n); err == nil && v > last {
				last = v
			}
		}
	}
	for _, s := range g.States {
		for _, step := range s.PathFromRoot {
			check(step.StepID)
		}
	}
	for _, t := range g.StateTransitions {
		check(t.StepID)
	}
	return last
}

// Steps returns the number of the last processed step
func (e *Explorer) Steps() int {
	return e.step
}

func (e *Explorer) setLatest(obs *Observation) {
	e.latestMu.Lock()
	defer e.latestMu.Unlock()
	e.latest = obs
}
