package memory

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alvmarrod/screen-weaver/internal/storage"
	"github.com/sirupsen/logrus"
)

// FeatureSummary is the planner-facing view of one feature
type FeatureSummary struct {
	FeatureID  string                `json:"feature_id"`
	Path       []string              `json:"path"`
	Status     storage.FeatureStatus `json:"status"`
	StateCount int                   `json:"state_count"`
	Depth      int                   `json:"depth"`
}

// Snapshot returns a deep copy of the graph in its full serialized form.
// The audit log is not included; see Events.
func (g *FeatureGraph) Snapshot() *storage.Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := &storage.Graph{
		RootFeatureID:    g.rootFeatureID,
		Features:         make(map[string]*storage.FeatureNode, len(g.features)),
		States:           make(map[string]*storage.PageState, len(g.states)),
		StateTransitions: append([]storage.Transition{}, g.transitions...),
	}
	for id, f := range g.features {
		out.Features[id] = copyFeature(f)
	}
	for id, s := range g.states {
		out.States[id] = copyState(s)
	}
	return out
}

// Restore replaces the graph contents with a previously saved graph. The
// session position is reset: the next AddState starts from the initial sentinel.
func (g *FeatureGraph) Restore(saved *storage.Graph) error {
	if saved == nil {
		return fmt.Errorf("cannot restore nil graph")
	}
	root := saved.RootFeatureID
	if root == "" {
		root = storage.RootFeatureID
	}
	if _, ok := saved.Features[root]; !ok {
		return fmt.Errorf("saved graph has no root feature %q", root)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.rootFeatureID = root
	g.features = make(map[string]*storage.FeatureNode, len(saved.Features))
	g.states = make(map[string]*storage.PageState, len(saved.States))
	g.featureCounter = 0
	for id, f := range saved.Features {
		g.features[id] = copyFeature(f)
		if n, ok := strings.CutPrefix(id, "feature_"); ok {
			if v, err := strconv.Atoi(n); err == nil && v > g.featureCounter {
				g.featureCounter = v
			}
		}
	}
	for id, s := range saved.States {
		g.states[id] = copyState(s)
	}
	g.transitions = append([]storage.Transition(nil), saved.StateTransitions...)
	g.events = append([]storage.UpdateEvent(nil), saved.Events...)
	g.featureOrder = g.walkOrderLocked()
	g.previousStateID = ""
	g.currentPath = nil

	logrus.Infof("Restored feature graph: %d features, %d states, %d transitions, %d events",
		len(g.features), len(g.states), len(g.transitions), len(g.events))
	return nil
}

// Summary lists every feature depth-first from the root
func (g *FeatureGraph) Summary() []FeatureSummary {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []FeatureSummary
	var walk func(id string, path []string, depth int)
	walk = func(id string, path []string, depth int) {
		f, ok := g.features[id]
		if !ok {
			return
		}
		path = append(append([]string(nil), path...), f.FeatureName)
		out = append(out, FeatureSummary{
			FeatureID:  f.FeatureID,
			Path:       path,
			Status:     f.Status,
			StateCount: len(f.States),
			Depth:      depth,
		})
		for _, sub := range f.SubFeatures {
			walk(sub, path, depth+1)
		}
	}
	walk(g.rootFeatureID, nil, 0)
	return out
}

// Flush writes the current graph to SQLite storage
func (g *FeatureGraph) Flush(store *storage.Storage, sessionID string) error {
	startTime := time.Now()
	snapshot := g.Snapshot()
	snapshot.Events = g.Events()

	if err := store.SaveGraph(sessionID, snapshot); err != nil {
		return fmt.Errorf("failed to flush graph: %w", err)
	}

	logrus.Infof("Flush complete: %d features, %d states, %d transitions written in %v",
		len(snapshot.Features), len(snapshot.States), len(snapshot.StateTransitions), time.Since(startTime))
	return nil
}

// LoadFromStorage populates the graph from a saved session (for resume)
func (g *FeatureGraph) LoadFromStorage(store *storage.Storage, sessionID string) error {
	logrus.Infof("Loading session %s from database into memory...", sessionID)

	saved, err := store.LoadGraph(sessionID)
	if err != nil {
		return fmt.Errorf("failed to load graph: %w", err)
	}
	return g.Restore(saved)
}

// walkOrderLocked lists feature ids depth-first from root, then any orphans
func (g *FeatureGraph) walkOrderLocked() []string {
	seen := make(map[string]bool, len(g.features))
	var order []string
	var walk func(string)
	walk = func(id string) {
		f, ok := g.features[id]
		if !ok || seen[id] {
			return
		}
		seen[id] = true
		order = append(order, id)
		for _, sub := range f.SubFeatures {
			walk(sub)
		}
	}
	walk(g.rootFeatureID)
	for id := range g.features {
		if !seen[id] {
			order = append(order, id)
		}
	}
	return order
}

func copyFeature(f *storage.FeatureNode) *storage.FeatureNode {
	c := *f
	c.SubFeatures = append([]string{}, f.SubFeatures...)
	c.States = append([]string{}, f.States...)
	if f.CompletedAt != nil {
		t := *f.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func copyState(s *storage.PageState) *storage.PageState {
	c := *s
	c.PathFromRoot = make([]storage.PathStep, len(s.PathFromRoot))
	for i, step := range s.PathFromRoot {
		step.Actions = append([]string{}, step.Actions...)
		c.PathFromRoot[i] = step
	}
	c.ReachableStates = append([]string{}, s.ReachableStates...)
	return &c
}
