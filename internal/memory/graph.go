package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alvmarrod/screen-weaver/internal/storage"
	"github.com/sirupsen/logrus"
)

// Update kinds accepted by UpdateFeatureStructure
const (
	UpdateAddNew = storage.EventAddNew
	UpdateRename = storage.EventRename
	UpdateSplit  = storage.EventSplit
)

// UpdateSpec is one feature structure directive from the planner
type UpdateSpec struct {
	Type        string   `json:"type"`
	ParentPath  []string `json:"parent_path,omitempty"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	OldName     string   `json:"old_name,omitempty"`
	NewName     string   `json:"new_name,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

// FeatureSpec names a feature to create
type FeatureSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// StateInput describes a screen reached by one step
type StateInput struct {
	StateID      string
	StateName    string
	ActivityName string
	FeaturePath  []string
	StepID       string
	Instruction  string
	Actions      []string
	Success      bool
}

// Option configures a FeatureGraph
type Option func(*FeatureGraph)

// WithClock replaces time.Now for timestamps
func WithClock(now func() time.Time) Option {
	return func(g *FeatureGraph) {
		g.now = now
	}
}

// FeatureGraph holds the feature tree, the discovered states and the
// transitions between them. Every method leaves the graph consistent on
// return, so a snapshot may be taken between any two calls.
type FeatureGraph struct {
	rootFeatureID   string
	features        map[string]*storage.FeatureNode
	featureOrder    []string
	states          map[string]*storage.PageState
	transitions     []storage.Transition
	previousStateID string
	currentPath     []storage.PathStep
	events          []storage.UpdateEvent
	featureCounter  int
	now             func() time.Time
	mu              sync.RWMutex
}

// NewFeatureGraph creates an empty graph; call Initialize before use
func NewFeatureGraph(opts ...Option) *FeatureGraph {
	g := &FeatureGraph{
		features: make(map[string]*storage.FeatureNode),
		states:   make(map[string]*storage.PageState),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Initialize resets the graph to a single root feature
func (g *FeatureGraph) Initialize(rootName, rootDescription string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rootFeatureID = storage.RootFeatureID
	g.features = map[string]*storage.FeatureNode{
		storage.RootFeatureID: newFeature(storage.RootFeatureID, rootName, rootDescription, ""),
	}
	g.featureOrder = []string{storage.RootFeatureID}
	g.states = make(map[string]*storage.PageState)
	g.transitions = nil
	g.previousStateID = ""
	g.currentPath = nil
	g.featureCounter = 0
	g.events = []storage.UpdateEvent{{
		Type:        storage.EventInitialize,
		Timestamp:   g.now(),
		FeatureID:   storage.RootFeatureID,
		Name:        rootName,
		Description: rootDescription,
	}}

	logrus.Infof("Feature graph initialized with root %q", rootName)
}

// InitializeFromStructure adds each spec as a direct child of root.
// Repeated calls append more children.
func (g *FeatureGraph) InitializeFromStructure(specs []FeatureSpec) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		f := g.addFeatureLocked(g.rootFeatureID, spec.Name, spec.Description)
		ids = append(ids, f.FeatureID)
	}
	logrus.Infof("Added %d top-level features", len(ids))
	return ids
}

// AddState records that in.StateID was reached. Revisiting a known state
// only records the transition. Returns true when the state is new.
func (g *FeatureGraph) AddState(in StateInput) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.states[in.StateID]; exists {
		if g.previousStateID != "" {
			g.recordTransitionLocked(g.previousStateID, in.StateID, in.StepID)
		}
		g.previousStateID = in.StateID
		logrus.Debugf("Revisited state %s", in.StateID)
		return false
	}

	now := g.now()
	fromID, fromName := storage.InitialStateID, storage.InitialStateID
	if prev, ok := g.states[g.previousStateID]; ok {
		fromID, fromName = prev.StateID, prev.StateName
	}

	step := storage.PathStep{
		StepID:        in.StepID,
		Instruction:   in.Instruction,
		Actions:       append([]string(nil), in.Actions...),
		FromStateID:   fromID,
		ToStateID:     in.StateID,
		FromStateName: fromName,
		ToStateName:   in.StateName,
		Success:       in.Success,
		Timestamp:     now,
	}
	g.currentPath = append(g.currentPath, step)

	state := &storage.PageState{
		StateID:         in.StateID,
		StateName:       in.StateName,
		ActivityName:    in.ActivityName,
		PathFromRoot:    append([]storage.PathStep(nil), g.currentPath...),
		DiscoveredAt:    now,
		ReachableStates: []string{},
	}
	g.states[in.StateID] = state

	feature := g.resolveLocked(in.FeaturePath)
	if feature == nil {
		logrus.Warnf("Feature path %v not found, assigning state %s to root", in.FeaturePath, in.StateID)
		feature = g.features[g.rootFeatureID]
	}
	feature.States = append(feature.States, in.StateID)
	if feature.EntryStateID == "" {
		feature.EntryStateID = in.StateID
	}

	if g.previousStateID != "" {
		g.recordTransitionLocked(g.previousStateID, in.StateID, in.StepID)
	}
	g.previousStateID = in.StateID

	logrus.Infof("New state %s (%s) under feature %q", in.StateID, in.StateName, feature.FeatureName)
	return true
}

// UpdateFeatureStructure applies one planner directive. Unknown directive
// types are logged and ignored.
func (g *FeatureGraph) UpdateFeatureStructure(spec UpdateSpec, stepID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch spec.Type {
	case UpdateAddNew:
		parent := g.resolveLocked(spec.ParentPath)
		if parent == nil {
			logrus.Warnf("Parent path %v not found, adding %q under root", spec.ParentPath, spec.Name)
			parent = g.features[g.rootFeatureID]
		}
		f := g.addFeatureLocked(parent.FeatureID, spec.Name, spec.Description)
		g.events = append(g.events, storage.UpdateEvent{
			Type:        storage.EventAddNew,
			Timestamp:   g.now(),
			StepID:      stepID,
			FeatureID:   f.FeatureID,
			FeaturePath: g.pathLocked(f.FeatureID),
			Name:        spec.Name,
			Description: spec.Description,
			Reason:      spec.Reason,
		})
		logrus.Infof("Added feature %q under %q", spec.Name, parent.FeatureName)

	case UpdateRename:
		f := g.findByNameLocked(spec.OldName)
		if f == nil {
			logrus.Warnf("Cannot rename %q: feature not found", spec.OldName)
			return
		}
		f.FeatureName = spec.NewName
		g.events = append(g.events, storage.UpdateEvent{
			Type:      storage.EventRename,
			Timestamp: g.now(),
			StepID:    stepID,
			FeatureID: f.FeatureID,
			OldName:   spec.OldName,
			NewName:   spec.NewName,
			Reason:    spec.Reason,
		})
		logrus.Infof("Renamed feature %q to %q", spec.OldName, spec.NewName)

	case UpdateSplit:
		// Recorded for the audit trail only; the structure is unchanged.
		g.events = append(g.events, storage.UpdateEvent{
			Type:        storage.EventSplit,
			Timestamp:   g.now(),
			StepID:      stepID,
			FeaturePath: append([]string(nil), spec.ParentPath...),
			Name:        spec.Name,
			Description: spec.Description,
			Reason:      spec.Reason,
		})
		logrus.Infof("Split requested for %q (logged only)", spec.Name)

	default:
		logrus.Warnf("Ignoring unknown feature update type %q", spec.Type)
	}
}

// MarkFeatureCompleted marks the feature named by the last path element
// as completed. Paths of length one or less address the root and are ignored.
func (g *FeatureGraph) MarkFeatureCompleted(featurePath []string, stepID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(featurePath) <= 1 {
		return false
	}

	f := g.resolveLocked(featurePath)
	if f == nil {
		logrus.Warnf("Cannot complete %v: feature not found", featurePath)
		return false
	}
	if f.Status == storage.StatusCompleted {
		return false
	}

	now := g.now()
	f.Status = storage.StatusCompleted
	f.CompletedAt = &now
	g.events = append(g.events, storage.UpdateEvent{
		Type:        storage.EventMarkCompleted,
		Timestamp:   now,
		StepID:      stepID,
		FeatureID:   f.FeatureID,
		FeaturePath: append([]string(nil), featurePath...),
		Name:        f.FeatureName,
	})
	logrus.Infof("Feature %q completed", f.FeatureName)
	return true
}

// PreviousStateID returns the state recorded by the last AddState call
func (g *FeatureGraph) PreviousStateID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.previousStateID
}

// HasState reports whether a state id is known
func (g *FeatureGraph) HasState(stateID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.states[stateID]
	return ok
}

// GetStats returns current graph statistics
func (g *FeatureGraph) GetStats() (featureCount, stateCount, transitionCount int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.features), len(g.states), len(g.transitions)
}

// Events returns a copy of the audit log
func (g *FeatureGraph) Events() []storage.UpdateEvent {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]storage.UpdateEvent(nil), g.events...)
}

func newFeature(id, name, description, parentID string) *storage.FeatureNode {
	return &storage.FeatureNode{
		FeatureID:          id,
		FeatureName:        name,
		FeatureDescription: description,
		ParentFeatureID:    parentID,
		SubFeatures:        []string{},
		States:             []string{},
		Status:             storage.StatusExploring,
	}
}

func (g *FeatureGraph) addFeatureLocked(parentID, name, description string) *storage.FeatureNode {
	g.featureCounter++
	id := fmt.Sprintf("feature_%d", g.featureCounter)
	f := newFeature(id, name, description, parentID)
	g.features[id] = f
	g.featureOrder = append(g.featureOrder, id)
	if parent, ok := g.features[parentID]; ok {
		parent.SubFeatures = append(parent.SubFeatures, id)
	}
	return f
}

func (g *FeatureGraph) recordTransitionLocked(fromID, toID, stepID string) {
	g.transitions = append(g.transitions, storage.Transition{
		FromStateID: fromID,
		ToStateID:   toID,
		StepID:      stepID,
	})
	from, ok := g.states[fromID]
	if !ok {
		return
	}
	for _, id := range from.ReachableStates {
		if id == toID {
			return
		}
	}
	from.ReachableStates = append(from.ReachableStates, toID)
}

// resolveLocked maps a feature path to a feature by its trailing name.
// An empty path is the root; nil means no feature has that name.
func (g *FeatureGraph) resolveLocked(path []string) *storage.FeatureNode {
	if len(path) == 0 {
		return g.features[g.rootFeatureID]
	}
	return g.findByNameLocked(path[len(path)-1])
}

// findByNameLocked returns the earliest-created feature with the exact name
func (g *FeatureGraph) findByNameLocked(name string) *storage.FeatureNode {
	name = strings.TrimSpace(name)
	for _, id := range g.featureOrder {
		if f := g.features[id]; f != nil && f.FeatureName == name {
			return f
		}
	}
	return nil
}

// pathLocked returns the feature names from root down to id
func (g *FeatureGraph) pathLocked(id string) []string {
	var path []string
	for cur := g.features[id]; cur != nil; cur = g.features[cur.ParentFeatureID] {
		path = append([]string{cur.FeatureName}, path...)
		if cur.ParentFeatureID == "" {
			break
		}
	}
	return path
}
