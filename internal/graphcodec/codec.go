// Package graphcodec serializes feature graphs. The full form embeds every
// state's path steps; the compact form stores each distinct step once in a
// top-level table and replaces paths with step id lists.
package graphcodec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alvmarrod/screen-weaver/internal/memory"
	"github.com/alvmarrod/screen-weaver/internal/storage"
	"github.com/sirupsen/logrus"
)

// Output file names written by Save and WriteAuditLog
const (
	FullFile    = "feature_graph.json"
	CompactFile = "feature_graph_compact.json"
	AuditFile   = "feature_updates.json"
)

// CompactState is a PageState whose path is a list of step ids
type CompactState struct {
	StateID         string    `json:"state_id"`
	StateName       string    `json:"state_name"`
	ActivityName    string    `json:"activity_name"`
	PathFromRoot    []string  `json:"path_from_root"`
	DiscoveredAt    time.Time `json:"discovered_at"`
	ReachableStates []string  `json:"reachable_states"`
}

// CompactGraph is the back-referenced form of storage.Graph
type CompactGraph struct {
	RootFeatureID    string                          `json:"root_feature_id"`
	Features         map[string]*storage.FeatureNode `json:"features"`
	States           map[string]*CompactState        `json:"states"`
	StateTransitions []storage.Transition            `json:"state_transitions"`
	Steps            map[string]storage.PathStep     `json:"steps"`
}

// Compact collects every distinct step referenced by a state path into the
// step table. Steps are keyed by step id; the first occurrence wins.
func Compact(g *storage.Graph) *CompactGraph {
	out := &CompactGraph{
		RootFeatureID:    g.RootFeatureID,
		Features:         g.Features,
		States:           make(map[string]*CompactState, len(g.States)),
		StateTransitions: g.StateTransitions,
		Steps:            make(map[string]storage.PathStep),
	}

	for id, s := range g.States {
		refs := make([]string, 0, len(s.PathFromRoot))
		for _, step := range s.PathFromRoot {
			if _, seen := out.Steps[step.StepID]; !seen {
				out.Steps[step.StepID] = step
			}
			refs = append(refs, step.StepID)
		}
		out.States[id] = &CompactState{
			StateID:         s.StateID,
			StateName:       s.StateName,
			ActivityName:    s.ActivityName,
			PathFromRoot:    refs,
			DiscoveredAt:    s.DiscoveredAt,
			ReachableStates: s.ReachableStates,
		}
	}

	return out
}

// Expand rebuilds the full form. References missing from the step table
// are logged and skipped, so the affected path comes back shorter.
func Expand(c *CompactGraph) *storage.Graph {
	out := &storage.Graph{
		RootFeatureID:    c.RootFeatureID,
		Features:         c.Features,
		States:           make(map[string]*storage.PageState, len(c.States)),
		StateTransitions: c.StateTransitions,
	}

	for id, s := range c.States {
		path := make([]storage.PathStep, 0, len(s.PathFromRoot))
		for _, ref := range s.PathFromRoot {
			step, ok := c.Steps[ref]
			if !ok {
				logrus.Warnf("State %s references missing step %s, skipping", id, ref)
				continue
			}
			path = append(path, step)
		}
		out.States[id] = &storage.PageState{
			StateID:         s.StateID,
			StateName:       s.StateName,
			ActivityName:    s.ActivityName,
			PathFromRoot:    path,
			DiscoveredAt:    s.DiscoveredAt,
			ReachableStates: s.ReachableStates,
		}
	}

	return out
}

// Save writes the full and compact forms of the graph into dir
func Save(dir string, g *memory.FeatureGraph) (*storage.Graph, *CompactGraph, error) {
	full := g.Snapshot()
	compact := Compact(full)

	if err := writeJSON(filepath.Join(dir, FullFile), full); err != nil {
		return nil, nil, err
	}
	if err := writeJSON(filepath.Join(dir, CompactFile), compact); err != nil {
		return nil, nil, err
	}

	logrus.Debugf("Saved feature graph to %s (%d states, %d distinct steps)", dir, len(full.States), len(compact.Steps))
	return full, compact, nil
}

// WriteAuditLog writes the feature update events as a JSON array
func WriteAuditLog(dir string, events []storage.UpdateEvent) error {
	if events == nil {
		events = []storage.UpdateEvent{}
	}
	return writeJSON(filepath.Join(dir, AuditFile), events)
}

// LoadFull reads a full-form graph file
func LoadFull(path string) (*storage.Graph, error) {
	var g storage.Graph
	if err := readJSON(path, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// LoadCompact reads a compact-form graph file
func LoadCompact(path string) (*CompactGraph, error) {
	var c CompactGraph
	if err := readJSON(path, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// writeJSON writes through a temp file and rename so an interrupted flush
// never leaves a truncated file behind
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
