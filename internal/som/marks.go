// Package som assigns Set-of-Marks handles to the interactive elements of a
// screen. Document order is paint order: a node visited later is assumed to
// be drawn above every node visited before it, so earlier elements that are
// mostly covered by later ones are left unmarked.
package som

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/alvmarrod/screen-weaver/internal/uitree"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultOcclusionThreshold is the covered fraction at which a node is hidden
	DefaultOcclusionThreshold = 0.70
	// FirstMark is the id given to the first assigned mark
	FirstMark = 1
	// textSeparator joins the texts aggregated under a mark
	textSeparator = " | "
)

var (
	// ErrUnknownMark is returned when resolving a mark that was never assigned
	ErrUnknownMark = errors.New("unknown mark")
)

// Kind distinguishes tap targets from scroll regions
type Kind int

const (
	KindClick Kind = iota
	KindScroll
)

func (k Kind) String() string {
	switch k {
	case KindClick:
		return "clickable"
	case KindScroll:
		return "scrollable"
	}
	return "unknown"
}

// Options controls mark assignment
type Options struct {
	// OcclusionThreshold is the covered fraction at or above which a node is excluded
	OcclusionThreshold float64
	// LaterOnTop treats nodes later in document order as drawn on top.
	// Disabling it reverses the z-order assumption.
	LaterOnTop bool
}

// DefaultOptions returns the standard assignment options
func DefaultOptions() Options {
	return Options{
		OcclusionThreshold: DefaultOcclusionThreshold,
		LaterOnTop:         true,
	}
}

// Mark is one addressable element
type Mark struct {
	ID     int
	Kind   Kind
	Center uitree.Point
	Region uitree.Rect
	Text   string
}

// MarkSet holds the marks of one screen in assignment order
type MarkSet struct {
	Marks    []Mark
	Occluded int
	byID     map[int]int
}

// Assign walks the forest in document order and marks every visible
// clickable, long-clickable or scrollable node. Assigned nodes get their
// Mark field set; skipped nodes are left untouched.
func Assign(forest uitree.Forest, opts Options) *MarkSet {
	if opts.OcclusionThreshold <= 0 {
		opts.OcclusionThreshold = DefaultOcclusionThreshold
	}

	var clicks, scrolls []*uitree.Node
	forest.Walk(func(n *uitree.Node, _ int) bool {
		switch {
		case n.Interactive():
			if n.Bounds == nil {
				logrus.Warnf("Skipping %s %q: clickable without bounds", n.Class, n.Text)
				return true
			}
			clicks = append(clicks, n)
		case n.Has(uitree.Scrollable):
			if n.Bounds == nil {
				logrus.Warnf("Skipping %s: scrollable without bounds", n.Class)
				return true
			}
			scrolls = append(scrolls, n)
		}
		return true
	})

	hidden := make(map[*uitree.Node]bool)
	for _, list := range [][]*uitree.Node{clicks, scrolls} {
		for i, n := range list {
			if isOccluded(list, i, opts) {
				hidden[n] = true
			}
		}
	}

	set := &MarkSet{byID: make(map[int]int), Occluded: len(hidden)}
	next := FirstMark
	forest.Walk(func(n *uitree.Node, _ int) bool {
		if n.Bounds == nil || hidden[n] {
			return true
		}

		var m Mark
		switch {
		case n.Interactive():
			m = Mark{Kind: KindClick, Center: n.Bounds.Center()}
		case n.Has(uitree.Scrollable):
			m = Mark{Kind: KindScroll, Center: n.Bounds.Center()}
		default:
			return true
		}

		m.ID = next
		m.Region = *n.Bounds
		m.Text = strings.Join(n.Texts(), textSeparator)
		next++

		n.Mark = m.ID
		set.byID[m.ID] = len(set.Marks)
		set.Marks = append(set.Marks, m)
		return true
	})

	return set
}

// isOccluded reports whether list[i] is covered by the nodes drawn above it
func isOccluded(list []*uitree.Node, i int, opts Options) bool {
	target := *list[i].Bounds
	if target.Area() == 0 {
		return false
	}

	var above []uitree.Rect
	if opts.LaterOnTop {
		for _, n := range list[i+1:] {
			above = append(above, *n.Bounds)
		}
	} else {
		for _, n := range list[:i] {
			above = append(above, *n.Bounds)
		}
	}

	center := target.Center()
	covered := false
	for _, r := range above {
		if r.Area() > 0 && r.Contains(center) {
			covered = true
			break
		}
	}
	if !covered {
		return false
	}

	return OcclusionRatio(target, above) >= opts.OcclusionThreshold
}

// OcclusionRatio sums the intersections of target with each covering
// rectangle and divides by target's area. Degenerate rectangles contribute
// nothing; a degenerate target has ratio 0.
func OcclusionRatio(target uitree.Rect, covering []uitree.Rect) float64 {
	area := target.Area()
	if area == 0 {
		return 0
	}
	sum := 0
	for _, r := range covering {
		if r.Area() == 0 {
			continue
		}
		sum += target.Intersection(r)
	}
	return float64(sum) / float64(area)
}

// Len returns the number of assigned marks
func (s *MarkSet) Len() int {
	return len(s.Marks)
}

// Get returns the mark with the given id
func (s *MarkSet) Get(id int) (Mark, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Mark{}, false
	}
	return s.Marks[i], true
}

// Resolve translates a mark into the pixel point a tap should land on
func (s *MarkSet) Resolve(id int) (uitree.Point, error) {
	m, ok := s.Get(id)
	if !ok {
		return uitree.Point{}, fmt.Errorf("%w: %d", ErrUnknownMark, id)
	}
	return m.Center, nil
}

// ScrollRegion returns the region of a scroll mark
func (s *MarkSet) ScrollRegion(id int) (ScrollRegion, error) {
	m, ok := s.Get(id)
	if !ok || m.Kind != KindScroll {
		return ScrollRegion{}, fmt.Errorf("%w: %d is not a scroll mark", ErrUnknownMark, id)
	}
	return ScrollRegion{Rect: m.Region}, nil
}

// Mapping returns the mark to geometry table: a center point for tap
// targets, a corner pair for scroll regions.
func (s *MarkSet) Mapping() map[string]any {
	out := make(map[string]any, len(s.Marks))
	for _, m := range s.Marks {
		key := strconv.Itoa(m.ID)
		if m.Kind == KindScroll {
			out[key] = [2]uitree.Point{m.Region.Min, m.Region.Max}
		} else {
			out[key] = m.Center
		}
	}
	return out
}

// Texts returns the aggregated text under each mark
func (s *MarkSet) Texts() map[string]string {
	out := make(map[string]string, len(s.Marks))
	for _, m := range s.Marks {
		out[strconv.Itoa(m.ID)] = m.Text
	}
	return out
}

// MarshalMapping encodes Mapping as JSON
func (s *MarkSet) MarshalMapping() ([]byte, error) {
	data, err := json.Marshal(s.Mapping())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mark mapping: %w", err)
	}
	return data, nil
}
