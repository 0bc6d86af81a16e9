package uitree

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Property is one boolean accessibility flag
type Property uint16

const (
	Clickable Property = 1 << iota
	Scrollable
	Checkable
	Checked
	Focusable
	Focused
	LongClickable
	Password
	Selected
	Enabled
	Visible
)

// propertyNames maps each flag to its attribute name in the dump
var propertyNames = map[Property]string{
	Clickable:     "clickable",
	Scrollable:    "scrollable",
	Checkable:     "checkable",
	Checked:       "checked",
	Focusable:     "focusable",
	Focused:       "focused",
	LongClickable: "long-clickable",
	Password:      "password",
	Selected:      "selected",
	Enabled:       "enabled",
	Visible:       "visible-to-user",
}

var propertyByName = func() map[string]Property {
	m := make(map[string]Property, len(propertyNames)+1)
	for p, name := range propertyNames {
		m[name] = p
	}
	m["visible"] = Visible
	return m
}()

// ParseProperty resolves an attribute name to a flag.
// Returns false for attributes that are not boolean flags.
func ParseProperty(name string) (Property, bool) {
	p, ok := propertyByName[name]
	return p, ok
}

// String returns the dump attribute name of a single flag
func (p Property) String() string {
	if name, ok := propertyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("property(%d)", uint16(p))
}

// Properties is a set of flags
type Properties uint16

// Has reports whether every flag in p is set
func (ps Properties) Has(p Property) bool {
	return ps&Properties(p) == Properties(p)
}

// With returns the set with p added
func (ps Properties) With(p Property) Properties {
	return ps | Properties(p)
}

// Without returns the set with p removed
func (ps Properties) Without(p Property) Properties {
	return ps &^ Properties(p)
}

// Names returns the attribute names of all set flags, sorted
func (ps Properties) Names() []string {
	names := make([]string, 0, len(propertyNames))
	for p, name := range propertyNames {
		if ps.Has(p) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Point is a pixel coordinate
type Point struct {
	X int
	Y int
}

// MarshalJSON encodes a point as [x,y]
func (p Point) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("[%d,%d]", p.X, p.Y)), nil
}

// Rect is an axis-aligned rectangle in screen pixels
type Rect struct {
	Min Point
	Max Point
}

// Width returns the horizontal extent
func (r Rect) Width() int { return r.Max.X - r.Min.X }

// Height returns the vertical extent
func (r Rect) Height() int { return r.Max.Y - r.Min.Y }

// Area returns the rectangle area, zero for degenerate rectangles
func (r Rect) Area() int {
	if r.Width() <= 0 || r.Height() <= 0 {
		return 0
	}
	return r.Width() * r.Height()
}

// Contains reports whether p lies inside r, edges included
func (r Rect) Contains(p Point) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}

// Intersection returns the area shared by r and o
func (r Rect) Intersection(o Rect) int {
	w := min(r.Max.X, o.Max.X) - max(r.Min.X, o.Min.X)
	h := min(r.Max.Y, o.Max.Y) - max(r.Min.Y, o.Min.Y)
	return max(0, w) * max(0, h)
}

// Center returns the rounded midpoint
func (r Rect) Center() Point {
	return Point{
		X: int(math.Round(float64(r.Min.X+r.Max.X) / 2)),
		Y: int(math.Round(float64(r.Min.Y+r.Max.Y) / 2)),
	}
}

// String formats r the way the dump does: [x1,y1][x2,y2]
func (r Rect) String() string {
	return fmt.Sprintf("[%d,%d][%d,%d]", r.Min.X, r.Min.Y, r.Max.X, r.Max.Y)
}

// Node is one accessibility element. Children are owned by their parent.
type Node struct {
	Class      string
	Package    string
	ResourceID string
	Text       string
	Index      string
	Properties Properties
	Bounds     *Rect

	// Attributes absorbed from removed ancestors, outermost first
	MergedClass      []string
	MergedResourceID []string
	MergedProperties []string

	// Mark is the Set-of-Marks handle, -1 when unassigned
	Mark int

	Children []*Node
}

// NewNode returns a node with no mark assigned
func NewNode(class string) *Node {
	return &Node{Class: class, Mark: -1}
}

// Has reports whether the node carries flag p
func (n *Node) Has(p Property) bool {
	return n.Properties.Has(p)
}

// Interactive reports whether the node is clickable or long-clickable
func (n *Node) Interactive() bool {
	return n.Has(Clickable) || n.Has(LongClickable)
}

// Center returns the midpoint of the node's bounds. It is only defined
// for interactive nodes with geometry.
func (n *Node) Center() (Point, bool) {
	if n.Bounds == nil || !n.Interactive() {
		return Point{}, false
	}
	return n.Bounds.Center(), true
}

// HasMark reports whether a mark was assigned
func (n *Node) HasMark() bool {
	return n.Mark >= 0
}

// IsImage reports whether the class names an image element
func (n *Node) IsImage() bool {
	return strings.Contains(n.Class, "Image")
}

// Clone deep-copies the subtree rooted at n
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Bounds != nil {
		b := *n.Bounds
		c.Bounds = &b
	}
	c.MergedClass = append([]string(nil), n.MergedClass...)
	c.MergedResourceID = append([]string(nil), n.MergedResourceID...)
	c.MergedProperties = append([]string(nil), n.MergedProperties...)
	c.Children = make([]*Node, len(n.Children))
	for i, child := range n.Children {
		c.Children[i] = child.Clone()
	}
	return &c
}

// Forest is an ordered list of top-level nodes
type Forest []*Node

// Clone deep-copies every tree in the forest
func (f Forest) Clone() Forest {
	out := make(Forest, len(f))
	for i, n := range f {
		out[i] = n.Clone()
	}
	return out
}

// Walk visits every node in document order. Returning false from fn
// skips the node's children.
func (f Forest) Walk(fn func(n *Node, depth int) bool) {
	var walk func(*Node, int)
	walk = func(n *Node, depth int) {
		if !fn(n, depth) {
			return
		}
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	for _, n := range f {
		walk(n, 0)
	}
}

// Count returns the number of nodes in the forest
func (f Forest) Count() int {
	count := 0
	f.Walk(func(*Node, int) bool {
		count++
		return true
	})
	return count
}

// Texts returns the node's own text followed by all descendant text,
// depth-first, skipping empty strings.
func (n *Node) Texts() []string {
	var out []string
	var walk func(*Node)
	walk = func(cur *Node) {
		if t := strings.TrimSpace(cur.Text); t != "" {
			out = append(out, t)
		}
		for _, c := range cur.Children {
			walk(c)
		}
	}
	walk(n)
	return out
}
