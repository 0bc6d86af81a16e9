// Package compress rewrites a parsed accessibility forest into a compact
// tree: single-child chains are folded into their child, layering metadata
// and non-interactive geometry are stripped, and empty leaves are removed.
package compress

import (
	"strings"

	"github.com/alvmarrod/screen-weaver/internal/uitree"
)

// DefaultMaxRounds bounds the merge/strip alternation
const DefaultMaxRounds = 3

// Options controls compression
type Options struct {
	MaxRounds int
}

// DefaultOptions returns the standard compression options
func DefaultOptions() Options {
	return Options{MaxRounds: DefaultMaxRounds}
}

// droppedProperties are flags treated as layering metadata and removed by Strip
const droppedProperties = uitree.Properties(uitree.Enabled) | uitree.Properties(uitree.Visible)

// classPrefixes are widget-family prefixes removed from short class names
var classPrefixes = []string{"AppCompat", "Material"}

// Compress returns a compressed copy of the forest. The input is not modified.
func Compress(forest uitree.Forest, opts Options) uitree.Forest {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = DefaultMaxRounds
	}

	out := forest.Clone()
	deleted := false
	for round := 0; round < opts.MaxRounds; round++ {
		out = MergeSingleChildren(out)
		out, deleted = Strip(out)
		if !deleted {
			return out
		}
	}

	// Deletions in the last round may have left new single-child chains
	return MergeSingleChildren(out)
}

// MergeSingleChildren folds every node that has exactly one child into that
// child, bottom-up. A marked node whose only child is also marked is kept,
// so every assigned mark stays addressable in the rendering.
func MergeSingleChildren(forest uitree.Forest) uitree.Forest {
	for i, n := range forest {
		forest[i] = mergeNode(n)
	}
	return forest
}

func mergeNode(n *uitree.Node) *uitree.Node {
	for i, c := range n.Children {
		n.Children[i] = mergeNode(c)
	}
	if len(n.Children) != 1 {
		return n
	}
	if n.HasMark() && n.Children[0].HasMark() {
		return n
	}
	return absorb(n, n.Children[0])
}

// absorb pushes parent attributes down into its only child and returns the child
func absorb(parent, child *uitree.Node) *uitree.Node {
	inherited := parent.Properties &^ child.Properties
	child.Properties |= parent.Properties

	if child.Class == "" {
		child.Class = parent.Class
		child.MergedClass = concat(parent.MergedClass, "", child.MergedClass)
	} else if parent.Class != "" {
		child.MergedClass = concat(parent.MergedClass, parent.Class, child.MergedClass)
	} else {
		child.MergedClass = concat(parent.MergedClass, "", child.MergedClass)
	}

	if child.ResourceID == "" {
		child.ResourceID = parent.ResourceID
		child.MergedResourceID = concat(parent.MergedResourceID, "", child.MergedResourceID)
	} else {
		child.MergedResourceID = concat(parent.MergedResourceID, parent.ResourceID, child.MergedResourceID)
	}

	child.MergedProperties = concat(parent.MergedProperties, "", child.MergedProperties)
	child.MergedProperties = append(child.MergedProperties, inherited.Names()...)

	if child.Package == "" {
		child.Package = parent.Package
	}
	if child.Index == "" {
		child.Index = parent.Index
	}
	if child.Bounds == nil && parent.Bounds != nil {
		b := *parent.Bounds
		child.Bounds = &b
	}
	if !child.HasMark() && parent.HasMark() {
		child.Mark = parent.Mark
	}

	switch {
	case parent.Text != "" && child.Text != "":
		child.Text = parent.Text + " " + child.Text
	case parent.Text != "":
		child.Text = parent.Text
	}

	return child
}

// concat joins outer, mid (when non-empty) and inner into a fresh slice
func concat(outer []string, mid string, inner []string) []string {
	if len(outer) == 0 && mid == "" && len(inner) == 0 {
		return nil
	}
	out := make([]string, 0, len(outer)+len(inner)+1)
	out = append(out, outer...)
	if mid != "" {
		out = append(out, mid)
	}
	return append(out, inner...)
}

// Strip removes layering metadata, non-interactive geometry and empty
// leaves. It reports whether any node was deleted.
func Strip(forest uitree.Forest) (uitree.Forest, bool) {
	deleted := false
	kept := forest[:0]
	for _, n := range forest {
		if stripNode(n, &deleted) {
			kept = append(kept, n)
		} else {
			deleted = true
		}
	}
	return kept, deleted
}

// stripNode cleans n's subtree and reports whether n itself survives
func stripNode(n *uitree.Node, deleted *bool) bool {
	kept := n.Children[:0]
	for _, c := range n.Children {
		if stripNode(c, deleted) {
			kept = append(kept, c)
		} else {
			*deleted = true
		}
	}
	for i := len(kept); i < len(n.Children); i++ {
		n.Children[i] = nil
	}
	n.Children = kept

	leaf := len(n.Children) == 0
	if leaf && n.IsImage() && !n.Interactive() {
		return false
	}

	n.Package = ""
	n.Index = ""
	n.Properties &^= droppedProperties
	n.MergedProperties = filterNames(n.MergedProperties, droppedProperties)
	if !n.Interactive() {
		n.Bounds = nil
	}
	n.Class = ShortClass(n.Class)
	for i, c := range n.MergedClass {
		n.MergedClass[i] = ShortClass(c)
	}
	n.ResourceID = ShortResourceID(n.ResourceID)
	for i, r := range n.MergedResourceID {
		n.MergedResourceID[i] = ShortResourceID(r)
	}
	n.Text = strings.TrimSpace(n.Text)

	if leaf && n.Properties == 0 && n.Text == "" && !n.HasMark() && !n.IsImage() {
		return false
	}
	return true
}

func filterNames(names []string, drop uitree.Properties) []string {
	if len(names) == 0 {
		return names
	}
	kept := names[:0]
	for _, name := range names {
		if p, ok := uitree.ParseProperty(name); ok && drop.Has(p) {
			continue
		}
		kept = append(kept, name)
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

// ShortClass reduces a fully-qualified widget class to its bare name:
// androidx.appcompat.widget.AppCompatTextView becomes TextView.
func ShortClass(class string) string {
	if i := strings.LastIndex(class, "."); i >= 0 {
		class = class[i+1:]
	}
	for _, prefix := range classPrefixes {
		if rest := strings.TrimPrefix(class, prefix); rest != class && rest != "" {
			return rest
		}
	}
	return class
}

// ShortResourceID keeps the trailing path segment: com.app:id/ok becomes ok
func ShortResourceID(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}
