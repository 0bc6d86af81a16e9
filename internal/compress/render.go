package compress

import (
	"fmt"
	"strings"

	"github.com/alvmarrod/screen-weaver/internal/uitree"
)

const indentUnit = "  "

// Render produces the line-per-node text form of a forest. The same text
// is shown to the decision provider and hashed into the state id.
func Render(forest uitree.Forest) string {
	var b strings.Builder
	forest.Walk(func(n *uitree.Node, depth int) bool {
		b.WriteString(strings.Repeat(indentUnit, depth))
		b.WriteString(RenderLine(n))
		b.WriteByte('\n')
		return true
	})
	return b.String()
}

// RenderLine formats a single node without indentation
func RenderLine(n *uitree.Node) string {
	var b strings.Builder

	b.WriteString(joinPath(n.MergedClass, n.Class))

	if n.ResourceID != "" || len(n.MergedResourceID) > 0 {
		b.WriteString(" #")
		b.WriteString(joinPath(n.MergedResourceID, n.ResourceID))
	}

	if n.HasMark() {
		fmt.Fprintf(&b, " {%d}", n.Mark)
	}

	if n.Text != "" {
		fmt.Fprintf(&b, " [%s]", n.Text)
	}

	if c, ok := n.Center(); ok {
		fmt.Fprintf(&b, " [Center: [%d,%d]]", c.X, c.Y)
	}

	if names := n.Properties.Names(); len(names) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(names, ", "))
	}

	return b.String()
}

func joinPath(merged []string, base string) string {
	if len(merged) == 0 {
		return base
	}
	parts := make([]string, 0, len(merged)+1)
	parts = append(parts, merged...)
	if base != "" {
		parts = append(parts, base)
	}
	return strings.Join(parts, "/")
}
