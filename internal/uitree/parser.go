package uitree

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
)

var (
	// ErrMalformedDump is returned when the dump is not a well-formed hierarchy
	ErrMalformedDump = errors.New("malformed accessibility dump")
	// ErrMalformedBounds is returned when a bounds attribute cannot be parsed
	ErrMalformedBounds = errors.New("malformed bounds")
)

const (
	hierarchyTag = "hierarchy"
	nodeTag      = "node"
)

var boundsPattern = regexp.MustCompile(`^\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]$`)

// ParseBounds parses a "[x1,y1][x2,y2]" string. An empty string yields nil.
func ParseBounds(s string) (*Rect, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	m := boundsPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedBounds, s)
	}

	var v [4]int
	for i := range v {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformedBounds, s, err)
		}
		v[i] = n
	}

	r := &Rect{Min: Point{v[0], v[1]}, Max: Point{v[2], v[3]}}
	if r.Min.X > r.Max.X || r.Min.Y > r.Max.Y {
		return nil, fmt.Errorf("%w: %q: inverted corners", ErrMalformedBounds, s)
	}
	return r, nil
}

// ParseString parses a dump held in memory
func ParseString(dump, targetApp string) (Forest, error) {
	return Parse(strings.NewReader(dump), targetApp)
}

// Parse reads an accessibility dump and returns its top-level elements.
// When targetApp is set, top-level elements owned by another package are
// dropped; an empty forest means the target app is not on screen.
func Parse(r io.Reader, targetApp string) (Forest, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDump, err)
	}

	roots := elementChildren(doc)
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: no root element", ErrMalformedDump)
	}
	if len(roots) > 1 {
		return nil, fmt.Errorf("%w: %d root elements", ErrMalformedDump, len(roots))
	}

	tops := roots
	if roots[0].Data == hierarchyTag {
		tops = elementChildren(roots[0])
	}

	forest := make(Forest, 0, len(tops))
	for i, el := range tops {
		if targetApp != "" && el.SelectAttr("package") != targetApp {
			continue
		}
		n, err := convert(el, strconv.Itoa(i))
		if err != nil {
			return nil, err
		}
		forest = append(forest, n)
	}

	return forest, nil
}

func elementChildren(parent *xmlquery.Node) []*xmlquery.Node {
	var out []*xmlquery.Node
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// convert builds a Node from an element and its element children.
// path is used only to locate errors.
func convert(el *xmlquery.Node, path string) (*Node, error) {
	n := NewNode("")

	for _, attr := range el.Attr {
		name, value := attr.Name.Local, attr.Value
		switch name {
		case "class":
			n.Class = value
		case "package":
			n.Package = value
		case "resource-id":
			n.ResourceID = strings.TrimSpace(value)
		case "text":
			n.Text = value
		case "index":
			n.Index = value
		case "bounds":
			b, err := ParseBounds(value)
			if err != nil {
				return nil, fmt.Errorf("node %s: %w", path, err)
			}
			n.Bounds = b
		default:
			if p, ok := ParseProperty(name); ok && value == "true" {
				n.Properties = n.Properties.With(p)
			}
		}
	}

	if n.Text == "" {
		n.Text = el.SelectAttr("content-desc")
	}
	if n.Class == "" && el.Data != nodeTag {
		n.Class = el.Data
	}

	i := 0
	for c := el.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		child, err := convert(c, path+"/"+strconv.Itoa(i))
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
		i++
	}

	return n, nil
}
