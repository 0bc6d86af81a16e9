package som

import (
	"errors"
	"fmt"
	"math"

	"github.com/alvmarrod/screen-weaver/internal/uitree"
)

// ErrInvalidDistance is returned for swipe distances outside [-1,0)∪(0,1]
var ErrInvalidDistance = errors.New("swipe distance must be in [-1,0) or (0,1]")

// Axis is the direction a swipe travels along
type Axis int

const (
	Vertical Axis = iota
	Horizontal
)

// ParseAxis maps "vertical"/"horizontal" (or "v"/"h") to an Axis
func ParseAxis(s string) (Axis, error) {
	switch s {
	case "vertical", "v", "y", "":
		return Vertical, nil
	case "horizontal", "h", "x":
		return Horizontal, nil
	}
	return Vertical, fmt.Errorf("unknown swipe axis %q", s)
}

// ScrollRegion is the rectangle of a scroll mark
type ScrollRegion struct {
	uitree.Rect
}

// Swipe computes the start and end points of a fractional swipe. The swipe
// runs along the region's midline; it starts d/2 of the extent past the
// midpoint and ends d/2 before it, so d=1 sweeps the whole region and a
// negative d reverses direction.
func (r ScrollRegion) Swipe(d float64, axis Axis) (start, end uitree.Point, err error) {
	if d == 0 || d < -1 || d > 1 || math.IsNaN(d) {
		return start, end, fmt.Errorf("%w: %v", ErrInvalidDistance, d)
	}

	mid := r.Center()
	start, end = mid, mid
	switch axis {
	case Horizontal:
		offset := int(math.Round(d / 2 * float64(r.Width())))
		start.X = mid.X + offset
		end.X = mid.X - offset
	default:
		offset := int(math.Round(d / 2 * float64(r.Height())))
		start.Y = mid.Y + offset
		end.Y = mid.Y - offset
	}
	return start, end, nil
}
