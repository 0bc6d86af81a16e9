package som

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/alvmarrod/screen-weaver/internal/uitree"
)

func rect(x1, y1, x2, y2 int) *uitree.Rect {
	return &uitree.Rect{Min: uitree.Point{X: x1, Y: y1}, Max: uitree.Point{X: x2, Y: y2}}
}

func node(class string, bounds *uitree.Rect, props ...uitree.Property) *uitree.Node {
	n := uitree.NewNode(class)
	n.Bounds = bounds
	for _, p := range props {
		n.Properties = n.Properties.With(p)
	}
	return n
}

func container(children ...*uitree.Node) *uitree.Node {
	root := node("FrameLayout", rect(0, 0, 1080, 2400))
	root.Children = children
	return root
}

func TestAssign_EightyPercentCoveredIsExcluded(t *testing.T) {
	a := node("A", rect(0, 0, 100, 100), uitree.Clickable)
	b := node("B", rect(0, 0, 100, 80), uitree.Clickable)
	set := Assign(uitree.Forest{container(a, b)}, DefaultOptions())

	if set.Len() != 1 {
		t.Fatalf("expected 1 mark, got %d", set.Len())
	}
	if a.HasMark() {
		t.Errorf("occluded node should not carry a mark, got %d", a.Mark)
	}
	if b.Mark != FirstMark {
		t.Errorf("expected B to get mark %d, got %d", FirstMark, b.Mark)
	}
	if set.Occluded != 1 {
		t.Errorf("expected 1 occluded node, got %d", set.Occluded)
	}
	if got := OcclusionRatio(*a.Bounds, []uitree.Rect{*b.Bounds}); math.Abs(got-0.8) > 1e-9 {
		t.Errorf("expected ratio 0.8, got %v", got)
	}
}

func TestAssign_HalfCoveredIsRetained(t *testing.T) {
	a := node("A", rect(0, 0, 100, 100), uitree.Clickable)
	b := node("B", rect(0, 0, 100, 50), uitree.Clickable)
	set := Assign(uitree.Forest{container(a, b)}, DefaultOptions())

	if set.Len() != 2 {
		t.Fatalf("expected 2 marks, got %d", set.Len())
	}
	if a.Mark != 1 || b.Mark != 2 {
		t.Errorf("expected marks 1 and 2 in document order, got %d and %d", a.Mark, b.Mark)
	}
}

func TestAssign_QuickRejectWhenCenterUncovered(t *testing.T) {
	// B covers 75% of A but leaves A's center exposed
	a := node("A", rect(0, 0, 100, 100), uitree.Clickable)
	b1 := node("B1", rect(0, 0, 100, 45), uitree.Clickable)
	b2 := node("B2", rect(0, 55, 100, 100), uitree.Clickable)
	set := Assign(uitree.Forest{container(a, b1, b2)}, DefaultOptions())
	if set.Len() != 3 {
		t.Errorf("expected all 3 nodes marked, got %d", set.Len())
	}
}

func TestAssign_ZeroAreaNeverCovers(t *testing.T) {
	a := node("A", rect(0, 0, 100, 100), uitree.Clickable)
	line := node("Line", rect(0, 50, 100, 50), uitree.Clickable)
	set := Assign(uitree.Forest{container(a, line)}, DefaultOptions())
	if !a.HasMark() {
		t.Error("zero-area node must not occlude")
	}
	if set.Len() != 2 {
		t.Errorf("expected 2 marks, got %d", set.Len())
	}
}

func TestAssign_CoLocatedLaterWins(t *testing.T) {
	a := node("A", rect(10, 10, 60, 60), uitree.Clickable)
	b := node("B", rect(10, 10, 60, 60), uitree.LongClickable)
	Assign(uitree.Forest{container(a, b)}, DefaultOptions())
	if a.HasMark() || !b.HasMark() {
		t.Errorf("expected only the later node to be marked, got A=%d B=%d", a.Mark, b.Mark)
	}

	c := node("C", rect(10, 10, 60, 60), uitree.Clickable)
	d := node("D", rect(10, 10, 60, 60), uitree.Clickable)
	opts := DefaultOptions()
	opts.LaterOnTop = false
	Assign(uitree.Forest{container(c, d)}, opts)
	if !c.HasMark() || d.HasMark() {
		t.Errorf("reversed z-order should keep the earlier node, got C=%d D=%d", c.Mark, d.Mark)
	}
}

func TestAssign_ScrollRegionAndTexts(t *testing.T) {
	list := node("RecyclerView", rect(0, 200, 1080, 2400), uitree.Scrollable)
	row := node("LinearLayout", rect(0, 200, 1080, 400), uitree.Clickable)
	icon := node("ImageView", rect(20, 250, 120, 350))
	label := node("TextView", rect(140, 250, 900, 350))
	label.Text = "Network"
	sub := node("TextView", rect(140, 350, 900, 390))
	sub.Text = "Wi-Fi, mobile"
	row.Children = []*uitree.Node{icon, label, sub}
	list.Children = []*uitree.Node{row}

	set := Assign(uitree.Forest{container(list)}, DefaultOptions())
	if set.Len() != 2 {
		t.Fatalf("expected 2 marks, got %d", set.Len())
	}
	if list.Mark != 1 || row.Mark != 2 {
		t.Errorf("expected shared sequential ids, got list=%d row=%d", list.Mark, row.Mark)
	}

	m, ok := set.Get(2)
	if !ok {
		t.Fatal("mark 2 missing")
	}
	if m.Text != "Network | Wi-Fi, mobile" {
		t.Errorf("unexpected aggregated text %q", m.Text)
	}

	data, err := set.MarshalMapping()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"1":[[0,200],[1080,2400]],"2":[540,300]}`
	if string(data) != want {
		t.Errorf("unexpected mapping:\n%s\nwant:\n%s", data, want)
	}

	region, err := set.ScrollRegion(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if region.Rect != *list.Bounds {
		t.Errorf("unexpected region %v", region.Rect)
	}
	if _, err := set.ScrollRegion(2); !errors.Is(err, ErrUnknownMark) {
		t.Errorf("expected ErrUnknownMark for a tap mark, got %v", err)
	}
}

func TestAssign_SkipsClickableWithoutBounds(t *testing.T) {
	ghost := node("Ghost", nil, uitree.Clickable)
	ok := node("Ok", rect(0, 0, 10, 10), uitree.Clickable)
	set := Assign(uitree.Forest{container(ghost, ok)}, DefaultOptions())
	if set.Len() != 1 || ghost.HasMark() {
		t.Errorf("expected node without bounds to be skipped")
	}
}

func TestAssign_Deterministic(t *testing.T) {
	a := node("A", rect(0, 0, 100, 100), uitree.Clickable)
	b := node("B", rect(0, 0, 100, 80), uitree.Clickable)
	c := node("C", rect(0, 100, 500, 900), uitree.Scrollable)
	forest := uitree.Forest{container(a, b, c)}

	first, err := Assign(forest.Clone(), DefaultOptions()).MarshalMapping()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Assign(forest.Clone(), DefaultOptions()).MarshalMapping()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("mapping differs between runs:\n%s\n%s", first, second)
	}
}

func TestResolve(t *testing.T) {
	b := node("B", rect(0, 0, 100, 80), uitree.Clickable)
	set := Assign(uitree.Forest{container(b)}, DefaultOptions())
	p, err := set.Resolve(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != (uitree.Point{X: 50, Y: 40}) {
		t.Errorf("unexpected point %v", p)
	}
	if _, err := set.Resolve(7); !errors.Is(err, ErrUnknownMark) {
		t.Errorf("expected ErrUnknownMark, got %v", err)
	}
}

func TestOcclusionRatio_DegenerateTarget(t *testing.T) {
	if got := OcclusionRatio(*rect(0, 0, 0, 10), []uitree.Rect{*rect(0, 0, 10, 10)}); got != 0 {
		t.Errorf("expected 0 for degenerate target, got %v", got)
	}
}
