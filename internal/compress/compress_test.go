package compress

import (
	"testing"

	"github.com/alvmarrod/screen-weaver/internal/uitree"
)

func mustParse(t *testing.T, dump string) uitree.Forest {
	t.Helper()
	forest, err := uitree.ParseString(dump, "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return forest
}

const chainDump = `<hierarchy>
  <node class="android.widget.FrameLayout" package="com.p" resource-id="com.p:id/content" enabled="true" bounds="[0,0][1000,2000]">
    <node class="android.widget.LinearLayout" package="com.p" clickable="true" enabled="true" bounds="[0,0][1000,200]">
      <node class="android.widget.TextView" package="com.p" text="Wi-Fi" enabled="true" bounds="[10,10][500,100]"/>
    </node>
  </node>
</hierarchy>`

const settingsDump = `<hierarchy>
  <node class="android.widget.FrameLayout" package="com.p" enabled="true" bounds="[0,0][1080,2400]">
    <node class="android.view.ViewGroup" package="com.p" enabled="true" bounds="[0,0][1080,2400]">
      <node class="android.widget.TextView" text="Settings" enabled="true" bounds="[40,100][600,180]"/>
      <node class="android.view.View" enabled="true" bounds="[0,190][1080,192]"/>
      <node class="androidx.recyclerview.widget.RecyclerView" scrollable="true" focusable="true" enabled="true" bounds="[0,200][1080,2400]">
        <node class="android.widget.LinearLayout" clickable="true" enabled="true" bounds="[0,200][1080,400]">
          <node class="android.widget.ImageView" enabled="true" bounds="[20,250][120,350]"/>
          <node class="android.widget.TextView" text="Network" enabled="true" bounds="[140,250][900,350]"/>
        </node>
        <node class="android.widget.LinearLayout" clickable="true" enabled="true" bounds="[0,400][1080,600]">
          <node class="androidx.appcompat.widget.AppCompatTextView" text="Display" enabled="true" bounds="[140,450][900,550]"/>
          <node class="android.widget.Switch" checkable="true" checked="true" clickable="true" enabled="true" bounds="[950,450][1050,550]"/>
        </node>
      </node>
    </node>
  </node>
</hierarchy>`

func TestCompress_ChainMerge(t *testing.T) {
	out := Compress(mustParse(t, chainDump), DefaultOptions())
	if len(out) != 1 {
		t.Fatalf("expected 1 root, got %d", len(out))
	}
	n := out[0]
	if len(n.Children) != 0 {
		t.Fatalf("expected the chain to collapse into a leaf, got %d children", len(n.Children))
	}
	want := "FrameLayout/LinearLayout/TextView #content [Wi-Fi] [Center: [255,55]] [clickable]\n"
	if got := Render(out); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if len(n.MergedProperties) != 1 || n.MergedProperties[0] != "clickable" {
		t.Errorf("expected inherited clickable flag to be recorded, got %v", n.MergedProperties)
	}
}

func TestCompress_DeletionTriggersRemerge(t *testing.T) {
	dump := `<hierarchy>
  <node class="android.widget.LinearLayout" enabled="true" bounds="[0,0][100,100]">
    <node class="android.view.View" enabled="true" bounds="[0,0][10,10]"/>
    <node class="android.widget.TextView" text="Hello" enabled="true" bounds="[10,10][90,90]"/>
  </node>
</hierarchy>`
	out := Compress(mustParse(t, dump), DefaultOptions())
	want := "LinearLayout/TextView [Hello]\n"
	if got := Render(out); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestCompress_TextConcatenatesParentFirst(t *testing.T) {
	dump := `<hierarchy>
  <node class="android.widget.LinearLayout" text="Settings" bounds="[0,0][100,100]">
    <node class="android.widget.TextView" text="Wi-Fi" bounds="[10,10][90,90]"/>
  </node>
</hierarchy>`
	out := Compress(mustParse(t, dump), DefaultOptions())
	if out[0].Text != "Settings Wi-Fi" {
		t.Errorf("expected %q, got %q", "Settings Wi-Fi", out[0].Text)
	}
}

func TestCompress_Settings(t *testing.T) {
	out := Compress(mustParse(t, settingsDump), DefaultOptions())
	want := "FrameLayout/ViewGroup\n" +
		"  TextView [Settings]\n" +
		"  RecyclerView [focusable, scrollable]\n" +
		"    LinearLayout/TextView [Network] [Center: [520,300]] [clickable]\n" +
		"    LinearLayout [Center: [540,500]] [clickable]\n" +
		"      TextView [Display]\n" +
		"      Switch [Center: [1000,500]] [checkable, checked, clickable]\n"
	if got := Render(out); got != want {
		t.Errorf("unexpected rendering:\n%s\nwant:\n%s", got, want)
	}
}

func TestCompress_ImageLeafPruning(t *testing.T) {
	dump := `<hierarchy>
  <node class="android.widget.LinearLayout" bounds="[0,0][100,100]">
    <node class="android.widget.ImageView" content-desc="Logo" bounds="[0,0][10,10]"/>
    <node class="android.widget.ImageButton" content-desc="Menu" clickable="true" bounds="[10,10][30,30]"/>
    <node class="android.widget.TextView" text="Title" bounds="[30,30][90,90]"/>
  </node>
</hierarchy>`
	out := Compress(mustParse(t, dump), DefaultOptions())
	want := "LinearLayout\n" +
		"  ImageButton [Menu] [Center: [20,20]] [clickable]\n" +
		"  TextView [Title]\n"
	if got := Render(out); got != want {
		t.Errorf("unexpected rendering:\n%s\nwant:\n%s", got, want)
	}
}

func TestCompress_Idempotent(t *testing.T) {
	for name, dump := range map[string]string{"chain": chainDump, "settings": settingsDump} {
		once := Compress(mustParse(t, dump), DefaultOptions())
		twice := Compress(once, DefaultOptions())
		if Render(once) != Render(twice) {
			t.Errorf("%s: compress is not a fixed point:\n%s\nvs\n%s", name, Render(once), Render(twice))
		}
		if once.Count() != twice.Count() {
			t.Errorf("%s: node count changed from %d to %d", name, once.Count(), twice.Count())
		}
	}
}

func TestCompress_DoesNotMutateInput(t *testing.T) {
	forest := mustParse(t, settingsDump)
	before := Render(forest)
	count := forest.Count()
	Compress(forest, DefaultOptions())
	if Render(forest) != before || forest.Count() != count {
		t.Error("compress modified its input")
	}
}

func TestMergeSingleChildren_NeverGrows(t *testing.T) {
	forest := mustParse(t, settingsDump)
	before := forest.Count()
	merged := MergeSingleChildren(forest)
	after := merged.Count()
	if after > before {
		t.Errorf("node count grew from %d to %d", before, after)
	}
	merged.Walk(func(n *uitree.Node, _ int) bool {
		if len(n.Children) == 1 {
			t.Errorf("node %s still has a single child", n.Class)
		}
		return true
	})
}

func TestMerge_CarriesMarkDown(t *testing.T) {
	parent := uitree.NewNode("android.widget.FrameLayout")
	parent.Mark = 2
	parent.Properties = parent.Properties.With(uitree.Clickable)
	parent.Bounds = &uitree.Rect{Max: uitree.Point{X: 10, Y: 10}}
	child := uitree.NewNode("android.widget.TextView")
	child.Text = "Go"
	parent.Children = []*uitree.Node{child}

	out := Compress(uitree.Forest{parent}, DefaultOptions())
	if got := Render(out); got != "FrameLayout/TextView {2} [Go] [Center: [5,5]] [clickable]\n" {
		t.Errorf("unexpected rendering %q", got)
	}
}

func TestMerge_KeepsBothMarks(t *testing.T) {
	scroll := uitree.NewNode("android.widget.ScrollView")
	scroll.Mark = 1
	scroll.Properties = scroll.Properties.With(uitree.Scrollable)
	scroll.Bounds = &uitree.Rect{Max: uitree.Point{X: 1080, Y: 2400}}
	button := uitree.NewNode("android.widget.Button")
	button.Mark = 2
	button.Text = "OK"
	button.Properties = button.Properties.With(uitree.Clickable)
	button.Bounds = &uitree.Rect{Min: uitree.Point{X: 50, Y: 25}, Max: uitree.Point{X: 150, Y: 75}}
	scroll.Children = []*uitree.Node{button}

	out := Compress(uitree.Forest{scroll}, DefaultOptions())
	want := "ScrollView {1} [scrollable]\n" +
		"  Button {2} [OK] [Center: [100,50]] [clickable]\n"
	if got := Render(out); got != want {
		t.Errorf("unexpected rendering %q", got)
	}
}

func TestMerge_UnnamedChildKeepsClassPath(t *testing.T) {
	parent := uitree.NewNode("FrameLayout")
	parent.MergedClass = []string{"LinearLayout"}
	child := uitree.NewNode("")
	child.Text = "x"
	parent.Children = []*uitree.Node{child}

	out := MergeSingleChildren(uitree.Forest{parent})
	if got := RenderLine(out[0]); got != "LinearLayout/FrameLayout [x]" {
		t.Errorf("unexpected rendering %q", got)
	}
}

func TestShortNames(t *testing.T) {
	classes := map[string]string{
		"android.widget.TextView":                     "TextView",
		"androidx.appcompat.widget.AppCompatTextView": "TextView",
		"com.google.android.material.button.MaterialButton": "Button",
		"TextView": "TextView",
		"":         "",
	}
	for in, want := range classes {
		if got := ShortClass(in); got != want {
			t.Errorf("ShortClass(%q): expected %q, got %q", in, want, got)
		}
	}
	if got := ShortResourceID("com.example:id/ok_button"); got != "ok_button" {
		t.Errorf("expected %q, got %q", "ok_button", got)
	}
	if got := ShortResourceID("plain"); got != "plain" {
		t.Errorf("expected %q, got %q", "plain", got)
	}
}
