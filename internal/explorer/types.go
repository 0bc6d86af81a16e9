package explorer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alvmarrod/screen-weaver/internal/memory"
	"github.com/alvmarrod/screen-weaver/internal/som"
	"github.com/alvmarrod/screen-weaver/internal/uitree"
)

// Screen is one raw capture: the accessibility dump and the foreground window
type Screen struct {
	Window     string
	Dump       string
	CapturedAt time.Time
}

// Observation is what the decision provider sees for one step
type Observation struct {
	Step       int                     `json:"step"`
	StepID     string                  `json:"step_id"`
	Window     string                  `json:"window"`
	StateID    string                  `json:"state_id"`
	Rendering  string                  `json:"rendering"`
	Marks      map[string]any          `json:"marks"`
	MarkTexts  map[string]string       `json:"mark_texts"`
	Features   []memory.FeatureSummary `json:"features,omitempty"`
	CapturedAt time.Time               `json:"captured_at"`

	MarkSet *som.MarkSet  `json:"-"`
	Tree    uitree.Forest `json:"-"`
}

// ActionKind is the closed set of actions an Actuator can perform
type ActionKind int

const (
	ActionUnknown ActionKind = iota
	ActionTap
	ActionLongTap
	ActionSwipe
	ActionText
	ActionBack
	ActionStop
)

var actionNames = map[ActionKind]string{
	ActionUnknown: "unknown",
	ActionTap:     "tap",
	ActionLongTap: "long_tap",
	ActionSwipe:   "swipe",
	ActionText:    "text",
	ActionBack:    "back",
	ActionStop:    "stop",
}

// ParseActionKind maps a name to its kind. Unrecognized names give ActionUnknown.
func ParseActionKind(name string) ActionKind {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, v := range actionNames {
		if v == name {
			return k
		}
	}
	return ActionUnknown
}

func (k ActionKind) String() string {
	if s, ok := actionNames[k]; ok {
		return s
	}
	return actionNames[ActionUnknown]
}

// MarshalText encodes the kind by name
func (k ActionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind by name; unknown names are kept as ActionUnknown
func (k *ActionKind) UnmarshalText(text []byte) error {
	*k = ParseActionKind(string(text))
	return nil
}

// Action is one device operation addressed by mark
type Action struct {
	Kind     ActionKind `json:"kind"`
	Mark     int        `json:"mark,omitempty"`
	Text     string     `json:"text,omitempty"`
	Distance float64    `json:"distance,omitempty"`
	Axis     string     `json:"axis,omitempty"`
}

// String renders the action the way it is stored in a path step
func (a Action) String() string {
	switch a.Kind {
	case ActionTap, ActionLongTap:
		return fmt.Sprintf("%s(%d)", a.Kind, a.Mark)
	case ActionSwipe:
		axis := a.Axis
		if axis == "" {
			axis = "vertical"
		}
		return fmt.Sprintf("swipe(%d, %g, %s)", a.Mark, a.Distance, axis)
	case ActionText:
		return fmt.Sprintf("text(%q)", a.Text)
	}
	return a.Kind.String()
}

// Decision is the decision provider's answer for one observation
type Decision struct {
	Instruction string              `json:"instruction"`
	StateName   string              `json:"state_name,omitempty"`
	FeaturePath []string            `json:"feature_path,omitempty"`
	Action      Action              `json:"action"`
	Updates     []memory.UpdateSpec `json:"updates,omitempty"`
	Completed   [][]string          `json:"completed,omitempty"`
}

// PerceptionProvider captures the current screen
type PerceptionProvider interface {
	Capture(ctx context.Context) (Screen, error)
}

// DecisionProvider chooses the next action for an observation
type DecisionProvider interface {
	Decide(ctx context.Context, obs *Observation) (Decision, error)
}

// Actuator performs device input at pixel coordinates
type Actuator interface {
	Tap(ctx context.Context, p uitree.Point) error
	LongTap(ctx context.Context, p uitree.Point) error
	Swipe(ctx context.Context, from, to uitree.Point) error
	Input(ctx context.Context, text string) error
	Back(ctx context.Context) error
}
