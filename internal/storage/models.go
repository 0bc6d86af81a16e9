package storage

import "time"

// FeatureStatus is the exploration status of a feature
type FeatureStatus string

const (
	StatusExploring FeatureStatus = "exploring"
	StatusCompleted FeatureStatus = "completed"
)

// RootFeatureID is the id of the feature every other feature descends from
const RootFeatureID = "root"

// InitialStateID is the sentinel source of the first step of a session
const InitialStateID = "initial"

// Update event types recorded in the audit log
const (
	EventInitialize    = "initialize"
	EventAddNew        = "add_new"
	EventRename        = "rename"
	EventSplit         = "split"
	EventMarkCompleted = "mark_completed"
)

// PathStep is one executed instruction that moved exploration between states
type PathStep struct {
	StepID        string    `json:"step_id"`
	Instruction   string    `json:"instruction"`
	Actions       []string  `json:"actions"`
	FromStateID   string    `json:"from_state_id"`
	ToStateID     string    `json:"to_state_id"`
	FromStateName string    `json:"from_state_name"`
	ToStateName   string    `json:"to_state_name"`
	Success       bool      `json:"success"`
	Timestamp     time.Time `json:"timestamp"`
}

// PageState is a deduplicated screen
type PageState struct {
	StateID         string     `json:"state_id"`
	StateName       string     `json:"state_name"`
	ActivityName    string     `json:"activity_name"`
	PathFromRoot    []PathStep `json:"path_from_root"`
	DiscoveredAt    time.Time  `json:"discovered_at"`
	ReachableStates []string   `json:"reachable_states"`
}

// FeatureNode groups the states of one application capability
type FeatureNode struct {
	FeatureID          string        `json:"feature_id"`
	FeatureName        string        `json:"feature_name"`
	FeatureDescription string        `json:"feature_description"`
	ParentFeatureID    string        `json:"parent_feature_id,omitempty"`
	SubFeatures        []string      `json:"sub_features"`
	States             []string      `json:"states"`
	EntryStateID       string        `json:"entry_state_id,omitempty"`
	Status             FeatureStatus `json:"status"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
}

// Transition is a directed edge between two states, labelled by the step that caused it
type Transition struct {
	FromStateID string `json:"from_state_id"`
	ToStateID   string `json:"to_state_id"`
	StepID      string `json:"step_id"`
}

// Graph is the full serialized form of a feature graph
type Graph struct {
	RootFeatureID    string                  `json:"root_feature_id"`
	Features         map[string]*FeatureNode `json:"features"`
	States           map[string]*PageState   `json:"states"`
	StateTransitions []Transition            `json:"state_transitions"`

	// Events is the audit log; it is kept in the database but written to
	// its own file by the JSON codec
	Events []UpdateEvent `json:"-"`
}

// UpdateEvent is one entry of the feature structure audit log
type UpdateEvent struct {
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	StepID      string    `json:"step_id,omitempty"`
	FeatureID   string    `json:"feature_id,omitempty"`
	FeaturePath []string  `json:"feature_path,omitempty"`
	Name        string    `json:"name,omitempty"`
	OldName     string    `json:"old_name,omitempty"`
	NewName     string    `json:"new_name,omitempty"`
	Description string    `json:"description,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// Metrics tracks exploration statistics for export on exit
type Metrics struct {
	StartTime           time.Time `json:"start_time"`
	EndTime             time.Time `json:"end_time"`
	ScreensCaptured     int       `json:"screens_captured"`
	CaptureFailures     int       `json:"capture_failures"`
	StatesDiscovered    int       `json:"states_discovered"`
	StatesRevisited     int       `json:"states_revisited"`
	TransitionsRecorded int       `json:"transitions_recorded"`
	MarksAssigned       int       `json:"marks_assigned"`
	TotalPipelineTimeMs int64     `json:"total_pipeline_time_ms"`
	AvgPipelineTimeMs   int64     `json:"avg_pipeline_time_ms"`
	TerminationReason   string    `json:"termination_reason"`
}
