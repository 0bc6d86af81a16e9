package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/alvmarrod/screen-weaver/internal/storage"
)

// Tracker holds and manages exploration metrics
type Tracker struct {
	mu                  sync.Mutex
	data                storage.Metrics
	totalPipelineTimeMs int64
	pipelineCount       int
}

// NewTracker creates a new metrics tracker
func NewTracker() *Tracker {
	return &Tracker{
		data: storage.Metrics{
			StartTime: time.Now(),
		},
	}
}

// IncrementScreensCaptured counts a successfully captured screen
func (t *Tracker) IncrementScreensCaptured() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.ScreensCaptured++
}

// IncrementCaptureFailures counts a failed capture attempt
func (t *Tracker) IncrementCaptureFailures() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.CaptureFailures++
}

// RecordState counts a state visit, new or revisited
func (t *Tracker) RecordState(isNew bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if isNew {
		t.data.StatesDiscovered++
	} else {
		t.data.StatesRevisited++
	}
}

// IncrementTransitionsRecorded increments the transitions counter
func (t *Tracker) IncrementTransitionsRecorded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.TransitionsRecorded++
}

// AddMarks adds the marks assigned on one screen
func (t *Tracker) AddMarks(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.MarksAssigned += n
}

// RecordPipelineTime records how long one screen took to process
func (t *Tracker) RecordPipelineTime(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalPipelineTimeMs += duration.Milliseconds()
	t.pipelineCount++
}

// GetSnapshot returns a copy of current metrics
func (t *Tracker) GetSnapshot() storage.Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := t.data
	snapshot.TotalPipelineTimeMs = t.totalPipelineTimeMs
	if t.pipelineCount > 0 {
		snapshot.AvgPipelineTimeMs = t.totalPipelineTimeMs / int64(t.pipelineCount)
	}
	return snapshot
}

// WriteToFile exports metrics to a JSON file
func (t *Tracker) WriteToFile(path, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.EndTime = time.Now()
	t.data.TerminationReason = reason
	t.data.TotalPipelineTimeMs = t.totalPipelineTimeMs
	if t.pipelineCount > 0 {
		t.data.AvgPipelineTimeMs = t.totalPipelineTimeMs / int64(t.pipelineCount)
	}

	jsonData, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	return nil
}

// LogProgress formats current metrics for periodic console updates
func (t *Tracker) LogProgress() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("Screens: %d captured, %d failed | States: %d new, %d revisited | Transitions: %d | Marks: %d",
		t.data.ScreensCaptured,
		t.data.CaptureFailures,
		t.data.StatesDiscovered,
		t.data.StatesRevisited,
		t.data.TransitionsRecorded,
		t.data.MarksAssigned,
	)
}
