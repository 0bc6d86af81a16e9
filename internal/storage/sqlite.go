package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrSessionNotFound is returned by LoadGraph for an unknown session id
var ErrSessionNotFound = errors.New("session not found")

// Storage handles all database operations
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new Storage instance, opening/creating the DB and initializing schema
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storage := &Storage{db: db}

	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// initSchema creates tables and indices if they don't exist
func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		root_feature_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS features (
		session_id TEXT NOT NULL,
		feature_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		parent_id TEXT,
		sub_features TEXT NOT NULL,
		states TEXT NOT NULL,
		entry_state_id TEXT,
		status TEXT NOT NULL,
		completed_at TEXT,
		PRIMARY KEY (session_id, feature_id)
	);

	CREATE TABLE IF NOT EXISTS states (
		session_id TEXT NOT NULL,
		state_id TEXT NOT NULL,
		name TEXT,
		activity TEXT,
		discovered_at TEXT NOT NULL,
		reachable TEXT NOT NULL,
		PRIMARY KEY (session_id, state_id)
	);

	CREATE TABLE IF NOT EXISTS steps (
		session_id TEXT NOT NULL,
		step_id TEXT NOT NULL,
		instruction TEXT,
		actions TEXT NOT NULL,
		from_state_id TEXT,
		to_state_id TEXT,
		from_state_name TEXT,
		to_state_name TEXT,
		success INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		PRIMARY KEY (session_id, step_id)
	);

	CREATE TABLE IF NOT EXISTS state_paths (
		session_id TEXT NOT NULL,
		state_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		step_id TEXT NOT NULL,
		PRIMARY KEY (session_id, state_id, position)
	);

	CREATE TABLE IF NOT EXISTS transitions (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		from_state_id TEXT NOT NULL,
		to_state_id TEXT NOT NULL,
		step_id TEXT,
		PRIMARY KEY (session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS edges (
		session_id TEXT NOT NULL,
		from_state_id TEXT NOT NULL,
		to_state_id TEXT NOT NULL,
		weight INTEGER DEFAULT 1,
		UNIQUE(session_id, from_state_id, to_state_id)
	);

	CREATE TABLE IF NOT EXISTS events (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (session_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(session_id, from_state_id);
	CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(session_id, to_state_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveGraph replaces everything stored for the session with g. The write is
// a single transaction so readers never see a half-written session.
func (s *Storage) SaveGraph(sessionID string, g *Graph) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"features", "states", "steps", "state_paths", "transitions", "edges", "events"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE session_id = ?", sessionID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	now := formatTime(time.Now())
	if _, err := tx.Exec(`
		INSERT INTO sessions (session_id, root_feature_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			root_feature_id = EXCLUDED.root_feature_id,
			updated_at = EXCLUDED.updated_at
	`, sessionID, g.RootFeatureID, now, now); err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	for _, f := range g.Features {
		subs, _ := json.Marshal(nonNil(f.SubFeatures))
		states, _ := json.Marshal(nonNil(f.States))
		var completed sql.NullString
		if f.CompletedAt != nil {
			completed = sql.NullString{String: formatTime(*f.CompletedAt), Valid: true}
		}
		if _, err := tx.Exec(`
			INSERT INTO features (session_id, feature_id, name, description, parent_id, sub_features, states, entry_state_id, status, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, sessionID, f.FeatureID, f.FeatureName, f.FeatureDescription, f.ParentFeatureID,
			string(subs), string(states), f.EntryStateID, string(f.Status), completed); err != nil {
			return fmt.Errorf("failed to insert feature %s: %w", f.FeatureID, err)
		}
	}

	for _, st := range g.States {
		reachable, _ := json.Marshal(nonNil(st.ReachableStates))
		if _, err := tx.Exec(`
			INSERT INTO states (session_id, state_id, name, activity, discovered_at, reachable)
			VALUES (?, ?, ?, ?, ?, ?)
		`, sessionID, st.StateID, st.StateName, st.ActivityName, formatTime(st.DiscoveredAt), string(reachable)); err != nil {
			return fmt.Errorf("failed to insert state %s: %w", st.StateID, err)
		}

		for i, step := range st.PathFromRoot {
			if err := insertStep(tx, sessionID, step); err != nil {
				return err
			}
			if _, err := tx.Exec(`
				INSERT INTO state_paths (session_id, state_id, position, step_id) VALUES (?, ?, ?, ?)
			`, sessionID, st.StateID, i, step.StepID); err != nil {
				return fmt.Errorf("failed to insert path of %s: %w", st.StateID, err)
			}
		}
	}

	for i, t := range g.StateTransitions {
		if _, err := tx.Exec(`
			INSERT INTO transitions (session_id, seq, from_state_id, to_state_id, step_id) VALUES (?, ?, ?, ?, ?)
		`, sessionID, i, t.FromStateID, t.ToStateID, t.StepID); err != nil {
			return fmt.Errorf("failed to insert transition: %w", err)
		}
		if err := upsertEdge(tx, sessionID, t.FromStateID, t.ToStateID); err != nil {
			return err
		}
	}

	for i, ev := range g.Events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to encode event %d: %w", i, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO events (session_id, seq, payload) VALUES (?, ?, ?)
		`, sessionID, i, string(payload)); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit graph: %w", err)
	}
	return nil
}

// insertStep stores a step once per session; the first occurrence wins
func insertStep(tx *sql.Tx, sessionID string, step PathStep) error {
	actions, _ := json.Marshal(nonNil(step.Actions))
	_, err := tx.Exec(`
		INSERT OR IGNORE INTO steps (session_id, step_id, instruction, actions, from_state_id, to_state_id, from_state_name, to_state_name, success, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionID, step.StepID, step.Instruction, string(actions), step.FromStateID, step.ToStateID,
		step.FromStateName, step.ToStateName, step.Success, formatTime(step.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to insert step %s: %w", step.StepID, err)
	}
	return nil
}

// upsertEdge inserts a new edge or increments weight if it exists
func upsertEdge(tx *sql.Tx, sessionID, fromID, toID string) error {
	_, err := tx.Exec(`
		INSERT INTO edges (session_id, from_state_id, to_state_id, weight)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(session_id, from_state_id, to_state_id) DO UPDATE SET
			weight = weight + 1
	`, sessionID, fromID, toID)
	if err != nil {
		return fmt.Errorf("failed to upsert edge: %w", err)
	}
	return nil
}

// LoadGraph rebuilds the full graph saved for the session
func (s *Storage) LoadGraph(sessionID string) (*Graph, error) {
	g := &Graph{
		Features:         make(map[string]*FeatureNode),
		States:           make(map[string]*PageState),
		StateTransitions: []Transition{},
	}

	err := s.db.QueryRow("SELECT root_feature_id FROM sessions WHERE session_id = ?", sessionID).Scan(&g.RootFeatureID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if err := s.loadFeatures(sessionID, g); err != nil {
		return nil, err
	}
	steps, err := s.loadSteps(sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.loadStates(sessionID, g, steps); err != nil {
		return nil, err
	}
	if err := s.loadTransitions(sessionID, g); err != nil {
		return nil, err
	}
	if err := s.loadEvents(sessionID, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Storage) loadFeatures(sessionID string, g *Graph) error {
	rows, err := s.db.Query(`
		SELECT feature_id, name, description, parent_id, sub_features, states, entry_state_id, status, completed_at
		FROM features WHERE session_id = ?
	`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load features: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f FeatureNode
		var subs, states, status string
		var completed sql.NullString
		if err := rows.Scan(&f.FeatureID, &f.FeatureName, &f.FeatureDescription, &f.ParentFeatureID,
			&subs, &states, &f.EntryStateID, &status, &completed); err != nil {
			return fmt.Errorf("failed to scan feature: %w", err)
		}
		if err := json.Unmarshal([]byte(subs), &f.SubFeatures); err != nil {
			return fmt.Errorf("feature %s sub features: %w", f.FeatureID, err)
		}
		if err := json.Unmarshal([]byte(states), &f.States); err != nil {
			return fmt.Errorf("feature %s states: %w", f.FeatureID, err)
		}
		f.Status = FeatureStatus(status)
		if completed.Valid {
			t, err := parseTime(completed.String)
			if err != nil {
				return fmt.Errorf("feature %s completed_at: %w", f.FeatureID, err)
			}
			f.CompletedAt = &t
		}
		g.Features[f.FeatureID] = &f
	}
	return rows.Err()
}

func (s *Storage) loadSteps(sessionID string) (map[string]PathStep, error) {
	rows, err := s.db.Query(`
		SELECT step_id, instruction, actions, from_state_id, to_state_id, from_state_name, to_state_name, success, timestamp
		FROM steps WHERE session_id = ?
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}
	defer rows.Close()

	steps := make(map[string]PathStep)
	for rows.Next() {
		var step PathStep
		var actions, ts string
		if err := rows.Scan(&step.StepID, &step.Instruction, &actions, &step.FromStateID, &step.ToStateID,
			&step.FromStateName, &step.ToStateName, &step.Success, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if err := json.Unmarshal([]byte(actions), &step.Actions); err != nil {
			return nil, fmt.Errorf("step %s actions: %w", step.StepID, err)
		}
		if step.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("step %s timestamp: %w", step.StepID, err)
		}
		steps[step.StepID] = step
	}
	return steps, rows.Err()
}

func (s *Storage) loadStates(sessionID string, g *Graph, steps map[string]PathStep) error {
	rows, err := s.db.Query(`
		SELECT state_id, name, activity, discovered_at, reachable FROM states WHERE session_id = ?
	`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st PageState
		var discovered, reachable string
		if err := rows.Scan(&st.StateID, &st.StateName, &st.ActivityName, &discovered, &reachable); err != nil {
			return fmt.Errorf("failed to scan state: %w", err)
		}
		if st.DiscoveredAt, err = parseTime(discovered); err != nil {
			return fmt.Errorf("state %s discovered_at: %w", st.StateID, err)
		}
		if err := json.Unmarshal([]byte(reachable), &st.ReachableStates); err != nil {
			return fmt.Errorf("state %s reachable: %w", st.StateID, err)
		}
		st.PathFromRoot = []PathStep{}
		g.States[st.StateID] = &st
	}
	if err := rows.Err(); err != nil {
		return err
	}

	paths, err := s.db.Query(`
		SELECT state_id, step_id FROM state_paths WHERE session_id = ? ORDER BY state_id, position
	`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load state paths: %w", err)
	}
	defer paths.Close()

	for paths.Next() {
		var stateID, stepID string
		if err := paths.Scan(&stateID, &stepID); err != nil {
			return fmt.Errorf("failed to scan state path: %w", err)
		}
		st, ok := g.States[stateID]
		if !ok {
			continue
		}
		if step, ok := steps[stepID]; ok {
			st.PathFromRoot = append(st.PathFromRoot, step)
		}
	}
	return paths.Err()
}

func (s *Storage) loadTransitions(sessionID string, g *Graph) error {
	rows, err := s.db.Query(`
		SELECT from_state_id, to_state_id, step_id FROM transitions WHERE session_id = ? ORDER BY seq
	`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load transitions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t Transition
		if err := rows.Scan(&t.FromStateID, &t.ToStateID, &t.StepID); err != nil {
			return fmt.Errorf("failed to scan transition: %w", err)
		}
		g.StateTransitions = append(g.StateTransitions, t)
	}
	return rows.Err()
}

// loadEvents leaves g.Events nil when the session recorded none
func (s *Storage) loadEvents(sessionID string, g *Graph) error {
	rows, err := s.db.Query(`
		SELECT payload FROM events WHERE session_id = ? ORDER BY seq
	`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("failed to scan event: %w", err)
		}
		var ev UpdateEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
		g.Events = append(g.Events, ev)
	}
	return rows.Err()
}

// EdgeWeight returns how many times the session moved from one state to another
func (s *Storage) EdgeWeight(sessionID, fromID, toID string) (int, error) {
	var weight int
	err := s.db.QueryRow(`
		SELECT weight FROM edges WHERE session_id = ? AND from_state_id = ? AND to_state_id = ?
	`, sessionID, fromID, toID).Scan(&weight)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get edge weight: %w", err)
	}
	return weight, nil
}

// LatestSession returns the most recently saved session id, or "" if none
func (s *Storage) LatestSession() (string, error) {
	var id string
	err := s.db.QueryRow("SELECT session_id FROM sessions ORDER BY updated_at DESC LIMIT 1").Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get latest session: %w", err)
	}
	return id, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
