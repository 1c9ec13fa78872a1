// Package store persists the durable records of the delegation core
// in SQLite: work items, task results, audit records, worker health,
// and the event stream. The schema is append-mostly - audit records
// and events are never updated in place; work items and health rows
// are updated by exactly one owner.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"hivecore/internal/events"
	"hivecore/internal/logging"
	"hivecore/internal/types"
)

// Store owns the SQLite database.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// Open initializes the database at the given path (":memory:" for
// ephemeral use).
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// table-lock errors under concurrent appends.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("Store opened at %s", path)
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS work_items (
		id TEXT PRIMARY KEY,
		parent_id TEXT,
		description TEXT NOT NULL,
		task_type TEXT,
		tier TEXT,
		priority TEXT,
		timeout_ms INTEGER,
		resource TEXT,
		state TEXT NOT NULL,
		created_at DATETIME,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_work_items_parent ON work_items(parent_id);

	CREATE TABLE IF NOT EXISTS task_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		work_item_id TEXT NOT NULL,
		worker_id TEXT,
		status TEXT NOT NULL,
		output TEXT,
		artifacts TEXT,
		error_message TEXT,
		completed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_task_results_item ON task_results(work_item_id);

	CREATE TABLE IF NOT EXISTS audit_records (
		id TEXT PRIMARY KEY,
		work_item_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		passed INTEGER NOT NULL,
		notes TEXT,
		created_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_audit_records_item ON audit_records(work_item_id);

	CREATE TABLE IF NOT EXISTS health_status (
		worker_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		consecutive_failures INTEGER NOT NULL,
		last_checked_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS event_log (
		sequence_number INTEGER PRIMARY KEY,
		type TEXT NOT NULL,
		timestamp DATETIME,
		payload TEXT
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// SaveWorkItem upserts a work item with its current state.
func (s *Store) SaveWorkItem(item types.WorkItem, state types.WorkItemState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO work_items (id, parent_id, description, task_type, tier, priority, timeout_ms, resource, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		item.ID, item.ParentID, item.Description, item.TaskType, string(item.Tier),
		string(item.Priority), item.TimeoutMs, item.Resource, string(state),
		item.CreatedAt, time.Now())
	return err
}

// WorkItemState reads the persisted state for a work item.
func (s *Store) WorkItemState(workItemID string) (types.WorkItemState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var state string
	err := s.db.QueryRow(`SELECT state FROM work_items WHERE id = ?`, workItemID).Scan(&state)
	if err != nil {
		return "", err
	}
	return types.WorkItemState(state), nil
}

// AppendTaskResult appends one dispatch attempt's result.
func (s *Store) AppendTaskResult(res types.TaskResult) error {
	artifacts, err := json.Marshal(res.Artifacts)
	if err != nil {
		return fmt.Errorf("failed to encode artifacts: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`
		INSERT INTO task_results (work_item_id, worker_id, status, output, artifacts, error_message, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.WorkItemID, res.WorkerID, string(res.Status), res.Output,
		string(artifacts), res.ErrorMessage, res.CompletedAt)
	return err
}

// AppendAuditRecord appends to the append-only audit trail.
func (s *Store) AppendAuditRecord(rec types.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO audit_records (id, work_item_id, stage, attempt, passed, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.WorkItemID, string(rec.Stage), rec.Attempt,
		boolToInt(rec.Passed), rec.Notes, rec.CreatedAt)
	return err
}

// AuditTrail returns the full trail for a work item in append order.
func (s *Store) AuditTrail(workItemID string) ([]types.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`
		SELECT id, work_item_id, stage, attempt, passed, notes, created_at
		FROM audit_records WHERE work_item_id = ? ORDER BY rowid`, workItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trail []types.AuditRecord
	for rows.Next() {
		var rec types.AuditRecord
		var stage string
		var passed int
		if err := rows.Scan(&rec.ID, &rec.WorkItemID, &stage, &rec.Attempt, &passed, &rec.Notes, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Stage = types.AuditStage(stage)
		rec.Passed = passed != 0
		trail = append(trail, rec)
	}
	return trail, rows.Err()
}

// UpsertHealth persists a worker health snapshot.
func (s *Store) UpsertHealth(h types.HealthStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO health_status (worker_id, state, consecutive_failures, last_checked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(worker_id) DO UPDATE SET
			state = excluded.state,
			consecutive_failures = excluded.consecutive_failures,
			last_checked_at = excluded.last_checked_at`,
		h.WorkerID, string(h.State), h.ConsecutiveFailures, h.LastCheckedAt)
	return err
}

// Health reads a persisted health snapshot.
func (s *Store) Health(workerID string) (types.HealthStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var h types.HealthStatus
	var state string
	err := s.db.QueryRow(`
		SELECT worker_id, state, consecutive_failures, last_checked_at
		FROM health_status WHERE worker_id = ?`, workerID).
		Scan(&h.WorkerID, &state, &h.ConsecutiveFailures, &h.LastCheckedAt)
	if err != nil {
		return types.HealthStatus{}, err
	}
	h.State = types.HealthState(state)
	return h, nil
}

// AppendEvent appends one envelope to the durable event log.
func (s *Store) AppendEvent(env types.EventEnvelope) error {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`
		INSERT INTO event_log (sequence_number, type, timestamp, payload)
		VALUES (?, ?, ?, ?)`,
		env.SequenceNumber, env.Type, env.Timestamp, string(payload))
	return err
}

// EventCount returns the number of persisted envelopes.
func (s *Store) EventCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM event_log`).Scan(&n)
	return n, err
}

// AttachTrail subscribes the store to every bus event in synchronous
// mode, so the durable log observes envelopes in exact sequence order.
func (s *Store) AttachTrail(bus *events.Bus) *events.Subscription {
	return bus.SubscribeSync(events.TypeWildcard, func(env types.EventEnvelope) {
		if err := s.AppendEvent(env); err != nil {
			logging.Store("Failed to persist event seq=%d: %v", env.SequenceNumber, err)
		}
	})
}

// Close closes the database.
func (s *Store) Close() error {
	logging.StoreDebug("Closing store at %s", s.dbPath)
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
