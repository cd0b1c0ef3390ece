package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/who96/DAOKit/internal/contract"
)

// TableStore persists the ledger in a SQL database, selected by driver name
// ("sqlite" or "mysql", matching DAOKIT_STORE_DRIVER). Schema is modeled directly
// on the teacher's workflow_steps/workflow_checkpoints_v2/idempotency_keys/
// events_outbox tables, renamed to DAOKit's five record families, using the
// same INSERT ... ON CONFLICT DO UPDATE upsert idiom for the mutable blobs
// and transactional append for events.
type TableStore struct {
	db     *sql.DB
	driver string
	mu     sync.RWMutex
}

// NewTableStore opens (and migrates) a TableStore. driver is "sqlite" or
// "mysql"; dsn is the driver-specific connection string (a file path or
// ":memory:" for sqlite).
func NewTableStore(ctx context.Context, driver, dsn string) (*TableStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}

	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: enable WAL: %w", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: set busy_timeout: %w", err)
		}
	}

	ts := &TableStore{db: db, driver: driver}
	if err := ts.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create tables: %w", err)
	}
	return ts, nil
}

func (ts *TableStore) Close() error {
	return ts.db.Close()
}

func (ts *TableStore) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS pipeline_states (
			task_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			data TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY(task_id, run_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_events (
			task_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			event_id INTEGER NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY(task_id, run_id, event_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_events_run ON ledger_events(task_id, run_id)`,
		`CREATE TABLE IF NOT EXISTS process_leases (
			task_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY(task_id, run_id, step_id)
		)`,
		`CREATE TABLE IF NOT EXISTS heartbeat_statuses (
			task_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY(task_id, run_id)
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			checkpoint_id TEXT NOT NULL PRIMARY KEY,
			task_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_run ON checkpoints(task_id, run_id)`,
	}
	for _, stmt := range statements {
		if _, err := ts.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

func (ts *TableStore) SavePipelineState(ctx context.Context, state contract.PipelineState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	var query string
	if ts.driver == "mysql" {
		query = `INSERT INTO pipeline_states (task_id, run_id, data, updated_at) VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE data = VALUES(data), updated_at = VALUES(updated_at)`
	} else {
		query = `INSERT INTO pipeline_states (task_id, run_id, data, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(task_id, run_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`
	}
	_, err = ts.db.ExecContext(ctx, query, state.TaskID, state.RunID, string(data), state.UpdatedAt)
	return err
}

func (ts *TableStore) LoadPipelineState(ctx context.Context, taskID, runID string) (contract.PipelineState, error) {
	var data string
	err := ts.db.QueryRowContext(ctx, `SELECT data FROM pipeline_states WHERE task_id = ? AND run_id = ?`, taskID, runID).Scan(&data)
	if err == sql.ErrNoRows {
		return contract.PipelineState{}, ErrNotFound
	}
	if err != nil {
		return contract.PipelineState{}, err
	}
	var state contract.PipelineState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return contract.PipelineState{}, err
	}
	return state, nil
}

func (ts *TableStore) LastEventID(ctx context.Context, taskID, runID string) (int64, error) {
	var max sql.NullInt64
	err := ts.db.QueryRowContext(ctx, `SELECT MAX(event_id) FROM ledger_events WHERE task_id = ? AND run_id = ?`, taskID, runID).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max.Int64, nil
}

// AppendEvents assigns event_ids transactionally: the next value is read
// and incremented inside the same transaction as the inserts, so concurrent
// appenders never observe or assign the same event_id twice.
func (ts *TableStore) AppendEvents(ctx context.Context, events []contract.EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	taskID, runID := events[0].TaskID, events[0].RunID

	tx, err := ts.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var max sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(event_id) FROM ledger_events WHERE task_id = ? AND run_id = ?`, taskID, runID).Scan(&max); err != nil {
		return err
	}
	next := max.Int64

	for _, e := range events {
		if e.TaskID != taskID || e.RunID != runID {
			return fmt.Errorf("store: AppendEvents called with mixed run identities")
		}
		if e.EventID == 0 {
			next++
			e.EventID = next
		} else if e.EventID > next {
			next = e.EventID
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_events (task_id, run_id, event_id, data) VALUES (?, ?, ?, ?)`,
			taskID, runID, e.EventID, string(data)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (ts *TableStore) ListEvents(ctx context.Context, taskID, runID string, limit int) ([]contract.EventRecord, error) {
	query := `SELECT data FROM ledger_events WHERE task_id = ? AND run_id = ? ORDER BY event_id ASC`
	rows, err := ts.db.QueryContext(ctx, query, taskID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []contract.EventRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var e contract.EventRecord
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

func (ts *TableStore) SaveLease(ctx context.Context, lease contract.ProcessLease) error {
	data, err := json.Marshal(lease)
	if err != nil {
		return err
	}
	var query string
	if ts.driver == "mysql" {
		query = `INSERT INTO process_leases (task_id, run_id, step_id, data) VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE data = VALUES(data)`
	} else {
		query = `INSERT INTO process_leases (task_id, run_id, step_id, data) VALUES (?, ?, ?, ?)
			ON CONFLICT(task_id, run_id, step_id) DO UPDATE SET data = excluded.data`
	}
	_, err = ts.db.ExecContext(ctx, query, lease.TaskID, lease.RunID, lease.StepID, string(data))
	return err
}

func (ts *TableStore) LoadLease(ctx context.Context, taskID, runID, stepID string) (contract.ProcessLease, error) {
	var data string
	err := ts.db.QueryRowContext(ctx,
		`SELECT data FROM process_leases WHERE task_id = ? AND run_id = ? AND step_id = ?`,
		taskID, runID, stepID).Scan(&data)
	if err == sql.ErrNoRows {
		return contract.ProcessLease{}, ErrNotFound
	}
	if err != nil {
		return contract.ProcessLease{}, err
	}
	var lease contract.ProcessLease
	if err := json.Unmarshal([]byte(data), &lease); err != nil {
		return contract.ProcessLease{}, err
	}
	return lease, nil
}

func (ts *TableStore) ListLeases(ctx context.Context, taskID, runID string) ([]contract.ProcessLease, error) {
	rows, err := ts.db.QueryContext(ctx, `SELECT data FROM process_leases WHERE task_id = ? AND run_id = ?`, taskID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leases []contract.ProcessLease
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var lease contract.ProcessLease
		if err := json.Unmarshal([]byte(data), &lease); err != nil {
			return nil, err
		}
		leases = append(leases, lease)
	}
	return leases, rows.Err()
}

func (ts *TableStore) SaveHeartbeat(ctx context.Context, taskID, runID string, status contract.HeartbeatStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	var query string
	if ts.driver == "mysql" {
		query = `INSERT INTO heartbeat_statuses (task_id, run_id, data) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE data = VALUES(data)`
	} else {
		query = `INSERT INTO heartbeat_statuses (task_id, run_id, data) VALUES (?, ?, ?)
			ON CONFLICT(task_id, run_id) DO UPDATE SET data = excluded.data`
	}
	_, err = ts.db.ExecContext(ctx, query, taskID, runID, string(data))
	return err
}

func (ts *TableStore) LoadHeartbeat(ctx context.Context, taskID, runID string) (contract.HeartbeatStatus, error) {
	var data string
	err := ts.db.QueryRowContext(ctx, `SELECT data FROM heartbeat_statuses WHERE task_id = ? AND run_id = ?`, taskID, runID).Scan(&data)
	if err == sql.ErrNoRows {
		return contract.HeartbeatStatus{}, ErrNotFound
	}
	if err != nil {
		return contract.HeartbeatStatus{}, err
	}
	var status contract.HeartbeatStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return contract.HeartbeatStatus{}, err
	}
	return status, nil
}

func (ts *TableStore) SaveCheckpoint(ctx context.Context, taskID, runID string, cp contract.CheckpointRecord) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	var query string
	if ts.driver == "mysql" {
		query = `INSERT INTO checkpoints (checkpoint_id, task_id, run_id, data, created_at) VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE data = VALUES(data)`
	} else {
		query = `INSERT INTO checkpoints (checkpoint_id, task_id, run_id, data, created_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(checkpoint_id) DO UPDATE SET data = excluded.data`
	}
	_, err = ts.db.ExecContext(ctx, query, cp.CheckpointID, taskID, runID, string(data), cp.CreatedAt)
	return err
}

func (ts *TableStore) ListCheckpoints(ctx context.Context, taskID, runID string) ([]contract.CheckpointRecord, error) {
	rows, err := ts.db.QueryContext(ctx,
		`SELECT data FROM checkpoints WHERE task_id = ? AND run_id = ? ORDER BY created_at DESC`, taskID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkpoints []contract.CheckpointRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var cp contract.CheckpointRecord
		if err := json.Unmarshal([]byte(data), &cp); err != nil {
			// A row whose stored JSON no longer parses is flagged rather
			// than failing the whole list: see ledger.Ledger.LatestCheckpoint.
			checkpoints = append(checkpoints, contract.CheckpointRecord{SchemaVersion: contract.SchemaVersion, Valid: false})
			continue
		}
		if err := cp.Validate(); err != nil {
			cp.Valid = false
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}

var _ Store = (*TableStore)(nil)
