package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/who96/DAOKit/internal/contract"
)

// FileStore persists the ledger as a tree of JSON files and a JSONL
// journal, rooted at Root, laid out exactly as spec §6 freezes it:
//
//	<root>/<task_id>/<run_id>/state/pipeline_state.json
//	<root>/<task_id>/<run_id>/state/events.jsonl
//	<root>/<task_id>/<run_id>/state/process_leases.json
//	<root>/<task_id>/<run_id>/state/heartbeat_status.json
//	<root>/<task_id>/<run_id>/checkpoints/<checkpoint_id>.json
//
// In-process access is serialized per run by a mutex keyed on
// (task_id, run_id); cross-process coordination is the lease registry's
// job, not FileStore's (spec §5: "no in-memory lock substitutes for a
// lease").
type FileStore struct {
	root string

	mu     sync.Mutex
	runMus map[string]*sync.Mutex
}

// NewFileStore creates a FileStore rooted at root. The directory tree is
// created lazily on first write.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root, runMus: make(map[string]*sync.Mutex)}
}

func (fs *FileStore) runLock(taskID, runID string) *sync.Mutex {
	key := taskID + "/" + runID
	fs.mu.Lock()
	defer fs.mu.Unlock()
	m, ok := fs.runMus[key]
	if !ok {
		m = &sync.Mutex{}
		fs.runMus[key] = m
	}
	return m
}

func (fs *FileStore) stateDir(taskID, runID string) string {
	return filepath.Join(fs.root, taskID, runID, "state")
}

func (fs *FileStore) checkpointDir(taskID, runID string) string {
	return filepath.Join(fs.root, taskID, runID, "checkpoints")
}

func (fs *FileStore) SavePipelineState(ctx context.Context, state contract.PipelineState) error {
	lock := fs.runLock(state.TaskID, state.RunID)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(fs.stateDir(state.TaskID, state.RunID), "pipeline_state.json"), data)
}

func (fs *FileStore) LoadPipelineState(ctx context.Context, taskID, runID string) (contract.PipelineState, error) {
	lock := fs.runLock(taskID, runID)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(fs.stateDir(taskID, runID), "pipeline_state.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return contract.PipelineState{}, ErrNotFound
	}
	if err != nil {
		return contract.PipelineState{}, err
	}
	var state contract.PipelineState
	if err := json.Unmarshal(data, &state); err != nil {
		return contract.PipelineState{}, err
	}
	return state, nil
}

func (fs *FileStore) LastEventID(ctx context.Context, taskID, runID string) (int64, error) {
	events, err := fs.ListEvents(ctx, taskID, runID, 0)
	if err != nil {
		return 0, err
	}
	var max int64
	for _, e := range events {
		if e.EventID > max {
			max = e.EventID
		}
	}
	return max, nil
}

func (fs *FileStore) AppendEvents(ctx context.Context, events []contract.EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	taskID, runID := events[0].TaskID, events[0].RunID
	next, err := fs.LastEventID(ctx, taskID, runID)
	if err != nil {
		return err
	}
	lock := fs.runLock(taskID, runID)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(fs.stateDir(taskID, runID), "events.jsonl")
	var buf []byte
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
		line, err := json.Marshal(e)
		if err != nil {
			return err
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return appendFsync(path, buf)
}

func (fs *FileStore) ListEvents(ctx context.Context, taskID, runID string, limit int) ([]contract.EventRecord, error) {
	lock := fs.runLock(taskID, runID)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(fs.stateDir(taskID, runID), "events.jsonl")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []contract.EventRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var e contract.EventRecord
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

func (fs *FileStore) SaveLease(ctx context.Context, lease contract.ProcessLease) error {
	lock := fs.runLock(lease.TaskID, lease.RunID)
	lock.Lock()
	defer lock.Unlock()

	leases, err := fs.loadLeasesLocked(lease.TaskID, lease.RunID)
	if err != nil {
		return err
	}
	replaced := false
	for i, l := range leases {
		if l.StepID == lease.StepID {
			leases[i] = lease
			replaced = true
			break
		}
	}
	if !replaced {
		leases = append(leases, lease)
	}
	return fs.writeLeasesLocked(lease.TaskID, lease.RunID, leases)
}

func (fs *FileStore) LoadLease(ctx context.Context, taskID, runID, stepID string) (contract.ProcessLease, error) {
	lock := fs.runLock(taskID, runID)
	lock.Lock()
	defer lock.Unlock()

	leases, err := fs.loadLeasesLocked(taskID, runID)
	if err != nil {
		return contract.ProcessLease{}, err
	}
	for _, l := range leases {
		if l.StepID == stepID {
			return l, nil
		}
	}
	return contract.ProcessLease{}, ErrNotFound
}

func (fs *FileStore) ListLeases(ctx context.Context, taskID, runID string) ([]contract.ProcessLease, error) {
	lock := fs.runLock(taskID, runID)
	lock.Lock()
	defer lock.Unlock()
	return fs.loadLeasesLocked(taskID, runID)
}

func (fs *FileStore) loadLeasesLocked(taskID, runID string) ([]contract.ProcessLease, error) {
	path := filepath.Join(fs.stateDir(taskID, runID), "process_leases.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var leases []contract.ProcessLease
	if err := json.Unmarshal(data, &leases); err != nil {
		return nil, err
	}
	return leases, nil
}

func (fs *FileStore) writeLeasesLocked(taskID, runID string, leases []contract.ProcessLease) error {
	data, err := json.MarshalIndent(leases, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(fs.stateDir(taskID, runID), "process_leases.json"), data)
}

func (fs *FileStore) SaveHeartbeat(ctx context.Context, taskID, runID string, status contract.HeartbeatStatus) error {
	lock := fs.runLock(taskID, runID)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(fs.stateDir(taskID, runID), "heartbeat_status.json"), data)
}

func (fs *FileStore) LoadHeartbeat(ctx context.Context, taskID, runID string) (contract.HeartbeatStatus, error) {
	lock := fs.runLock(taskID, runID)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(fs.stateDir(taskID, runID), "heartbeat_status.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return contract.HeartbeatStatus{}, ErrNotFound
	}
	if err != nil {
		return contract.HeartbeatStatus{}, err
	}
	var status contract.HeartbeatStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return contract.HeartbeatStatus{}, err
	}
	return status, nil
}

func (fs *FileStore) SaveCheckpoint(ctx context.Context, taskID, runID string, cp contract.CheckpointRecord) error {
	lock := fs.runLock(taskID, runID)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(fs.checkpointDir(taskID, runID), cp.CheckpointID+".json")
	return writeAtomic(path, data)
}

func (fs *FileStore) ListCheckpoints(ctx context.Context, taskID, runID string) ([]contract.CheckpointRecord, error) {
	lock := fs.runLock(taskID, runID)
	lock.Lock()
	defer lock.Unlock()

	dir := fs.checkpointDir(taskID, runID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var checkpoints []contract.CheckpointRecord
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		var cp contract.CheckpointRecord
		if err := json.Unmarshal(data, &cp); err != nil {
			// Truncated or tampered checkpoint file. Flagged and skipped by
			// resume rather than failing the whole run: see
			// ledger.Ledger.LatestCheckpoint.
			checkpoints = append(checkpoints, corruptCheckpoint(entry.Name()))
			continue
		}
		if err := cp.Validate(); err != nil {
			cp.Valid = false
		}
		checkpoints = append(checkpoints, cp)
	}
	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].CreatedAt.After(checkpoints[j].CreatedAt)
	})
	return checkpoints, nil
}

// corruptCheckpoint stands in for a checkpoint file whose JSON failed to
// parse. name is the file's basename, the only identifying information a
// truncated or tampered record leaves behind.
func corruptCheckpoint(name string) contract.CheckpointRecord {
	return contract.CheckpointRecord{
		SchemaVersion: contract.SchemaVersion,
		CheckpointID:  strings.TrimSuffix(name, ".json"),
		Valid:         false,
	}
}

var _ Store = (*FileStore)(nil)
