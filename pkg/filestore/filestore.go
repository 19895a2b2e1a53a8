// Package filestore persists workflows and runs as JSON documents on the
// local filesystem. One file per workflow, one per run, plus a JSON-lines
// progress log per run. Good for a single-node deployment; the Store
// interface leaves room for a database-backed implementation.
package filestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/flowplane/flowplane"
	"github.com/pkg/errors"
)

// Store implements flowplane.Store on a data directory:
//
//	<dir>/workflows/<id>.json
//	<dir>/runs/<id>.json
//	<dir>/runs/<id>.progress.jsonl
type Store struct {
	dir string
	mu  sync.RWMutex
}

var _ flowplane.Store = (*Store)(nil)

const defaultRunLimit = 50

// New opens (creating if needed) a filestore rooted at dir.
func New(dir string) (*Store, error) {
	for _, sub := range []string{"workflows", "runs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating %s directory", sub)
		}
	}
	return &Store{dir: dir}, nil
}

func (s *Store) workflowPath(id string) string {
	return filepath.Join(s.dir, "workflows", id+".json")
}

func (s *Store) runPath(id string) string {
	return filepath.Join(s.dir, "runs", id+".json")
}

func (s *Store) progressPath(runID string) string {
	return filepath.Join(s.dir, "runs", runID+".progress.jsonl")
}

func (s *Store) SaveWorkflow(w *flowplane.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.workflowPath(w.ID), w)
}

func (s *Store) Workflow(id string) (*flowplane.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var w flowplane.Workflow
	if err := readJSON(s.workflowPath(id), &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) Workflows() ([]*flowplane.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths, err := filepath.Glob(filepath.Join(s.dir, "workflows", "*.json"))
	if err != nil {
		return nil, errors.Wrap(err, "listing workflows")
	}
	out := make([]*flowplane.Workflow, 0, len(paths))
	for _, p := range paths {
		var w flowplane.Workflow
		if err := readJSON(p, &w); err != nil {
			return nil, err
		}
		out = append(out, &w)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *Store) DeleteWorkflow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.workflowPath(id))
	if os.IsNotExist(err) {
		return errors.Wrapf(flowplane.ErrNotFound, "workflow %s", id)
	}
	return err
}

func (s *Store) SaveRun(r *flowplane.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.runPath(r.ID), r)
}

func (s *Store) Run(id string) (*flowplane.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var r flowplane.Run
	if err := readJSON(s.runPath(id), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) Runs(f flowplane.RunFilter) ([]*flowplane.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths, err := filepath.Glob(filepath.Join(s.dir, "runs", "*.json"))
	if err != nil {
		return nil, errors.Wrap(err, "listing runs")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultRunLimit
	}

	var out []*flowplane.Run
	for _, p := range paths {
		var r flowplane.Run
		if err := readJSON(p, &r); err != nil {
			return nil, err
		}
		if f.WorkflowID != "" && r.WorkflowID != f.WorkflowID {
			continue
		}
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AppendProgress(runID string, ev flowplane.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.progressPath(runID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "opening progress log for run %s", runID)
	}
	defer f.Close()

	line, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encoding progress event")
	}
	_, err = f.Write(append(line, '\n'))
	return errors.Wrapf(err, "appending progress for run %s", runID)
}

// Progress replays a run's persisted progress log in order.
func (s *Store) Progress(runID string) ([]flowplane.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.progressPath(runID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading progress log for run %s", runID)
	}

	var out []flowplane.Event
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var ev flowplane.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, errors.Wrap(err, "decoding progress event")
		}
		out = append(out, ev)
	}
	return out, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encoding %s", filepath.Base(path))
	}
	// write-then-rename so a crash mid-write never corrupts the document.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", filepath.Base(path))
	}
	return errors.Wrapf(os.Rename(tmp, path), "replacing %s", filepath.Base(path))
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return errors.Wrapf(flowplane.ErrNotFound, "%s", strings.TrimSuffix(filepath.Base(path), ".json"))
	}
	if err != nil {
		return errors.Wrapf(err, "reading %s", filepath.Base(path))
	}
	return errors.Wrapf(json.Unmarshal(data, v), "decoding %s", filepath.Base(path))
}
