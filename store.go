package flowplane

import "github.com/pkg/errors"

// ErrNotFound is returned by stores when a workflow or run does not exist.
var ErrNotFound = errors.New("not found")

// RunFilter narrows Runs listings.
type RunFilter struct {
	// WorkflowID restricts results to runs of one workflow.
	WorkflowID string
	// Limit caps the number of runs returned, newest first. Zero means
	// the store's default (50).
	Limit int
}

// Store is the persistence collaborator. The coordinator persists run
// state through it on every transition, so a resume signal arriving after
// a process restart still finds the run.
type Store interface {
	SaveWorkflow(w *Workflow) error
	Workflow(id string) (*Workflow, error)
	Workflows() ([]*Workflow, error)
	DeleteWorkflow(id string) error

	SaveRun(r *Run) error
	Run(id string) (*Run, error)
	Runs(f RunFilter) ([]*Run, error)

	// AppendProgress records one run event for later inspection.
	AppendProgress(runID string, ev Event) error
}
