package flowplane

import (
	"time"

	"github.com/flowplane/flowplane/pkg/runner"
	"github.com/flowplane/flowplane/pkg/template"
)

// RunStatus is the state of a run in its lifecycle:
//
//	created → running → (waiting_approval ⇄ running) → complete | failed | cancelled
type RunStatus string

const (
	RunCreated         RunStatus = "created"
	RunRunning         RunStatus = "running"
	RunWaitingApproval RunStatus = "waiting_approval"
	RunComplete        RunStatus = "complete"
	RunFailed          RunStatus = "failed"
	RunCancelled       RunStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal runs are never
// mutated again.
func (s RunStatus) Terminal() bool {
	return s == RunComplete || s == RunFailed || s == RunCancelled
}

// StepResult records the outcome of one executed step.
type StepResult struct {
	StepID string `json:"step_id"`
	Action string `json:"action,omitempty"`
	Label  string `json:"label,omitempty"`
	Status runner.Status `json:"status"`
	// OutputPreview is the first 500 characters of the step output; the
	// full output lives in the run context for parameter forwarding.
	OutputPreview string `json:"output_preview,omitempty"`
	DurationMS    int64  `json:"duration_ms"`
	Target        string `json:"target,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Run is one execution instance of a workflow's canonical steps. It is
// created at invocation time, mutated only by the coordinator, and
// immutable once terminal. It outlives the graph it was compiled from.
type Run struct {
	ID           string    `json:"id"`
	WorkflowID   string    `json:"workflow_id"`
	WorkflowName string    `json:"workflow_name,omitempty"`
	Status       RunStatus `json:"status"`

	// CurrentStep is the 1-based position in the canonical order of the
	// step currently (or most recently) being handled.
	CurrentStep int `json:"current_step"`
	TotalSteps  int `json:"total_steps"`
	// WaitingNode is the graph node id the run paused at, set while the
	// status is waiting_approval.
	WaitingNode string `json:"waiting_node,omitempty"`

	StepResults []StepResult      `json:"step_results"`
	ChainParams map[string]any    `json:"chain_params,omitempty"`
	Context     *template.Context `json:"context"`

	// Outcome is the terminal class reached (allow, deny, ...) when the
	// run ended at a terminal node.
	Outcome string `json:"outcome,omitempty"`
	// Reason records why a run failed or was rejected.
	Reason string `json:"reason,omitempty"`

	// ParentRunID links a child run executed for a macro step.
	ParentRunID string `json:"parent_run_id,omitempty"`

	// EventSeq is the sequence number of the last progress event, so that
	// ordering survives pause/resume across process restarts.
	EventSeq int `json:"event_seq,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// EventKind classifies run progress events.
type EventKind string

const (
	EventRunStarted   EventKind = "run_started"
	EventStepStarted  EventKind = "step_started"
	EventStepProgress EventKind = "step_progress"
	EventStepFinished EventKind = "step_finished"
	EventRunPaused    EventKind = "run_paused"
	EventRunFinished  EventKind = "run_finished"
)

// Event is one ordered progress update for a run. Within a run, event N
// for step K is never delivered after any event for step K+1.
type Event struct {
	RunID  string    `json:"run_id"`
	StepID string    `json:"step_id,omitempty"`
	Kind   EventKind `json:"kind"`
	Data   string    `json:"data,omitempty"`
	Status string    `json:"status,omitempty"`
	Seq    int       `json:"seq"`
	At     time.Time `json:"at"`
}

// Observer receives run events as they happen. Calls are synchronous and
// ordered; implementations must not block.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(ev Event) { f(ev) }
