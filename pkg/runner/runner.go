// Package runner defines the boundary to the external action runner: the
// collaborator that actually executes an action against a remote target
// (shell session, HTTP API, hypervisor API). The coordinator dispatches one
// step at a time through this interface and forwards its progress events
// verbatim.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

type Status string

const (
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

type ProgressKind string

const (
	ProgressStarted  ProgressKind = "step_started"
	ProgressData     ProgressKind = "progress"
	ProgressFinished ProgressKind = "step_finished"
)

// ProgressEvent is one incremental update emitted while a step executes.
type ProgressEvent struct {
	Kind   ProgressKind `json:"kind"`
	Data   string       `json:"data,omitempty"`
	Status Status       `json:"status,omitempty"`
}

// Sink receives progress events in order.
type Sink func(ProgressEvent)

// Request describes one step dispatch.
type Request struct {
	Action     string            `json:"action"`
	Target     string            `json:"target"`
	Parameters map[string]string `json:"parameters"`
	Timeout    time.Duration     `json:"-"`
	// OnProgress, when set, receives incremental events for this dispatch.
	OnProgress Sink `json:"-"`
}

// Result is the outcome of one step dispatch. A failed action is a Result
// with StatusFailed, not an error; errors mean the runner itself was
// unreachable or misbehaved.
type Result struct {
	Status Status `json:"status"`
	Output string `json:"output"`
	// Structured is set when the runner returned machine-readable output.
	Structured map[string]any `json:"structured_output,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

type Runner interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// HTTPRunner dispatches steps to a remote executor over HTTP.
type HTTPRunner struct {
	client *resty.Client
}

// NewHTTPRunner creates a runner posting to baseURL/execute.
func NewHTTPRunner(baseURL string) *HTTPRunner {
	return &HTTPRunner{
		client: resty.New().SetBaseURL(baseURL),
	}
}

type executePayload struct {
	Action         string            `json:"action"`
	Target         string            `json:"target"`
	Parameters     map[string]string `json:"parameters"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

func (r *HTTPRunner) Execute(ctx context.Context, req Request) (*Result, error) {
	emit(req.OnProgress, ProgressEvent{Kind: ProgressStarted})

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var result Result
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(executePayload{
			Action:         req.Action,
			Target:         req.Target,
			Parameters:     req.Parameters,
			TimeoutSeconds: int(req.Timeout / time.Second),
		}).
		SetResult(&result).
		Post("/execute")
	if err != nil {
		return nil, errors.Wrapf(err, "dispatching %s to action runner", req.Action)
	}
	if !resp.IsSuccess() {
		return nil, errors.Errorf("action runner returned HTTP %d: %s", resp.StatusCode(), resp.String())
	}

	emit(req.OnProgress, ProgressEvent{Kind: ProgressFinished, Status: result.Status})
	return &result, nil
}

// DryRunner reports every dispatch as complete without side effects. Used
// by the CLI to rehearse a workflow before pointing it at a live runner.
type DryRunner struct{}

func (DryRunner) Execute(ctx context.Context, req Request) (*Result, error) {
	emit(req.OnProgress, ProgressEvent{Kind: ProgressStarted})
	out := fmt.Sprintf("[dry-run] %s on %s", req.Action, req.Target)
	emit(req.OnProgress, ProgressEvent{Kind: ProgressData, Data: out})
	emit(req.OnProgress, ProgressEvent{Kind: ProgressFinished, Status: StatusComplete})
	return &Result{Status: StatusComplete, Output: out}, nil
}

func emit(sink Sink, ev ProgressEvent) {
	if sink != nil {
		sink(ev)
	}
}
