package flowplane

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/common-fate/clio"
	"github.com/flowplane/flowplane/pkg/condition"
	"github.com/flowplane/flowplane/pkg/node"
	"github.com/flowplane/flowplane/pkg/runner"
	"github.com/flowplane/flowplane/pkg/step"
	"github.com/flowplane/flowplane/pkg/template"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// DefaultStepTimeout bounds a single step dispatch.
const DefaultStepTimeout = 2 * time.Minute

// DefaultMaxDepth bounds macro nesting, so a workflow referencing itself
// cannot recurse without limit.
const DefaultMaxDepth = 10

// ErrConflict is returned when a resume signal arrives for a run that is
// not waiting for approval.
var ErrConflict = errors.New("conflict")

// outputPreviewLen caps the step output excerpt kept on the run record.
// The full output stays in the run context for parameter forwarding.
const outputPreviewLen = 500

// Coordinator owns run lifecycles. One coordinator drives one run at a
// time per call; distinct runs may execute concurrently because they share
// no mutable state beyond the read-only step lists.
//
// The coordinator walks the workflow's graph rather than the flattened
// step list, so a branch's evaluated result selects a real successor node.
// The canonical order still numbers CurrentStep.
type Coordinator struct {
	Store  Store
	Runner runner.Runner
	// Observer, when set, receives ordered progress events.
	Observer Observer
	// Webhooks posts webhook-class terminal notifications. A default
	// client is created when nil.
	Webhooks    *resty.Client
	StepTimeout time.Duration
	// MaxDepth bounds macro nesting. Defaults to DefaultMaxDepth.
	MaxDepth int
}

// StartOptions configure a run invocation.
type StartOptions struct {
	// Params are the caller-supplied chain parameters, validated against
	// the workflow's declarations.
	Params map[string]any
	// Injected are externally supplied context values (flattened
	// configuration, alert payload fields). They merge into the chain
	// layer as defaults.
	Injected map[string]any
	// AutoApprove skips approval-gate pauses. Used for webhook-triggered
	// invocations and macro child runs.
	AutoApprove bool

	parentRunID string
	depth       int
}

// StartRun creates a run for a workflow and drives it until it finishes,
// pauses at an approval gate, or hits an infrastructure error. The returned
// run reflects the last persisted state.
func (c *Coordinator) StartRun(ctx context.Context, workflowID string, opts StartOptions) (*Run, error) {
	wf, err := c.Store.Workflow(workflowID)
	if err != nil {
		return nil, errors.Wrapf(err, "loading workflow %s", workflowID)
	}
	// injected values satisfy declared parameters too: a macro child run
	// inherits the parent chain, so validation must see the same merged
	// view the chain layer will.
	effective := make(map[string]any, len(opts.Injected)+len(opts.Params))
	for k, v := range opts.Injected {
		effective[k] = v
	}
	for k, v := range opts.Params {
		effective[k] = v
	}
	if err := wf.ValidateParams(effective); err != nil {
		return nil, err
	}

	run := &Run{
		ID:           uuid.NewString()[:12],
		WorkflowID:   wf.ID,
		WorkflowName: wf.Name,
		Status:       RunCreated,
		TotalSteps:   len(wf.Steps),
		StepResults:  []StepResult{},
		ChainParams:  opts.Params,
		Context:      template.NewContext(wf.ChainValues(opts.Params), opts.Injected),
		ParentRunID:  opts.parentRunID,
		StartedAt:    time.Now().UTC(),
	}

	g, err := Reconstruct(wf.Steps, wf.Layout)
	if err != nil {
		return nil, errors.Wrap(err, "reconstructing graph")
	}
	start, ok := g.Start()
	if !ok {
		return nil, errors.Errorf("workflow %s has no start node", workflowID)
	}

	run.Status = RunRunning
	if err := c.Store.SaveRun(run); err != nil {
		return nil, errors.Wrap(err, "persisting run")
	}
	c.notify(run, EventRunStarted, "", "", string(RunRunning))
	clio.Infof("run %s started for workflow %q (%d steps)", run.ID, wf.Name, run.TotalSteps)

	err = c.walk(ctx, wf, run, g, start.ID, "", opts.AutoApprove, opts.depth)
	return run, err
}

// ResumeAction is the operator's answer to a pending approval gate.
type ResumeAction string

const (
	Approve ResumeAction = "approve"
	Reject  ResumeAction = "reject"
)

// ResumeRun delivers an approval or rejection to a paused run. It loads
// both the run and its workflow from the store, so it is safe to call
// against a run rehydrated after a process restart. Resuming a run that is
// not waiting for approval is a conflict.
func (c *Coordinator) ResumeRun(ctx context.Context, runID string, action ResumeAction, reason string) (*Run, error) {
	run, err := c.Store.Run(runID)
	if err != nil {
		return nil, errors.Wrapf(err, "loading run %s", runID)
	}
	if run.Status != RunWaitingApproval {
		return nil, errors.Wrapf(ErrConflict, "run %s is not waiting for approval (status %s)", runID, run.Status)
	}

	if action == Reject {
		if reason == "" {
			reason = "rejected by operator"
		}
		run.Reason = reason
		c.finish(run, RunFailed)
		clio.Infof("run %s rejected: %s", run.ID, reason)
		return run, c.Store.SaveRun(run)
	}

	wf, err := c.Store.Workflow(run.WorkflowID)
	if err != nil {
		return nil, errors.Wrapf(err, "loading workflow %s", run.WorkflowID)
	}
	g, err := Reconstruct(wf.Steps, wf.Layout)
	if err != nil {
		return nil, errors.Wrap(err, "reconstructing graph")
	}

	approved := run.WaitingNode
	run.Status = RunRunning
	run.WaitingNode = ""
	if err := c.Store.SaveRun(run); err != nil {
		return nil, errors.Wrap(err, "persisting run")
	}
	clio.Infof("run %s approved, resuming at node %s", run.ID, approved)

	// the walk restarts at the gated node itself; the approval covers
	// exactly that node, so a later gate pauses again.
	err = c.walk(ctx, wf, run, g, approved, approved, false, 0)
	return run, err
}

// walk drives the run along the graph from a node. approvedNode names the
// single node whose approval gate has already been satisfied.
func (c *Coordinator) walk(ctx context.Context, wf *Workflow, run *Run, g *Graph, fromNode, approvedNode string, autoApprove bool, depth int) error {
	order := map[string]int{}
	for i, s := range wf.Steps {
		order[s.ID] = i
	}

	visited := map[string]bool{}
	cur, ok := g.NodeByID(fromNode)
	if !ok {
		return errors.Errorf("node %s not in graph", fromNode)
	}

	for {
		if visited[cur.ID] {
			// cycles cannot be represented in the linear plan; a revisit
			// ends the chain.
			c.finish(run, RunComplete)
			return c.Store.SaveRun(run)
		}
		visited[cur.ID] = true

		var port node.Port

		switch cur.Kind {
		case node.Start:
			port = node.PortSuccess

		case node.Terminal:
			return c.finishTerminal(run, cur)

		case node.Action:
			s := projectAction(cur)
			c.position(run, order, s.ID)

			if s.Gate == node.GateApprove && !autoApprove && cur.ID != approvedNode {
				return c.pause(run, cur.ID)
			}

			failed, err := c.executeAction(ctx, run, s)
			if err != nil {
				return err
			}
			if failed {
				if s.OnFailure == node.FailStop {
					if run.Reason == "" {
						run.Reason = "step " + s.ID + " failed"
					}
					c.finish(run, RunFailed)
					return c.Store.SaveRun(run)
				}
				clio.Infof("run %s step %s failed, on_failure=skip", run.ID, s.ID)
			}
			port = node.PortSuccess

		case node.Branch:
			s := projectBranch(cur)
			c.position(run, order, s.ID)

			result, failed, err := c.evaluateBranch(run, s)
			if err != nil {
				return err
			}
			if failed {
				if s.OnFailure == node.FailStop {
					c.finish(run, RunFailed)
					return c.Store.SaveRun(run)
				}
				result = false
			}
			if result {
				port = node.PortTrue
			} else {
				port = node.PortFalse
			}

		case node.Macro:
			s := projectMacro(cur)
			c.position(run, order, s.ID)

			if s.Gate == node.GateApprove && !autoApprove && cur.ID != approvedNode {
				return c.pause(run, cur.ID)
			}

			failed, err := c.executeMacro(ctx, run, s, depth)
			if err != nil {
				return err
			}
			if failed {
				if s.OnFailure == node.FailStop {
					if run.Reason == "" {
						run.Reason = "macro " + s.ID + " failed"
					}
					c.finish(run, RunFailed)
					return c.Store.SaveRun(run)
				}
				clio.Infof("run %s macro %s failed, on_failure=skip", run.ID, s.ID)
			}
			port = node.PortSuccess

		default:
			run.Reason = errors.Errorf("node %s has unknown kind", cur.ID).Error()
			c.finish(run, RunFailed)
			return c.Store.SaveRun(run)
		}

		e, ok := g.EdgeFrom(cur.ID, port)
		if !ok {
			// no successor: the last step has finished.
			c.finish(run, RunComplete)
			return c.Store.SaveRun(run)
		}
		next, ok := g.NodeByID(e.To)
		if !ok {
			c.finish(run, RunComplete)
			return c.Store.SaveRun(run)
		}
		cur = next
	}
}

func (c *Coordinator) position(run *Run, order map[string]int, stepID string) {
	if i, ok := order[stepID]; ok {
		run.CurrentStep = i + 1
	}
}

func (c *Coordinator) pause(run *Run, nodeID string) error {
	run.Status = RunWaitingApproval
	run.WaitingNode = nodeID
	if err := c.Store.SaveRun(run); err != nil {
		return errors.Wrap(err, "persisting paused run")
	}
	c.notify(run, EventRunPaused, nodeID, "", string(RunWaitingApproval))
	clio.Infof("run %s paused at step %d waiting for approval", run.ID, run.CurrentStep)
	return nil
}

// executeAction resolves and dispatches one action step, folding the
// result into the run. It returns whether the step failed; an error means
// infrastructure trouble (runner unreachable, store down), which leaves
// the run in its last persisted state for retry.
func (c *Coordinator) executeAction(ctx context.Context, run *Run, s step.Step) (failed bool, err error) {
	params, warnings := resolveParams(s, run.Context)
	for _, w := range warnings {
		clio.Warnf("run %s step %s: %s", run.ID, s.ID, w)
	}

	target := resolveTarget(s.Target, run.Context)
	if target == "" {
		c.recordFailure(run, s, "", "could not resolve target")
		return true, errors.Wrap(c.Store.SaveRun(run), "persisting run")
	}

	clio.Infof("run %s step %d/%d: %s on %s", run.ID, run.CurrentStep, run.TotalSteps, s.ActionRef, target)
	c.notify(run, EventStepStarted, s.ID, "", "")

	res, err := c.Runner.Execute(ctx, runner.Request{
		Action:     s.ActionRef,
		Target:     target,
		Parameters: params,
		Timeout:    c.stepTimeout(),
		OnProgress: func(ev runner.ProgressEvent) {
			if ev.Kind == runner.ProgressData {
				c.notify(run, EventStepProgress, s.ID, ev.Data, "")
			}
		},
	})
	if err != nil {
		return false, errors.Wrapf(err, "dispatching step %s", s.ID)
	}

	run.StepResults = append(run.StepResults, StepResult{
		StepID:        s.ID,
		Action:        s.ActionRef,
		Label:         s.DisplayLabel(),
		Status:        res.Status,
		OutputPreview: preview(res.Output),
		DurationMS:    res.DurationMS,
		Target:        target,
	})
	run.Context.SetStep(s.ID, template.StepState{
		Output: structuredOutput(res),
		Status: string(res.Status),
		Target: target,
	})
	c.notify(run, EventStepFinished, s.ID, "", string(res.Status))

	if err := c.Store.SaveRun(run); err != nil {
		return false, errors.Wrap(err, "persisting run")
	}
	return res.Status != runner.StatusComplete, nil
}

// evaluateBranch evaluates a branch step's conditions. Branches never
// dispatch externally; their practical effect is the boolean that selects
// the successor edge.
func (c *Coordinator) evaluateBranch(run *Run, s step.Step) (result bool, failed bool, err error) {
	c.notify(run, EventStepStarted, s.ID, "", "")

	result, evalErr := condition.Evaluate(s.Conditions, run.Context)
	if evalErr != nil {
		c.recordFailure(run, s, "", evalErr.Error())
		return false, true, errors.Wrap(c.Store.SaveRun(run), "persisting run")
	}

	out := "false"
	if result {
		out = "true"
	}
	run.StepResults = append(run.StepResults, StepResult{
		StepID:        s.ID,
		Label:         s.DisplayLabel(),
		Status:        runner.StatusComplete,
		OutputPreview: out,
	})
	run.Context.SetStep(s.ID, template.StepState{
		Output: map[string]any{"result": result},
		Status: string(runner.StatusComplete),
	})
	c.notify(run, EventStepFinished, s.ID, out, string(runner.StatusComplete))

	return result, false, errors.Wrap(c.Store.SaveRun(run), "persisting run")
}

// executeMacro runs the referenced workflow as a child run. The parent's
// chain layer is injected as defaults and the macro's bindings, resolved
// against the parent context, become the child's chain parameters. Gates
// inside the child are auto-approved: a paused grandchild would have no
// addressable resume surface.
func (c *Coordinator) executeMacro(ctx context.Context, run *Run, s step.Step, depth int) (failed bool, err error) {
	if depth+1 > c.maxDepth() {
		c.recordFailure(run, s, "", "macro nesting exceeds maximum depth")
		return true, errors.Wrap(c.Store.SaveRun(run), "persisting run")
	}

	params := map[string]any{}
	for k, v := range s.Bindings {
		resolved, warnings := template.Resolve(v, run.Context)
		for _, w := range warnings {
			clio.Warnf("run %s macro %s binding %s: %s", run.ID, s.ID, k, w)
		}
		params[k] = resolved
	}

	c.notify(run, EventStepStarted, s.ID, "", "")
	clio.Infof("run %s step %d/%d: macro %s", run.ID, run.CurrentStep, run.TotalSteps, s.MacroRef)

	child, err := c.StartRun(ctx, s.MacroRef, StartOptions{
		Params:      params,
		Injected:    run.Context.Chain,
		AutoApprove: true,
		parentRunID: run.ID,
		depth:       depth + 1,
	})
	if err != nil {
		if child == nil {
			// the child never started (unknown workflow, invalid chain
			// parameters). That is a failure of this step, governed by its
			// on_failure policy, not infrastructure trouble.
			c.recordFailure(run, s, "", err.Error())
			return true, errors.Wrap(c.Store.SaveRun(run), "persisting run")
		}
		return false, errors.Wrapf(err, "running macro %s", s.MacroRef)
	}

	status := runner.StatusComplete
	errMsg := ""
	if child.Status != RunComplete {
		status = runner.StatusFailed
		errMsg = child.Reason
	}

	childSteps := map[string]any{}
	for id, st := range child.Context.Steps {
		childSteps[id] = map[string]any{"output": st.Output, "status": st.Status}
	}

	run.StepResults = append(run.StepResults, StepResult{
		StepID:        s.ID,
		Label:         s.DisplayLabel(),
		Status:        status,
		OutputPreview: preview("run " + child.ID + ": " + string(child.Status)),
		Error:         errMsg,
	})
	run.Context.SetStep(s.ID, template.StepState{
		Output: map[string]any{
			"run_id":  child.ID,
			"status":  string(child.Status),
			"outcome": child.Outcome,
			"steps":   childSteps,
		},
		Status: string(status),
	})
	c.notify(run, EventStepFinished, s.ID, "", string(status))

	if err := c.Store.SaveRun(run); err != nil {
		return false, errors.Wrap(err, "persisting run")
	}
	return status != runner.StatusComplete, nil
}

func (c *Coordinator) recordFailure(run *Run, s step.Step, target, msg string) {
	run.StepResults = append(run.StepResults, StepResult{
		StepID: s.ID,
		Action: s.ActionRef,
		Label:  s.DisplayLabel(),
		Status: runner.StatusFailed,
		Target: target,
		Error:  msg,
	})
	run.Context.SetStep(s.ID, template.StepState{
		Output: "",
		Status: string(runner.StatusFailed),
	})
	run.Reason = msg
	c.notify(run, EventStepFinished, s.ID, "", string(runner.StatusFailed))
}

// finishTerminal applies a terminal node's outcome class to the run.
func (c *Coordinator) finishTerminal(run *Run, n node.Node) error {
	spec := n.Terminal
	if spec == nil {
		spec = &node.TerminalSpec{Outcome: node.OutcomeAllow}
	}
	run.Outcome = string(spec.Outcome)

	switch spec.Outcome {
	case node.OutcomeDeny:
		if run.Reason == "" {
			run.Reason = "denied: " + n.DisplayLabel()
		}
		c.finish(run, RunFailed)
	case node.OutcomeRollback:
		if run.Reason == "" {
			run.Reason = "rolled back: " + n.DisplayLabel()
		}
		c.finish(run, RunFailed)
	case node.OutcomeAlert:
		clio.Warnf("run %s raised alert: %s", run.ID, n.DisplayLabel())
		c.finish(run, RunComplete)
	case node.OutcomeWebhook:
		c.postWebhook(run, spec)
		c.finish(run, RunComplete)
	default:
		c.finish(run, RunComplete)
	}
	return errors.Wrap(c.Store.SaveRun(run), "persisting run")
}

func (c *Coordinator) postWebhook(run *Run, spec *node.TerminalSpec) {
	var cfg node.WebhookConfig
	if err := mapstructure.Decode(spec.Config, &cfg); err != nil || cfg.URL == "" {
		clio.Errorf("run %s webhook terminal misconfigured: %v", run.ID, err)
		return
	}
	client := c.Webhooks
	if client == nil {
		client = resty.New()
	}
	req := client.R().SetBody(map[string]any{
		"run_id":       run.ID,
		"workflow_id":  run.WorkflowID,
		"status":       string(RunComplete),
		"step_results": run.StepResults,
	})
	var err error
	if cfg.Method == "PUT" {
		_, err = req.Put(cfg.URL)
	} else {
		_, err = req.Post(cfg.URL)
	}
	if err != nil {
		// webhook delivery is best-effort; the run outcome stands.
		clio.Errorf("run %s webhook delivery failed: %v", run.ID, err)
	}
}

func (c *Coordinator) finish(run *Run, status RunStatus) {
	run.Status = status
	now := time.Now().UTC()
	run.CompletedAt = &now
	c.notify(run, EventRunFinished, "", run.Reason, string(status))
	clio.Infof("run %s finished: %s", run.ID, status)
}

func (c *Coordinator) notify(run *Run, kind EventKind, stepID, data, status string) {
	run.EventSeq++
	ev := Event{
		RunID:  run.ID,
		StepID: stepID,
		Kind:   kind,
		Data:   data,
		Status: status,
		Seq:    run.EventSeq,
		At:     time.Now().UTC(),
	}
	if c.Observer != nil {
		c.Observer.Notify(ev)
	}
	if err := c.Store.AppendProgress(run.ID, ev); err != nil {
		clio.Debugf("appending progress for run %s: %v", run.ID, err)
	}
}

func (c *Coordinator) stepTimeout() time.Duration {
	if c.StepTimeout > 0 {
		return c.StepTimeout
	}
	return DefaultStepTimeout
}

func (c *Coordinator) maxDepth() int {
	if c.MaxDepth > 0 {
		return c.MaxDepth
	}
	return DefaultMaxDepth
}

// resolveParams builds the final parameter set for a step: every chain
// value flows in as a default, then explicit parameters and the parameter
// map overlay it, templates resolved against the accumulated context.
func resolveParams(s step.Step, rctx *template.Context) (map[string]string, []string) {
	params := map[string]string{}
	for k, v := range rctx.Chain {
		params[k] = template.Stringify(v)
	}
	var warnings []string
	for k, v := range s.Parameters {
		resolved, w := template.Resolve(v, rctx)
		params[k] = resolved
		warnings = append(warnings, w...)
	}
	for k, v := range s.ParameterMap {
		resolved, w := template.Resolve(v, rctx)
		params[k] = resolved
		warnings = append(warnings, w...)
	}
	return params, warnings
}

// resolveTarget determines the execution target per the step's declared
// mode.
func resolveTarget(t node.TargetSpec, rctx *template.Context) string {
	switch t.Source {
	case node.TargetFixed:
		return t.Fixed
	case node.TargetPreviousStep:
		if st, ok := rctx.Steps[t.FromStep]; ok {
			return st.Target
		}
		return ""
	default:
		name := t.Parameter
		if name == "" {
			name = "device"
		}
		if v, ok := rctx.Chain[name]; ok {
			return template.Stringify(v)
		}
		return ""
	}
}

// structuredOutput prefers the runner's structured payload; otherwise, raw
// output that parses as a JSON object is stored structured so later steps
// can traverse it.
func structuredOutput(res *runner.Result) any {
	if res.Structured != nil {
		return res.Structured
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(res.Output), &m); err == nil {
		return m
	}
	return res.Output
}

// preview trims the output excerpt to the cap without splitting a
// multi-byte rune at the boundary.
func preview(s string) string {
	if len(s) <= outputPreviewLen {
		return s
	}
	cut := outputPreviewLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
