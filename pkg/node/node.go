// Package node contains the data model for workflow graph vertices and
// edges. Nodes are a tagged union: the Kind discriminates which payload
// struct is populated, so the serializer and coordinator can switch
// exhaustively over the five node kinds.
package node

import (
	"encoding/json"
	"fmt"

	"github.com/flowplane/flowplane/pkg/condition"
)

type Kind int

const (
	// Unknown is the zero value and always fails validation.
	Unknown Kind = iota
	Start
	Action
	Branch
	Terminal
	Macro
)

var kindNames = map[Kind]string{
	Unknown:  "unknown",
	Start:    "start",
	Action:   "action",
	Branch:   "branch",
	Terminal: "terminal",
	Macro:    "macro",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Kinds marshal to their string form so that persisted layout documents
// stay readable and stable across releases.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for kind, name := range kindNames {
		if name == s {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown node kind %q", s)
}

// Port identifies which outgoing connection of a node an edge is attached
// to. Action and start nodes fan out on success/failure; branch nodes fan
// out on true/false.
type Port string

const (
	PortSuccess Port = "success"
	PortFailure Port = "failure"
	PortTrue    Port = "true"
	PortFalse   Port = "false"
)

// Position is an advisory canvas coordinate. It is persisted in the layout
// document but never load-bearing for execution.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one vertex of the workflow graph. Exactly one of the payload
// pointers is set, matching Kind.
type Node struct {
	ID       string   `json:"id"`
	Kind     Kind     `json:"kind"`
	Label    string   `json:"label,omitempty"`
	Position Position `json:"position"`

	Action   *ActionSpec   `json:"action,omitempty"`
	Branch   *BranchSpec   `json:"branch,omitempty"`
	Terminal *TerminalSpec `json:"terminal,omitempty"`
	Macro    *MacroSpec    `json:"macro,omitempty"`
}

// DisplayLabel returns the node's label, falling back to a description of
// its payload.
func (n Node) DisplayLabel() string {
	if n.Label != "" {
		return n.Label
	}
	switch n.Kind {
	case Action:
		if n.Action != nil {
			return n.Action.Ref
		}
	case Terminal:
		if n.Terminal != nil {
			return string(n.Terminal.Outcome)
		}
	case Macro:
		if n.Macro != nil {
			return n.Macro.WorkflowID
		}
	}
	return n.Kind.String()
}

// Gate controls whether a step dispatches immediately or waits for an
// external approval signal first.
type Gate string

const (
	GateAuto    Gate = "auto"
	GateApprove Gate = "approve"
)

// FailurePolicy decides whether a failed step halts the run.
type FailurePolicy string

const (
	FailStop FailurePolicy = "stop"
	FailSkip FailurePolicy = "skip"
)

// TargetSource is the rule by which an action step determines which
// external endpoint it acts on.
type TargetSource string

const (
	// TargetParameter reads the target from a declared chain parameter.
	TargetParameter TargetSource = "parameter"
	// TargetFixed uses a value fixed at authoring time.
	TargetFixed TargetSource = "fixed"
	// TargetPreviousStep reuses the target recorded by an earlier step.
	TargetPreviousStep TargetSource = "previous_step"
)

// TargetSpec describes target resolution for an action step.
type TargetSpec struct {
	Source TargetSource `json:"source,omitempty"`
	// Parameter is the chain parameter name when Source is "parameter".
	// Defaults to "device".
	Parameter string `json:"parameter,omitempty"`
	// Fixed is the literal target when Source is "fixed".
	Fixed string `json:"fixed,omitempty"`
	// FromStep is the id of the earlier step when Source is "previous_step".
	FromStep string `json:"from_step,omitempty"`
}

// ActionSpec is the payload of an action node.
type ActionSpec struct {
	// Ref names an action in the catalog, e.g. "bigip-pool-status".
	Ref       string        `json:"ref"`
	Gate      Gate          `json:"gate,omitempty"`
	OnFailure FailurePolicy `json:"on_failure,omitempty"`
	// Parameters are explicit overrides; values may contain template
	// placeholders such as {{chain.pool_name}}.
	Parameters map[string]string `json:"parameters,omitempty"`
	// ParameterMap forwards prior step output into action parameters,
	// e.g. mgmt_ip: "{{steps.step-1.output.mgmt_ip}}".
	ParameterMap map[string]string `json:"parameter_map,omitempty"`
	Target       TargetSpec        `json:"target,omitempty"`
}

// BranchSpec is the payload of a branch node.
type BranchSpec struct {
	Conditions []condition.Condition `json:"conditions"`
	// OnFailure governs a branch whose condition evaluation errors
	// (bad pattern, CEL runtime error). Defaults to stop.
	OnFailure FailurePolicy `json:"on_failure,omitempty"`
}

// OutcomeClass categorises a terminal node.
type OutcomeClass string

const (
	OutcomeAllow    OutcomeClass = "allow"
	OutcomeDeny     OutcomeClass = "deny"
	OutcomeAlert    OutcomeClass = "alert"
	OutcomeWebhook  OutcomeClass = "webhook"
	OutcomeRollback OutcomeClass = "rollback"
)

// TerminalSpec is the payload of a terminal node. Config is outcome-specific
// and decoded with mapstructure by whoever consumes it (see WebhookConfig).
type TerminalSpec struct {
	Outcome OutcomeClass   `json:"outcome"`
	Config  map[string]any `json:"config,omitempty"`
}

// WebhookConfig is the decoded Config of a webhook-class terminal.
type WebhookConfig struct {
	URL    string `mapstructure:"url"`
	Method string `mapstructure:"method"`
}

// MacroSpec is the payload of a macro node, referencing a nested workflow.
type MacroSpec struct {
	WorkflowID string `json:"workflow_id"`
	// Bindings map the nested workflow's chain parameters to values,
	// resolved against the parent run's context.
	Bindings  map[string]string `json:"bindings,omitempty"`
	Gate      Gate              `json:"gate,omitempty"`
	OnFailure FailurePolicy     `json:"on_failure,omitempty"`
}

// Edge is one directed connection between nodes.
type Edge struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
	Port Port   `json:"port"`
}
