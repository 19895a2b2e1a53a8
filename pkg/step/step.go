// Package step contains the canonical step: the linear, execution-ready
// projection of one graph node. Canonical steps are the only form the run
// coordinator's plan persists; the graph itself travels alongside as an
// opaque layout document.
package step

import (
	"fmt"

	"github.com/flowplane/flowplane/pkg/condition"
	"github.com/flowplane/flowplane/pkg/node"
)

// Step is the flattened projection of an action, branch or macro node.
type Step struct {
	ID    string    `json:"id"`
	Kind  node.Kind `json:"kind"`
	Label string    `json:"label,omitempty"`

	// ActionRef names the catalog action to execute (action steps).
	ActionRef string             `json:"action,omitempty"`
	Gate      node.Gate          `json:"gate,omitempty"`
	OnFailure node.FailurePolicy `json:"on_failure,omitempty"`
	// Parameters are explicit overrides, applied over the chain defaults.
	Parameters map[string]string `json:"parameters,omitempty"`
	// ParameterMap forwards prior step output, applied last.
	ParameterMap map[string]string `json:"parameter_map,omitempty"`
	Target       node.TargetSpec   `json:"target,omitempty"`

	// Conditions are set for branch steps.
	Conditions []condition.Condition `json:"conditions,omitempty"`

	// MacroRef and Bindings are set for macro steps.
	MacroRef string            `json:"macro_ref,omitempty"`
	Bindings map[string]string `json:"bindings,omitempty"`
}

// DisplayLabel returns the step label, falling back to the action or macro
// reference.
func (s Step) DisplayLabel() string {
	if s.Label != "" {
		return s.Label
	}
	if s.ActionRef != "" {
		return s.ActionRef
	}
	if s.MacroRef != "" {
		return s.MacroRef
	}
	return s.Kind.String()
}

// Normalize assigns missing step ids ("step-N") and fills defaults, so that
// hand-authored step lists behave like editor-produced ones. Gate defaults
// to auto, failure policy to stop, and target resolution to the "device"
// chain parameter.
func Normalize(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		if s.ID == "" {
			s.ID = fmt.Sprintf("step-%d", i+1)
		}
		if s.Kind == node.Unknown {
			switch {
			case s.MacroRef != "":
				s.Kind = node.Macro
			case len(s.Conditions) > 0:
				s.Kind = node.Branch
			default:
				s.Kind = node.Action
			}
		}
		if s.Gate == "" {
			s.Gate = node.GateAuto
		}
		if s.OnFailure == "" {
			s.OnFailure = node.FailStop
		}
		if s.Kind == node.Action {
			if s.Target.Source == "" {
				s.Target.Source = node.TargetParameter
			}
			if s.Target.Source == node.TargetParameter && s.Target.Parameter == "" {
				s.Target.Parameter = "device"
			}
			if s.Parameters == nil {
				s.Parameters = map[string]string{}
			}
			if s.ParameterMap == nil {
				s.ParameterMap = map[string]string{}
			}
		}
		out[i] = s
	}
	return out
}
