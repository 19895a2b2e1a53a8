// Package s contains helper builders for canonical steps. It is used as a
// convenience when writing tests for the serializer and the coordinator.
package s

import (
	"github.com/flowplane/flowplane/pkg/condition"
	"github.com/flowplane/flowplane/pkg/node"
	"github.com/flowplane/flowplane/pkg/step"
)

// Action creates an action step with auto gate and stop-on-failure
// defaults.
func Action(id, ref string) *Builder {
	return &Builder{s: step.Step{
		ID:           id,
		Kind:         node.Action,
		ActionRef:    ref,
		Gate:         node.GateAuto,
		OnFailure:    node.FailStop,
		Parameters:   map[string]string{},
		ParameterMap: map[string]string{},
		Target:       node.TargetSpec{Source: node.TargetParameter, Parameter: "device"},
	}}
}

// Branch creates a branch step from its conditions.
func Branch(id string, conds ...condition.Condition) *Builder {
	return &Builder{s: step.Step{
		ID:         id,
		Kind:       node.Branch,
		OnFailure:  node.FailStop,
		Gate:       node.GateAuto,
		Conditions: conds,
	}}
}

// Macro creates a macro step referencing a nested workflow.
func Macro(id, workflowID string) *Builder {
	return &Builder{s: step.Step{
		ID:        id,
		Kind:      node.Macro,
		MacroRef:  workflowID,
		Gate:      node.GateAuto,
		OnFailure: node.FailStop,
	}}
}

// Cond is shorthand for a comparison condition.
func Cond(source string, op condition.Operator, value string) condition.Condition {
	return condition.Condition{Source: source, Op: op, Value: value}
}

type Builder struct {
	s step.Step
}

func (b *Builder) Label(label string) *Builder {
	b.s.Label = label
	return b
}

func (b *Builder) Gate(g node.Gate) *Builder {
	b.s.Gate = g
	return b
}

func (b *Builder) OnFailure(p node.FailurePolicy) *Builder {
	b.s.OnFailure = p
	return b
}

func (b *Builder) Param(k, v string) *Builder {
	if b.s.Parameters == nil {
		b.s.Parameters = map[string]string{}
	}
	b.s.Parameters[k] = v
	return b
}

func (b *Builder) Map(k, v string) *Builder {
	if b.s.ParameterMap == nil {
		b.s.ParameterMap = map[string]string{}
	}
	b.s.ParameterMap[k] = v
	return b
}

func (b *Builder) Target(t node.TargetSpec) *Builder {
	b.s.Target = t
	return b
}

func (b *Builder) Bind(k, v string) *Builder {
	if b.s.Bindings == nil {
		b.s.Bindings = map[string]string{}
	}
	b.s.Bindings[k] = v
	return b
}

// Step returns the built canonical step.
func (b *Builder) Step() step.Step {
	return b.s
}
