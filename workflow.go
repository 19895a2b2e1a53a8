package flowplane

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flowplane/flowplane/pkg/catalog"
	"github.com/flowplane/flowplane/pkg/step"
	"github.com/pkg/errors"
)

// Trigger describes how a workflow run is initiated.
type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerWebhook Trigger = "webhook"
	TriggerAlert   Trigger = "alert"
)

// ParamDef declares one chain parameter a caller must (or may) supply when
// invoking the workflow.
type ParamDef struct {
	Name     string            `json:"name" yaml:"name"`
	Label    string            `json:"label,omitempty" yaml:"label"`
	Type     catalog.ParamType `json:"type,omitempty" yaml:"type"`
	Required bool              `json:"required,omitempty" yaml:"required"`
	Default  string            `json:"default,omitempty" yaml:"default"`
}

// Workflow is a persisted automation definition: the canonical steps the
// coordinator executes plus the layout document the editor reconstructs its
// graph from. Runs compiled from a workflow are never affected by later
// edits to it.
type Workflow struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description"`
	Tags        []string    `json:"tags,omitempty" yaml:"tags"`
	Trigger     Trigger     `json:"trigger,omitempty" yaml:"trigger"`
	Params      []ParamDef  `json:"parameters,omitempty" yaml:"parameters"`
	Steps       []step.Step `json:"steps" yaml:"steps"`
	Layout      *Layout     `json:"layout,omitempty" yaml:"layout"`
	CreatedAt   time.Time   `json:"created_at,omitempty" yaml:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at,omitempty" yaml:"updated_at"`
}

// ValidateParams checks caller-supplied chain parameters against the
// workflow's declarations before a run is created. All problems are
// reported in one error.
func (w *Workflow) ValidateParams(supplied map[string]any) error {
	var problems []string
	for _, def := range w.Params {
		v, ok := supplied[def.Name]
		if !ok || v == nil || v == "" {
			if def.Required && def.Default == "" {
				problems = append(problems, fmt.Sprintf("parameter %q is required", def.Name))
			}
			continue
		}
		if err := checkParamType(def, v); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		return errors.Errorf("invalid chain parameters: %s", strings.Join(problems, "; "))
	}
	return nil
}

func checkParamType(def ParamDef, v any) error {
	switch def.Type {
	case catalog.TypeNumber:
		switch t := v.(type) {
		case float64, float32, int, int64:
			return nil
		case string:
			if _, err := strconv.ParseFloat(t, 64); err != nil {
				return fmt.Errorf("parameter %q must be numeric, got %q", def.Name, t)
			}
			return nil
		default:
			return fmt.Errorf("parameter %q must be numeric", def.Name)
		}
	case catalog.TypeBool:
		switch t := v.(type) {
		case bool:
			return nil
		case string:
			if _, err := strconv.ParseBool(t); err != nil {
				return fmt.Errorf("parameter %q must be a boolean, got %q", def.Name, t)
			}
			return nil
		default:
			return fmt.Errorf("parameter %q must be a boolean", def.Name)
		}
	default:
		// string and device parameters accept any scalar; they are
		// stringified at template-resolution time.
		return nil
	}
}

// ChainValues merges declared defaults under the supplied parameters,
// producing the chain layer of the run context.
func (w *Workflow) ChainValues(supplied map[string]any) map[string]any {
	out := map[string]any{}
	for _, def := range w.Params {
		if def.Default != "" {
			out[def.Name] = def.Default
		}
	}
	for k, v := range supplied {
		out[k] = v
	}
	return out
}
