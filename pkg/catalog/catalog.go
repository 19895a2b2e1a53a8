// Package catalog is the read-only lookup of available actions. The editor
// uses it to populate selection UI and the validator uses it to confirm a
// reference exists; the run coordinator never consults it, because
// parameters are already bound into canonical steps by the time a run
// starts.
package catalog

import (
	"os"
	"sort"

	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
)

type ParamType string

const (
	TypeString ParamType = "string"
	TypeDevice ParamType = "device"
	TypeNumber ParamType = "number"
	TypeBool   ParamType = "bool"
)

// Param is one declared parameter of an action.
type Param struct {
	Name        string    `yaml:"name" json:"name"`
	Label       string    `yaml:"label" json:"label,omitempty"`
	Type        ParamType `yaml:"type" json:"type,omitempty"`
	Required    bool      `yaml:"required" json:"required,omitempty"`
	Default     string    `yaml:"default" json:"default,omitempty"`
	Description string    `yaml:"description" json:"description,omitempty"`
}

// Action is one entry in the catalog.
type Action struct {
	Name        string  `yaml:"name" json:"name"`
	Label       string  `yaml:"label" json:"label,omitempty"`
	Description string  `yaml:"description" json:"description,omitempty"`
	Params      []Param `yaml:"parameters" json:"parameters,omitempty"`
}

// DefaultLabel returns the action's label, falling back to its name.
func (a Action) DefaultLabel() string {
	if a.Label != "" {
		return a.Label
	}
	return a.Name
}

type Catalog interface {
	// Action looks up an action by name.
	Action(name string) (Action, bool)
	// Actions lists all known actions, sorted by name.
	Actions() []Action
}

// Static is an in-memory catalog keyed by action name.
type Static map[string]Action

func (s Static) Action(name string) (Action, bool) {
	a, ok := s[name]
	return a, ok
}

func (s Static) Actions() []Action {
	out := make([]Action, 0, len(s))
	for _, a := range s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Of builds a static catalog from a list of actions.
func Of(actions ...Action) Static {
	s := Static{}
	for _, a := range actions {
		s[a.Name] = a
	}
	return s
}

// FromFile loads a catalog from a YAML document of the shape:
//
//	actions:
//	  - name: bigip-pool-status
//	    label: Check Pool Health
//	    parameters:
//	      - name: pool_name
//	        type: string
//	        required: true
func FromFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading catalog")
	}
	var doc struct {
		Actions []Action `yaml:"actions"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "parsing catalog %s", path)
	}
	return Of(doc.Actions...), nil
}
