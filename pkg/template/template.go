// Package template resolves placeholder expressions against a layered run
// context. Parameter values authored in a workflow are either literals or
// strings containing placeholders of the form:
//
//	{{chain.NAME}}                  a caller-supplied chain parameter
//	{{steps.STEP_ID.status}}        a prior step's status
//	{{steps.STEP_ID.target}}        the target a prior step acted on
//	{{steps.STEP_ID.output.FIELD}}  a field of a prior step's output
//	{{NAME}}                        an externally injected context value
//
// Resolution is textual substitution, not expression evaluation. Unresolved
// placeholders become the empty string and are reported as warnings, since
// templates may legitimately reference optional upstream fields.
package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Jeffail/gabs/v2"
)

var placeholder = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// jsonFragment matches flat {...} objects embedded in mixed text output,
// e.g. log lines followed by a JSON summary.
var jsonFragment = regexp.MustCompile(`\{[^{}]+\}`)

// StepState is the context entry recorded for one executed step.
type StepState struct {
	// Output is the structured result of the step if its raw output parsed
	// as a JSON object, otherwise the raw text output.
	Output any    `json:"output"`
	Status string `json:"status"`
	Target string `json:"target,omitempty"`
}

// Context is the layered lookup table templates resolve against.
type Context struct {
	// Chain holds caller-supplied parameters plus injected invocation
	// context. Injected values are defaults; explicit parameters win.
	Chain map[string]any `json:"chain"`
	// Steps holds the results of previously executed steps, keyed by
	// step id.
	Steps map[string]StepState `json:"steps"`
}

// NewContext builds a context from chain parameters and externally injected
// values. Injected values act as defaults.
func NewContext(chain, injected map[string]any) *Context {
	merged := map[string]any{}
	for k, v := range injected {
		merged[k] = v
	}
	for k, v := range chain {
		merged[k] = v
	}
	return &Context{Chain: merged, Steps: map[string]StepState{}}
}

// SetStep records the state of an executed step, making it available to
// later steps' templates.
func (c *Context) SetStep(id string, st StepState) {
	if c.Steps == nil {
		c.Steps = map[string]StepState{}
	}
	c.Steps[id] = st
}

// Resolve substitutes every placeholder in s. Placeholders that cannot be
// resolved become the empty string and are returned as warnings.
func Resolve(s string, c *Context) (string, []string) {
	var warnings []string
	out := placeholder.ReplaceAllStringFunc(s, func(m string) string {
		path := strings.TrimSpace(placeholder.FindStringSubmatch(m)[1])
		v, ok := c.lookup(path)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("unresolved reference %q", path))
			return ""
		}
		return Stringify(v)
	})
	return out, warnings
}

// ResolveAll resolves every value of a parameter map.
func ResolveAll(params map[string]string, c *Context) (map[string]string, []string) {
	out := make(map[string]string, len(params))
	var warnings []string
	for k, v := range params {
		resolved, w := Resolve(v, c)
		out[k] = resolved
		warnings = append(warnings, w...)
	}
	return out, warnings
}

// Refs returns the placeholder paths referenced by s, in order of
// appearance. Used by the validator to check step-output references against
// the canonical step order.
func Refs(s string) []string {
	var refs []string
	for _, m := range placeholder.FindAllStringSubmatch(s, -1) {
		refs = append(refs, strings.TrimSpace(m[1]))
	}
	return refs
}

func (c *Context) lookup(path string) (any, bool) {
	parts := strings.Split(path, ".")
	switch parts[0] {
	case "chain":
		if len(parts) < 2 {
			return nil, false
		}
		return dig(c.Chain, parts[1:])
	case "steps":
		if len(parts) < 3 {
			return nil, false
		}
		st, ok := c.Steps[parts[1]]
		if !ok {
			return nil, false
		}
		switch parts[2] {
		case "status":
			return st.Status, true
		case "target":
			return st.Target, true
		case "output":
			if len(parts) == 3 {
				return st.Output, true
			}
			return dig(st.Output, parts[3:])
		}
		return nil, false
	default:
		// bare injected name: try the whole path as a flattened key first,
		// then as a dotted traversal of the chain layer.
		if v, ok := c.Chain[path]; ok {
			return v, true
		}
		return dig(c.Chain, parts)
	}
}

// dig walks value along parts. String values are treated as potential JSON:
// a clean JSON object is traversed directly; otherwise embedded {...}
// fragments are scanned for the first object carrying the wanted key, which
// copes with command output that mixes log text and JSON.
func dig(value any, parts []string) (any, bool) {
	cur := value
	for i := 0; i < len(parts); i++ {
		p := parts[i]
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[p]
			if !ok {
				return nil, false
			}
			cur = next
		case string:
			parsed, err := gabs.ParseJSON([]byte(v))
			if err == nil {
				sub := parsed.Search(parts[i:]...)
				if sub == nil {
					return nil, false
				}
				return sub.Data(), true
			}
			frag, ok := scanFragments(v, p)
			if !ok {
				return nil, false
			}
			cur = frag
		default:
			container := gabs.Wrap(cur)
			sub := container.Search(parts[i:]...)
			if sub == nil {
				return nil, false
			}
			return sub.Data(), true
		}
	}
	return cur, true
}

func scanFragments(raw, key string) (any, bool) {
	for _, m := range jsonFragment.FindAllString(raw, -1) {
		parsed, err := gabs.ParseJSON([]byte(m))
		if err != nil {
			continue
		}
		if sub := parsed.Search(key); sub != nil {
			return sub.Data(), true
		}
	}
	return nil, false
}

// Stringify renders a resolved value for substitution into a parameter
// string. Structured values render as compact JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any:
		return gabs.Wrap(t).String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
