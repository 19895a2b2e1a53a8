// Package condition models branch-node conditions and evaluates them
// against the run context at execution time.
//
// A condition compares a resolved source expression against a declared
// value, e.g.
//
//	{source: "{{steps.step-1.status}}", op: "eq", value: "complete"}
//
// Multiple conditions combine left to right using each condition's
// connective ('and'/'or'), with no precedence grouping.
//
// The 'expr' operator evaluates the source as a CEL program over the run
// context instead, for conditions that a single comparison cannot express.
package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/flowplane/flowplane/pkg/template"
	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

type Operator string

const (
	OpEquals      Operator = "eq"
	OpNotEquals   Operator = "ne"
	OpContains    Operator = "contains"
	OpMatches     Operator = "matches"
	OpGreaterThan Operator = "gt"
	OpLessThan    Operator = "lt"
	// OpExpr treats Source as a CEL expression over the variables
	// 'chain' and 'steps'. Value is ignored.
	OpExpr Operator = "expr"
)

// Connective joins a condition's result with the next condition's.
type Connective string

const (
	And Connective = "and"
	Or  Connective = "or"
)

type Condition struct {
	// Source is a template expression (or a CEL expression for OpExpr).
	Source string   `json:"source"`
	Op     Operator `json:"op"`
	Value  string   `json:"value,omitempty"`
	// Next is the connective to the following condition. Defaults to And.
	Next Connective `json:"next,omitempty"`
}

func celEnv() (*cel.Env, error) {
	// the run context is dynamic (arbitrary step output), so both
	// variables are dyn-valued maps rather than schema-typed objects.
	return cel.NewEnv(
		cel.Variable("chain", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("steps", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// Check verifies a condition is well-formed without evaluating it. CEL
// sources must compile to a boolean and regex patterns must parse; the
// validator calls this at save time so authoring mistakes never surface
// mid-run.
func (c Condition) Check() error {
	switch c.Op {
	case OpEquals, OpNotEquals, OpContains, OpGreaterThan, OpLessThan:
		return nil
	case OpMatches:
		_, err := regexp.Compile(c.Value)
		return errors.Wrapf(err, "invalid pattern %q", c.Value)
	case OpExpr:
		env, err := celEnv()
		if err != nil {
			return err
		}
		ast, issues := env.Compile(c.Source)
		if issues != nil && issues.Err() != nil {
			return errors.Wrap(issues.Err(), "CEL type-check error")
		}
		if ast.OutputType() != cel.BoolType {
			return fmt.Errorf("CEL expression must return a boolean (returned %s instead)", ast.OutputType())
		}
		return nil
	default:
		return fmt.Errorf("unknown operator %q", c.Op)
	}
}

func (c Condition) eval(rctx *template.Context) (bool, error) {
	if c.Op == OpExpr {
		return c.evalCEL(rctx)
	}

	source, _ := template.Resolve(c.Source, rctx)
	switch c.Op {
	case OpEquals:
		return source == c.Value, nil
	case OpNotEquals:
		return source != c.Value, nil
	case OpContains:
		return strings.Contains(source, c.Value), nil
	case OpMatches:
		re, err := regexp.Compile(c.Value)
		if err != nil {
			return false, errors.Wrapf(err, "invalid pattern %q", c.Value)
		}
		return re.MatchString(source), nil
	case OpGreaterThan, OpLessThan:
		a, err := strconv.ParseFloat(strings.TrimSpace(source), 64)
		if err != nil {
			return false, errors.Wrapf(err, "source %q is not numeric", source)
		}
		b, err := strconv.ParseFloat(strings.TrimSpace(c.Value), 64)
		if err != nil {
			return false, errors.Wrapf(err, "value %q is not numeric", c.Value)
		}
		if c.Op == OpGreaterThan {
			return a > b, nil
		}
		return a < b, nil
	default:
		return false, fmt.Errorf("unknown operator %q", c.Op)
	}
}

func (c Condition) evalCEL(rctx *template.Context) (bool, error) {
	env, err := celEnv()
	if err != nil {
		return false, err
	}
	ast, issues := env.Compile(c.Source)
	if issues != nil && issues.Err() != nil {
		return false, errors.Wrap(issues.Err(), "CEL type-check error")
	}
	prg, err := env.Program(ast)
	if err != nil {
		return false, errors.Wrap(err, "CEL program construction error")
	}

	steps := map[string]any{}
	for id, st := range rctx.Steps {
		steps[id] = map[string]any{
			"output": st.Output,
			"status": st.Status,
			"target": st.Target,
		}
	}
	val, _, err := prg.Eval(map[string]any{
		"chain": rctx.Chain,
		"steps": steps,
	})
	if err != nil {
		return false, err
	}
	b, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("could not convert CEL result to bool: %s", val)
	}
	return b, nil
}

// Evaluate folds a condition list left to right. Each condition's result is
// joined to the next using its declared connective. An empty list is an
// error; the validator rejects empty branches before a graph is saved.
func Evaluate(conds []Condition, rctx *template.Context) (bool, error) {
	if len(conds) == 0 {
		return false, errors.New("branch has no conditions")
	}
	result, err := conds[0].eval(rctx)
	if err != nil {
		return false, err
	}
	for i := 1; i < len(conds); i++ {
		next, err := conds[i].eval(rctx)
		if err != nil {
			return false, err
		}
		switch conds[i-1].Next {
		case Or:
			result = result || next
		default:
			result = result && next
		}
	}
	return result, nil
}
