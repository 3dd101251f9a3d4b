package gate

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Predicate is one node of a stage condition tree. A node may set several
// leaf fields at once, which is shorthand for wrapping them in allOf.
// An empty predicate evaluates to true.
type Predicate struct {
	// Branch matches the run branch against any of the given patterns.
	// Patterns support path.Match globs, e.g. "feature/*".
	Branch []string `yaml:"branch,omitempty"`

	// Param requires every listed parameter to equal the given value.
	Param map[string]string `yaml:"param,omitempty"`

	// Event matches the trigger kind against any of the given kinds.
	Event []string `yaml:"event,omitempty"`

	// StagePassed requires the named prior stage to have finished
	// without failing (success or skipped).
	StagePassed string `yaml:"stage_passed,omitempty"`

	AllOf []Predicate `yaml:"allOf,omitempty"`
	AnyOf []Predicate `yaml:"anyOf,omitempty"`
	Not   *Predicate  `yaml:"not,omitempty"`
}

// EvalContext carries the run facts a predicate is evaluated against.
type EvalContext struct {
	Branch  string
	Event   string
	Params  map[string]string
	Results map[string]string // stage name -> "success" | "failed" | "skipped"
}

// Eval evaluates the predicate tree against the given context.
// All leaf fields set on the same node must hold (implicit allOf).
func (p *Predicate) Eval(ec EvalContext) bool {
	if p == nil {
		return true
	}

	if len(p.Branch) > 0 && !matchAny(p.Branch, ec.Branch) {
		return false
	}

	for key, want := range p.Param {
		if ec.Params[key] != want {
			return false
		}
	}

	if len(p.Event) > 0 {
		found := false
		for _, e := range p.Event {
			if e == ec.Event {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if p.StagePassed != "" {
		status, ok := ec.Results[p.StagePassed]
		if !ok || status == "failed" {
			return false
		}
	}

	for i := range p.AllOf {
		if !p.AllOf[i].Eval(ec) {
			return false
		}
	}

	if len(p.AnyOf) > 0 {
		met := false
		for i := range p.AnyOf {
			if p.AnyOf[i].Eval(ec) {
				met = true
				break
			}
		}
		if !met {
			return false
		}
	}

	if p.Not != nil && p.Not.Eval(ec) {
		return false
	}

	return true
}

// Validate checks the predicate tree for malformed nodes.
func (p *Predicate) Validate() error {
	if p == nil {
		return nil
	}
	for _, pattern := range p.Branch {
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("branch pattern %q: %w", pattern, err)
		}
	}
	for i := range p.AllOf {
		if err := p.AllOf[i].Validate(); err != nil {
			return fmt.Errorf("allOf[%d]: %w", i, err)
		}
	}
	for i := range p.AnyOf {
		if err := p.AnyOf[i].Validate(); err != nil {
			return fmt.Errorf("anyOf[%d]: %w", i, err)
		}
	}
	if p.Not != nil {
		if err := p.Not.Validate(); err != nil {
			return fmt.Errorf("not: %w", err)
		}
	}
	return nil
}

// String renders a compact description of the predicate for skip reasons
// and log lines.
func (p *Predicate) String() string {
	if p == nil {
		return "always"
	}
	var parts []string
	if len(p.Branch) > 0 {
		parts = append(parts, "branch in ["+strings.Join(p.Branch, ", ")+"]")
	}
	if len(p.Param) > 0 {
		keys := make([]string, 0, len(p.Param))
		for k := range p.Param {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s == %q", k, p.Param[k]))
		}
	}
	if len(p.Event) > 0 {
		parts = append(parts, "event in ["+strings.Join(p.Event, ", ")+"]")
	}
	if p.StagePassed != "" {
		parts = append(parts, "stage "+p.StagePassed+" passed")
	}
	if len(p.AllOf) > 0 {
		var sub []string
		for i := range p.AllOf {
			sub = append(sub, p.AllOf[i].String())
		}
		parts = append(parts, "allOf("+strings.Join(sub, "; ")+")")
	}
	if len(p.AnyOf) > 0 {
		var sub []string
		for i := range p.AnyOf {
			sub = append(sub, p.AnyOf[i].String())
		}
		parts = append(parts, "anyOf("+strings.Join(sub, "; ")+")")
	}
	if p.Not != nil {
		parts = append(parts, "not("+p.Not.String()+")")
	}
	if len(parts) == 0 {
		return "always"
	}
	return strings.Join(parts, " and ")
}

// matchAny reports whether branch matches any pattern. Patterns without
// glob metacharacters compare exactly.
func matchAny(patterns []string, branch string) bool {
	for _, pattern := range patterns {
		if pattern == branch {
			return true
		}
		if ok, err := path.Match(pattern, branch); err == nil && ok {
			return true
		}
	}
	return false
}
