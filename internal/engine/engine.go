// Package engine applies the workload form's derivation rules to a field
// registry. The engine is stateless: all values live in the registry, and
// a pass is idempotent for a fixed set of inputs and override tags.
package engine

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/kousu-tools/workload-form/internal/registry"
)

// State is the registry view a rule reads during a pass.
type State struct {
	Reg *registry.Registry

	// Classification is the selected ticket classification. It gates the
	// work-in-progress rule but is not itself a numeric field.
	Classification string
}

// Rule is one named pure computation writing a single output field.
type Rule struct {
	Name   string
	Output string

	// Guard decides whether the rule applies this pass. A nil guard
	// always applies.
	Guard func(s State) bool

	// Compute returns the output value. ok=false skips the write
	// entirely, leaving the prior value in place (non-finite results are
	// never defaulted).
	Compute func(s State) (v float64, ok bool)
}

// Engine holds an ordered rule list.
type Engine struct {
	rules []Rule
}

// New builds an engine from an ordered rule list, enforcing that at most
// one rule writes any given output field.
func New(rules []Rule) (*Engine, error) {
	writers := make(map[string]string, len(rules))
	for _, r := range rules {
		if prev, ok := writers[r.Output]; ok {
			return nil, eris.Errorf("engine: rules %q and %q both write %s", prev, r.Name, r.Output)
		}
		writers[r.Output] = r.Name
	}
	return &Engine{rules: rules}, nil
}

// NewDefault builds the canonical workload form engine.
func NewDefault() (*Engine, error) {
	return New(BuildRules(DefaultNames()))
}

// PassResult summarizes one recompute pass.
type PassResult struct {
	// Changed lists output fields whose value actually changed, in rule
	// order, deduplicated.
	Changed []string
	// Iterations is how many times the rule list ran before reaching a
	// fixed point.
	Iterations int
}

// The rule graph is acyclic after override gating, so one extra iteration
// always reaches a fixed point; the cap only bounds a misconfigured rule
// set.
const maxPassIterations = 4

// Pass runs the rule list in order until no field changes. Rules whose
// guard fails, or whose result is rejected by Compute, skip their write.
// Writes refused by the registry (user-owned protected fields) do not
// count as changes.
func (e *Engine) Pass(reg *registry.Registry, classification string) PassResult {
	st := State{Reg: reg, Classification: classification}

	var res PassResult
	seen := make(map[string]bool, len(e.rules))

	for iter := 1; iter <= maxPassIterations; iter++ {
		res.Iterations = iter
		changed := false
		for _, r := range e.rules {
			if r.Guard != nil && !r.Guard(st) {
				continue
			}
			v, ok := r.Compute(st)
			if !ok {
				continue
			}
			if reg.Set(r.Output, v) {
				changed = true
				if !seen[r.Output] {
					seen[r.Output] = true
					res.Changed = append(res.Changed, r.Output)
				}
			}
		}
		if !changed {
			break
		}
	}
	return res
}

// Outputs returns the output field names in rule order.
func (e *Engine) Outputs() []string {
	out := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r.Output)
	}
	return out
}

// DailyRate converts a per-month unit cost (in ten-thousand currency
// units per 20 workdays) to a per-day rate in currency units. All three
// amount rules share this conversion.
func DailyRate(unitCostPerMonth float64) float64 {
	return unitCostPerMonth / 20 * 10000
}

// roundYen rounds to a whole currency unit.
func roundYen(v float64) float64 {
	return math.Round(v)
}
