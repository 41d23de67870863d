// Package problem defines the optimization problem abstraction consumed by
// the solver engines, plus a built-in suite of benchmark problems.
package problem

import (
	"fmt"
	"math"
)

// Model describes an optimization problem to a solver: objective and
// constraint evaluation, bounds, the starting point, and the evaluation
// counter that budgets are enforced against.
type Model interface {
	// Dim returns the number of variables.
	Dim() int

	// ConstraintCount returns the number of general constraints, 0 for none.
	ConstraintCount() int

	// Bounds returns per-variable lower and upper bounds.
	// Unbounded variables carry ±Inf.
	Bounds() (lower, upper []float64)

	// ConstraintBounds returns per-constraint lower and upper bounds.
	ConstraintBounds() (lower, upper []float64)

	// Start returns the starting point. Callers must not mutate it.
	Start() []float64

	// Objective evaluates f(x) and increments the evaluation counter.
	Objective(x []float64) float64

	// Constraints evaluates the constraint vector at x and increments the
	// evaluation counter. Only called when ConstraintCount() > 0.
	Constraints(x []float64) []float64

	// Evaluations returns the evaluation count. It is monotonically
	// non-decreasing and is the single source of truth for
	// evaluation-budget stopping.
	Evaluations() int
}

// Func is a closure-backed Model. Bounds default to ±Inf and there are no
// constraints until SetConstraints is called.
type Func struct {
	start  []float64
	lower  []float64
	upper  []float64
	obj    func([]float64) float64
	cons   func([]float64) []float64
	consLo []float64
	consHi []float64
	evals  int
}

// NewFunc creates a Model from a starting point and an objective closure.
func NewFunc(start []float64, objective func([]float64) float64) *Func {
	n := len(start)
	f := &Func{
		start: append([]float64(nil), start...),
		lower: make([]float64, n),
		upper: make([]float64, n),
		obj:   objective,
	}
	for i := 0; i < n; i++ {
		f.lower[i] = math.Inf(-1)
		f.upper[i] = math.Inf(1)
	}
	return f
}

// SetBounds replaces the variable bounds. Slice lengths must match Dim.
func (f *Func) SetBounds(lower, upper []float64) error {
	if len(lower) != len(f.start) || len(upper) != len(f.start) {
		return fmt.Errorf("bounds need %d entries, got %d/%d", len(f.start), len(lower), len(upper))
	}
	f.lower = append([]float64(nil), lower...)
	f.upper = append([]float64(nil), upper...)
	return nil
}

// SetConstraints installs a constraint function with per-constraint bounds.
// The constraint count is len(lower).
func (f *Func) SetConstraints(cons func([]float64) []float64, lower, upper []float64) error {
	if len(lower) != len(upper) {
		return fmt.Errorf("constraint bounds length mismatch: %d vs %d", len(lower), len(upper))
	}
	f.cons = cons
	f.consLo = append([]float64(nil), lower...)
	f.consHi = append([]float64(nil), upper...)
	return nil
}

func (f *Func) Dim() int { return len(f.start) }

func (f *Func) ConstraintCount() int { return len(f.consLo) }

func (f *Func) Bounds() (lower, upper []float64) { return f.lower, f.upper }

func (f *Func) ConstraintBounds() (lower, upper []float64) { return f.consLo, f.consHi }

func (f *Func) Start() []float64 { return f.start }

func (f *Func) Objective(x []float64) float64 {
	f.evals++
	return f.obj(x)
}

func (f *Func) Constraints(x []float64) []float64 {
	f.evals++
	return f.cons(x)
}

func (f *Func) Evaluations() int { return f.evals }
