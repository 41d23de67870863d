// Package solver implements two derivative-free optimization engines: a
// mesh-adaptive orthogonal pattern search with an adaptive penalty merit
// function for bound and nonlinear constraints, and a Nelder-Mead simplex
// method with an oriented-restart degeneracy detector. Both engines drive
// progress purely by sampling the objective at geometrically structured
// trial points; no gradients are used.
package solver

import "github.com/cwbudde/dfsolve/internal/problem"

// Solver is the surface both engines share so callers can dispatch on a
// configured engine by name.
type Solver interface {
	// Name identifies the engine.
	Name() string

	// Solve runs the engine against m until a termination condition fires.
	// The only errors are configuration errors detected before the first
	// evaluation; exhausted budgets terminate with a normal status.
	Solve(m problem.Model) (*Result, error)
}

// Names lists the registered engine names.
func Names() []string {
	return []string{"pattern", "simplex"}
}

// Known reports whether name is a registered engine.
func Known(name string) bool {
	for _, n := range Names() {
		if n == name {
			return true
		}
	}
	return false
}
