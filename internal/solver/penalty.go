package solver

import "github.com/cwbudde/dfsolve/internal/problem"

// violation returns the feasibility measure Px: the squared excess of each
// variable beyond its bounds plus the squared excess of each constraint
// value beyond its bounds. Px is zero exactly when x is feasible.
// Evaluating the constraints increments the model's evaluation counter.
func violation(m problem.Model, x []float64) float64 {
	lower, upper := m.Bounds()
	p := 0.0
	for i, xi := range x {
		p += excess(xi, lower[i], upper[i])
	}
	if m.ConstraintCount() > 0 {
		c := m.Constraints(x)
		consLo, consHi := m.ConstraintBounds()
		for i, ci := range c {
			p += excess(ci, consLo[i], consHi[i])
		}
	}
	return p
}

// excess is the squared distance from v to the interval [lo, hi].
func excess(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		d := lo - v
		return d * d
	case v > hi:
		d := v - hi
		return d * d
	}
	return 0
}

// merit is the penalty objective φ = f + μ·P used for all pattern-search
// comparisons.
func merit(f, p, mu float64) float64 {
	return f + mu*p
}
