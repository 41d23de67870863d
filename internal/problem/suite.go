package problem

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Builders construct the built-in benchmark problems. Problems with a fixed
// dimension reject any other dim; the rest accept dim <= 0 as "use default".

// Sphere is Σ xᵢ², minimum 0 at the origin, start at (1.5, ...).
func Sphere(dim int) *Func {
	if dim <= 0 {
		dim = 2
	}
	start := make([]float64, dim)
	for i := range start {
		start[i] = 1.5
	}
	return NewFunc(start, func(x []float64) float64 {
		return floats.Dot(x, x)
	})
}

// Parabola is the 1-D shifted quadratic (x−3)², minimum 0 at x=3, start at 0.
func Parabola() *Func {
	return NewFunc([]float64{0}, func(x []float64) float64 {
		d := x[0] - 3
		return d * d
	})
}

// Rosenbrock is the classic banana valley, minimum 0 at (1, ..., 1),
// start alternating (−1.2, 1, ...).
func Rosenbrock(dim int) *Func {
	if dim <= 0 {
		dim = 2
	}
	start := make([]float64, dim)
	for i := range start {
		if i%2 == 0 {
			start[i] = -1.2
		} else {
			start[i] = 1
		}
	}
	return NewFunc(start, func(x []float64) float64 {
		sum := 0.0
		for i := 0; i < len(x)-1; i++ {
			a := x[i+1] - x[i]*x[i]
			b := 1 - x[i]
			sum += 100*a*a + b*b
		}
		return sum
	})
}

// Rastrigin is the multimodal 10n + Σ(xᵢ² − 10·cos(2πxᵢ)), minimum 0 at the
// origin, start at (3.5, ...).
func Rastrigin(dim int) *Func {
	if dim <= 0 {
		dim = 2
	}
	start := make([]float64, dim)
	for i := range start {
		start[i] = 3.5
	}
	return NewFunc(start, func(x []float64) float64 {
		sum := 10 * float64(len(x))
		for _, xi := range x {
			sum += xi*xi - 10*math.Cos(2*math.Pi*xi)
		}
		return sum
	})
}

// BoxedSphere is the sphere restricted to [−1, 4]ⁿ with an infeasible start
// at (5, ...), so solvers must work their way into the box.
func BoxedSphere(dim int) *Func {
	if dim <= 0 {
		dim = 2
	}
	start := make([]float64, dim)
	lower := make([]float64, dim)
	upper := make([]float64, dim)
	for i := range start {
		start[i] = 5
		lower[i] = -1
		upper[i] = 4
	}
	f := NewFunc(start, func(x []float64) float64 {
		return floats.Dot(x, x)
	})
	f.SetBounds(lower, upper)
	return f
}

// Ring minimizes x₀+x₁ subject to x₀²+x₁² ≤ 1, minimum −√2 at
// (−√2/2, −√2/2), infeasible start at (1, 1).
func Ring() *Func {
	f := NewFunc([]float64{1, 1}, func(x []float64) float64 {
		return x[0] + x[1]
	})
	f.SetConstraints(func(x []float64) []float64 {
		return []float64{x[0]*x[0] + x[1]*x[1]}
	}, []float64{math.Inf(-1)}, []float64{1})
	return f
}

var builders = map[string]func(dim int) (*Func, error){
	"sphere": func(dim int) (*Func, error) {
		return Sphere(dim), nil
	},
	"parabola": func(dim int) (*Func, error) {
		if dim > 1 {
			return nil, fmt.Errorf("parabola is one-dimensional, got dim %d", dim)
		}
		return Parabola(), nil
	},
	"rosenbrock": func(dim int) (*Func, error) {
		if dim == 1 {
			return nil, fmt.Errorf("rosenbrock needs at least 2 dimensions")
		}
		return Rosenbrock(dim), nil
	},
	"rastrigin": func(dim int) (*Func, error) {
		return Rastrigin(dim), nil
	},
	"boxed-sphere": func(dim int) (*Func, error) {
		return BoxedSphere(dim), nil
	},
	"ring": func(dim int) (*Func, error) {
		if dim > 0 && dim != 2 {
			return nil, fmt.Errorf("ring is two-dimensional, got dim %d", dim)
		}
		return Ring(), nil
	},
}

// ByName builds a suite problem by name. dim <= 0 selects the problem's
// default dimension.
func ByName(name string, dim int) (*Func, error) {
	builder, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("unknown problem %q (known: %v)", name, Names())
	}
	return builder(dim)
}

// Names returns the registered problem names, sorted.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
