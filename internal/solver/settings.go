package solver

import "math"

// eps is the double-precision machine epsilon, used as the mesh-size floor
// and the penalty-weight cap.
var eps = math.Nextafter(1, 2) - 1

// Settings are the budget and tolerance options shared by both engines.
// Each limit is independently disabled by a negative value.
type Settings struct {
	// FTolAbs and FTolRel define the function tolerance for the stagnation
	// test: the threshold at objective value f is max(FTolAbs, FTolRel·|f|).
	FTolAbs float64 `json:"ftolAbs"`
	FTolRel float64 `json:"ftolRel"`

	// MaxEvaluations stops the solve once the model's evaluation counter
	// reaches it. Negative disables.
	MaxEvaluations int `json:"maxEvaluations"`

	// MaxSeconds stops the solve once that much wall-clock time has passed.
	// Negative disables.
	MaxSeconds float64 `json:"maxSeconds"`

	// MaxIterations stops the solve after that many iterations. Zero means
	// no updates at all; negative disables.
	MaxIterations int `json:"maxIterations"`
}

// DefaultSettings returns the shared defaults: evaluation and time budgets
// disabled, 1000 iterations.
func DefaultSettings() Settings {
	return Settings{
		FTolAbs:        1e-12,
		FTolRel:        1e-8,
		MaxEvaluations: -1,
		MaxSeconds:     -1,
		MaxIterations:  1000,
	}
}

// ftol is the stagnation threshold around objective value f.
func (s Settings) ftol(f float64) float64 {
	return math.Max(s.FTolAbs, s.FTolRel*math.Abs(f))
}
