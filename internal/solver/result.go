package solver

import "time"

// Result is the final report of a solve.
type Result struct {
	// Status says why the solve terminated. Budget exhaustion is a normal
	// status, not an error.
	Status Status `json:"status"`

	// X is the best point found.
	X []float64 `json:"x"`

	// F is the objective value at X.
	F float64 `json:"f"`

	// Violation is the feasibility measure at X: zero iff X satisfies all
	// bounds and constraints. Only the pattern engine fills it; the simplex
	// engine handles the unconstrained case and always reports zero.
	Violation float64 `json:"violation"`

	// Iterations and Evaluations are the final counter values.
	Iterations  int `json:"iterations"`
	Evaluations int `json:"evaluations"`

	// Restarts counts oriented restarts. Simplex engine only.
	Restarts int `json:"restarts,omitempty"`

	// Elapsed is the wall-clock duration of the solve.
	Elapsed time.Duration `json:"elapsed"`
}
