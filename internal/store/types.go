package store

import (
	"fmt"
	"time"

	"github.com/cwbudde/dfsolve/internal/problem"
	"github.com/cwbudde/dfsolve/internal/solver"
)

// RunConfig holds the configuration for a single optimization run.
// It is what clients POST to the server, what the CLI assembles from flags,
// and what gets archived verbatim next to the result.
type RunConfig struct {
	// Problem is the name of a problem from the built-in suite.
	Problem string `json:"problem"`

	// Dim is the problem dimension. Zero selects the problem's default.
	Dim int `json:"dim,omitempty"`

	// Solver selects the engine, "pattern" or "simplex".
	Solver string `json:"solver"`

	// Settings are the shared stopping settings. Nil selects the defaults.
	Settings *solver.Settings `json:"settings,omitempty"`

	// Pattern holds the pattern search options. Nil selects the defaults.
	// Ignored unless Solver is "pattern".
	Pattern *solver.PatternOptions `json:"pattern,omitempty"`

	// Simplex holds the Nelder-Mead options. Nil selects the defaults.
	// Ignored unless Solver is "simplex".
	Simplex *solver.SimplexOptions `json:"simplex,omitempty"`
}

// ApplyDefaults fills in defaults for unset fields. A provided options
// block is taken as given; only nil blocks are replaced wholesale, so a
// client that sets any field of a block owns all of its fields.
func (c *RunConfig) ApplyDefaults() {
	if c.Solver == "" {
		c.Solver = "pattern"
	}
	if c.Settings == nil {
		s := solver.DefaultSettings()
		c.Settings = &s
	}
	if c.Pattern == nil {
		p := solver.DefaultPatternOptions()
		c.Pattern = &p
	}
	if c.Simplex == nil {
		s := solver.DefaultSimplexOptions()
		c.Simplex = &s
	}
}

// Validate checks the configuration for structural problems.
// It does not require ApplyDefaults to have been called first.
func (c *RunConfig) Validate() error {
	if c.Problem == "" {
		return &ValidationError{Field: "Problem", Reason: "cannot be empty"}
	}
	if c.Dim < 0 {
		return &ValidationError{Field: "Dim", Reason: "cannot be negative"}
	}
	if _, err := problem.ByName(c.Problem, c.Dim); err != nil {
		return &ValidationError{Field: "Problem", Reason: err.Error()}
	}
	if c.Solver != "" && !solver.Known(c.Solver) {
		return &ValidationError{
			Field:  "Solver",
			Reason: fmt.Sprintf("unknown solver %q (known: %v)", c.Solver, solver.Names()),
		}
	}
	return nil
}

// HasBudget reports whether at least one finite stopping budget is set.
// The server requires this so background jobs cannot run unbounded; with
// nil Settings the defaults apply, which include an iteration budget.
func (c *RunConfig) HasBudget() bool {
	if c.Settings == nil {
		return true
	}
	return c.Settings.MaxEvaluations >= 0 || c.Settings.MaxSeconds >= 0 || c.Settings.MaxIterations >= 0
}

// RunRecord is the archived form of a completed run: the configuration
// that produced it, the final result, and when it was written.
type RunRecord struct {
	// ID is the unique identifier for this run
	ID string `json:"id"`

	// Config is the configuration the run was started with
	Config RunConfig `json:"config"`

	// Result is the final solver result
	Result solver.Result `json:"result"`

	// Created records when this record was written
	Created time.Time `json:"created"`
}

// NewRunRecord builds an archive record for a finished run.
func NewRunRecord(runID string, config RunConfig, result solver.Result) *RunRecord {
	return &RunRecord{
		ID:      runID,
		Config:  config,
		Result:  result,
		Created: time.Now(),
	}
}

// ToInfo converts a full RunRecord to RunInfo (metadata only).
func (r *RunRecord) ToInfo() RunInfo {
	return RunInfo{
		ID:          r.ID,
		Problem:     r.Config.Problem,
		Solver:      r.Config.Solver,
		Status:      r.Result.Status,
		F:           r.Result.F,
		Evaluations: r.Result.Evaluations,
		Created:     r.Created,
	}
}

// Validate checks if the record has valid data.
// Returns an error if any required field is missing or invalid.
func (r *RunRecord) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "ID", Reason: "cannot be empty"}
	}
	if err := r.Config.Validate(); err != nil {
		return err
	}
	if r.Result.X == nil {
		return &ValidationError{Field: "Result.X", Reason: "cannot be nil"}
	}
	if r.Created.IsZero() {
		return &ValidationError{Field: "Created", Reason: "cannot be zero"}
	}
	return nil
}

// RunInfo contains metadata about an archived run without the full record.
// Used for listing runs efficiently without loading every solution vector.
type RunInfo struct {
	// ID is the unique identifier for this run
	ID string `json:"id"`

	// Problem is the problem name the run solved
	Problem string `json:"problem"`

	// Solver is the engine that produced the result
	Solver string `json:"solver"`

	// Status is the final solver status
	Status solver.Status `json:"status"`

	// F is the best objective value found
	F float64 `json:"f"`

	// Evaluations is the total objective evaluation count
	Evaluations int `json:"evaluations"`

	// Created records when the record was written
	Created time.Time `json:"created"`
}

// ValidationError represents a run configuration or record validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
