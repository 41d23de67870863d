package solver

// Status identifies why a solve terminated.
type Status int

const (
	// Unknown is the zero value; a finished solve never reports it.
	Unknown Status = iota

	// Converged means the engine met its convergence test (for the simplex
	// engine, the best-to-worst vertex distance fell below the tolerance).
	Converged

	// SmallStep means the mesh size fell to the step tolerance. Only the
	// pattern engine with step-size stopping enabled reports it.
	SmallStep

	// Stalled means no improvement was found and the stagnation measure fell
	// below the function tolerance.
	Stalled

	// MaxEvaluations means the evaluation budget was exhausted.
	MaxEvaluations

	// MaxTime means the wall-clock budget was exhausted.
	MaxTime

	// MaxIterations means the iteration budget was exhausted.
	MaxIterations
)

var statusNames = map[Status]string{
	Unknown:        "unknown",
	Converged:      "converged",
	SmallStep:      "small-step",
	Stalled:        "stalled",
	MaxEvaluations: "max-evaluations",
	MaxTime:        "max-time",
	MaxIterations:  "max-iterations",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the status by name so JSON records stay readable.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText. Unrecognized
// names decode as Unknown rather than failing the surrounding record.
func (s *Status) UnmarshalText(text []byte) error {
	name := string(text)
	for status, n := range statusNames {
		if n == name {
			*s = status
			return nil
		}
	}
	*s = Unknown
	return nil
}
