package solver

// TraceEntry is one observational record per engine iteration. The engines
// emit entries and never read them back.
type TraceEntry struct {
	Iteration   int     `json:"iteration"`
	Evaluations int     `json:"evaluations"`
	F           float64 `json:"f"`
	Violation   float64 `json:"violation"`

	// MeshSize and Penalty are filled by the pattern engine.
	MeshSize float64 `json:"meshSize,omitempty"`
	Penalty  float64 `json:"penalty,omitempty"`

	// Diameter is the best-to-worst vertex distance, filled by the simplex
	// engine.
	Diameter float64 `json:"diameter,omitempty"`

	// Note is a short human-readable annotation of what the iteration did
	// (accepted, rejected, reflect, expand, shrink, restart, ...).
	Note string `json:"note,omitempty"`
}

// Tracer receives one entry per iteration. Entries are emitted from inside
// the solve loop, so implementations should return quickly.
type Tracer interface {
	Trace(entry TraceEntry)
}

// TracerFunc adapts a function to the Tracer interface.
type TracerFunc func(TraceEntry)

func (f TracerFunc) Trace(entry TraceEntry) { f(entry) }

// MultiTracer fans entries out to several tracers in order.
func MultiTracer(tracers ...Tracer) Tracer {
	return multiTracer(tracers)
}

type multiTracer []Tracer

func (m multiTracer) Trace(entry TraceEntry) {
	for _, t := range m {
		t.Trace(entry)
	}
}
