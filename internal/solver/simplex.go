package solver

import (
	"cmp"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/dfsolve/internal/problem"
)

// SimplexOptions configure the Nelder-Mead engine.
type SimplexOptions struct {
	// Reflection, Expansion, OutsideContraction and InsideContraction are
	// the trial coefficients applied along the worst-to-centroid direction.
	Reflection         float64 `json:"reflection,omitempty"`
	Expansion          float64 `json:"expansion,omitempty"`
	OutsideContraction float64 `json:"outsideContraction,omitempty"`
	InsideContraction  float64 `json:"insideContraction,omitempty"`

	// Tolerance stops the solve once the best and worst vertices are closer
	// than this.
	Tolerance float64 `json:"tolerance,omitempty"`

	// OrientedRestart enables the degenerate-simplex detector.
	OrientedRestart bool `json:"orientedRestart,omitempty"`

	// MaxRestarts bounds how many oriented restarts may fire.
	MaxRestarts int `json:"maxRestarts,omitempty"`

	// SufficientDecrease is the α coefficient of the restart test.
	SufficientDecrease float64 `json:"sufficientDecrease,omitempty"`

	// InitialSimplex supplies explicit starting vertices; it must hold
	// exactly dim+1 points of length dim. Empty builds a simplex from the
	// model's starting point.
	InitialSimplex [][]float64 `json:"initialSimplex,omitempty"`
}

// DefaultSimplexOptions returns the engine defaults: standard reflection
// coefficients and the oriented restart enabled with a budget of 3.
func DefaultSimplexOptions() SimplexOptions {
	return SimplexOptions{
		Reflection:         -1,
		Expansion:          -2,
		OutsideContraction: -0.5,
		InsideContraction:  0.5,
		Tolerance:          1e-8,
		OrientedRestart:    true,
		MaxRestarts:        3,
		SufficientDecrease: 1e-4,
	}
}

// Simplex is a Nelder-Mead engine with an oriented-restart degeneracy
// detector.
//
// The simplex is kept sorted ascending by value after every modification.
// Each iteration reflects the worst vertex through the centroid of the
// rest, optionally expanding or contracting, and shrinks toward the best
// vertex when no trial is acceptable. When the oriented restart is enabled,
// a simplex gradient estimate ϕ is solved from Vᵀϕ = δ each iteration; a
// decrease of the mean objective too small against ‖ϕ‖² marks the simplex
// as degenerate and rebuilds it around the best vertex, oriented by the
// signs of ϕ.
//
// The engine handles the unconstrained case only; constraints on the model
// are ignored and the reported violation is always zero.
type Simplex struct {
	settings Settings
	opts     SimplexOptions
	tracer   Tracer
}

// NewSimplex creates the engine. Zero-valued coefficients fall back to
// defaults (a zero coefficient would collapse every trial onto the
// centroid).
func NewSimplex(settings Settings, opts SimplexOptions) *Simplex {
	def := DefaultSimplexOptions()
	if opts.Reflection == 0 {
		opts.Reflection = def.Reflection
	}
	if opts.Expansion == 0 {
		opts.Expansion = def.Expansion
	}
	if opts.OutsideContraction == 0 {
		opts.OutsideContraction = def.OutsideContraction
	}
	if opts.InsideContraction == 0 {
		opts.InsideContraction = def.InsideContraction
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = def.Tolerance
	}
	if opts.MaxRestarts <= 0 {
		opts.MaxRestarts = def.MaxRestarts
	}
	if opts.SufficientDecrease <= 0 {
		opts.SufficientDecrease = def.SufficientDecrease
	}
	return &Simplex{settings: settings, opts: opts}
}

// SetTracer installs an iteration tracer.
func (s *Simplex) SetTracer(t Tracer) { s.tracer = t }

func (s *Simplex) Name() string { return "simplex" }

// vertex pairs a point with its objective value.
type vertex struct {
	x []float64
	f float64
}

// simplexState is the per-run mutable state, owned exclusively by Solve.
// verts is sorted ascending by value: verts[0] best, verts[n] worst.
type simplexState struct {
	verts    []vertex
	iter     int
	restarts int
	note     string

	// prevMean is the previous sample of the mean objective, taken at the
	// restart check of each iteration.
	prevMean float64
	hasMean  bool

	start time.Time
}

// Solve runs the simplex search. A supplied initial simplex with the wrong
// vertex count or point length is a configuration error, reported before
// any evaluation.
func (s *Simplex) Solve(m problem.Model) (*Result, error) {
	n := m.Dim()
	if n < 1 {
		return nil, fmt.Errorf("simplex search needs at least 1 variable, got %d", n)
	}
	if len(s.opts.InitialSimplex) > 0 {
		if len(s.opts.InitialSimplex) != n+1 {
			return nil, fmt.Errorf("initial simplex needs %d vertices for %d variables, got %d",
				n+1, n, len(s.opts.InitialSimplex))
		}
		for i, pt := range s.opts.InitialSimplex {
			if len(pt) != n {
				return nil, fmt.Errorf("initial simplex vertex %d has %d coordinates, want %d",
					i, len(pt), n)
			}
		}
	}

	st := &simplexState{
		verts: s.initialVertices(m, n),
		start: time.Now(),
	}
	for i := range st.verts {
		st.verts[i].f = m.Objective(st.verts[i].x)
	}
	sortVertices(st.verts)

	slog.Info("Starting simplex search",
		"dim", n,
		"initial_f", st.verts[0].f,
		"oriented_restart", s.opts.OrientedRestart,
	)

	status := s.check(st, m.Evaluations())
	for status == Unknown {
		s.step(m, st)
		st.iter++
		s.emit(st, m.Evaluations())
		status = s.check(st, m.Evaluations())
	}

	elapsed := time.Since(st.start)
	best := st.verts[0]
	slog.Info("Simplex search complete",
		"status", status.String(),
		"f", best.f,
		"iterations", st.iter,
		"restarts", st.restarts,
		"evaluations", m.Evaluations(),
		"elapsed", elapsed,
	)

	return &Result{
		Status:      status,
		X:           append([]float64(nil), best.x...),
		F:           best.f,
		Iterations:  st.iter,
		Evaluations: m.Evaluations(),
		Restarts:    st.restarts,
		Elapsed:     elapsed,
	}, nil
}

// initialVertices builds the starting simplex: the supplied one, or the
// starting point plus n copies each perturbed by 5% along one coordinate
// (a fixed epsilon power where the coordinate is zero).
func (s *Simplex) initialVertices(m problem.Model, n int) []vertex {
	verts := make([]vertex, n+1)
	if len(s.opts.InitialSimplex) > 0 {
		for i, pt := range s.opts.InitialSimplex {
			verts[i].x = append([]float64(nil), pt...)
		}
		return verts
	}

	start := m.Start()
	zeroDelta := math.Pow(eps, 0.25)
	verts[0].x = append([]float64(nil), start...)
	for i := 0; i < n; i++ {
		x := append([]float64(nil), start...)
		if x[i] != 0 {
			x[i] *= 1.05
		} else {
			x[i] = zeroDelta
		}
		verts[i+1].x = x
	}
	return verts
}

// step runs one iteration: reflect the worst vertex through the centroid of
// the rest, expand or contract as the reflected value dictates, run the
// oriented-restart check, and shrink toward the best vertex if nothing was
// accepted.
func (s *Simplex) step(m problem.Model, st *simplexState) {
	n := len(st.verts) - 1
	best := st.verts[0]
	secondWorst := st.verts[n-1]
	worst := st.verts[n]

	// Centroid of the n best vertices.
	c := make([]float64, n)
	for _, v := range st.verts[:n] {
		floats.Add(c, v.x)
	}
	floats.Scale(1/float64(n), c)

	// Trial point at coefficient coef along the worst-to-centroid line.
	trial := func(coef float64) ([]float64, float64) {
		xt := make([]float64, n)
		for j := range xt {
			xt[j] = c[j] + coef*(worst.x[j]-c[j])
		}
		return xt, m.Objective(xt)
	}

	xr, fr := trial(s.opts.Reflection)

	var accepted *vertex
	switch {
	case fr < best.f:
		xe, fe := trial(s.opts.Expansion)
		if fe < fr {
			accepted, st.note = &vertex{xe, fe}, "expand"
		} else {
			accepted, st.note = &vertex{xr, fr}, "reflect"
		}
	case fr < secondWorst.f:
		accepted, st.note = &vertex{xr, fr}, "reflect"
	case fr < worst.f:
		if xo, fo := trial(s.opts.OutsideContraction); fo < fr {
			accepted, st.note = &vertex{xo, fo}, "contract-out"
		}
	default:
		if xi, fi := trial(s.opts.InsideContraction); fi < worst.f {
			accepted, st.note = &vertex{xi, fi}, "contract-in"
		}
	}

	shrink := accepted == nil
	if accepted != nil {
		st.verts[n] = *accepted
	}

	if s.opts.OrientedRestart && st.restarts < s.opts.MaxRestarts {
		if phi, flagged := s.checkDegeneracy(st); flagged {
			s.restart(m, st, phi)
			shrink = false
			st.note = "restart"
		}
	}

	if shrink {
		for i := 1; i <= n; i++ {
			v := &st.verts[i]
			for j := range v.x {
				v.x[j] = st.verts[0].x[j] + 0.5*(v.x[j]-st.verts[0].x[j])
			}
			v.f = m.Objective(v.x)
		}
		st.note = "shrink"
	}

	sortVertices(st.verts)

	slog.Debug("Simplex step",
		"iteration", st.iter,
		"move", st.note,
		"best_f", st.verts[0].f,
		"diameter", diameter(st.verts),
	)
}

// checkDegeneracy samples the mean objective and applies the
// sufficient-decrease-violation test against the simplex gradient estimate.
// The returned gradient orients the restart; it is nil when the solve was
// singular (conservatively treated as degenerate).
func (s *Simplex) checkDegeneracy(st *simplexState) ([]float64, bool) {
	mean := 0.0
	for _, v := range st.verts {
		mean += v.f
	}
	mean /= float64(len(st.verts))

	if !st.hasMean {
		st.prevMean, st.hasMean = mean, true
		return nil, false
	}
	diff := mean - st.prevMean
	st.prevMean = mean

	if diff >= 0 {
		return nil, false
	}
	phi, ok := simplexGradient(st.verts)
	if !ok {
		return nil, true
	}
	return phi, diff >= -s.opts.SufficientDecrease*floats.Dot(phi, phi)
}

// simplexGradient solves Vᵀϕ = δ for the simplex gradient estimate, where
// V's columns are the vertex displacements from the best vertex and δ the
// matching objective differences. ok is false when the system is singular.
func simplexGradient(verts []vertex) (phi []float64, ok bool) {
	n := len(verts) - 1
	a := mat.NewDense(n, n, nil)
	b := mat.NewVecDense(n, nil)
	for i := 1; i <= n; i++ {
		for j := 0; j < n; j++ {
			a.Set(i-1, j, verts[i].x[j]-verts[0].x[j])
		}
		b.SetVec(i-1, verts[i].f-verts[0].f)
	}
	var v mat.VecDense
	if err := v.SolveVec(a, b); err != nil {
		return nil, false
	}
	return v.RawVector().Data, true
}

// restart replaces every non-best vertex j with the best vertex perturbed
// along coordinate j−1 by half the minimum edge length, oriented by the
// sign of ϕ[j−1] (positive when ϕ is unavailable), then re-evaluates.
func (s *Simplex) restart(m problem.Model, st *simplexState, phi []float64) {
	n := len(st.verts) - 1
	best := st.verts[0]

	sigma := math.Inf(1)
	for i := 1; i <= n; i++ {
		if d := floats.Distance(best.x, st.verts[i].x, 2); d < sigma {
			sigma = d
		}
	}

	for i := 1; i <= n; i++ {
		x := append([]float64(nil), best.x...)
		step := sigma / 2
		if phi != nil && phi[i-1] < 0 {
			step = -step
		}
		x[i-1] += step
		st.verts[i] = vertex{x: x, f: m.Objective(x)}
	}
	st.restarts++

	slog.Debug("Oriented restart",
		"iteration", st.iter,
		"restarts", st.restarts,
		"edge", sigma,
	)
}

// check evaluates the termination predicate, before the first iteration and
// after every iteration ("evaluated once, then checked").
func (s *Simplex) check(st *simplexState, evals int) Status {
	if diameter(st.verts) < s.opts.Tolerance {
		return Converged
	}
	if limit := s.settings.MaxEvaluations; limit >= 0 && evals >= limit {
		return MaxEvaluations
	}
	if limit := s.settings.MaxSeconds; limit >= 0 && time.Since(st.start).Seconds() >= limit {
		return MaxTime
	}
	if limit := s.settings.MaxIterations; limit >= 0 && st.iter >= limit {
		return MaxIterations
	}
	return Unknown
}

func (s *Simplex) emit(st *simplexState, evals int) {
	if s.tracer == nil {
		return
	}
	s.tracer.Trace(TraceEntry{
		Iteration:   st.iter,
		Evaluations: evals,
		F:           st.verts[0].f,
		Diameter:    diameter(st.verts),
		Note:        st.note,
	})
}

// diameter is the distance between the best and worst vertices.
func diameter(verts []vertex) float64 {
	return floats.Distance(verts[0].x, verts[len(verts)-1].x, 2)
}

func sortVertices(verts []vertex) {
	slices.SortStableFunc(verts, func(a, b vertex) int {
		return cmp.Compare(a.f, b.f)
	})
}
