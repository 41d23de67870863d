package solver

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/dfsolve/internal/problem"
)

// PatternOptions configure the orthogonal pattern-search engine.
type PatternOptions struct {
	// InitialMesh is the starting mesh size Δ.
	InitialMesh float64 `json:"initialMesh,omitempty"`

	// InitialPenalty is the starting penalty weight μ, at least 1.
	InitialPenalty float64 `json:"initialPenalty,omitempty"`

	// Greedy scans all 2n poll directions and keeps the global best.
	// The default opportunistic poll stops at the first improvement.
	Greedy bool `json:"greedy,omitempty"`

	// StepSizeStop enables termination once the mesh size falls to
	// StepTolerance. When disabled the mesh is clamped to machine epsilon
	// instead.
	StepSizeStop bool `json:"stepSizeStop,omitempty"`

	// StepTolerance is the mesh size at which StepSizeStop fires.
	StepTolerance float64 `json:"stepTolerance,omitempty"`

	// Seed seeds the direction source. Zero derives a seed from the clock.
	Seed int64 `json:"seed,omitempty"`

	// Source overrides the direction source; Seed is ignored when set.
	// Tests use this to supply deterministic directions.
	Source VectorSource `json:"-"`
}

// DefaultPatternOptions returns the engine defaults.
func DefaultPatternOptions() PatternOptions {
	return PatternOptions{
		InitialMesh:    1,
		InitialPenalty: 1,
		StepTolerance:  1e-8,
	}
}

// Pattern is a mesh-adaptive orthogonal pattern-search engine (MADS family).
//
// Each iteration draws a fresh Gaussian vector q and polls the 2n trial
// points x ± Δ·h_i, where h_i are the columns of the orthogonal reflection
// basis H = qᵀq·I − 2·q·qᵀ. Comparisons use the penalty merit
// φ(x) = f(x) + μ·P(x), so infeasible incumbents are driven back toward the
// feasible set as μ grows. Successful iterations expand the mesh by 4^seq
// for a success streak of length seq; failures contract it by 2^(1/|seq|)
// and double μ while the incumbent is infeasible.
type Pattern struct {
	settings Settings
	opts     PatternOptions
	tracer   Tracer
}

// NewPattern creates the engine. Zero-valued options fall back to defaults.
func NewPattern(settings Settings, opts PatternOptions) *Pattern {
	if opts.InitialMesh <= 0 {
		opts.InitialMesh = 1
	}
	if opts.InitialPenalty < 1 {
		opts.InitialPenalty = 1
	}
	if opts.StepTolerance <= 0 {
		opts.StepTolerance = 1e-8
	}
	return &Pattern{settings: settings, opts: opts}
}

// SetTracer installs an iteration tracer.
func (p *Pattern) SetTracer(t Tracer) { p.tracer = t }

func (p *Pattern) Name() string { return "pattern" }

// patternState is the per-run mutable state, owned exclusively by Solve.
type patternState struct {
	x    []float64
	fx   float64
	px   float64
	phix float64
	mesh float64
	mu   float64
	seq  int
	iter int

	// stall is the stagnation measure compared against the function
	// tolerance when an iteration fails. Nothing in the poll loop updates
	// it, so the stalled exit cannot fire naturally; the tests pin this.
	stall float64

	start time.Time
}

// Solve runs the pattern search from the model's starting point.
func (p *Pattern) Solve(m problem.Model) (*Result, error) {
	n := m.Dim()
	if n < 1 {
		return nil, fmt.Errorf("pattern search needs at least 1 variable, got %d", n)
	}

	src := p.opts.Source
	if src == nil {
		src = NewGaussianSource(p.opts.Seed)
	}

	st := &patternState{
		x:     append([]float64(nil), m.Start()...),
		mesh:  p.opts.InitialMesh,
		mu:    p.opts.InitialPenalty,
		stall: math.Inf(1),
		start: time.Now(),
	}
	st.fx = m.Objective(st.x)
	st.px = violation(m, st.x)
	st.phix = merit(st.fx, st.px, st.mu)

	slog.Info("Starting pattern search",
		"dim", n,
		"initial_f", st.fx,
		"initial_violation", st.px,
		"greedy", p.opts.Greedy,
	)

	status := p.check(st, true, m.Evaluations())
	for status == Unknown {
		improved := p.poll(m, st, src)
		st.iter++
		p.emit(st, improved, m.Evaluations())
		status = p.check(st, improved, m.Evaluations())
	}

	elapsed := time.Since(st.start)
	slog.Info("Pattern search complete",
		"status", status.String(),
		"f", st.fx,
		"violation", st.px,
		"iterations", st.iter,
		"evaluations", m.Evaluations(),
		"elapsed", elapsed,
	)

	return &Result{
		Status:      status,
		X:           append([]float64(nil), st.x...),
		F:           st.fx,
		Violation:   st.px,
		Iterations:  st.iter,
		Evaluations: m.Evaluations(),
		Elapsed:     elapsed,
	}, nil
}

// poll runs one iteration: scan the 2n orthogonal directions built from a
// fresh Gaussian vector, accept the best improving trial, then adapt the
// mesh size and penalty weight. Returns whether a trial improved the
// incumbent merit.
func (p *Pattern) poll(m problem.Model, st *patternState, src VectorSource) bool {
	n := len(st.x)
	q := src.NextVector(n)
	qq := floats.Dot(q, q)

	var (
		improved bool
		bestPhi  = st.phix
		bestX    []float64
		bestF    float64
		bestP    float64
	)

scan:
	for _, s := range []float64{1, -1} {
		for i := 0; i < n; i++ {
			// Column i of s·Δ·H without materializing H:
			// xt = x − 2·s·Δ·q[i]·q, then xt[i] += s·Δ·qᵀq.
			xt := make([]float64, n)
			copy(xt, st.x)
			floats.AddScaled(xt, -2*s*st.mesh*q[i], q)
			xt[i] += s * st.mesh * qq

			ft := m.Objective(xt)
			pt := violation(m, xt)
			phit := merit(ft, pt, st.mu)
			if phit < bestPhi {
				bestPhi, bestX, bestF, bestP = phit, xt, ft, pt
				improved = true
				if !p.opts.Greedy {
					break scan
				}
			}
		}
	}

	if improved {
		st.x = bestX
		st.fx = bestF
		st.px = bestP
		st.seq = max(st.seq+1, 1)
		st.mesh *= math.Pow(4, float64(st.seq))
	} else {
		st.seq = min(st.seq-1, -1)
		st.mesh /= math.Pow(2, -1/float64(st.seq))
		if st.px > 0 {
			st.mu = math.Min(st.mu*2, 1/eps)
		}
	}

	if !p.opts.StepSizeStop && st.mesh < eps {
		st.mesh = eps
	}
	st.phix = merit(st.fx, st.px, st.mu)

	slog.Debug("Poll step",
		"iteration", st.iter,
		"improved", improved,
		"f", st.fx,
		"violation", st.px,
		"mesh", st.mesh,
		"penalty", st.mu,
		"seq", st.seq,
	)
	return improved
}

// check evaluates the termination predicate. It runs before the first
// iteration and after every iteration, always after the evaluations it
// inspects ("evaluated once, then checked").
func (p *Pattern) check(st *patternState, improved bool, evals int) Status {
	if p.opts.StepSizeStop && st.mesh <= p.opts.StepTolerance {
		return SmallStep
	}
	if !improved && st.stall <= p.settings.ftol(st.fx) {
		return Stalled
	}
	if limit := p.settings.MaxEvaluations; limit >= 0 && evals >= limit {
		return MaxEvaluations
	}
	if limit := p.settings.MaxSeconds; limit >= 0 && time.Since(st.start).Seconds() >= limit {
		return MaxTime
	}
	if limit := p.settings.MaxIterations; limit >= 0 && st.iter >= limit {
		return MaxIterations
	}
	return Unknown
}

func (p *Pattern) emit(st *patternState, improved bool, evals int) {
	if p.tracer == nil {
		return
	}
	note := "rejected"
	if improved {
		note = "accepted"
	}
	p.tracer.Trace(TraceEntry{
		Iteration:   st.iter,
		Evaluations: evals,
		F:           st.fx,
		Violation:   st.px,
		MeshSize:    st.mesh,
		Penalty:     st.mu,
		Note:        note,
	})
}
