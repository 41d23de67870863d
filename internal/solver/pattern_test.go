package solver

import (
	"math"
	"testing"
	"time"

	"github.com/cwbudde/dfsolve/internal/problem"
)

// fixedSource always hands out copies of the same direction vector.
type fixedSource struct {
	q []float64
}

func (f *fixedSource) NextVector(n int) []float64 {
	return append([]float64(nil), f.q[:n]...)
}

// captureTracer records every emitted entry.
type captureTracer struct {
	entries []TraceEntry
}

func (c *captureTracer) Trace(entry TraceEntry) {
	c.entries = append(c.entries, entry)
}

// quadratic1D is (x−3)² started at x0, the 1-D benchmark shape.
func quadratic1D(x0 float64) *problem.Func {
	return problem.NewFunc([]float64{x0}, func(x []float64) float64 {
		d := x[0] - 3
		return d * d
	})
}

func TestPattern_FindsQuadraticMinimum(t *testing.T) {
	// With the constant direction q=1 the 1-D poll points are exactly
	// x ± Δ, so the walk from 0 lands on the minimum at 3 and stays.
	settings := DefaultSettings()
	settings.MaxIterations = 100

	p := NewPattern(settings, PatternOptions{Source: &fixedSource{q: []float64{1}}})
	tracer := &captureTracer{}
	p.SetTracer(tracer)

	res, err := p.Solve(quadratic1D(0))
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	if res.Status != MaxIterations {
		t.Errorf("Expected status %v, got %v", MaxIterations, res.Status)
	}
	if res.X[0] != 3 {
		t.Errorf("Expected x=3, got %v", res.X[0])
	}
	if res.F != 0 {
		t.Errorf("Expected f=0, got %v", res.F)
	}
	for i, e := range tracer.entries {
		if e.Violation != 0 {
			t.Fatalf("Entry %d: expected zero violation on an unconstrained problem, got %v", i, e.Violation)
		}
	}
}

func TestPattern_ConvergesOnQuadratic(t *testing.T) {
	settings := DefaultSettings()
	settings.MaxIterations = 3000

	p := NewPattern(settings, PatternOptions{Seed: 42})
	res, err := p.Solve(quadratic1D(0))
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	if res.Status != MaxIterations {
		t.Errorf("Expected status %v, got %v", MaxIterations, res.Status)
	}
	if res.F > 1e-2 {
		t.Errorf("Expected f near 0 after 3000 iterations, got %v at x=%v", res.F, res.X)
	}
	if res.Violation != 0 {
		t.Errorf("Expected zero violation, got %v", res.Violation)
	}
}

func TestPattern_OpportunisticStopsAtFirstImprovement(t *testing.T) {
	settings := DefaultSettings()
	settings.MaxIterations = 1

	// With q=(1,0) the first scanned trial from (1.5, 1.5) is (0.5, 1.5),
	// which already improves the sphere, so the opportunistic poll stops
	// after a single evaluation.
	opp := NewPattern(settings, PatternOptions{Source: &fixedSource{q: []float64{1, 0}}})
	res, err := opp.Solve(problem.Sphere(2))
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	if res.Evaluations != 2 {
		t.Errorf("Opportunistic poll: expected 2 evaluations (initial + first trial), got %d", res.Evaluations)
	}
	if res.X[0] != 0.5 || res.X[1] != 1.5 {
		t.Errorf("Expected accepted point (0.5, 1.5), got %v", res.X)
	}
	if res.F != 2.5 {
		t.Errorf("Expected f=2.5, got %v", res.F)
	}
}

func TestPattern_GreedyScansAllDirections(t *testing.T) {
	settings := DefaultSettings()
	settings.MaxIterations = 1

	greedy := NewPattern(settings, PatternOptions{
		Greedy: true,
		Source: &fixedSource{q: []float64{1, 0}},
	})
	res, err := greedy.Solve(problem.Sphere(2))
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	// Initial evaluation plus all 2n=4 poll directions.
	if res.Evaluations != 5 {
		t.Errorf("Greedy poll: expected 5 evaluations, got %d", res.Evaluations)
	}
	// The tying trial (1.5, 0.5) must not displace the first best found.
	if res.X[0] != 0.5 || res.X[1] != 1.5 {
		t.Errorf("Expected accepted point (0.5, 1.5), got %v", res.X)
	}
}

func TestPattern_MeshGrowsOnSuccessShrinksOnFailure(t *testing.T) {
	settings := DefaultSettings()
	settings.MaxIterations = 40

	opts := DefaultPatternOptions()
	opts.Seed = 7
	p := NewPattern(settings, opts)
	tracer := &captureTracer{}
	p.SetTracer(tracer)

	if _, err := p.Solve(problem.Sphere(3)); err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if len(tracer.entries) != 40 {
		t.Fatalf("Expected 40 trace entries, got %d", len(tracer.entries))
	}

	prev := opts.InitialMesh
	for i, e := range tracer.entries {
		switch e.Note {
		case "accepted":
			if e.MeshSize <= prev {
				t.Errorf("Entry %d: accepted iteration should grow the mesh, %v -> %v", i, prev, e.MeshSize)
			}
		case "rejected":
			if e.MeshSize >= prev && e.MeshSize != eps {
				t.Errorf("Entry %d: rejected iteration should shrink the mesh, %v -> %v", i, prev, e.MeshSize)
			}
		default:
			t.Errorf("Entry %d: unexpected note %q", i, e.Note)
		}
		if e.Penalty != 1 {
			t.Errorf("Entry %d: penalty should stay 1 on a feasible run, got %v", i, e.Penalty)
		}
		prev = e.MeshSize
	}
}

func TestPattern_MeshClampedAtFloor(t *testing.T) {
	settings := DefaultSettings()
	settings.MaxIterations = 3

	// Starting at the minimum every poll fails, and without step-size
	// stopping the mesh may not drop below machine epsilon.
	p := NewPattern(settings, PatternOptions{
		InitialMesh: eps,
		Source:      &fixedSource{q: []float64{1}},
	})
	tracer := &captureTracer{}
	p.SetTracer(tracer)

	res, err := p.Solve(quadratic1D(3))
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	if res.Status != MaxIterations {
		t.Errorf("Expected status %v, got %v", MaxIterations, res.Status)
	}
	for i, e := range tracer.entries {
		if e.MeshSize != eps {
			t.Errorf("Entry %d: expected mesh clamped to %v, got %v", i, eps, e.MeshSize)
		}
	}
}

func TestPattern_StepSizeStop(t *testing.T) {
	settings := DefaultSettings()

	// From the minimum every iteration fails: the mesh contracts by
	// 2^(1/k) on the k-th consecutive failure, crossing 0.4 on the second.
	p := NewPattern(settings, PatternOptions{
		StepSizeStop:  true,
		StepTolerance: 0.4,
		Source:        &fixedSource{q: []float64{1}},
	})

	res, err := p.Solve(quadratic1D(3))
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	if res.Status != SmallStep {
		t.Errorf("Expected status %v, got %v", SmallStep, res.Status)
	}
	if res.Iterations != 2 {
		t.Errorf("Expected 2 iterations, got %d", res.Iterations)
	}
	if res.X[0] != 3 {
		t.Errorf("Expected x unchanged at 3, got %v", res.X[0])
	}
	// Initial evaluation plus two full failed polls of 2 trials each.
	if res.Evaluations != 5 {
		t.Errorf("Expected 5 evaluations, got %d", res.Evaluations)
	}
}

func TestPattern_StepSizeStopAllowsMeshBelowEpsilon(t *testing.T) {
	settings := DefaultSettings()

	p := NewPattern(settings, PatternOptions{
		InitialMesh:   eps,
		StepSizeStop:  true,
		StepTolerance: eps / 4,
		Source:        &fixedSource{q: []float64{1}},
	})
	tracer := &captureTracer{}
	p.SetTracer(tracer)

	res, err := p.Solve(quadratic1D(3))
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	if res.Status != SmallStep {
		t.Errorf("Expected status %v, got %v", SmallStep, res.Status)
	}
	last := tracer.entries[len(tracer.entries)-1]
	if last.MeshSize >= eps {
		t.Errorf("Expected the mesh to fall below %v, got %v", eps, last.MeshSize)
	}
}

func TestPattern_MaxIterationsZeroReturnsStartingPoint(t *testing.T) {
	settings := DefaultSettings()
	settings.MaxIterations = 0

	p := NewPattern(settings, DefaultPatternOptions())
	m := quadratic1D(0)
	res, err := p.Solve(m)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	if res.Status != MaxIterations {
		t.Errorf("Expected status %v, got %v", MaxIterations, res.Status)
	}
	if res.Iterations != 0 {
		t.Errorf("Expected 0 iterations, got %d", res.Iterations)
	}
	if res.X[0] != 0 {
		t.Errorf("Expected the starting point back, got %v", res.X)
	}
	if res.F != 9 {
		t.Errorf("Expected the starting value 9, got %v", res.F)
	}
	if m.Evaluations() != 1 {
		t.Errorf("Expected exactly the initial evaluation, got %d", m.Evaluations())
	}
}

func TestPattern_EvaluationBudgetCheckedAfterInitialPoint(t *testing.T) {
	settings := DefaultSettings()
	settings.MaxEvaluations = 1
	settings.MaxIterations = -1

	p := NewPattern(settings, DefaultPatternOptions())
	res, err := p.Solve(quadratic1D(0))
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	if res.Status != MaxEvaluations {
		t.Errorf("Expected status %v, got %v", MaxEvaluations, res.Status)
	}
	if res.Iterations != 0 {
		t.Errorf("Expected 0 iterations, got %d", res.Iterations)
	}
	if res.Evaluations != 1 {
		t.Errorf("Expected 1 evaluation, got %d", res.Evaluations)
	}
}

func TestPattern_ZeroTimeBudget(t *testing.T) {
	settings := DefaultSettings()
	settings.MaxSeconds = 0

	p := NewPattern(settings, DefaultPatternOptions())
	res, err := p.Solve(quadratic1D(0))
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	if res.Status != MaxTime {
		t.Errorf("Expected status %v, got %v", MaxTime, res.Status)
	}
	if res.Iterations != 0 {
		t.Errorf("Expected 0 iterations, got %d", res.Iterations)
	}
}

func TestPattern_TerminationOrder(t *testing.T) {
	// When several limits are exhausted at once the evaluation budget is
	// reported ahead of the time budget.
	settings := DefaultSettings()
	settings.MaxEvaluations = 1
	settings.MaxSeconds = 0

	p := NewPattern(settings, DefaultPatternOptions())
	res, err := p.Solve(quadratic1D(0))
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if res.Status != MaxEvaluations {
		t.Errorf("Expected status %v, got %v", MaxEvaluations, res.Status)
	}

	// A mesh already at the step tolerance outranks every budget.
	small := NewPattern(settings, PatternOptions{
		InitialMesh:   1e-9,
		StepSizeStop:  true,
		StepTolerance: 1e-8,
	})
	res, err = small.Solve(quadratic1D(0))
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if res.Status != SmallStep {
		t.Errorf("Expected status %v, got %v", SmallStep, res.Status)
	}
	if res.Iterations != 0 {
		t.Errorf("Expected 0 iterations, got %d", res.Iterations)
	}
}

func TestPattern_PenaltyDoublesToCap(t *testing.T) {
	// A constraint that no point can satisfy keeps the incumbent
	// infeasible forever, so the penalty weight doubles on every failed
	// iteration until it hits 1/eps exactly.
	m := problem.NewFunc([]float64{0, 0}, func(x []float64) float64 {
		return x[0] * x[0]
	})
	if err := m.SetConstraints(func(x []float64) []float64 {
		return []float64{5}
	}, []float64{math.Inf(-1)}, []float64{1}); err != nil {
		t.Fatalf("SetConstraints failed: %v", err)
	}

	settings := DefaultSettings()
	settings.MaxIterations = 60

	p := NewPattern(settings, PatternOptions{Source: &fixedSource{q: []float64{1, 0}}})
	tracer := &captureTracer{}
	p.SetTracer(tracer)

	res, err := p.Solve(m)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	if res.Status != MaxIterations {
		t.Errorf("Expected status %v, got %v", MaxIterations, res.Status)
	}
	if res.Violation != 16 {
		t.Errorf("Expected violation (5-1)^2 = 16, got %v", res.Violation)
	}
	last := tracer.entries[len(tracer.entries)-1]
	if last.Penalty != 1/eps {
		t.Errorf("Expected penalty capped at %v, got %v", 1/eps, last.Penalty)
	}
	// Every iteration scans all 4 directions without improvement, at two
	// counter ticks per trial (objective + constraints).
	if res.Evaluations != 2+60*8 {
		t.Errorf("Expected %d evaluations, got %d", 2+60*8, res.Evaluations)
	}
}

func TestPattern_BoxedSphereReachesFeasibility(t *testing.T) {
	settings := DefaultSettings()
	settings.MaxIterations = 3000

	p := NewPattern(settings, PatternOptions{Seed: 5})
	res, err := p.Solve(problem.BoxedSphere(2))
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	if res.Violation != 0 {
		t.Errorf("Expected a feasible final point, violation %v at %v", res.Violation, res.X)
	}
	for i, xi := range res.X {
		if xi < -1 || xi > 4 {
			t.Errorf("Coordinate %d out of box: %v", i, xi)
		}
	}
	if res.F >= 50 {
		t.Errorf("Expected improvement over the starting value 50, got %v", res.F)
	}
}

func TestPattern_StalledNeverFiresNaturally(t *testing.T) {
	// The stagnation measure starts at +Inf and nothing in the poll loop
	// lowers it, so a totally flat objective still runs to the iteration
	// budget instead of reporting Stalled.
	flat := problem.NewFunc([]float64{0}, func(x []float64) float64 {
		return 5
	})

	settings := DefaultSettings()
	settings.MaxIterations = 30

	p := NewPattern(settings, PatternOptions{Source: &fixedSource{q: []float64{1}}})
	res, err := p.Solve(flat)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	if res.Status != MaxIterations {
		t.Errorf("Expected status %v, got %v", MaxIterations, res.Status)
	}
	if res.Status == Stalled {
		t.Error("Stalled must not fire naturally")
	}
}

func TestPattern_StalledCheckBranch(t *testing.T) {
	settings := DefaultSettings()
	settings.MaxIterations = -1
	p := NewPattern(settings, DefaultPatternOptions())

	st := &patternState{
		fx:    5,
		mesh:  1,
		stall: 0,
		start: time.Now(),
	}

	if got := p.check(st, false, 10); got != Stalled {
		t.Errorf("Expected %v for a failed iteration at zero stall, got %v", Stalled, got)
	}
	if got := p.check(st, true, 10); got != Unknown {
		t.Errorf("An improving iteration must not stall, got %v", got)
	}

	st.stall = math.Inf(1)
	if got := p.check(st, false, 10); got != Unknown {
		t.Errorf("Expected %v at the initial stall value, got %v", Unknown, got)
	}
}

func TestPattern_SeedReproducible(t *testing.T) {
	settings := DefaultSettings()
	settings.MaxIterations = 50

	run := func() *Result {
		p := NewPattern(settings, PatternOptions{Seed: 99})
		res, err := p.Solve(problem.Rastrigin(3))
		if err != nil {
			t.Fatalf("Solve failed: %v", err)
		}
		return res
	}

	a, b := run(), run()
	if a.F != b.F || a.Evaluations != b.Evaluations {
		t.Errorf("Same seed should reproduce the run: f %v vs %v, evals %d vs %d",
			a.F, b.F, a.Evaluations, b.Evaluations)
	}
	for i := range a.X {
		if a.X[i] != b.X[i] {
			t.Errorf("X[%d] differs between identically seeded runs: %v vs %v", i, a.X[i], b.X[i])
		}
	}
}

func TestPattern_DimensionError(t *testing.T) {
	p := NewPattern(DefaultSettings(), DefaultPatternOptions())
	m := problem.NewFunc([]float64{}, func(x []float64) float64 { return 0 })

	if _, err := p.Solve(m); err == nil {
		t.Fatal("Expected an error for a zero-dimensional model")
	}
	if m.Evaluations() != 0 {
		t.Errorf("Configuration errors must precede evaluation, got %d evaluations", m.Evaluations())
	}
}

func TestPattern_TraceEntries(t *testing.T) {
	settings := DefaultSettings()
	settings.MaxIterations = 20

	p := NewPattern(settings, PatternOptions{Seed: 3})
	tracer := &captureTracer{}
	p.SetTracer(tracer)

	if _, err := p.Solve(quadratic1D(0)); err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	if len(tracer.entries) != 20 {
		t.Fatalf("Expected one entry per iteration, got %d", len(tracer.entries))
	}
	prevEvals := 0
	for i, e := range tracer.entries {
		if e.Iteration != i+1 {
			t.Errorf("Entry %d: expected iteration %d, got %d", i, i+1, e.Iteration)
		}
		if e.Evaluations < prevEvals {
			t.Errorf("Entry %d: evaluation counter went backwards, %d -> %d", i, prevEvals, e.Evaluations)
		}
		if e.MeshSize <= 0 {
			t.Errorf("Entry %d: non-positive mesh %v", i, e.MeshSize)
		}
		prevEvals = e.Evaluations
	}
}

func TestNewPattern_NormalizesOptions(t *testing.T) {
	p := NewPattern(DefaultSettings(), PatternOptions{})

	if p.opts.InitialMesh != 1 {
		t.Errorf("Expected default initial mesh 1, got %v", p.opts.InitialMesh)
	}
	if p.opts.InitialPenalty != 1 {
		t.Errorf("Expected default initial penalty 1, got %v", p.opts.InitialPenalty)
	}
	if p.opts.StepTolerance != 1e-8 {
		t.Errorf("Expected default step tolerance 1e-8, got %v", p.opts.StepTolerance)
	}
}
