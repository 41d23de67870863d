package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/dfsolve/internal/problem"
	"github.com/cwbudde/dfsolve/internal/solver"
	"github.com/cwbudde/dfsolve/internal/store"
)

var (
	problemName string
	probDim     int
	solverName  string

	maxEvals   int
	maxSeconds float64
	maxIters   int
	ftolAbs    float64
	ftolRel    float64

	greedy         bool
	stepStop       bool
	stepTol        float64
	initialMesh    float64
	initialPenalty float64
	seed           int64

	simplexTol  float64
	noRestart   bool
	maxRestarts int

	tracePath  string
	saveResult bool
	dataDir    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single solve",
	Long: `Runs one of the built-in problems through the selected engine and
prints the result. The iteration trace can be written as JSON lines and the
finished run archived for later inspection with the runs command.`,
	RunE: runSolve,
}

func init() {
	runCmd.Flags().StringVar(&problemName, "problem", "", "Problem name (required): "+strings.Join(problem.Names(), ", "))
	runCmd.Flags().IntVar(&probDim, "dim", 0, "Problem dimension (0 = problem default)")
	runCmd.Flags().StringVar(&solverName, "solver", "pattern", "Engine: pattern or simplex")

	runCmd.Flags().IntVar(&maxEvals, "max-evals", -1, "Evaluation budget (negative = unlimited)")
	runCmd.Flags().Float64Var(&maxSeconds, "max-seconds", -1, "Time budget in seconds (negative = unlimited)")
	runCmd.Flags().IntVar(&maxIters, "max-iters", 1000, "Iteration budget (negative = unlimited)")
	runCmd.Flags().Float64Var(&ftolAbs, "ftol-abs", 1e-12, "Absolute function tolerance")
	runCmd.Flags().Float64Var(&ftolRel, "ftol-rel", 1e-8, "Relative function tolerance")

	runCmd.Flags().BoolVar(&greedy, "greedy", false, "Poll all directions instead of stopping at the first improvement")
	runCmd.Flags().BoolVar(&stepStop, "step-stop", false, "Stop once the mesh size reaches --step-tol")
	runCmd.Flags().Float64Var(&stepTol, "step-tol", 1e-8, "Mesh size for --step-stop")
	runCmd.Flags().Float64Var(&initialMesh, "mesh", 1, "Initial mesh size")
	runCmd.Flags().Float64Var(&initialPenalty, "penalty", 1, "Initial constraint penalty weight")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "Direction seed (0 = from clock)")

	runCmd.Flags().Float64Var(&simplexTol, "simplex-tol", 1e-8, "Simplex diameter tolerance")
	runCmd.Flags().BoolVar(&noRestart, "no-restart", false, "Disable the oriented restart")
	runCmd.Flags().IntVar(&maxRestarts, "max-restarts", 3, "Oriented restart budget")

	runCmd.Flags().StringVar(&tracePath, "trace", "", "Write the iteration trace to this file as JSON lines")
	runCmd.Flags().BoolVar(&saveResult, "save", false, "Archive the finished run under --data")
	runCmd.Flags().StringVar(&dataDir, "data", "./data", "Base directory for archived runs")

	runCmd.MarkFlagRequired("problem")
	rootCmd.AddCommand(runCmd)
}

func runSolve(cmd *cobra.Command, args []string) error {
	m, err := problem.ByName(problemName, probDim)
	if err != nil {
		return err
	}

	settings := solver.Settings{
		FTolAbs:        ftolAbs,
		FTolRel:        ftolRel,
		MaxEvaluations: maxEvals,
		MaxSeconds:     maxSeconds,
		MaxIterations:  maxIters,
	}

	var tracer *store.TraceWriter
	if tracePath != "" {
		tracer, err = store.NewTraceWriterFile(tracePath)
		if err != nil {
			return fmt.Errorf("failed to open trace file: %w", err)
		}
		defer tracer.Close()
	}

	patternOpts := solver.PatternOptions{
		InitialMesh:    initialMesh,
		InitialPenalty: initialPenalty,
		Greedy:         greedy,
		StepSizeStop:   stepStop,
		StepTolerance:  stepTol,
		Seed:           seed,
	}
	simplexOpts := solver.SimplexOptions{
		Tolerance:       simplexTol,
		OrientedRestart: !noRestart,
		MaxRestarts:     maxRestarts,
	}

	var eng solver.Solver
	switch solverName {
	case "pattern":
		p := solver.NewPattern(settings, patternOpts)
		if tracer != nil {
			p.SetTracer(tracer)
		}
		eng = p
	case "simplex":
		s := solver.NewSimplex(settings, simplexOpts)
		if tracer != nil {
			s.SetTracer(tracer)
		}
		eng = s
	default:
		return fmt.Errorf("unknown solver %q (known: %s)", solverName, strings.Join(solver.Names(), ", "))
	}

	slog.Info("Starting solve", "problem", problemName, "dim", m.Dim(), "solver", solverName)

	result, err := eng.Solve(m)
	if err != nil {
		return fmt.Errorf("solve failed: %w", err)
	}
	if tracer != nil {
		if err := tracer.Flush(); err != nil {
			slog.Warn("Failed to flush trace", "error", err)
		}
	}

	fmt.Printf("%s on %s: f=%.6g after %d iterations, %d evaluations (%s, %s)\n",
		solverName, problemName, result.F,
		result.Iterations, result.Evaluations,
		result.Status, result.Elapsed.Round(time.Millisecond))
	fmt.Printf("  x = %v\n", result.X)
	if result.Violation > 0 {
		fmt.Printf("  constraint violation = %.6g\n", result.Violation)
	}
	if result.Restarts > 0 {
		fmt.Printf("  oriented restarts = %d\n", result.Restarts)
	}

	if saveResult {
		st, err := store.NewFSStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		config := store.RunConfig{
			Problem:  problemName,
			Dim:      probDim,
			Solver:   solverName,
			Settings: &settings,
		}
		switch solverName {
		case "pattern":
			config.Pattern = &patternOpts
		case "simplex":
			config.Simplex = &simplexOpts
		}

		runID := uuid.New().String()
		if err := st.SaveRun(runID, store.NewRunRecord(runID, config, *result)); err != nil {
			return fmt.Errorf("failed to archive run: %w", err)
		}
		fmt.Printf("Archived run %s under %s\n", runID, dataDir)
	}

	return nil
}
