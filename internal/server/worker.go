package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/dfsolve/internal/problem"
	"github.com/cwbudde/dfsolve/internal/solver"
	"github.com/cwbudde/dfsolve/internal/store"
)

// broadcastInterval throttles SSE progress events; iterations can be far
// faster than any client cares to render.
const broadcastInterval = 500 * time.Millisecond

// runJob executes one optimization job synchronously in the calling
// goroutine (the server runs it inside a pool slot). If st is not nil the
// iteration trace is written while solving and the finished run is archived.
//
// Cancellation is detachment: a job cancelled while queued never starts, and
// a job cancelled while running keeps its slot until a budget trips, after
// which the result is discarded.
func runJob(jm *JobManager, st *store.FSStore, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if job.State == StateCancelled {
		slog.Debug("Skipping cancelled job", "jobID", jobID)
		return nil
	}

	cfg := job.Config
	cfg.ApplyDefaults()

	started := time.Now()
	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
		j.Started = &started
		j.Config = cfg
	})
	if err != nil {
		return err
	}

	slog.Info("Starting job", "jobID", jobID, "problem", cfg.Problem, "solver", cfg.Solver)

	m, err := problem.ByName(cfg.Problem, cfg.Dim)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	tracers := []solver.Tracer{newProgressTracer(jm, jobID, started)}

	var tw *store.TraceWriter
	if st != nil {
		tw, err = store.NewTraceWriter(st.BaseDir(), jobID)
		if err != nil {
			slog.Warn("Failed to create trace writer, continuing without trace", "jobID", jobID, "error", err)
		} else {
			defer tw.Close()
			tracers = append(tracers, tw)
		}
	}

	eng, err := buildEngine(cfg, solver.MultiTracer(tracers...))
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	result, err := eng.Solve(m)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	if tw != nil {
		if err := tw.Flush(); err != nil {
			slog.Warn("Failed to flush trace", "jobID", jobID, "error", err)
		}
	}

	// A job cancelled mid-run was detached; its result is discarded.
	job, _ = jm.GetJob(jobID)
	if job.State == StateCancelled {
		slog.Info("Discarding result of cancelled job", "jobID", jobID, "status", result.Status.String())
		return nil
	}

	finished := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.Result = result
		j.BestF = result.F
		j.Violation = result.Violation
		j.Iterations = result.Iterations
		j.Evaluations = result.Evaluations
		j.Finished = &finished
	})
	if err != nil {
		return err
	}

	if st != nil {
		record := store.NewRunRecord(jobID, cfg, *result)
		if err := st.SaveRun(jobID, record); err != nil {
			slog.Error("Failed to archive run", "jobID", jobID, "error", err)
		}
	}

	elapsed := finished.Sub(started)
	slog.Info("Job completed",
		"jobID", jobID,
		"status", result.Status.String(),
		"f", result.F,
		"evaluations", result.Evaluations,
		"elapsed", elapsed,
	)

	// Broadcast final completion event
	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:       jobID,
		State:       StateCompleted,
		Iterations:  result.Iterations,
		Evaluations: result.Evaluations,
		BestF:       result.F,
		EvalsPerSec: evalsPerSec(result.Evaluations, elapsed),
		Timestamp:   time.Now(),
	})

	return nil
}

// buildEngine constructs the configured engine with the tracer installed.
// cfg must have defaults applied.
func buildEngine(cfg RunConfig, tracer solver.Tracer) (solver.Solver, error) {
	switch cfg.Solver {
	case "pattern":
		eng := solver.NewPattern(*cfg.Settings, *cfg.Pattern)
		eng.SetTracer(tracer)
		return eng, nil
	case "simplex":
		eng := solver.NewSimplex(*cfg.Settings, *cfg.Simplex)
		eng.SetTracer(tracer)
		return eng, nil
	default:
		return nil, fmt.Errorf("unknown solver: %s", cfg.Solver)
	}
}

// progressTracer mirrors engine iterations into the job record and
// broadcasts throttled SSE events.
type progressTracer struct {
	jm      *JobManager
	jobID   string
	started time.Time
	last    time.Time
}

func newProgressTracer(jm *JobManager, jobID string, started time.Time) *progressTracer {
	return &progressTracer{jm: jm, jobID: jobID, started: started}
}

func (p *progressTracer) Trace(entry solver.TraceEntry) {
	p.jm.UpdateJob(p.jobID, func(j *Job) {
		// A detached job keeps running until a budget trips, but its
		// visible record is frozen at cancellation.
		if j.State != StateRunning {
			return
		}
		j.Iterations = entry.Iteration
		j.Evaluations = entry.Evaluations
		j.BestF = entry.F
		j.Violation = entry.Violation
	})

	now := time.Now()
	if now.Sub(p.last) < broadcastInterval {
		return
	}
	p.last = now

	job, exists := p.jm.GetJob(p.jobID)
	if !exists || job.State != StateRunning {
		return
	}
	p.jm.broadcaster.Broadcast(ProgressEvent{
		JobID:       p.jobID,
		State:       job.State,
		Iterations:  entry.Iteration,
		Evaluations: entry.Evaluations,
		BestF:       entry.F,
		EvalsPerSec: evalsPerSec(entry.Evaluations, now.Sub(p.started)),
		Timestamp:   now,
	})
}

// evalsPerSec is the throughput measure reported in progress events.
func evalsPerSec(evaluations int, elapsed time.Duration) float64 {
	if elapsed.Seconds() <= 0 {
		return 0
	}
	return float64(evaluations) / elapsed.Seconds()
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	finished := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.Finished = &finished
	})
	slog.Error("Job failed", "jobID", jobID, "error", err)
}
