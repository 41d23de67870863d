package server

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/dfsolve/internal/solver"
	"github.com/cwbudde/dfsolve/internal/store"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// RunConfig is an alias to avoid duplication with store.RunConfig
type RunConfig = store.RunConfig

// Job represents one optimization run owned by the server. Progress fields
// are updated live by the worker's tracer; Result is set once on completion.
type Job struct {
	ID          string         `json:"id"`
	State       JobState       `json:"state"`
	Config      RunConfig      `json:"config"`
	Iterations  int            `json:"iterations"`
	Evaluations int            `json:"evaluations"`
	BestF       float64        `json:"bestF"`
	Violation   float64        `json:"violation"`
	Result      *solver.Result `json:"result,omitempty"`
	Created     time.Time      `json:"created"`
	Started     *time.Time     `json:"started,omitempty"`
	Finished    *time.Time     `json:"finished,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// JobManager manages the lifecycle of jobs. Lookups return snapshot copies;
// all mutation goes through UpdateJob so readers never see a job mid-update.
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob creates a new pending job with the given configuration.
func (jm *JobManager) CreateJob(config RunConfig) Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:      uuid.New().String(),
		State:   StatePending,
		Config:  config,
		Created: time.Now(),
	}

	jm.jobs[job.ID] = job
	return *job
}

// GetJob retrieves a snapshot of a job by ID.
func (jm *JobManager) GetJob(id string) (Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// ListJobs returns snapshots of all jobs, newest first.
func (jm *JobManager) ListJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, *job)
	}
	slices.SortFunc(jobs, func(a, b Job) int {
		return b.Created.Compare(a.Created)
	})
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	updateFn(job)
	return nil
}

// RunningJobs returns snapshots of all jobs currently in the running state.
func (jm *JobManager) RunningJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	running := make([]Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			running = append(running, *job)
		}
	}
	return running
}
