package store

// Store defines the interface for run archive persistence.
// Implementations must be thread-safe and handle concurrent access gracefully.
//
// Error handling conventions:
//   - Return nil error on success
//   - Return ErrNotFound if the run doesn't exist (for Load/Delete)
//   - Return descriptive errors for I/O, serialization, or validation failures
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveRun atomically saves the record for the given run.
	// If a record already exists for this runID, it is overwritten.
	// The implementation should use atomic write strategies (e.g., temp file
	// + rename) to prevent corruption in case of failures.
	//
	// Returns an error if the record cannot be saved (e.g., disk full,
	// permission denied, serialization failure).
	SaveRun(runID string, record *RunRecord) error

	// LoadRun retrieves the record for the given run.
	// Returns ErrNotFound if no record exists for this runID.
	// Returns an error if the record exists but cannot be read or deserialized.
	LoadRun(runID string) (*RunRecord, error)

	// ListRuns returns metadata for all archived runs, newest first.
	// The returned slice may be empty if no runs exist.
	// Returns an error if the archive directory cannot be scanned.
	ListRuns() ([]RunInfo, error)

	// DeleteRun removes the record and all associated artifacts for the
	// given run. This includes:
	//   - run.json
	//   - trace.jsonl
	//
	// Returns ErrNotFound if no record exists for this runID.
	// Returns an error if the record exists but cannot be deleted.
	DeleteRun(runID string) error
}

// ErrNotFound is returned when a requested run does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run error.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "run not found: " + e.RunID
	}
	return "run not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
