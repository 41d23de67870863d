package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cwbudde/dfsolve/internal/solver"
)

// TraceRecord is a single line of a run's iteration trace.
// Each record is serialized as one JSON line in trace.jsonl.
type TraceRecord struct {
	solver.TraceEntry

	// Timestamp records when this trace record was written
	Timestamp time.Time `json:"timestamp"`
}

// TraceWriter writes trace records to a JSONL file.
// It uses buffered I/O for performance and is safe for concurrent use.
type TraceWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
}

// NewTraceWriter creates a trace writer for the given run under the store
// layout. The trace file is created at <baseDir>/runs/<runID>/trace.jsonl,
// truncating any previous trace for the same run.
func NewTraceWriter(baseDir, runID string) (*TraceWriter, error) {
	runDir := filepath.Join(baseDir, "runs", runID)

	// Ensure run directory exists
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	return NewTraceWriterFile(filepath.Join(runDir, "trace.jsonl"))
}

// NewTraceWriterFile creates a trace writer at an explicit path.
// Used by the CLI when tracing to a user-chosen file outside the store.
func NewTraceWriterFile(path string) (*TraceWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	writer := bufio.NewWriterSize(file, 64*1024) // 64KB buffer

	return &TraceWriter{
		file:   file,
		writer: writer,
		path:   path,
	}, nil
}

// Write appends a trace entry to the file, stamped with the current time.
// The record is buffered and will be written on Flush() or Close().
func (tw *TraceWriter) Write(entry solver.TraceEntry) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	record := TraceRecord{TraceEntry: entry, Timestamp: time.Now()}

	// Serialize to JSON
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal trace record: %w", err)
	}

	// Write JSON line
	if _, err := tw.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write trace record: %w", err)
	}

	// Write newline
	if err := tw.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

// Trace implements solver.Tracer so a TraceWriter can be handed straight
// to an engine. Write errors are dropped; a lost trace line must not
// abort a solve.
func (tw *TraceWriter) Trace(entry solver.TraceEntry) {
	_ = tw.Write(entry)
}

// Flush writes any buffered data to the file.
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}

	// Also sync to disk for durability
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}

	return nil
}

// Close flushes buffered data and closes the trace file.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	// Flush buffer first
	if err := tw.writer.Flush(); err != nil {
		tw.file.Close() // Try to close anyway
		return fmt.Errorf("failed to flush on close: %w", err)
	}

	// Close file
	if err := tw.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}

	return nil
}

// Path returns the filesystem path to the trace file.
func (tw *TraceWriter) Path() string {
	return tw.path
}

// TraceReader reads trace records from a JSONL file.
type TraceReader struct {
	file    *os.File
	scanner *bufio.Scanner
}

// NewTraceReader creates a trace reader for the given run.
func NewTraceReader(baseDir, runID string) (*TraceReader, error) {
	path := filepath.Join(baseDir, "runs", runID, "trace.jsonl")

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{RunID: runID}
		}
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	// Set larger buffer for long lines
	scanner.Buffer(make([]byte, 64*1024), 1024*1024) // 64KB initial, 1MB max

	return &TraceReader{
		file:    file,
		scanner: scanner,
	}, nil
}

// Read reads the next trace record from the file.
// Returns io.EOF when no more records are available.
func (tr *TraceReader) Read() (*TraceRecord, error) {
	if !tr.scanner.Scan() {
		// Check for error or EOF
		if err := tr.scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan trace line: %w", err)
		}
		return nil, io.EOF
	}

	line := tr.scanner.Bytes()
	var record TraceRecord
	if err := json.Unmarshal(line, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace record: %w", err)
	}

	return &record, nil
}

// ReadAll reads all trace records from the file.
func (tr *TraceReader) ReadAll() ([]TraceRecord, error) {
	var records []TraceRecord

	for {
		record, err := tr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	return records, nil
}

// Close closes the trace reader.
func (tr *TraceReader) Close() error {
	if err := tr.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}
