package store

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cwbudde/dfsolve/internal/solver"
)

func TestTraceWriter_WriteAndRead(t *testing.T) {
	// Create temp directory
	tmpDir := t.TempDir()

	runID := "test-run-123"

	// Create trace writer
	writer, err := NewTraceWriter(tmpDir, runID)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}

	// Write some entries
	entries := []solver.TraceEntry{
		{Iteration: 1, Evaluations: 3, F: 1.0, MeshSize: 1.0, Note: "accepted"},
		{Iteration: 2, Evaluations: 7, F: 0.8, MeshSize: 4.0, Note: "accepted"},
		{Iteration: 3, Evaluations: 11, F: 0.8, MeshSize: 2.0, Penalty: 2.0, Note: "rejected"},
		{Iteration: 4, Evaluations: 13, F: 0.4, MeshSize: 8.0, Note: "accepted"},
	}

	for _, entry := range entries {
		if err := writer.Write(entry); err != nil {
			t.Fatalf("Failed to write entry: %v", err)
		}
	}

	// Close writer
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	// Verify file exists
	tracePath := filepath.Join(tmpDir, "runs", runID, "trace.jsonl")
	if _, err := os.Stat(tracePath); os.IsNotExist(err) {
		t.Fatalf("Trace file not created: %s", tracePath)
	}

	// Read entries back
	reader, err := NewTraceReader(tmpDir, runID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	records, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read records: %v", err)
	}

	// Verify count
	if len(records) != len(entries) {
		t.Fatalf("Expected %d records, got %d", len(entries), len(records))
	}

	// Verify data
	for i, record := range records {
		if record.Iteration != entries[i].Iteration {
			t.Errorf("Record %d: expected iteration %d, got %d", i, entries[i].Iteration, record.Iteration)
		}
		if record.F != entries[i].F {
			t.Errorf("Record %d: expected f %f, got %f", i, entries[i].F, record.F)
		}
		if record.MeshSize != entries[i].MeshSize {
			t.Errorf("Record %d: expected mesh size %f, got %f", i, entries[i].MeshSize, record.MeshSize)
		}
		if record.Note != entries[i].Note {
			t.Errorf("Record %d: expected note %q, got %q", i, entries[i].Note, record.Note)
		}
		if record.Timestamp.IsZero() {
			t.Errorf("Record %d: timestamp was not stamped on write", i)
		}
	}
}

func TestTraceWriter_Truncates(t *testing.T) {
	tmpDir := t.TempDir()
	runID := "test-run-truncate"

	// Write initial entries
	writer, err := NewTraceWriter(tmpDir, runID)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}

	if err := writer.Write(solver.TraceEntry{Iteration: 1, F: 1.0}); err != nil {
		t.Fatalf("Failed to write entry: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	// A second writer for the same run starts the trace over
	writer, err = NewTraceWriter(tmpDir, runID)
	if err != nil {
		t.Fatalf("Failed to create second trace writer: %v", err)
	}

	if err := writer.Write(solver.TraceEntry{Iteration: 1, F: 0.8}); err != nil {
		t.Fatalf("Failed to write entry: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	// Read all records
	reader, err := NewTraceReader(tmpDir, runID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	records, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read records: %v", err)
	}

	// Should only have the second writer's entry
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].F != 0.8 {
		t.Errorf("Expected f 0.8, got %f", records[0].F)
	}
}

func TestTraceWriter_Flush(t *testing.T) {
	tmpDir := t.TempDir()
	runID := "test-run-flush"

	writer, err := NewTraceWriter(tmpDir, runID)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}
	defer writer.Close()

	// Write entry
	if err := writer.Write(solver.TraceEntry{Iteration: 1, F: 1.0}); err != nil {
		t.Fatalf("Failed to write entry: %v", err)
	}

	// Flush
	if err := writer.Flush(); err != nil {
		t.Fatalf("Failed to flush: %v", err)
	}

	// Data should be on disk now (even without closing)
	tracePath := filepath.Join(tmpDir, "runs", runID, "trace.jsonl")
	data, err := os.ReadFile(tracePath)
	if err != nil {
		t.Fatalf("Failed to read trace file: %v", err)
	}
	if len(data) == 0 {
		t.Error("Trace file is empty after flush")
	}
}

func TestTraceWriterFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "custom-trace.jsonl")

	writer, err := NewTraceWriterFile(path)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}

	if writer.Path() != path {
		t.Errorf("Expected path %s, got %s", path, writer.Path())
	}

	if err := writer.Write(solver.TraceEntry{Iteration: 1, F: 2.0, Diameter: 0.5}); err != nil {
		t.Fatalf("Failed to write entry: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("Trace file not created: %s", path)
	}
}

func TestTraceReader_ReadIteratively(t *testing.T) {
	tmpDir := t.TempDir()
	runID := "test-run-iter"

	// Write entries
	writer, err := NewTraceWriter(tmpDir, runID)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := writer.Write(solver.TraceEntry{Iteration: i * 10, F: 1.0 - float64(i)*0.1}); err != nil {
			t.Fatalf("Failed to write entry: %v", err)
		}
	}
	writer.Close()

	// Read iteratively
	reader, err := NewTraceReader(tmpDir, runID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	count := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Failed to read record: %v", err)
		}

		expectedIter := count * 10
		if record.Iteration != expectedIter {
			t.Errorf("Record %d: expected iteration %d, got %d", count, expectedIter, record.Iteration)
		}

		count++
	}

	if count != 5 {
		t.Errorf("Expected to read 5 records, got %d", count)
	}
}

func TestTraceReader_NotFound(t *testing.T) {
	tmpDir := t.TempDir()
	runID := "nonexistent-run"

	_, err := NewTraceReader(tmpDir, runID)
	if err == nil {
		t.Fatal("Expected error for nonexistent trace file")
	}

	// Should be NotFoundError
	if !isNotFoundError(err) {
		t.Errorf("Expected NotFoundError, got: %v", err)
	}
}

func TestTraceWriter_OmitsUnusedFields(t *testing.T) {
	tmpDir := t.TempDir()
	runID := "test-run-omit"

	writer, err := NewTraceWriter(tmpDir, runID)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}

	// A simplex-flavored entry has no mesh size or penalty
	entry := solver.TraceEntry{
		Iteration:   7,
		Evaluations: 15,
		F:           0.25,
		Diameter:    0.01,
		Note:        "reflect",
	}

	if err := writer.Write(entry); err != nil {
		t.Fatalf("Failed to write entry: %v", err)
	}
	writer.Close()

	tracePath := filepath.Join(tmpDir, "runs", runID, "trace.jsonl")
	data, err := os.ReadFile(tracePath)
	if err != nil {
		t.Fatalf("Failed to read trace file: %v", err)
	}

	line := string(data)
	if containsField(line, "meshSize") || containsField(line, "penalty") {
		t.Errorf("Pattern-only fields should be omitted, got line: %s", line)
	}
	if !containsField(line, "diameter") {
		t.Errorf("Expected diameter field in line: %s", line)
	}

	// Read back and verify the omitted fields decode as zero
	reader, err := NewTraceReader(tmpDir, runID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	record, err := reader.Read()
	if err != nil {
		t.Fatalf("Failed to read record: %v", err)
	}

	if record.MeshSize != 0 {
		t.Errorf("Expected zero mesh size, got %f", record.MeshSize)
	}
	if record.Diameter != entry.Diameter {
		t.Errorf("Expected diameter %f, got %f", entry.Diameter, record.Diameter)
	}
}

func TestTraceWriter_ConcurrentWrites(t *testing.T) {
	tmpDir := t.TempDir()
	runID := "test-run-concurrent"

	writer, err := NewTraceWriter(tmpDir, runID)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}
	defer writer.Close()

	// Write from multiple goroutines
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(iter int) {
			entry := solver.TraceEntry{
				Iteration: iter,
				F:         float64(iter),
			}
			if err := writer.Write(entry); err != nil {
				t.Errorf("Concurrent write failed: %v", err)
			}
			done <- true
		}(i)
	}

	// Wait for all writes
	for i := 0; i < 10; i++ {
		<-done
	}

	writer.Flush()

	// Read back and verify we got 10 records
	reader, err := NewTraceReader(tmpDir, runID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	records, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read records: %v", err)
	}

	if len(records) != 10 {
		t.Errorf("Expected 10 records, got %d", len(records))
	}
}

// containsField reports whether a JSON line carries the given key.
func containsField(line, field string) bool {
	return strings.Contains(line, `"`+field+`"`)
}

// Helper function to check if error is NotFoundError
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*NotFoundError)
	return ok
}
