package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/dfsolve/internal/store"
)

var (
	runsDataDir   string
	keepLast      int
	olderThanDays int
	forceClean    bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage archived runs",
	Long: `Inspect and clean the run archive written by 'run --save' and the
job server. Each archived run holds its configuration, final result and
iteration trace.`,
}

var listRunsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all archived runs",
	Long:  `Display all archived runs with problem, solver, final status, best value and size on disk.`,
	RunE:  runListRuns,
}

var showRunCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show one archived run in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowRun,
}

var cleanRunsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old runs",
	Long: `Delete archived runs based on retention policy.
You can keep only the most recent N runs or delete runs older than N days.`,
	RunE: runCleanRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.AddCommand(listRunsCmd)
	runsCmd.AddCommand(showRunCmd)
	runsCmd.AddCommand(cleanRunsCmd)

	runsCmd.PersistentFlags().StringVar(&runsDataDir, "data", "./data", "Base directory for archived runs")

	cleanRunsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the most recent N runs (0 = keep all)")
	cleanRunsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete runs older than N days (0 = no age limit)")
	cleanRunsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func runListRuns(cmd *cobra.Command, args []string) error {
	st, err := store.NewFSStore(runsDataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	infos, err := st.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tCREATED\tPROBLEM\tSOLVER\tSTATUS\tBEST F\tSIZE")
	fmt.Fprintln(w, "------\t-------\t-------\t------\t------\t------\t----")

	for _, info := range infos {
		runDir := filepath.Join(runsDataDir, "runs", info.ID)
		size, err := getDirSize(runDir)
		sizeStr := "unknown"
		if err == nil {
			sizeStr = formatBytes(size)
		}

		displayID := info.ID
		if len(displayID) > 12 {
			displayID = displayID[:12] + "..."
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.6g\t%s\n",
			displayID,
			info.Created.Format("2006-01-02 15:04:05"),
			info.Problem,
			info.Solver,
			info.Status,
			info.F,
			sizeStr,
		)
	}

	w.Flush()

	fmt.Printf("\nTotal runs: %d\n", len(infos))
	return nil
}

func runShowRun(cmd *cobra.Command, args []string) error {
	st, err := store.NewFSStore(runsDataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	record, err := st.LoadRun(args[0])
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}

	fmt.Printf("Run: %s\n", record.ID)
	fmt.Printf("Created: %s\n", record.Created.Format("2006-01-02 15:04:05"))
	fmt.Println()

	fmt.Println("Configuration:")
	fmt.Printf("  Problem: %s\n", record.Config.Problem)
	if record.Config.Dim > 0 {
		fmt.Printf("  Dimension: %d\n", record.Config.Dim)
	}
	fmt.Printf("  Solver: %s\n", record.Config.Solver)
	if s := record.Config.Settings; s != nil {
		fmt.Printf("  Budget: %d evaluations, %g seconds, %d iterations\n",
			s.MaxEvaluations, s.MaxSeconds, s.MaxIterations)
	}
	fmt.Println()

	fmt.Println("Result:")
	fmt.Printf("  Status: %s\n", record.Result.Status)
	fmt.Printf("  f: %.6g\n", record.Result.F)
	fmt.Printf("  x: %v\n", record.Result.X)
	if record.Result.Violation > 0 {
		fmt.Printf("  Violation: %.6g\n", record.Result.Violation)
	}
	fmt.Printf("  Iterations: %d\n", record.Result.Iterations)
	fmt.Printf("  Evaluations: %d\n", record.Result.Evaluations)
	if record.Result.Restarts > 0 {
		fmt.Printf("  Restarts: %d\n", record.Result.Restarts)
	}
	fmt.Printf("  Elapsed: %s\n", record.Result.Elapsed.Round(time.Millisecond))

	if reader, err := store.NewTraceReader(runsDataDir, record.ID); err == nil {
		defer reader.Close()
		entries := 0
		var last *store.TraceRecord
		for {
			rec, err := reader.Read()
			if err != nil {
				break
			}
			entries++
			last = rec
		}
		if entries > 0 {
			fmt.Println()
			fmt.Printf("Trace: %d entries, last at iteration %d (f=%.6g)\n", entries, last.Iteration, last.F)
		}
	}

	return nil
}

func runCleanRuns(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	st, err := store.NewFSStore(runsDataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	infos, err := st.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No runs to clean.")
		return nil
	}

	toDelete := selectRunsForDeletion(infos, keepLast, olderThanDays)

	if len(toDelete) == 0 {
		fmt.Println("No runs match deletion criteria.")
		return nil
	}

	fmt.Printf("Found %d run(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		displayID := info.ID
		if len(displayID) > 12 {
			displayID = displayID[:12] + "..."
		}
		fmt.Printf("  - %s (%s on %s, %s)\n",
			displayID,
			info.Solver,
			info.Problem,
			info.Created.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean {
		fmt.Print("\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		if err := st.DeleteRun(info.ID); err != nil {
			slog.Error("Failed to delete run", "runID", info.ID, "error", err)
			failed++
		} else {
			slog.Info("Deleted run", "runID", info.ID)
			deleted++
		}
	}

	fmt.Printf("\nDeleted %d run(s), %d failed.\n", deleted, failed)
	return nil
}

// selectRunsForDeletion applies the retention policy: runs older than the age
// cutoff go, and beyond that the oldest runs past the keep-last count go.
// Each run is listed at most once.
func selectRunsForDeletion(infos []store.RunInfo, keepLast, olderThanDays int) []store.RunInfo {
	marked := make(map[string]bool)
	var toDelete []store.RunInfo

	if olderThanDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.Created.Before(cutoff) && !marked[info.ID] {
				marked[info.ID] = true
				toDelete = append(toDelete, info)
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		sorted := make([]store.RunInfo, len(infos))
		copy(sorted, infos)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].Created.Before(sorted[j].Created)
		})

		for _, info := range sorted[:len(sorted)-keepLast] {
			if !marked[info.ID] {
				marked[info.ID] = true
				toDelete = append(toDelete, info)
			}
		}
	}

	return toDelete
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
