package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the job server for status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listServerJobs(fmt.Sprintf("%s/api/v1/jobs", serverURL))
	}
	jobID := args[0]
	return getJobStatus(fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID), jobID)
}

func listServerJobs(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var jobs []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Printf("Job ID: %s\n", job["id"])
		fmt.Printf("  State: %s\n", job["state"])
		if config, ok := job["config"].(map[string]interface{}); ok {
			fmt.Printf("  Problem: %s\n", config["problem"])
			if solver, ok := config["solver"].(string); ok && solver != "" {
				fmt.Printf("  Solver: %s\n", solver)
			}
		}
		if evals, ok := job["evaluations"].(float64); ok && evals > 0 {
			fmt.Printf("  Best f: %.6g after %.0f evaluations\n", job["bestF"], evals)
		}
		fmt.Println()
	}

	return nil
}

func getJobStatus(url, jobID string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	// Display status
	fmt.Printf("Job: %s\n", status["id"])
	fmt.Printf("State: %s\n", status["state"])
	fmt.Println()

	if config, ok := status["config"].(map[string]interface{}); ok {
		fmt.Println("Configuration:")
		fmt.Printf("  Problem: %s\n", config["problem"])
		if dim, ok := config["dim"].(float64); ok && dim > 0 {
			fmt.Printf("  Dimension: %.0f\n", dim)
		}
		fmt.Printf("  Solver: %s\n", config["solver"])
		if settings, ok := config["settings"].(map[string]interface{}); ok {
			fmt.Printf("  Budget: %v evaluations, %v seconds, %v iterations\n",
				settings["maxEvaluations"], settings["maxSeconds"], settings["maxIterations"])
		}
		fmt.Println()
	}

	fmt.Println("Progress:")
	fmt.Printf("  Iterations: %v\n", status["iterations"])
	fmt.Printf("  Evaluations: %v\n", status["evaluations"])
	if bestF, ok := status["bestF"].(float64); ok && status["evaluations"].(float64) > 0 {
		fmt.Printf("  Best f: %.6g\n", bestF)
	}
	if violation, ok := status["violation"].(float64); ok && violation > 0 {
		fmt.Printf("  Violation: %.6g\n", violation)
	}

	if status["elapsed"] != nil {
		elapsed := time.Duration(status["elapsed"].(float64) * float64(time.Second))
		fmt.Printf("  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	}
	if eps, ok := status["evalsPerSec"].(float64); ok && eps > 0 {
		fmt.Printf("  Throughput: %.0f evals/sec\n", eps)
	}

	if result, ok := status["result"].(map[string]interface{}); ok {
		fmt.Println()
		fmt.Println("Result:")
		fmt.Printf("  Status: %s\n", result["status"])
		fmt.Printf("  f: %.6g\n", result["f"])
		fmt.Printf("  x: %v\n", result["x"])
	}

	if errMsg, ok := status["error"].(string); ok && errMsg != "" {
		fmt.Printf("\nError: %s\n", errMsg)
	}

	return nil
}
