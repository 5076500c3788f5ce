package cli

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/taskbridge/internal/models"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List jobs or inspect a specific job",
	Long: `List all jobs on the server or inspect a specific job by ID.

Examples:
  taskbridge jobs           # List all jobs
  taskbridge jobs abc123    # Show details for job abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	jobs, err := apiClient.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(args) == 1 {
		for i := range jobs {
			if jobs[i].JobID == args[0] {
				printJob(jobs[i])
				return nil
			}
		}
		return fmt.Errorf("job %s not found", args[0])
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-38s %-14s %-9s %-9s %s\n", "ID", "STATUS", "PROGRESS", "UPLOAD", "STARTED")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, job := range jobs {
		upload := "-"
		if job.UploadProgress != nil {
			upload = fmt.Sprintf("%d%%", *job.UploadProgress)
		}
		fmt.Printf("%-38s %-14s %-9s %-9s %s\n",
			job.JobID, job.Status, fmt.Sprintf("%d%%", job.Progress), upload,
			job.StartedAt.Local().Format("15:04:05"))
	}
	return nil
}

func printJob(job models.JobRecord) {
	fmt.Println("ID:         ", job.JobID)
	fmt.Println("Filename:   ", job.Filename)
	if job.UserID != "" {
		fmt.Println("User:       ", job.UserID)
	}
	fmt.Println("Status:     ", job.Status)
	fmt.Printf("Progress:    %d%%\n", job.Progress)
	if job.UploadProgress != nil {
		fmt.Printf("Upload:      %d%%\n", *job.UploadProgress)
	}
	fmt.Println("Started:    ", job.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if job.Description != "" {
		fmt.Println("Description:", job.Description)
	}
	if job.ErrorMessage != "" {
		fmt.Println("Error:      ", job.ErrorMessage)
	}
	if job.ProcessedFilename != nil {
		fmt.Println("Artifact:   ", *job.ProcessedFilename)
	}
}
