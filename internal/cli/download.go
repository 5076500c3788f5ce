package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var downloadOutput string

var downloadCmd = &cobra.Command{
	Use:   "download <job-id>",
	Short: "Download the processed artifact of a completed job",
	Args:  cobra.ExactArgs(1),
	RunE:  runDownload,
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "destination path (default: the processed filename)")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	jobID := args[0]

	dest := downloadOutput
	if dest == "" {
		jobs, err := apiClient.ListJobs(ctx)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		for i := range jobs {
			if jobs[i].JobID == jobID && jobs[i].ProcessedFilename != nil {
				dest = *jobs[i].ProcessedFilename
			}
		}
		if dest == "" {
			return fmt.Errorf("job %s has no processed artifact yet", jobID)
		}
	}

	if err := apiClient.Download(ctx, jobID, dest); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	fmt.Println("Saved to", dest)
	return nil
}
