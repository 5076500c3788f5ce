package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a file and start a processing job",
	Long: `Upload a file to the server. The upload is streamed and tracked as a job;
processing starts automatically once the transfer completes.

Examples:
  taskbridge upload ./report.bin
  taskbridge upload ./report.bin --watch
  taskbridge upload ./video.mp4 --server http://build-box:8000`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

var uploadWatch bool

func init() {
	uploadCmd.Flags().BoolVar(&uploadWatch, "watch", false, "follow the job with a live progress bar until processing finishes")
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	path := args[0]
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}

	fmt.Printf("Uploading %s (%s)...\n", path, humanize.IBytes(uint64(info.Size())))

	resp, err := apiClient.Upload(context.Background(), path)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	fmt.Println("Upload complete, processing started")
	fmt.Println("Job ID:", resp.JobID)

	if uploadWatch {
		return RunWatchUI(context.Background(), apiClient, resp.JobID)
	}
	return nil
}
