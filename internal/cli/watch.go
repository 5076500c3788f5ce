package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/taskbridge/internal/models"
)

var watchPlain bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Subscribe to live job updates",
	Long: `Subscribe to the server's push channel and show every job with a live
progress bar. Press q or Ctrl-C to stop; jobs keep running on the server.

With --plain (or when stdout is not a terminal) snapshots are printed as
plain lines instead.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchPlain, "plain", false, "print snapshots as plain lines instead of the interactive view")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if watchPlain || !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println("Watching for job updates (Ctrl-C to stop)...")
		return apiClient.Watch(ctx, printSnapshot)
	}

	return RunWatchUI(ctx, apiClient, "")
}

func printSnapshot(jobs []models.JobRecord) {
	for _, job := range jobs {
		upload := ""
		if job.UploadProgress != nil {
			upload = fmt.Sprintf(" upload=%d%%", *job.UploadProgress)
		}
		fmt.Printf("[%s] %s %d%%%s %s\n", shortID(job.JobID), job.Status, job.Progress, upload, job.Description)
	}
	fmt.Println("---")
}
