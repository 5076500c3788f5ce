// Package cli provides the command-line client for TaskBridge.
package cli

import (
	"fmt"
	"os"

	"github.com/raphaelgruber/taskbridge/internal/client"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string

	// Shared client, created before every command runs.
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "taskbridge",
	Short: "Client for the TaskBridge upload/processing server",
	Long: `TaskBridge tracks large file uploads as long-lived jobs: each upload is
staged, processed asynchronously, and its state can be polled or watched live.

This client talks to a running taskbridge-server.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		apiClient = client.New(serverURL)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server base URL (default $TASKBRIDGE_SERVER_URL or http://localhost:8000)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
