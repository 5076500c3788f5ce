package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all jobs and their staged/processed files",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient.Clear(context.Background()); err != nil {
			return fmt.Errorf("clear jobs: %w", err)
		}
		fmt.Println("All jobs cleared")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(clearCmd)
}
