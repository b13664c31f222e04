package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print connection statistics of the running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := sendControl(cfg.ControlSocket, "stats")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), stats)
		return nil
	},
}

var (
	shutdownReason string
	shutdownAt     string
)

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop the running server, telling clients why",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if shutdownAt != "" {
			if _, err := time.Parse(time.RFC3339, shutdownAt); err != nil {
				return fmt.Errorf("--at must be RFC3339: %w", err)
			}
		}

		reply, err := sendControl(cfg.ControlSocket, "shutdown|"+shutdownReason+"|"+shutdownAt)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), reply)
		return nil
	},
}

func init() {
	shutdownCmd.Flags().StringVar(&shutdownReason, "reason", "maintenance", "reason sent to clients")
	shutdownCmd.Flags().StringVar(&shutdownAt, "at", "", "expected completion time (RFC3339)")

	rootCmd.AddCommand(statsCmd, shutdownCmd)
}
