package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/storyline-app/storyline/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status for the current workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := connectDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		status, err := client.Status()
		if err != nil {
			return fmt.Errorf("failed to query daemon: %w", err)
		}
		if jsonOutput {
			outputJSON(status)
			return nil
		}

		uptime := time.Duration(status.UptimeSeconds) * time.Second
		fmt.Println(ui.HeaderStyle.Render("Daemon status"))
		fmt.Printf("  version:  %s\n", status.Version)
		fmt.Printf("  socket:   %s\n", status.SocketPath)
		if status.DBPath != "" {
			fmt.Printf("  database: %s\n", status.DBPath)
		} else {
			fmt.Printf("  database: %s\n", ui.MutedStyle.Render("(in-memory)"))
		}
		fmt.Printf("  uptime:   %s\n", uptime.Round(time.Second))
		fmt.Printf("  requests: %d (%d errors)\n", status.Requests, status.Errors)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
