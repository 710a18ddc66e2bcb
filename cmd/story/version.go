package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/storyline-app/storyline/internal/rpc"
)

var (
	// Version is the current version of story (overridden by ldflags at build time)
	Version = "0.3.0"
	// Build can be set via ldflags at compile time
	Build = "dev"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		checkDaemon, _ := cmd.Flags().GetBool("daemon")
		if checkDaemon {
			showDaemonVersion()
			return
		}

		if jsonOutput {
			outputJSON(map[string]string{
				"version": Version,
				"build":   Build,
				"commit":  resolveCommitHash(),
			})
			return
		}

		if commit := resolveCommitHash(); commit != "" {
			fmt.Printf("story version %s (%s: %s)\n", Version, Build, shortCommit(commit))
		} else {
			fmt.Printf("story version %s (%s)\n", Version, Build)
		}
	},
}

func showDaemonVersion() {
	client, err := rpc.TryConnect(socketPathForWorkspace())
	if err != nil || client == nil {
		fmt.Fprintf(os.Stderr, "Error: daemon is not running\n")
		fmt.Fprintf(os.Stderr, "Hint: start it with 'story serve'\n")
		os.Exit(1)
	}
	defer func() { _ = client.Close() }()

	status, err := client.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error checking daemon: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		outputJSON(map[string]interface{}{
			"daemon_version": status.Version,
			"client_version": Version,
			"daemon_uptime":  status.UptimeSeconds,
		})
		return
	}
	fmt.Printf("Daemon version: %s\n", status.Version)
	fmt.Printf("Client version: %s\n", Version)
	fmt.Printf("Daemon uptime: %.1f seconds\n", status.UptimeSeconds)
}

func resolveCommitHash() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				return setting.Value
			}
		}
	}
	return ""
}

func shortCommit(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}

func init() {
	versionCmd.Flags().Bool("daemon", false, "Check daemon version and uptime")
	rootCmd.AddCommand(versionCmd)
}
