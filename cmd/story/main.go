// Command story is the storyline CLI: a board/detail client over the
// storyline daemon, backed by the client-side consistency engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/storyline-app/storyline/internal/config"
	"github.com/storyline-app/storyline/internal/rpc"
)

var (
	jsonOutput bool
	actorFlag  string
	dbPath     string
	teamFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "story",
	Short: "Storyline - a work-item tracker with an optimistic client cache",
	Long: `story tracks work items ("stories") for your team.

Reads and writes go through a local consistency engine: views are
grouped and paginated, mutations apply optimistically and roll back
exactly on failure. A storyline daemon (started with 'story serve')
owns the database; every other command talks to it over a unix socket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		if !cmd.Flags().Changed("json") {
			jsonOutput = config.GetBool("json")
		}
		if dbPath == "" {
			dbPath = config.GetString("db")
		}
		if teamFlag == "" {
			teamFlag = config.GetString("team")
		}
		rpc.ClientVersion = Version
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", "", "Actor recorded on mutations (default: config, git user, hostname)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: <workspace>/.storyline/storyline.db)")
	rootCmd.PersistentFlags().StringVar(&teamFlag, "team", "", "Default team for views and new stories")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
