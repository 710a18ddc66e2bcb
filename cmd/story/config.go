package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/storyline-app/storyline/internal/rpc"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Get or set workspace configuration stored in the daemon database",
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a config value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := connectDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		value, err := client.GetConfig(&rpc.ConfigArgs{Key: args[0]})
		if err != nil {
			return err
		}
		if value == "" {
			return fmt.Errorf("config key not set: %s", args[0])
		}
		fmt.Println(value)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := connectDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.SetConfig(&rpc.ConfigArgs{Key: args[0], Value: args[1]}); err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}
