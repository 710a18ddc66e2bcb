package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/storyline-app/storyline/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a storyline workspace in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		dir := filepath.Join(cwd, ".storyline")
		if _, err := os.Stat(dir); err == nil {
			fmt.Printf("%s Workspace already initialized at %s\n", ui.MutedStyle.Render("·"), dir)
			return nil
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}

		name, _ := cmd.Flags().GetString("workspace")
		if name == "" {
			name = filepath.Base(cwd)
		}
		configPath := filepath.Join(dir, "config.yaml")
		content := fmt.Sprintf("workspace: %s\n", name)
		if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", configPath, err)
		}

		fmt.Printf("%s Initialized workspace %q\n", ui.SuccessStyle.Render("✓"), name)
		fmt.Printf("  %s\n", ui.MutedStyle.Render("start the daemon with 'story serve'"))
		return nil
	},
}

func init() {
	initCmd.Flags().String("workspace", "", "Workspace name (defaults to the directory name)")
	rootCmd.AddCommand(initCmd)
}
