package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/storyline-app/storyline/internal/cache"
	"github.com/storyline-app/storyline/internal/ui"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a story",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]

		force, _ := cmd.Flags().GetBool("force")
		if !force && !ui.PromptYesNo(fmt.Sprintf("Delete %s?", id), false) {
			fmt.Fprintln(os.Stderr, "aborted")
			return nil
		}

		session, cleanup, err := openSession()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := context.Background()
		if err := hydrateRecord(ctx, session, id); err != nil {
			return err
		}
		rec, err := session.Delete(ctx, id)
		if err != nil {
			if errors.Is(err, cache.ErrForbidden) {
				return fmt.Errorf("your role (%s) cannot delete stories", session.Role())
			}
			return fmt.Errorf("delete of %s failed: %w", id, err)
		}
		if jsonOutput {
			outputJSON(rec)
			return nil
		}
		fmt.Printf("%s Deleted %s\n", ui.SuccessStyle.Render("✓"), ui.IDStyle.Render(id))
		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolP("force", "f", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(deleteCmd)
}
