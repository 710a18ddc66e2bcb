package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/storyline-app/storyline/internal/cache"
	"github.com/storyline-app/storyline/internal/types"
	"github.com/storyline-app/storyline/internal/ui"
)

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Manage labels on a story",
}

var labelAddCmd = &cobra.Command{
	Use:   "add <id> <label>",
	Short: "Add a label to a story",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLabelOp(args[0], func(ctx context.Context, s *cache.Session) (*types.MutationRecord, error) {
			return s.AddLabel(ctx, args[0], args[1])
		}, fmt.Sprintf("Added %s to", args[1]))
	},
}

var labelRemoveCmd = &cobra.Command{
	Use:   "remove <id> <label>",
	Short: "Remove a label from a story",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLabelOp(args[0], func(ctx context.Context, s *cache.Session) (*types.MutationRecord, error) {
			return s.RemoveLabel(ctx, args[0], args[1])
		}, fmt.Sprintf("Removed %s from", args[1]))
	},
}

var labelSetCmd = &cobra.Command{
	Use:   "set <id> [label...]",
	Short: "Replace a story's labels (no labels clears them)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLabelOp(args[0], func(ctx context.Context, s *cache.Session) (*types.MutationRecord, error) {
			return s.SetLabels(ctx, args[0], args[1:])
		}, "Set labels on")
	},
}

func runLabelOp(id string, op func(context.Context, *cache.Session) (*types.MutationRecord, error), verb string) error {
	session, cleanup, err := openSession()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	if err := hydrateRecord(ctx, session, id); err != nil {
		return err
	}
	rec, err := op(ctx, session)
	if err != nil {
		if errors.Is(err, cache.ErrForbidden) {
			return fmt.Errorf("your role (%s) cannot modify stories", session.Role())
		}
		return fmt.Errorf("label change on %s failed: %w", id, err)
	}
	if jsonOutput {
		outputJSON(rec)
		return nil
	}
	fmt.Printf("%s %s %s\n", ui.SuccessStyle.Render("✓"), verb, ui.IDStyle.Render(id))
	return nil
}

func init() {
	labelCmd.AddCommand(labelAddCmd)
	labelCmd.AddCommand(labelRemoveCmd)
	labelCmd.AddCommand(labelSetCmd)
	rootCmd.AddCommand(labelCmd)
}
