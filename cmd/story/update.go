package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/storyline-app/storyline/internal/cache"
	"github.com/storyline-app/storyline/internal/remote"
	"github.com/storyline-app/storyline/internal/types"
	"github.com/storyline-app/storyline/internal/ui"
)

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update fields on a story",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]

		patch := &types.ItemPatch{}
		if cmd.Flags().Changed("title") {
			v, _ := cmd.Flags().GetString("title")
			patch.Title = &v
		}
		if cmd.Flags().Changed("description") {
			v, _ := cmd.Flags().GetString("description")
			patch.Description = &v
		}
		if cmd.Flags().Changed("status") {
			v, _ := cmd.Flags().GetString("status")
			patch.StatusID = &v
		}
		if cmd.Flags().Changed("priority") {
			v, _ := cmd.Flags().GetString("priority")
			prio, err := types.ParsePriority(v)
			if err != nil {
				return err
			}
			patch.Priority = &prio
		}
		if cmd.Flags().Changed("assignee") {
			v, _ := cmd.Flags().GetString("assignee")
			patch.AssigneeID = &v
		}
		if cmd.Flags().Changed("sprint") {
			v, _ := cmd.Flags().GetString("sprint")
			patch.SprintID = &v
		}
		if cmd.Flags().Changed("objective") {
			v, _ := cmd.Flags().GetString("objective")
			patch.ObjectiveID = &v
		}
		if cmd.Flags().Changed("parent") {
			v, _ := cmd.Flags().GetString("parent")
			patch.ParentID = &v
		}
		if cmd.Flags().Changed("due") {
			v, _ := cmd.Flags().GetString("due")
			t, err := parseNaturalDate(v)
			if err != nil {
				return err
			}
			patch.Deadline = &t
		}
		if patch.IsZero() {
			return fmt.Errorf("no changes given (see 'story update --help' for flags)")
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
		rec, err := session.Mutate(ctx, id, patch)
		if err != nil {
			switch {
			case errors.Is(err, cache.ErrForbidden):
				return fmt.Errorf("your role (%s) cannot modify stories", session.Role())
			case remote.IsRejected(err):
				return fmt.Errorf("update of %s was rejected: %w (the cache was rolled back; fix the values and retry)", id, err)
			default:
				return fmt.Errorf("update of %s failed: %w", id, err)
			}
		}
		if jsonOutput {
			outputJSON(rec)
			return nil
		}
		fmt.Printf("%s Updated %s\n", ui.SuccessStyle.Render("✓"), ui.IDStyle.Render(id))
		return nil
	},
}

func init() {
	updateCmd.Flags().String("title", "", "New title")
	updateCmd.Flags().StringP("description", "d", "", "New description")
	updateCmd.Flags().String("status", "", "New status")
	updateCmd.Flags().StringP("priority", "p", "", "New priority: urgent, high, medium, low, none")
	updateCmd.Flags().StringP("assignee", "a", "", "New assignee ('' to unassign)")
	updateCmd.Flags().String("sprint", "", "New sprint id")
	updateCmd.Flags().String("objective", "", "New objective id")
	updateCmd.Flags().String("parent", "", "New parent id")
	updateCmd.Flags().String("due", "", "New deadline (2006-01-02 or natural language)")
	rootCmd.AddCommand(updateCmd)
}
