package main

import (
	"context"
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/storyline-app/storyline/internal/cache"
	"github.com/storyline-app/storyline/internal/config"
	"github.com/storyline-app/storyline/internal/types"
	"github.com/storyline-app/storyline/internal/ui"
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Show a grouped board of stories",
	Long: `board subscribes a grouped view and renders it: one table per
group, with pagination accounting per group. Groups load their first
page up front; --more <group> fetches the next page of one group.

Date filters accept natural language, e.g. --due-before "next friday".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := specFromFlags(cmd)
		if err != nil {
			return err
		}

		var dueBefore time.Time
		if expr, _ := cmd.Flags().GetString("due-before"); expr != "" {
			dueBefore, err = parseNaturalDate(expr)
			if err != nil {
				return err
			}
		}

		session, cleanup, err := openSession()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := context.Background()
		handle, err := session.SubscribeView(ctx, spec)
		if err != nil {
			return fmt.Errorf("failed to load view: %w", err)
		}
		defer handle.Close()

		if moreKey, _ := cmd.Flags().GetString("more"); moreKey != "" {
			if _, err := session.LoadMore(ctx, spec, moreKey); err != nil {
				return fmt.Errorf("failed to load more of %q: %w", moreKey, err)
			}
		}

		state := handle.Snapshot()
		if state.Err != nil {
			return state.Err
		}

		groups := boardGroups(state, dueBefore)
		if jsonOutput {
			outputJSON(groups)
			return nil
		}
		fmt.Println(ui.RenderBoard(groups, ui.GetWidth()))
		return nil
	},
}

// specFromFlags assembles the ViewSpec the board subscribes.
func specFromFlags(cmd *cobra.Command) (types.ViewSpec, error) {
	spec := types.ViewSpec{
		OrderBy:        types.OrderByCreatedAt,
		OrderDirection: types.OrderAsc,
	}

	if teamFlag != "" {
		spec.TeamIDs = []string{teamFlag}
	}

	groupBy, _ := cmd.Flags().GetString("group-by")
	spec.GroupBy = types.GroupBy(groupBy)
	if !spec.GroupBy.IsValid() {
		return spec, fmt.Errorf("invalid --group-by %q (status, priority, assignee, none)", groupBy)
	}

	if orderBy, _ := cmd.Flags().GetString("order-by"); orderBy != "" {
		spec.OrderBy = types.OrderBy(orderBy)
	}
	if desc, _ := cmd.Flags().GetBool("desc"); desc {
		spec.OrderDirection = types.OrderDesc
	}

	spec.StatusIDs, _ = cmd.Flags().GetStringSlice("status")
	spec.AssigneeIDs, _ = cmd.Flags().GetStringSlice("assignee")
	spec.Categories, _ = cmd.Flags().GetStringSlice("category")
	spec.SprintID, _ = cmd.Flags().GetString("sprint")
	spec.ObjectiveID, _ = cmd.Flags().GetString("objective")
	spec.PageSize, _ = cmd.Flags().GetInt("page-size")
	if spec.PageSize <= 0 {
		spec.PageSize = config.GetInt("page-size")
	}

	priorities, _ := cmd.Flags().GetStringSlice("priority")
	for _, p := range priorities {
		parsed, err := types.ParsePriority(p)
		if err != nil {
			return spec, err
		}
		spec.Priorities = append(spec.Priorities, parsed)
	}

	return spec, nil
}

// parseNaturalDate parses expressions like "next friday" or "2026-03-01".
func parseNaturalDate(expr string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", expr); err == nil {
		return t, nil
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(expr, time.Now())
	if err != nil || r == nil {
		return time.Time{}, fmt.Errorf("could not parse date %q", expr)
	}
	return r.Time, nil
}

// boardGroups converts a view snapshot into renderable rows, applying
// the client-side deadline filter when one was given.
func boardGroups(state *cache.ViewState, dueBefore time.Time) []ui.BoardGroup {
	var groups []ui.BoardGroup
	for _, gs := range state.Groups {
		bg := ui.BoardGroup{
			Key:     gs.Group.Key,
			Loaded:  gs.Group.LoadedCount,
			Total:   gs.Group.TotalCount,
			HasMore: gs.Group.HasMore,
		}
		for _, item := range gs.Items {
			if !dueBefore.IsZero() {
				if item.Deadline == nil || !item.Deadline.Before(dueBefore) {
					continue
				}
			}
			bg.Rows = append(bg.Rows, ui.BoardRow{
				ID:       item.ID,
				Title:    item.Title,
				Priority: item.Priority,
				Assignee: item.AssigneeID,
				Labels:   item.LabelIDs,
			})
		}
		groups = append(groups, bg)
	}
	return groups
}

func init() {
	boardCmd.Flags().String("group-by", "status", "Grouping dimension: status, priority, assignee, none")
	boardCmd.Flags().String("order-by", "created_at", "Sort field: created_at, updated_at, priority, deadline, title")
	boardCmd.Flags().Bool("desc", false, "Sort descending")
	boardCmd.Flags().StringSlice("status", nil, "Filter by status id (repeatable)")
	boardCmd.Flags().StringSlice("assignee", nil, "Filter by assignee id (repeatable)")
	boardCmd.Flags().StringSlice("priority", nil, "Filter by priority name (repeatable)")
	boardCmd.Flags().StringSlice("category", nil, "Filter by status category (repeatable)")
	boardCmd.Flags().String("sprint", "", "Filter by sprint id")
	boardCmd.Flags().String("objective", "", "Filter by objective id")
	boardCmd.Flags().Int("page-size", 0, "Items per group page (default from config)")
	boardCmd.Flags().String("more", "", "Load the next page of the named group")
	boardCmd.Flags().String("due-before", "", "Only show stories due before this date (natural language ok)")
	rootCmd.AddCommand(boardCmd)
}
