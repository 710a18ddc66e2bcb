package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/storyline-app/storyline/internal/ui"
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one story with its description, comments, and activity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]

		session, cleanup, err := openSession()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := context.Background()
		handle, err := session.SubscribeDetail(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", id, err)
		}
		defer handle.Close()

		state := handle.Snapshot()
		if state.Err != nil {
			return state.Err
		}
		if state.Entry == nil || state.Entry.Item == nil {
			return fmt.Errorf("story not found: %s", id)
		}

		// --all-comments pages the thread to the end before rendering.
		if all, _ := cmd.Flags().GetBool("all-comments"); all {
			for state.Entry.CommentPages.HasMore {
				if err := session.LoadMoreComments(ctx, id); err != nil {
					return fmt.Errorf("failed to load comments: %w", err)
				}
				state = handle.Snapshot()
			}
		}

		if jsonOutput {
			outputJSON(state.Entry)
			return nil
		}

		entry := state.Entry
		item := entry.Item
		width := ui.GetWidth()

		fmt.Printf("%s %s\n", ui.IDStyle.Render(item.ID), ui.HeaderStyle.Render(item.Title))
		fmt.Printf("  status: %s   priority: %s   team: %s\n",
			item.StatusID, ui.PriorityLabel(item.Priority), item.TeamID)
		if item.AssigneeID != "" {
			fmt.Printf("  assignee: %s\n", item.AssigneeID)
		}
		if len(item.LabelIDs) > 0 {
			fmt.Printf("  labels: %s\n", ui.LabelChipStyle.Render(strings.Join(item.LabelIDs, ", ")))
		}
		if item.Deadline != nil {
			fmt.Printf("  due: %s\n", item.Deadline.Format("2006-01-02"))
		}

		if entry.Description != "" {
			fmt.Println()
			fmt.Println(ui.RenderMarkdown(entry.Description, width))
		}

		if len(entry.Comments) > 0 {
			fmt.Println()
			fmt.Println(ui.HeaderStyle.Render("Comments"))
			for _, c := range entry.Comments {
				fmt.Printf("  %s %s\n", ui.MutedStyle.Render(c.CreatedAt.Format("2006-01-02 15:04")), c.AuthorID)
				fmt.Printf("    %s\n", c.Body)
			}
			if entry.CommentPages.HasMore {
				fmt.Println(ui.MutedStyle.Render("  (more comments - use --all-comments)"))
			}
		}

		if showActivity, _ := cmd.Flags().GetBool("activity"); showActivity && len(entry.Activity) > 0 {
			fmt.Println()
			fmt.Println(ui.HeaderStyle.Render("Activity"))
			for _, a := range entry.Activity {
				fmt.Printf("  %s %s %s\n",
					ui.MutedStyle.Render(a.CreatedAt.Format("2006-01-02 15:04")), a.ActorID, a.Kind)
			}
		}
		return nil
	},
}

func init() {
	showCmd.Flags().Bool("all-comments", false, "Load the full comment thread")
	showCmd.Flags().Bool("activity", false, "Include the activity trail")
	rootCmd.AddCommand(showCmd)
}
