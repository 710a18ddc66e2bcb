package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/storyline-app/storyline/internal/ui"
	"github.com/storyline-app/storyline/internal/types"
)

var createCmd = &cobra.Command{
	Use:   "create [title]",
	Short: "Create a story",
	Long: `Create a story in the current workspace.

With --interactive (and a terminal) an input form is shown. With
--from-file a JSON array of drafts is submitted as one bulk create;
drafts fail independently and the summary reports both counts.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fromFile, _ := cmd.Flags().GetString("from-file")
		if fromFile != "" {
			return runBulkCreate(fromFile)
		}

		draft := &types.ItemDraft{}
		if len(args) > 0 {
			draft.Title = args[0]
		}
		draft.Description, _ = cmd.Flags().GetString("description")
		draft.StatusID, _ = cmd.Flags().GetString("status")
		draft.AssigneeID, _ = cmd.Flags().GetString("assignee")
		draft.SprintID, _ = cmd.Flags().GetString("sprint")
		draft.ObjectiveID, _ = cmd.Flags().GetString("objective")
		draft.ParentID, _ = cmd.Flags().GetString("parent")
		draft.LabelIDs, _ = cmd.Flags().GetStringSlice("label")
		draft.TeamID = teamFlag

		if p, _ := cmd.Flags().GetString("priority"); p != "" {
			prio, err := types.ParsePriority(p)
			if err != nil {
				return err
			}
			draft.Priority = prio
		}
		if due, _ := cmd.Flags().GetString("due"); due != "" {
			t, err := parseNaturalDate(due)
			if err != nil {
				return err
			}
			draft.Deadline = &t
		}

		interactive, _ := cmd.Flags().GetBool("interactive")
		if interactive {
			if !ui.IsTerminal() {
				return fmt.Errorf("--interactive requires a terminal")
			}
			if err := runCreateForm(draft); err != nil {
				return err
			}
		}
		if draft.Title == "" {
			return fmt.Errorf("title is required (pass it as an argument or use --interactive)")
		}
		if draft.TeamID == "" {
			draft.TeamID = "default"
		}

		session, cleanup, err := openSession()
		if err != nil {
			return err
		}
		defer cleanup()

		item, err := session.Create(context.Background(), draft)
		if err != nil {
			return fmt.Errorf("create failed: %w", err)
		}
		if jsonOutput {
			outputJSON(item)
			return nil
		}
		fmt.Printf("%s Created %s: %s\n",
			ui.SuccessStyle.Render("✓"), ui.IDStyle.Render(item.ID), item.Title)
		return nil
	},
}

// runCreateForm fills the draft in place. Flag values become form defaults.
func runCreateForm(draft *types.ItemDraft) error {
	priority := draft.Priority.String()
	labels := strings.Join(draft.LabelIDs, ", ")

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Value(&draft.Title).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("title is required")
					}
					return nil
				}),
			huh.NewText().
				Title("Description").
				Value(&draft.Description),
			huh.NewSelect[string]().
				Title("Priority").
				Options(
					huh.NewOption("None", "none"),
					huh.NewOption("Urgent", "urgent"),
					huh.NewOption("High", "high"),
					huh.NewOption("Medium", "medium"),
					huh.NewOption("Low", "low"),
				).
				Value(&priority),
			huh.NewInput().
				Title("Assignee").
				Value(&draft.AssigneeID),
			huh.NewInput().
				Title("Labels (comma separated)").
				Value(&labels),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	if prio, err := types.ParsePriority(priority); err == nil {
		draft.Priority = prio
	}
	draft.LabelIDs = nil
	for _, l := range strings.Split(labels, ",") {
		if l = strings.TrimSpace(l); l != "" {
			draft.LabelIDs = append(draft.LabelIDs, l)
		}
	}
	return nil
}

func runBulkCreate(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	var drafts []*types.ItemDraft
	if err := json.Unmarshal(data, &drafts); err != nil {
		return fmt.Errorf("invalid draft file %s: %w", path, err)
	}
	if len(drafts) == 0 {
		return fmt.Errorf("no drafts in %s", path)
	}
	for _, d := range drafts {
		if d.TeamID == "" {
			d.TeamID = teamFlag
		}
		if d.TeamID == "" {
			d.TeamID = "default"
		}
	}

	session, cleanup, err := openSession()
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := session.BulkCreate(context.Background(), drafts)
	if err != nil {
		return fmt.Errorf("bulk create failed: %w", err)
	}
	if jsonOutput {
		outputJSON(result)
		return nil
	}
	fmt.Printf("%s Created %d of %d stories\n",
		ui.SuccessStyle.Render("✓"), result.CreatedCount, len(drafts))
	for _, item := range result.CreatedItems {
		fmt.Printf("  %s %s\n", ui.IDStyle.Render(item.ID), item.Title)
	}
	if result.ErrorCount > 0 {
		fmt.Printf("%s %d draft(s) failed:\n", ui.WarningStyle.Render("!"), result.ErrorCount)
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	return nil
}

func init() {
	createCmd.Flags().StringP("description", "d", "", "Story description (markdown)")
	createCmd.Flags().String("status", "", "Initial status (defaults to backlog)")
	createCmd.Flags().StringP("priority", "p", "", "Priority: urgent, high, medium, low, none")
	createCmd.Flags().StringP("assignee", "a", "", "Assignee user id")
	createCmd.Flags().StringSliceP("label", "l", nil, "Label id (repeatable)")
	createCmd.Flags().String("sprint", "", "Sprint id")
	createCmd.Flags().String("objective", "", "Objective id")
	createCmd.Flags().String("parent", "", "Parent story id")
	createCmd.Flags().String("due", "", "Deadline (2006-01-02 or natural language)")
	createCmd.Flags().BoolP("interactive", "i", false, "Fill in the story via an interactive form")
	createCmd.Flags().String("from-file", "", "Bulk create from a JSON array of drafts")
	rootCmd.AddCommand(createCmd)
}
