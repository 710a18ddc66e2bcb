package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/storyline-app/storyline/internal/rpc"
	"github.com/storyline-app/storyline/internal/types"
	"github.com/storyline-app/storyline/internal/ui"
)

var commentCmd = &cobra.Command{
	Use:   "comment <id> <body...>",
	Short: "Add a comment to a story",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		body := strings.TrimSpace(strings.Join(args[1:], " "))
		if body == "" {
			return fmt.Errorf("comment body is required")
		}

		client, err := connectDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.AddComment(&rpc.CommentAddArgs{ID: id, Body: body})
		if err != nil {
			return fmt.Errorf("comment on %s failed: %w", id, err)
		}
		if jsonOutput {
			var comment types.Comment
			if err := json.Unmarshal(resp.Data, &comment); err != nil {
				return err
			}
			outputJSON(&comment)
			return nil
		}
		fmt.Printf("%s Commented on %s\n", ui.SuccessStyle.Render("✓"), ui.IDStyle.Render(id))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commentCmd)
}
