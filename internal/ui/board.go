package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/storyline-app/storyline/internal/types"
)

// BoardRow is one rendered line of a board group.
type BoardRow struct {
	ID       string
	Title    string
	Priority types.Priority
	Assignee string
	Labels   []string
}

// BoardGroup is one group of a rendered board view.
type BoardGroup struct {
	Key     string
	Rows    []BoardRow
	Loaded  int
	Total   int
	HasMore bool
}

var tableBorderStyle = lipgloss.NewStyle().Foreground(ColorMuted)

// RenderBoard renders the grouped view as one table per group, with a
// "loaded of total" footer for partially fetched groups.
func RenderBoard(groups []BoardGroup, width int) string {
	if len(groups) == 0 {
		return MutedStyle.Render("No stories match this view.")
	}

	var sections []string
	for _, g := range groups {
		header := fmt.Sprintf("%s (%d)", g.Key, g.Total)
		sections = append(sections, HeaderStyle.Render(header))

		if len(g.Rows) == 0 {
			sections = append(sections, MutedStyle.Render("  (empty)"))
			sections = append(sections, "")
			continue
		}

		rows := make([][]string, 0, len(g.Rows))
		for _, r := range g.Rows {
			title := truncate(r.Title, width-40)
			labels := ""
			if len(r.Labels) > 0 {
				labels = LabelChipStyle.Render(strings.Join(r.Labels, ","))
			}
			rows = append(rows, []string{
				IDStyle.Render(r.ID),
				title,
				PriorityLabel(r.Priority),
				r.Assignee,
				labels,
			})
		}

		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(tableBorderStyle).
			Width(width).
			Rows(rows...)
		sections = append(sections, t.String())

		if g.HasMore {
			sections = append(sections, MutedStyle.Render(
				fmt.Sprintf("  %d of %d loaded - use --more %s to page", g.Loaded, g.Total, g.Key)))
		}
		sections = append(sections, "")
	}
	return strings.Join(sections, "\n")
}

func truncate(s string, max int) string {
	if max < 10 {
		max = 10
	}
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
