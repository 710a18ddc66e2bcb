package main

import (
	"testing"
	"time"

	"github.com/storyline-app/storyline/internal/cache"
	"github.com/storyline-app/storyline/internal/types"
)

func TestSpecFromFlags(t *testing.T) {
	cmd := boardCmd
	if err := cmd.Flags().Set("group-by", "priority"); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("status", "todo"); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("priority", "high"); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("page-size", "10"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		for _, pair := range [][2]string{
			{"group-by", "status"}, {"page-size", "0"},
		} {
			_ = cmd.Flags().Set(pair[0], pair[1])
		}
	})

	spec, err := specFromFlags(cmd)
	if err != nil {
		t.Fatalf("specFromFlags: %v", err)
	}
	if spec.GroupBy != types.GroupByPriority {
		t.Errorf("GroupBy = %q, want priority", spec.GroupBy)
	}
	if len(spec.StatusIDs) != 1 || spec.StatusIDs[0] != "todo" {
		t.Errorf("StatusIDs = %v, want [todo]", spec.StatusIDs)
	}
	if len(spec.Priorities) != 1 || spec.Priorities[0] != types.PriorityHigh {
		t.Errorf("Priorities = %v, want [high]", spec.Priorities)
	}
	if spec.PageSize != 10 {
		t.Errorf("PageSize = %d, want 10", spec.PageSize)
	}
}

func TestSpecFromFlagsRejectsBadGroupBy(t *testing.T) {
	if err := boardCmd.Flags().Set("group-by", "severity"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = boardCmd.Flags().Set("group-by", "status") })

	if _, err := specFromFlags(boardCmd); err == nil {
		t.Fatal("expected error for invalid --group-by")
	}
}

func TestParseNaturalDate(t *testing.T) {
	got, err := parseNaturalDate("2026-03-01")
	if err != nil {
		t.Fatalf("parseNaturalDate: %v", err)
	}
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	if _, err := parseNaturalDate("tomorrow"); err != nil {
		t.Errorf("natural expression should parse: %v", err)
	}
	if _, err := parseNaturalDate("not a date at all xyzzy"); err == nil {
		t.Error("expected error for unparseable input")
	}
}

func TestBoardGroupsDeadlineFilter(t *testing.T) {
	due := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	early := due.AddDate(0, 0, -3)
	late := due.AddDate(0, 0, 3)

	state := &cache.ViewState{
		Groups: []*cache.GroupState{
			{
				Group: &types.Group{Key: "todo", LoadedCount: 3, TotalCount: 5, HasMore: true},
				Items: []*types.WorkItem{
					{ID: "st-1", Title: "soon", Deadline: &early},
					{ID: "st-2", Title: "later", Deadline: &late},
					{ID: "st-3", Title: "never"},
				},
			},
		},
	}

	groups := boardGroups(state, due)
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	g := groups[0]
	if g.Key != "todo" || !g.HasMore || g.Total != 5 {
		t.Errorf("group metadata not carried over: %+v", g)
	}
	if len(g.Rows) != 1 || g.Rows[0].ID != "st-1" {
		t.Fatalf("deadline filter kept %v, want only st-1", g.Rows)
	}

	all := boardGroups(state, time.Time{})
	if len(all[0].Rows) != 3 {
		t.Errorf("zero filter should keep all rows, got %d", len(all[0].Rows))
	}
}
