package cache

import (
	"context"
	"testing"
	"time"

	"github.com/storyline-app/storyline/internal/types"
)

func teamSpec(team string) types.ViewSpec {
	sp := boardSpec()
	sp.TeamIDs = []string{team}
	return sp
}

func seedTwoTeams(f *fakeRemote) {
	seedBoard(f)
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	f.seed(&types.WorkItem{
		ID:        "st-7",
		Title:     "Other team story",
		StatusID:  "backlog",
		Priority:  types.PriorityLow,
		TeamID:    "team-b",
		CreatedAt: base,
		UpdatedAt: base,
	})
}

// TestInvalidationScopeTargeting verifies invalidation refetches only
// views whose scope could contain the changed records: team-b's board
// must not be refreshed for a team-a story.
func TestInvalidationScopeTargeting(t *testing.T) {
	f := newFakeRemote()
	seedTwoTeams(f)
	s := newTestSession(t, f, types.RoleAdmin)
	ctx := context.Background()

	ha, err := s.SubscribeView(ctx, teamSpec("team-a"))
	if err != nil {
		t.Fatalf("subscribe team-a: %v", err)
	}
	defer ha.Close()
	hb, err := s.SubscribeView(ctx, teamSpec("team-b"))
	if err != nil {
		t.Fatalf("subscribe team-b: %v", err)
	}
	defer hb.Close()

	s.Invalidate(EntityStory, []string{"st-1"})

	if got := f.groupedCallCount(teamSpec("team-a")); got != 2 {
		t.Errorf("team-a grouped calls = %d, want refresh", got)
	}
	if got := f.groupedCallCount(teamSpec("team-b")); got != 1 {
		t.Errorf("team-b grouped calls = %d, want untouched", got)
	}
}

// TestInvalidationUnknownRecordConservative: an id the cache has never
// seen could belong to any view, so every view refreshes.
func TestInvalidationUnknownRecordConservative(t *testing.T) {
	f := newFakeRemote()
	seedTwoTeams(f)
	s := newTestSession(t, f, types.RoleAdmin)
	ctx := context.Background()

	ha, err := s.SubscribeView(ctx, teamSpec("team-a"))
	if err != nil {
		t.Fatalf("subscribe team-a: %v", err)
	}
	defer ha.Close()
	hb, err := s.SubscribeView(ctx, teamSpec("team-b"))
	if err != nil {
		t.Fatalf("subscribe team-b: %v", err)
	}
	defer hb.Close()

	s.Invalidate(EntityStory, []string{"st-999"})

	if got := f.groupedCallCount(teamSpec("team-a")); got != 2 {
		t.Errorf("team-a grouped calls = %d, want conservative refresh", got)
	}
	if got := f.groupedCallCount(teamSpec("team-b")); got != 2 {
		t.Errorf("team-b grouped calls = %d, want conservative refresh", got)
	}
}

// TestInvalidationCurrentMembership: a record that no longer matches a
// view's filters may still be displayed by it, so the view holding it
// must refresh to drop it.
func TestInvalidationCurrentMembership(t *testing.T) {
	f := newFakeRemote()
	seedTwoTeams(f)
	s := newTestSession(t, f, types.RoleAdmin)
	ctx := context.Background()

	ha, err := s.SubscribeView(ctx, teamSpec("team-a"))
	if err != nil {
		t.Fatalf("subscribe team-a: %v", err)
	}
	defer ha.Close()

	// Server moves st-6 to team-b; the cached copy still says team-a.
	f.mu.Lock()
	f.items["st-6"].TeamID = "team-b"
	f.mu.Unlock()

	s.Invalidate(EntityStory, []string{"st-6"})

	if got := f.groupedCallCount(teamSpec("team-a")); got != 2 {
		t.Fatalf("team-a grouped calls = %d, want refresh to drop st-6", got)
	}
	if g := ha.Snapshot().Group("todo"); g != nil {
		t.Fatalf("st-6 still displayed after leaving the team: %+v", g.Group)
	}
}

// TestInvalidateAll refreshes every subscribed view and detail.
func TestInvalidateAll(t *testing.T) {
	f := newFakeRemote()
	seedTwoTeams(f)
	s := newTestSession(t, f, types.RoleAdmin)
	ctx := context.Background()

	ha, err := s.SubscribeView(ctx, teamSpec("team-a"))
	if err != nil {
		t.Fatalf("subscribe team-a: %v", err)
	}
	defer ha.Close()
	hb, err := s.SubscribeView(ctx, teamSpec("team-b"))
	if err != nil {
		t.Fatalf("subscribe team-b: %v", err)
	}
	defer hb.Close()
	hd, err := s.SubscribeDetail(ctx, "st-1")
	if err != nil {
		t.Fatalf("subscribe detail: %v", err)
	}
	defer hd.Close()

	s.InvalidateAll(EntityStory)

	if got := f.groupedCallCount(teamSpec("team-a")); got != 2 {
		t.Errorf("team-a grouped calls = %d", got)
	}
	if got := f.groupedCallCount(teamSpec("team-b")); got != 2 {
		t.Errorf("team-b grouped calls = %d", got)
	}
	f.mu.Lock()
	gets := f.getCalls
	f.mu.Unlock()
	if gets != 2 {
		t.Errorf("GetItem calls = %d, want detail refresh", gets)
	}
}

// TestCommentInvalidationSkipsViews: comment changes affect details but
// never grouped views.
func TestCommentInvalidationSkipsViews(t *testing.T) {
	f := newFakeRemote()
	seedTwoTeams(f)
	s := newTestSession(t, f, types.RoleAdmin)
	ctx := context.Background()

	ha, err := s.SubscribeView(ctx, teamSpec("team-a"))
	if err != nil {
		t.Fatalf("subscribe team-a: %v", err)
	}
	defer ha.Close()
	hd, err := s.SubscribeDetail(ctx, "st-1")
	if err != nil {
		t.Fatalf("subscribe detail: %v", err)
	}
	defer hd.Close()

	s.Invalidate(EntityComment, []string{"st-1"})

	if got := f.groupedCallCount(teamSpec("team-a")); got != 1 {
		t.Errorf("grouped calls = %d, comment change should not touch views", got)
	}
	f.mu.Lock()
	gets := f.getCalls
	f.mu.Unlock()
	if gets != 2 {
		t.Errorf("GetItem calls = %d, want detail refresh", gets)
	}
}

// TestRecordChangeBumpsVersion: a store write to a displayed record is
// observable through the view's version without a refetch.
func TestRecordChangeBumpsVersion(t *testing.T) {
	f := newFakeRemote()
	seedTwoTeams(f)
	s := newTestSession(t, f, types.RoleAdmin)
	ctx := context.Background()

	ha, err := s.SubscribeView(ctx, teamSpec("team-a"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer ha.Close()
	before := ha.Snapshot().Version

	title := "Renamed story"
	if _, err := s.Mutate(ctx, "st-1", &types.ItemPatch{Title: &title}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	after := ha.Snapshot()
	if after.Version <= before {
		t.Fatalf("version did not advance: %d -> %d", before, after.Version)
	}
	if got := after.Group("backlog").Items[0].Title; got != "Renamed story" {
		t.Fatalf("view shows %q", got)
	}
}
