package rpc

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/storyline-app/storyline/internal/remote"
	"github.com/storyline-app/storyline/internal/storage/memory"
	"github.com/storyline-app/storyline/internal/types"
)

// startTestServer starts a daemon over an in-memory store on a socket
// in a temp directory and returns a connected client.
func startTestServer(t *testing.T) (*Client, *memory.Store) {
	t.Helper()

	store := memory.New()
	socketPath := filepath.Join(t.TempDir(), "story.sock")

	srv := NewServer(socketPath, store, "", "")
	go func() { _ = srv.Start() }()
	if err := srv.WaitReady(2 * time.Second); err != nil {
		t.Fatalf("server not ready: %v", err)
	}
	t.Cleanup(srv.Stop)

	client, err := TryConnect(socketPath)
	if err != nil {
		t.Fatalf("TryConnect failed: %v", err)
	}
	if client == nil {
		t.Fatal("TryConnect returned no client for a live daemon")
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, store
}

func decodeData(resp *Response, out interface{}) error {
	return json.Unmarshal(resp.Data, out)
}

func seedStore(t *testing.T, store *memory.Store, items ...*types.WorkItem) {
	t.Helper()
	for _, it := range items {
		if err := store.CreateItem(context.Background(), it, "", "seeder"); err != nil {
			t.Fatalf("seed %s: %v", it.ID, err)
		}
	}
}

func storyAt(id, status string, minute int) *types.WorkItem {
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	return &types.WorkItem{
		ID:        id,
		Title:     "Story " + id,
		StatusID:  status,
		Priority:  types.PriorityMedium,
		TeamID:    "team-a",
		CreatedAt: base.Add(time.Duration(minute) * time.Minute),
		UpdatedAt: base.Add(time.Duration(minute) * time.Minute),
	}
}

func TestPingAndStatus(t *testing.T) {
	client, _ := startTestServer(t)

	if err := client.Ping(); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.SocketPath == "" {
		t.Error("status missing socket path")
	}
	if status.Requests == 0 {
		t.Error("request counter not advancing")
	}
}

func TestListGroupedAndPaging(t *testing.T) {
	client, store := startTestServer(t)
	seedStore(t, store,
		storyAt("st-1", "backlog", 1),
		storyAt("st-2", "backlog", 2),
		storyAt("st-3", "backlog", 3),
		storyAt("st-4", "todo", 4),
	)

	r := NewRemoteClient(client)
	ctx := context.Background()
	spec := types.ViewSpec{
		TeamIDs:        []string{"team-a"},
		GroupBy:        types.GroupByStatus,
		OrderBy:        types.OrderByCreatedAt,
		OrderDirection: types.OrderAsc,
		PageSize:       2,
	}

	resp, err := r.ListGrouped(ctx, remote.GroupedQuery{Spec: spec, Page: 1})
	if err != nil {
		t.Fatalf("ListGrouped failed: %v", err)
	}
	if len(resp.Groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(resp.Groups))
	}

	backlog := resp.Groups[0]
	if backlog.Key != "backlog" {
		t.Fatalf("first group is %q, want backlog (sorted keys)", backlog.Key)
	}
	if backlog.TotalCount != 3 || len(backlog.Items) != 2 || !backlog.HasMore {
		t.Fatalf("backlog page 1 = %d items / total %d / more %v, want 2/3/true",
			len(backlog.Items), backlog.TotalCount, backlog.HasMore)
	}
	if backlog.Items[0].ID != "st-1" || backlog.Items[1].ID != "st-2" {
		t.Fatalf("page 1 order wrong: %s, %s", backlog.Items[0].ID, backlog.Items[1].ID)
	}

	page2, err := r.LoadGroupPage(ctx, remote.PageQuery{Spec: spec, GroupKey: "backlog", Cursor: backlog.Cursor})
	if err != nil {
		t.Fatalf("LoadGroupPage failed: %v", err)
	}
	if len(page2.Items) != 1 || page2.Items[0].ID != "st-3" {
		t.Fatalf("page 2 = %d items, want just st-3", len(page2.Items))
	}
	if page2.HasMore {
		t.Error("page 2 should exhaust the group")
	}

	// A replayed cursor returns the same window.
	replay, err := r.LoadGroupPage(ctx, remote.PageQuery{Spec: spec, GroupKey: "backlog", Cursor: backlog.Cursor})
	if err != nil {
		t.Fatalf("cursor replay failed: %v", err)
	}
	if len(replay.Items) != 1 || replay.Items[0].ID != "st-3" {
		t.Error("replayed cursor did not return the same window")
	}
}

func TestCategoryFilter(t *testing.T) {
	client, store := startTestServer(t)
	seedStore(t, store,
		storyAt("st-1", "todo", 1),
		storyAt("st-2", "in_progress", 2),
		storyAt("st-3", "done", 3),
	)

	r := NewRemoteClient(client)
	spec := types.ViewSpec{
		TeamIDs:        []string{"team-a"},
		GroupBy:        types.GroupByStatus,
		OrderBy:        types.OrderByCreatedAt,
		OrderDirection: types.OrderAsc,
		Categories:     []string{"started", "unstarted"},
	}

	resp, err := r.ListGrouped(context.Background(), remote.GroupedQuery{Spec: spec, Page: 1})
	if err != nil {
		t.Fatalf("ListGrouped failed: %v", err)
	}
	var keys []string
	for _, g := range resp.Groups {
		keys = append(keys, g.Key)
	}
	if len(keys) != 2 || keys[0] != "in_progress" || keys[1] != "todo" {
		t.Fatalf("category filter kept groups %v, want [in_progress todo]", keys)
	}
}

func TestItemLifecycleRoundTrip(t *testing.T) {
	client, _ := startTestServer(t)
	client.SetActor("tester")
	r := NewRemoteClient(client)
	ctx := context.Background()

	created, err := r.CreateItem(ctx, &types.ItemDraft{
		Title:       "Wire the websocket layer",
		Description: "See the transport doc.",
		Priority:    types.PriorityHigh,
		TeamID:      "team-a",
		LabelIDs:    []string{"infra", "infra", "backend"},
	})
	if err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}
	if !strings.HasPrefix(created.ID, "st-") {
		t.Errorf("server id %q missing st- prefix", created.ID)
	}
	if created.StatusID != "backlog" {
		t.Errorf("default status = %q, want backlog", created.StatusID)
	}
	if len(created.LabelIDs) != 2 {
		t.Errorf("labels not deduplicated: %v", created.LabelIDs)
	}

	entry, err := r.GetItem(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if entry.Description != "See the transport doc." {
		t.Errorf("description = %q", entry.Description)
	}
	if len(entry.Activity) == 0 || entry.Activity[0].Kind != "created" {
		t.Error("creation not recorded on the activity trail")
	}

	title := "Wire the realtime layer"
	updated, err := r.UpdateItem(ctx, created.ID, &types.ItemPatch{Title: &title})
	if err != nil {
		t.Fatalf("UpdateItem failed: %v", err)
	}
	if updated.Title != title {
		t.Errorf("title = %q after update", updated.Title)
	}

	comment, err := r.AddComment(ctx, created.ID, "tester", "looks good")
	if err != nil {
		t.Fatalf("AddComment failed: %v", err)
	}
	if comment.Body != "looks good" || comment.AuthorID != "tester" {
		t.Errorf("comment round trip: %+v", comment)
	}

	page, err := r.ListComments(ctx, created.ID, 1)
	if err != nil {
		t.Fatalf("ListComments failed: %v", err)
	}
	if len(page.Items) != 1 || page.Pagination.HasMore {
		t.Errorf("comment page = %d items / more %v", len(page.Items), page.Pagination.HasMore)
	}

	if err := r.DeleteItem(ctx, created.ID); err != nil {
		t.Fatalf("DeleteItem failed: %v", err)
	}
	if _, err := r.GetItem(ctx, created.ID); !remote.IsRejected(err) {
		t.Errorf("GetItem after delete = %v, want rejection", err)
	}
}

func TestCreateManyAggregatesFailures(t *testing.T) {
	client, _ := startTestServer(t)

	resp, err := client.CreateMany(&CreateManyArgs{Drafts: []*types.ItemDraft{
		{Title: "good one", TeamID: "team-a"},
		{Title: ""}, // invalid: no title, no team
		{Title: "good two", TeamID: "team-a"},
	}})
	if err != nil {
		t.Fatalf("CreateMany failed: %v", err)
	}

	var result CreateManyResult
	if err := decodeData(resp, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.Created) != 2 {
		t.Errorf("created %d, want 2", len(result.Created))
	}
	if len(result.Errors) != 1 {
		t.Errorf("errors %d, want 1", len(result.Errors))
	}
}

func TestRejectionsAndTransportFailures(t *testing.T) {
	client, _ := startTestServer(t)
	r := NewRemoteClient(client)
	ctx := context.Background()

	title := "x"
	_, err := r.UpdateItem(ctx, "st-nope", &types.ItemPatch{Title: &title})
	if !remote.IsRejected(err) {
		t.Fatalf("update of missing item = %v, want rejection", err)
	}

	// A dead connection is a transport failure, not a rejection.
	_ = client.Close()
	_, err = r.GetItem(ctx, "st-1")
	if !remote.IsNetworkFailure(err) {
		t.Fatalf("call on closed connection = %v, want network failure", err)
	}
}

func TestVersionGating(t *testing.T) {
	origServer, origClient := ServerVersion, ClientVersion
	defer func() { ServerVersion, ClientVersion = origServer, origClient }()

	ServerVersion = "1.2.0"
	ClientVersion = "1.2.0"

	client, _ := startTestServer(t)

	// Same version passes.
	if _, err := client.Status(); err != nil {
		t.Fatalf("matching versions refused: %v", err)
	}

	// Client ahead of daemon is refused.
	ClientVersion = "1.3.0"
	if _, err := client.Status(); err == nil {
		t.Error("newer client accepted by older daemon")
	}

	// Older client within the major version is served.
	ClientVersion = "1.1.9"
	if _, err := client.Status(); err != nil {
		t.Errorf("older client refused: %v", err)
	}

	// Major mismatch is refused both ways.
	ClientVersion = "2.0.0"
	if _, err := client.Status(); err == nil {
		t.Error("major version mismatch accepted")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	client, _ := startTestServer(t)

	if err := client.SetConfig(&ConfigArgs{Key: "workflow.default_status", Value: "todo"}); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}
	value, err := client.GetConfig(&ConfigArgs{Key: "workflow.default_status"})
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if value != "todo" {
		t.Errorf("config value = %q, want todo", value)
	}

	// Absent keys read as empty, not as errors.
	value, err = client.GetConfig(&ConfigArgs{Key: "never.set"})
	if err != nil || value != "" {
		t.Errorf("absent key = (%q, %v), want empty", value, err)
	}
}

func TestShortSocketPath(t *testing.T) {
	short := "/tmp/ws"
	if got := ShortSocketPath(short); got != filepath.Join(short, ".storyline", "story.sock") {
		t.Errorf("short workspace rerouted to %q", got)
	}

	long := "/tmp/" + strings.Repeat("deeply-nested/", 10) + "workspace"
	got := ShortSocketPath(long)
	if len(got) > MaxUnixSocketPath {
		t.Errorf("fallback path still too long: %d chars", len(got))
	}
	if !strings.HasPrefix(got, "/tmp/storyline-") {
		t.Errorf("fallback path %q not under /tmp/storyline-", got)
	}
	if got != ShortSocketPath(long) {
		t.Error("fallback path not deterministic")
	}
	if !NeedsShortPath(long) || NeedsShortPath(short) {
		t.Error("NeedsShortPath disagrees with ShortSocketPath")
	}
}
