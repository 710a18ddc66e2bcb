package cache

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/storyline-app/storyline/internal/remote"
	"github.com/storyline-app/storyline/internal/types"
)

// TestBoardPaginationAccounting walks the canonical board: five backlog
// stories and one todo story with page size two. Every loadMore must
// advance loadedCount by exactly the new distinct items, hasMore must
// flip only when loaded meets total, and the todo group must be
// complete from the first page.
func TestBoardPaginationAccounting(t *testing.T) {
	f := newFakeRemote()
	seedBoard(f)
	s := newTestSession(t, f, types.RoleAdmin)
	ctx := context.Background()

	h, err := s.SubscribeView(ctx, boardSpec())
	if err != nil {
		t.Fatalf("SubscribeView: %v", err)
	}
	defer h.Close()

	st := h.Snapshot()
	backlog := st.Group("backlog")
	todo := st.Group("todo")
	if backlog == nil || todo == nil {
		t.Fatalf("missing groups: %+v", st.Groups)
	}
	if backlog.Group.LoadedCount != 2 || backlog.Group.TotalCount != 5 || !backlog.Group.HasMore {
		t.Fatalf("backlog first page = %+v", backlog.Group)
	}
	if todo.Group.LoadedCount != 1 || todo.Group.TotalCount != 1 || todo.Group.HasMore {
		t.Fatalf("todo first page = %+v", todo.Group)
	}

	g, err := s.LoadMore(ctx, boardSpec(), "backlog")
	if err != nil {
		t.Fatalf("LoadMore: %v", err)
	}
	if g.LoadedCount != 4 || g.TotalCount != 5 || !g.HasMore {
		t.Fatalf("after page 2: %+v", g)
	}

	g, err = s.LoadMore(ctx, boardSpec(), "backlog")
	if err != nil {
		t.Fatalf("LoadMore: %v", err)
	}
	if g.LoadedCount != 5 || g.TotalCount != 5 || g.HasMore {
		t.Fatalf("after page 3: %+v", g)
	}

	// A further loadMore on an exhausted group is a no-op, not an error.
	g, err = s.LoadMore(ctx, boardSpec(), "backlog")
	if err != nil {
		t.Fatalf("LoadMore on exhausted group: %v", err)
	}
	if g.LoadedCount != 5 {
		t.Fatalf("exhausted group grew: %+v", g)
	}
	if want := []string{"st-1", "st-2", "st-3", "st-4", "st-5"}; len(g.Items) != len(want) {
		t.Fatalf("items = %v, want %v", g.Items, want)
	}
}

// TestLoadMoreIdempotentMerge makes the server re-send the last item of
// the previous page on every next page. Duplicates must be dropped and
// loadedCount must count distinct items only.
func TestLoadMoreIdempotentMerge(t *testing.T) {
	f := newFakeRemote()
	f.overlap = true
	seedBoard(f)
	s := newTestSession(t, f, types.RoleAdmin)
	ctx := context.Background()

	h, err := s.SubscribeView(ctx, boardSpec())
	if err != nil {
		t.Fatalf("SubscribeView: %v", err)
	}
	defer h.Close()

	g, err := s.LoadMore(ctx, boardSpec(), "backlog")
	if err != nil {
		t.Fatalf("LoadMore: %v", err)
	}
	if g.LoadedCount != 4 || len(g.Items) != 4 {
		t.Fatalf("overlapping page inflated counts: %+v", g)
	}
	seen := map[string]bool{}
	for _, id := range g.Items {
		if seen[id] {
			t.Fatalf("duplicate id %s in %v", id, g.Items)
		}
		seen[id] = true
	}
}

// TestLoadMoreFailureLeavesGroupUntouched injects a network failure on
// the page fetch: the group's cursor and accounting must not move, and
// the same loadMore must succeed on retry.
func TestLoadMoreFailureLeavesGroupUntouched(t *testing.T) {
	f := newFakeRemote()
	seedBoard(f)
	s := newTestSession(t, f, types.RoleAdmin)
	ctx := context.Background()

	h, err := s.SubscribeView(ctx, boardSpec())
	if err != nil {
		t.Fatalf("SubscribeView: %v", err)
	}
	defer h.Close()

	f.mu.Lock()
	f.pageErr = remote.NetworkFailure(errors.New("connection reset"))
	f.mu.Unlock()

	_, err = s.LoadMore(ctx, boardSpec(), "backlog")
	if !IsLoadError(err) {
		t.Fatalf("err = %v, want LoadError", err)
	}
	if !remote.IsNetworkFailure(err) {
		t.Fatalf("cause not preserved: %v", err)
	}

	g := h.Snapshot().Group("backlog").Group
	if g.LoadedCount != 2 || !g.HasMore {
		t.Fatalf("failed fetch moved accounting: %+v", g)
	}

	f.mu.Lock()
	f.pageErr = nil
	f.mu.Unlock()

	g2, err := s.LoadMore(ctx, boardSpec(), "backlog")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if g2.LoadedCount != 4 {
		t.Fatalf("retry from same cursor: %+v", g2)
	}
}

// TestLoadMoreUnsubscribedView verifies a loadMore against a spec no
// caller is subscribed to fails with ErrStaleView.
func TestLoadMoreUnsubscribedView(t *testing.T) {
	f := newFakeRemote()
	seedBoard(f)
	s := newTestSession(t, f, types.RoleAdmin)

	_, err := s.LoadMore(context.Background(), boardSpec(), "backlog")
	if !errors.Is(err, ErrStaleView) {
		t.Fatalf("err = %v, want ErrStaleView", err)
	}
}

// TestLoadMoreCoalescing issues concurrent loadMore calls for the same
// group and checks only one page request reaches the server, with every
// caller receiving the fully merged group. The group holds exactly two
// pages, so a caller arriving after the merge takes the exhausted-group
// path instead of starting a second fetch.
func TestLoadMoreCoalescing(t *testing.T) {
	f := newFakeRemote()
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	for i := 1; i <= 4; i++ {
		f.seed(&types.WorkItem{
			ID:        fmt.Sprintf("st-%d", i),
			Title:     fmt.Sprintf("Backlog story %d", i),
			StatusID:  "backlog",
			Priority:  types.PriorityMedium,
			TeamID:    "team-a",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	s := newTestSession(t, f, types.RoleAdmin)
	ctx := context.Background()

	h, err := s.SubscribeView(ctx, boardSpec())
	if err != nil {
		t.Fatalf("SubscribeView: %v", err)
	}
	defer h.Close()

	const callers = 8
	var wg sync.WaitGroup
	groups := make([]*types.Group, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			groups[i], errs[i] = s.LoadMore(ctx, boardSpec(), "backlog")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if groups[i].LoadedCount != 4 {
			t.Fatalf("caller %d saw %+v", i, groups[i])
		}
	}
	f.mu.Lock()
	calls := f.pageCalls
	f.mu.Unlock()
	if calls != 1 {
		t.Fatalf("page calls = %d, want 1", calls)
	}
}

// TestLoadMoreAfterUnsubscribeDiscarded starts a page fetch, closes the
// last handle while it is in flight, and checks the late result is
// discarded instead of merged into a dead view.
func TestLoadMoreAfterUnsubscribeDiscarded(t *testing.T) {
	f := newFakeRemote()
	seedBoard(f)
	s := newTestSession(t, f, types.RoleAdmin)
	ctx := context.Background()

	h, err := s.SubscribeView(ctx, boardSpec())
	if err != nil {
		t.Fatalf("SubscribeView: %v", err)
	}

	gate := make(chan struct{})
	f.mu.Lock()
	f.pageGate = gate
	f.mu.Unlock()

	errc := make(chan error, 1)
	go func() {
		_, lerr := s.LoadMore(ctx, boardSpec(), "backlog")
		errc <- lerr
	}()

	// Wait for the page request to reach the server, then unsubscribe
	// while it is in flight.
	for {
		f.mu.Lock()
		started := f.pageCalls > 0
		f.mu.Unlock()
		if started {
			break
		}
		runtime.Gosched()
	}
	h.Close()
	close(gate)

	if err = <-errc; !errors.Is(err, ErrStaleView) {
		t.Fatalf("err = %v, want ErrStaleView", err)
	}
}
