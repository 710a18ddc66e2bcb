package cache

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/storyline-app/storyline/internal/perms"
	"github.com/storyline-app/storyline/internal/remote"
	"github.com/storyline-app/storyline/internal/types"
)

// fakeRemote is an in-memory collaborator standing in for the server.
// It implements real grouping, ordering, and offset-cursor pagination
// so pagination accounting can be asserted end to end, plus hooks for
// failure injection and call counting.
type fakeRemote struct {
	mu sync.Mutex

	items        map[string]*types.WorkItem
	descriptions map[string]string
	comments     map[string][]*types.Comment
	activity     map[string][]*types.Activity

	pageSize  int
	nextID    int
	commentPG int

	// Failure injection.
	updateErr  error         // UpdateItem fails with this when set
	createErr  error         // CreateItem fails with this when set
	pageErr    error         // LoadGroupPage fails with this when set
	groupedErr error         // ListGrouped fails with this when set
	createOKs  int           // with createErr set, this many creates succeed first
	updateGate chan struct{} // when non-nil, UpdateItem blocks until it is closed
	pageGate   chan struct{} // when non-nil, LoadGroupPage blocks until it is closed
	overlap    bool          // LoadGroupPage re-sends the last item of the prior page

	// Call counters.
	groupedCalls map[string]int // by spec key
	pageCalls    int
	getCalls     int
	updateCalls  int
	createCalls  int
	deleteCalls  int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		items:        make(map[string]*types.WorkItem),
		descriptions: make(map[string]string),
		comments:     make(map[string][]*types.Comment),
		activity:     make(map[string][]*types.Activity),
		pageSize:     2,
		commentPG:    2,
		groupedCalls: make(map[string]int),
	}
}

func (f *fakeRemote) seed(items ...*types.WorkItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range items {
		f.items[it.ID] = it.Clone()
	}
}

func (f *fakeRemote) item(id string) *types.WorkItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id].Clone()
}

func (f *fakeRemote) groupKey(spec types.ViewSpec, it *types.WorkItem) string {
	switch spec.GroupBy {
	case types.GroupByStatus:
		return it.StatusID
	case types.GroupByPriority:
		return it.Priority.String()
	case types.GroupByAssignee:
		return it.AssigneeID
	default:
		return "all"
	}
}

// matching returns the view's members grouped and ordered, with the
// stable id-ascending tie break.
func (f *fakeRemote) matching(spec types.ViewSpec) map[string][]*types.WorkItem {
	groups := make(map[string][]*types.WorkItem)
	for _, it := range f.items {
		if !spec.CouldContain(it) {
			continue
		}
		key := f.groupKey(spec, it)
		groups[key] = append(groups[key], it)
	}
	for _, members := range groups {
		sort.Slice(members, func(i, j int) bool {
			a, b := members[i], members[j]
			var less, eq bool
			switch spec.OrderBy {
			case types.OrderByTitle:
				less, eq = a.Title < b.Title, a.Title == b.Title
			case types.OrderByPriority:
				less, eq = a.Priority < b.Priority, a.Priority == b.Priority
			case types.OrderByCreatedAt:
				less, eq = a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
			default:
				less, eq = a.UpdatedAt.Before(b.UpdatedAt), a.UpdatedAt.Equal(b.UpdatedAt)
			}
			if eq {
				return a.ID < b.ID
			}
			if spec.OrderDirection == types.OrderDesc {
				return !less
			}
			return less
		})
	}
	return groups
}

func (f *fakeRemote) pageOf(spec types.ViewSpec, members []*types.WorkItem, offset int) *remote.GroupPage {
	ps := spec.PageSize
	if ps <= 0 {
		ps = f.pageSize
	}
	start := offset
	if f.overlap && start > 0 {
		start--
	}
	end := offset + ps
	if end > len(members) {
		end = len(members)
	}
	page := &remote.GroupPage{TotalCount: len(members)}
	for _, it := range members[start:end] {
		page.Items = append(page.Items, it.Clone())
	}
	page.HasMore = end < len(members)
	page.Cursor = strconv.Itoa(end)
	return page
}

func (f *fakeRemote) ListGrouped(_ context.Context, q remote.GroupedQuery) (*remote.GroupedResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupedCalls[q.Spec.Key()]++
	if f.groupedErr != nil {
		return nil, f.groupedErr
	}

	groups := f.matching(q.Spec)
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	resp := &remote.GroupedResponse{}
	for _, k := range keys {
		page := f.pageOf(q.Spec, groups[k], 0)
		page.Key = k
		resp.Groups = append(resp.Groups, page)
	}
	return resp, nil
}

func (f *fakeRemote) LoadGroupPage(_ context.Context, q remote.PageQuery) (*remote.GroupPage, error) {
	f.mu.Lock()
	gate := f.pageGate
	f.pageCalls++
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pageErr != nil {
		return nil, f.pageErr
	}

	offset := 0
	if q.Cursor != "" {
		offset, _ = strconv.Atoi(q.Cursor)
	}
	members := f.matching(q.Spec)[q.GroupKey]
	page := f.pageOf(q.Spec, members, offset)
	page.Key = q.GroupKey
	return page, nil
}

func (f *fakeRemote) GetItem(_ context.Context, id string) (*types.DetailEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	it, ok := f.items[id]
	if !ok {
		return nil, remote.Rejected("item not found: " + id)
	}
	entry := &types.DetailEntry{Item: it.Clone(), Description: f.descriptions[id]}
	all := f.comments[id]
	end := f.commentPG
	if end > len(all) {
		end = len(all)
	}
	entry.Comments = append([]*types.Comment(nil), all[:end]...)
	entry.CommentPages = types.PageInfo{Page: 1, PageSize: f.commentPG, HasMore: end < len(all), NextPage: 2}
	return entry, nil
}

func (f *fakeRemote) ListComments(_ context.Context, itemID string, page int) (*remote.CommentsPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.comments[itemID]
	start := (page - 1) * f.commentPG
	if start > len(all) {
		start = len(all)
	}
	end := start + f.commentPG
	if end > len(all) {
		end = len(all)
	}
	return &remote.CommentsPage{
		Items: append([]*types.Comment(nil), all[start:end]...),
		Pagination: types.PageInfo{
			Page: page, PageSize: f.commentPG,
			HasMore: end < len(all), NextPage: page + 1,
		},
	}, nil
}

func (f *fakeRemote) ListActivity(_ context.Context, itemID string, page int) (*remote.ActivityPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.activity[itemID]
	start := (page - 1) * f.commentPG
	if start > len(all) {
		start = len(all)
	}
	end := start + f.commentPG
	if end > len(all) {
		end = len(all)
	}
	return &remote.ActivityPage{
		Items: append([]*types.Activity(nil), all[start:end]...),
		Pagination: types.PageInfo{
			Page: page, PageSize: f.commentPG,
			HasMore: end < len(all), NextPage: page + 1,
		},
	}, nil
}

func (f *fakeRemote) CreateItem(_ context.Context, draft *types.ItemDraft) (*types.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		if f.createOKs <= 0 {
			return nil, f.createErr
		}
		f.createOKs--
	}
	f.nextID++
	now := time.Now()
	item := &types.WorkItem{
		ID:          fmt.Sprintf("st-%03d", f.nextID),
		Title:       draft.Title,
		StatusID:    draft.StatusID,
		Priority:    draft.Priority,
		AssigneeID:  draft.AssigneeID,
		LabelIDs:    types.NormalizeLabels(draft.LabelIDs),
		SprintID:    draft.SprintID,
		ObjectiveID: draft.ObjectiveID,
		ParentID:    draft.ParentID,
		TeamID:      draft.TeamID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.items[item.ID] = item
	f.descriptions[item.ID] = draft.Description
	return item.Clone(), nil
}

func (f *fakeRemote) UpdateItem(_ context.Context, id string, patch *types.ItemPatch) (*types.WorkItem, error) {
	f.mu.Lock()
	gate := f.updateGate
	f.updateCalls++
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	it, ok := f.items[id]
	if !ok {
		return nil, remote.Rejected("item not found: " + id)
	}
	patch.Apply(it)
	it.UpdatedAt = time.Now()
	if patch.Description != nil {
		f.descriptions[id] = *patch.Description
	}
	return it.Clone(), nil
}

func (f *fakeRemote) DeleteItem(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.items[id]; !ok {
		return remote.Rejected("item not found: " + id)
	}
	delete(f.items, id)
	return nil
}

func (f *fakeRemote) AddComment(_ context.Context, itemID, authorID, body string) (*types.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &types.Comment{
		ID:        fmt.Sprintf("c-%d", len(f.comments[itemID])+1),
		ItemID:    itemID,
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: time.Now(),
	}
	f.comments[itemID] = append(f.comments[itemID], c)
	return c, nil
}

func (f *fakeRemote) groupedCallCount(spec types.ViewSpec) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groupedCalls[spec.Normalize().Key()]
}

// newTestSession builds a session in deterministic mode: invalidation
// refreshes run inline and the grace period never expires mid-test.
func newTestSession(t *testing.T, f *fakeRemote, role types.Role) *Session {
	t.Helper()
	s := New(f, perms.Fixed(role), "acme", "tester",
		WithSyncInvalidation(),
		WithGracePeriod(time.Hour),
	)
	t.Cleanup(s.Close)
	return s
}

// seedBoard seeds the canonical fixture: five backlog stories and one
// todo story on team-a, created in id order.
func seedBoard(f *fakeRemote) {
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
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
	f.seed(&types.WorkItem{
		ID:        "st-6",
		Title:     "Todo story",
		StatusID:  "todo",
		Priority:  types.PriorityHigh,
		TeamID:    "team-a",
		CreatedAt: base.Add(10 * time.Minute),
		UpdatedAt: base.Add(10 * time.Minute),
	})
}

func boardSpec() types.ViewSpec {
	return types.ViewSpec{
		TeamIDs:        []string{"team-a"},
		GroupBy:        types.GroupByStatus,
		OrderBy:        types.OrderByCreatedAt,
		OrderDirection: types.OrderAsc,
		PageSize:       2,
	}
}
