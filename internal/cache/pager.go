package cache

import (
	"context"
	"fmt"

	"github.com/storyline-app/storyline/internal/remote"
	"github.com/storyline-app/storyline/internal/types"
)

// pendingPage is a loadMore in flight. Concurrent callers for the same
// (spec, group) share it instead of issuing a duplicate request.
type pendingPage struct {
	done  chan struct{}
	group *types.Group
	err   error
}

// Pager fetches pages of grouped views from the remote collection
// endpoint and merges them into materialized groups.
type Pager struct {
	s        *Session
	inflight map[string]*pendingPage // spec key + "\x00" + group key
}

func newPager(s *Session) *Pager {
	return &Pager{s: s, inflight: make(map[string]*pendingPage)}
}

// fetchFirst loads page 1 of every group the remote reports for the
// spec and builds a fresh result. Called without the session lock.
func (p *Pager) fetchFirst(ctx context.Context, spec types.ViewSpec) (*types.GroupedResult, error) {
	resp, err := p.s.remote.ListGrouped(ctx, remote.GroupedQuery{Spec: spec, Page: 1})
	if err != nil {
		return nil, err
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	return p.buildResult(spec, resp), nil
}

// buildResult materializes a grouped response: summaries go into the
// record store (so no group ever holds a dangling id) and each group
// gets its pagination accounting computed from distinct merged ids.
// Called with the session lock held.
func (p *Pager) buildResult(spec types.ViewSpec, resp *remote.GroupedResponse) *types.GroupedResult {
	res := &types.GroupedResult{Spec: spec}
	for _, gp := range resp.Groups {
		g := &types.Group{Key: gp.Key, TotalCount: gp.TotalCount, Cursor: gp.Cursor}
		for _, item := range gp.Items {
			if g.Contains(item.ID) {
				continue
			}
			p.s.store.PutSummary(item)
			g.Items = append(g.Items, item.ID)
		}
		g.LoadedCount = len(g.Items)
		if g.TotalCount < g.LoadedCount {
			g.TotalCount = g.LoadedCount
		}
		g.HasMore = g.LoadedCount < g.TotalCount
		res.Groups = append(res.Groups, g)
	}
	return res
}

// loadMore fetches the next page of one group using its stored cursor.
// At most one request per (spec, group) is in flight; a failed fetch
// leaves the group's cursor and accounting untouched so the caller can
// retry. A result arriving after the view was invalidated or
// unsubscribed is discarded with ErrStaleView.
func (p *Pager) loadMore(ctx context.Context, spec types.ViewSpec, groupKey string) (*types.Group, error) {
	spec = spec.Normalize()
	key := spec.Key()
	s := p.s

	s.mu.Lock()
	sub, ok := s.registry.views[key]
	if !ok || sub.result == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: view not subscribed", ErrStaleView)
	}
	g := sub.result.Group(groupKey)
	if g == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("unknown group %q", groupKey)
	}
	if !g.HasMore {
		out := g.Clone()
		s.mu.Unlock()
		return out, nil
	}

	ik := key + "\x00" + groupKey
	if pend, exists := p.inflight[ik]; exists {
		// Coalesce into the pending operation.
		s.mu.Unlock()
		select {
		case <-pend.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return pend.group, pend.err
	}

	pend := &pendingPage{done: make(chan struct{})}
	p.inflight[ik] = pend
	gen := sub.generation
	q := remote.PageQuery{Spec: spec, GroupKey: groupKey, Cursor: g.Cursor}
	sub.fetching++
	s.mu.Unlock()

	page, rerr := s.remote.LoadGroupPage(ctx, q)

	s.mu.Lock()
	delete(p.inflight, ik)
	sub.fetching--
	switch {
	case s.closed || sub.generation != gen:
		pend.err = ErrStaleView
	case rerr != nil:
		pend.err = &LoadError{Spec: spec, GroupKey: groupKey, Err: rerr}
	default:
		g = sub.result.Group(groupKey)
		if g == nil {
			pend.err = ErrStaleView
			break
		}
		// Merge by id: an id already present is not re-inserted, and
		// loadedCount advances by the number of new ids only, so a
		// racing server returning overlap never inflates the counter.
		newIDs := 0
		for _, item := range page.Items {
			s.store.PutSummary(item)
			if !g.Contains(item.ID) {
				g.Items = append(g.Items, item.ID)
				newIDs++
			}
		}
		g.LoadedCount += newIDs
		g.TotalCount = page.TotalCount
		if g.TotalCount < g.LoadedCount {
			g.TotalCount = g.LoadedCount
		}
		g.Cursor = page.Cursor
		g.HasMore = g.LoadedCount < g.TotalCount
		sub.version++
		pend.group = g.Clone()
	}
	close(pend.done)
	s.mu.Unlock()
	return pend.group, pend.err
}
