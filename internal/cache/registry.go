package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/storyline-app/storyline/internal/types"
)

// viewSub is one tracked view specification and its last materialized
// result. generation is bumped whenever in-flight loads for the old
// shape of the view must be discarded on arrival (invalidation, last
// unsubscribe).
type viewSub struct {
	spec       types.ViewSpec
	key        string
	result     *types.GroupedResult
	err        error
	stale      bool
	loading    chan struct{} // non-nil while the first page load is in flight
	fetching   int           // in-flight loadMore count
	refs       int
	generation int
	version    int // bumped on every visible change
	lastUnref  time.Time
}

// detailSub tracks interest in one item's detail entry. The entry
// itself lives in the record store; the sub only carries load state.
type detailSub struct {
	id         string
	loaded     bool
	loading    chan struct{}
	err        error
	stale      bool
	refs       int
	generation int
	version    int
	lastUnref  time.Time
}

// Registry is the single place UI-facing code subscribes to views.
// Equality of specs is structural: two callers asking for the same
// filters share one subscription and one load.
type Registry struct {
	s       *Session
	views   map[string]*viewSub
	details map[string]*detailSub
}

func newRegistry(s *Session) *Registry {
	return &Registry{
		s:       s,
		views:   make(map[string]*viewSub),
		details: make(map[string]*detailSub),
	}
}

// GroupState is one group of a snapshot with its item summaries
// hydrated from the record store, in group order.
type GroupState struct {
	Group *types.Group
	Items []*types.WorkItem
}

// ViewState is a point-in-time, fully-consistent copy of a view: it is
// assembled in one synchronous pass, so it never mixes pre- and
// post-mutation field values.
type ViewState struct {
	Spec           types.ViewSpec
	Groups         []*GroupState
	IsLoading      bool
	IsFetchingMore bool
	Stale          bool
	Version        int
	Err            error
}

// Group returns the group state with the given key, or nil.
func (st *ViewState) Group(key string) *GroupState {
	for _, g := range st.Groups {
		if g.Group.Key == key {
			return g
		}
	}
	return nil
}

// DetailState is a point-in-time copy of a detail subscription.
type DetailState struct {
	Entry     *types.DetailEntry
	IsLoading bool
	Stale     bool
	Version   int
	Err       error
}

// ViewHandle is a caller's registration on a view subscription.
type ViewHandle struct {
	s        *Session
	sub      *viewSub
	released bool
}

// DetailHandle is a caller's registration on a detail subscription.
type DetailHandle struct {
	s        *Session
	sub      *detailSub
	released bool
}

func (r *Registry) subscribeView(ctx context.Context, spec types.ViewSpec) (*ViewHandle, error) {
	spec = spec.Normalize()
	key := spec.Key()
	s := r.s
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		r.sweep()
		sub, ok := r.views[key]
		if !ok {
			// First subscriber for this spec performs the load;
			// concurrent equal subscribes wait on sub.loading instead
			// of issuing a duplicate request.
			sub = &viewSub{
				spec:       spec,
				key:        key,
				loading:    make(chan struct{}),
				refs:       1,
				generation: 1,
			}
			r.views[key] = sub
			s.mu.Unlock()

			res, err := s.pager.fetchFirst(ctx, spec)

			s.mu.Lock()
			ch := sub.loading
			sub.loading = nil
			if err != nil {
				// Drop the sub so a later subscribe can retry.
				delete(r.views, key)
				close(ch)
				s.mu.Unlock()
				return nil, &LoadError{Spec: spec, Err: err}
			}
			sub.result = res
			sub.version++
			close(ch)
			h := &ViewHandle{s: s, sub: sub}
			s.mu.Unlock()
			return h, nil
		}

		if sub.loading != nil {
			ch := sub.loading
			s.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		sub.refs++
		sub.lastUnref = time.Time{}
		stale := sub.stale
		h := &ViewHandle{s: s, sub: sub}
		s.mu.Unlock()
		if stale {
			// Stale-while-revalidate: hand back the cached result now,
			// converge in the background.
			s.scheduleViewRefresh(sub)
		}
		return h, nil
	}
}

func (r *Registry) subscribeDetail(ctx context.Context, id string) (*DetailHandle, error) {
	s := r.s
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		sub, ok := r.details[id]
		if !ok {
			sub = &detailSub{
				id:         id,
				loading:    make(chan struct{}),
				refs:       1,
				generation: 1,
			}
			r.details[id] = sub
			s.mu.Unlock()

			entry, err := s.remote.GetItem(ctx, id)

			s.mu.Lock()
			ch := sub.loading
			sub.loading = nil
			if err != nil {
				delete(r.details, id)
				close(ch)
				s.mu.Unlock()
				return nil, fmt.Errorf("loading detail for %s: %w", id, err)
			}
			s.store.Put(id, entry)
			sub.loaded = true
			sub.version++
			close(ch)
			h := &DetailHandle{s: s, sub: sub}
			s.mu.Unlock()
			return h, nil
		}

		if sub.loading != nil {
			ch := sub.loading
			s.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		sub.refs++
		sub.lastUnref = time.Time{}
		stale := sub.stale
		h := &DetailHandle{s: s, sub: sub}
		s.mu.Unlock()
		if stale {
			s.scheduleDetailRefresh(sub)
		}
		return h, nil
	}
}

// sweep drops subscriptions that have been unreferenced longer than the
// grace period. Called with the session lock held.
func (r *Registry) sweep() {
	now := time.Now()
	for key, sub := range r.views {
		if sub.refs == 0 && sub.loading == nil && !sub.lastUnref.IsZero() && now.Sub(sub.lastUnref) > r.s.gracePeriod {
			delete(r.views, key)
		}
	}
	for id, sub := range r.details {
		if sub.refs == 0 && sub.loading == nil && !sub.lastUnref.IsZero() && now.Sub(sub.lastUnref) > r.s.gracePeriod {
			delete(r.details, id)
		}
	}
}

// dropAll clears every subscription. Called with the session lock held
// during Close.
func (r *Registry) dropAll() {
	for _, sub := range r.views {
		sub.generation++
	}
	for _, sub := range r.details {
		sub.generation++
	}
	r.views = make(map[string]*viewSub)
	r.details = make(map[string]*detailSub)
}

// refreshView re-fetches the first page of every group and swaps the
// result in wholesale, evicting ids that no longer appear. Called
// without the session lock.
func (r *Registry) refreshView(sub *viewSub) {
	s := r.s
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	gen := sub.generation
	spec := sub.spec
	s.mu.Unlock()

	res, err := s.pager.fetchFirst(context.Background(), spec)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || sub.generation != gen {
		// Superseded by a later invalidation or unsubscribe; discard.
		return
	}
	if err != nil {
		// Still stale; keep serving the old result and record the error.
		sub.err = &LoadError{Spec: spec, Err: err}
		return
	}
	sub.result = res
	sub.stale = false
	sub.err = nil
	sub.version++
}

func (r *Registry) refreshDetail(sub *detailSub) {
	s := r.s
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	gen := sub.generation
	id := sub.id
	s.mu.Unlock()

	entry, err := s.remote.GetItem(context.Background(), id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || sub.generation != gen {
		return
	}
	if err != nil {
		sub.err = err
		return
	}
	s.store.Put(id, entry)
	sub.loaded = true
	sub.stale = false
	sub.err = nil
	sub.version++
}

func (r *Registry) loadMoreComments(ctx context.Context, id string) error {
	s := r.s
	s.mu.Lock()
	entry, ok := s.store.Get(id)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !entry.CommentPages.HasMore {
		s.mu.Unlock()
		return nil
	}
	page := entry.CommentPages.NextPage
	s.mu.Unlock()

	cp, err := s.remote.ListComments(ctx, id, page)
	if err != nil {
		return fmt.Errorf("loading comments for %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok = s.store.Get(id)
	if !ok {
		return nil
	}
	entry.Comments = mergeComments(entry.Comments, cp.Items)
	entry.CommentPages = cp.Pagination
	s.store.notify(id)
	return nil
}

func (r *Registry) loadMoreActivity(ctx context.Context, id string) error {
	s := r.s
	s.mu.Lock()
	entry, ok := s.store.Get(id)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !entry.ActivityPage.HasMore {
		s.mu.Unlock()
		return nil
	}
	page := entry.ActivityPage.NextPage
	s.mu.Unlock()

	ap, err := s.remote.ListActivity(ctx, id, page)
	if err != nil {
		return fmt.Errorf("loading activity for %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok = s.store.Get(id)
	if !ok {
		return nil
	}
	entry.Activity = mergeActivity(entry.Activity, ap.Items)
	entry.ActivityPage = ap.Pagination
	s.store.notify(id)
	return nil
}

// mergeComments appends new comments, skipping ids already present so a
// racing server returning overlap never duplicates entries.
func mergeComments(existing, incoming []*types.Comment) []*types.Comment {
	seen := make(map[string]bool, len(existing))
	for _, c := range existing {
		seen[c.ID] = true
	}
	for _, c := range incoming {
		if !seen[c.ID] {
			existing = append(existing, c)
			seen[c.ID] = true
		}
	}
	return existing
}

func mergeActivity(existing, incoming []*types.Activity) []*types.Activity {
	seen := make(map[string]bool, len(existing))
	for _, a := range existing {
		seen[a.ID] = true
	}
	for _, a := range incoming {
		if !seen[a.ID] {
			existing = append(existing, a)
			seen[a.ID] = true
		}
	}
	return existing
}

// Spec returns the handle's view specification.
func (h *ViewHandle) Spec() types.ViewSpec {
	return h.sub.spec
}

// Snapshot assembles a consistent copy of the view in one pass under
// the session lock: summaries are hydrated from the record store, so a
// committed (or optimistic) patch is visible in every group at once.
func (h *ViewHandle) Snapshot() *ViewState {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := h.sub
	st := &ViewState{
		Spec:           sub.spec,
		IsLoading:      sub.loading != nil,
		IsFetchingMore: sub.fetching > 0,
		Stale:          sub.stale,
		Version:        sub.version,
		Err:            sub.err,
	}
	if sub.result == nil {
		return st
	}
	for _, g := range sub.result.Groups {
		gs := &GroupState{Group: g.Clone()}
		for _, id := range g.Items {
			if e, ok := s.store.Get(id); ok {
				gs.Items = append(gs.Items, e.Item.Clone())
			}
		}
		st.Groups = append(st.Groups, gs)
	}
	return st
}

// Close releases the registration. The cached result stays warm for the
// session's grace period; in-flight page loads for the view are
// discarded once the last handle is gone.
func (h *ViewHandle) Close() {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	h.sub.refs--
	if h.sub.refs == 0 {
		h.sub.lastUnref = time.Now()
		h.sub.generation++
	}
}

// ID returns the subscribed item id.
func (h *DetailHandle) ID() string {
	return h.sub.id
}

// Snapshot returns a consistent copy of the detail entry.
func (h *DetailHandle) Snapshot() *DetailState {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &DetailState{
		IsLoading: h.sub.loading != nil,
		Stale:     h.sub.stale,
		Version:   h.sub.version,
		Err:       h.sub.err,
	}
	if e, ok := s.store.Get(h.sub.id); ok {
		st.Entry = e.Clone()
	}
	return st
}

// Close releases the registration.
func (h *DetailHandle) Close() {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	h.sub.refs--
	if h.sub.refs == 0 {
		h.sub.lastUnref = time.Now()
		h.sub.generation++
	}
}
