// Package cache implements the client-side read/write consistency layer
// for work-item data: a normalized record store, grouped-and-paginated
// view materialization, structural invalidation, and optimistic
// mutations with exact rollback.
//
// A Session owns every piece of shared state. It is constructed at
// sign-in with the remote collaborator and a permission resolver, and
// torn down with Close at sign-out; there is no package-level singleton.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/storyline-app/storyline/internal/perms"
	"github.com/storyline-app/storyline/internal/remote"
	"github.com/storyline-app/storyline/internal/types"
)

const (
	defaultGracePeriod   = 30 * time.Second
	defaultBulkBatchSize = 10
)

// Option configures a Session.
type Option func(*Session)

// WithSyncInvalidation makes invalidation-triggered refreshes run inline
// instead of in the background. Deterministic; used by tests and by the
// one-shot CLI commands.
func WithSyncInvalidation() Option {
	return func(s *Session) { s.syncInvalidation = true }
}

// WithGracePeriod sets how long an unsubscribed view's cached result is
// kept warm before it becomes eligible for cleanup.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Session) { s.gracePeriod = d }
}

// WithBulkBatchSize sets the batch size for BulkCreate.
func WithBulkBatchSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.bulkBatchSize = n
		}
	}
}

// Session is the owned instance of the consistency layer. All reads and
// writes of story data in a client go through one Session.
//
// Locking: mu guards the record store and every materialized view. It is
// held only for synchronous cache passes, never across a remote call, so
// readers always observe either the last-committed state or a fully
// applied optimistic state.
type Session struct {
	mu sync.Mutex

	remote remote.Remote
	role   types.Role

	store    *Store
	registry *Registry
	pager    *Pager
	bus      *Bus
	coord    *Coordinator

	syncInvalidation bool
	gracePeriod      time.Duration
	bulkBatchSize    int

	closed bool
	wg     sync.WaitGroup // background refreshes
}

// New constructs a Session. The caller's role is resolved once, up
// front; the coordinator's permission gate consults it before every
// write.
func New(r remote.Remote, resolver perms.Resolver, workspace, user string, opts ...Option) *Session {
	s := &Session{
		remote:        r,
		role:          resolver.ResolveRole(workspace, user),
		store:         NewStore(),
		gracePeriod:   defaultGracePeriod,
		bulkBatchSize: defaultBulkBatchSize,
	}
	s.registry = newRegistry(s)
	s.pager = newPager(s)
	s.bus = newBus(s)
	s.coord = newCoordinator(s)
	s.store.onChange = s.bus.recordChanged
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Role returns the caller's resolved role.
func (s *Session) Role() types.Role {
	return s.role
}

// Close tears the session down: drops every subscription and waits for
// in-flight background refreshes to drain. Results arriving after Close
// are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.registry.dropAll()
	s.mu.Unlock()
	s.wg.Wait()
}

// SubscribeView registers interest in a grouped or flat view. If an
// equal spec is already cached the result is shared (and returned
// immediately, stale-while-revalidate); otherwise the first page of
// every group is loaded before the handle is returned.
func (s *Session) SubscribeView(ctx context.Context, spec types.ViewSpec) (*ViewHandle, error) {
	return s.registry.subscribeView(ctx, spec)
}

// SubscribeDetail registers interest in one item's detail entry,
// loading it (with the first comment page) if not already cached.
func (s *Session) SubscribeDetail(ctx context.Context, id string) (*DetailHandle, error) {
	return s.registry.subscribeDetail(ctx, id)
}

// LoadMore fetches the next page of one group of a subscribed view and
// merges it in. Concurrent calls for the same (spec, group) coalesce
// into one request.
func (s *Session) LoadMore(ctx context.Context, spec types.ViewSpec, groupKey string) (*types.Group, error) {
	return s.pager.loadMore(ctx, spec, groupKey)
}

// LoadMoreComments fetches the next comment page of a detail entry.
func (s *Session) LoadMoreComments(ctx context.Context, id string) error {
	return s.registry.loadMoreComments(ctx, id)
}

// LoadMoreActivity fetches the next activity page of a detail entry.
func (s *Session) LoadMoreActivity(ctx context.Context, id string) error {
	return s.registry.loadMoreActivity(ctx, id)
}

// Mutate applies a patch optimistically and submits it. On remote
// failure every touched cache entry is restored exactly and the
// returned record carries the original patch for retry.
func (s *Session) Mutate(ctx context.Context, id string, patch *types.ItemPatch) (*types.MutationRecord, error) {
	return s.coord.mutate(ctx, id, types.MutationPatch, patch)
}

// SetLabels replaces the item's label set. Idempotent: identical target
// sets produce identical cache state.
func (s *Session) SetLabels(ctx context.Context, id string, labelIDs []string) (*types.MutationRecord, error) {
	return s.coord.mutate(ctx, id, types.MutationLabelSet, &types.ItemPatch{SetLabels: types.NormalizeLabels(labelIDs)})
}

// AddLabel unions one label into the item's set; a no-op if present.
func (s *Session) AddLabel(ctx context.Context, id, labelID string) (*types.MutationRecord, error) {
	return s.coord.mutate(ctx, id, types.MutationLabelSet, &types.ItemPatch{AddLabels: []string{labelID}})
}

// RemoveLabel subtracts one label from the item's set; a no-op if absent.
func (s *Session) RemoveLabel(ctx context.Context, id, labelID string) (*types.MutationRecord, error) {
	return s.coord.mutate(ctx, id, types.MutationLabelSet, &types.ItemPatch{RemoveLabels: []string{labelID}})
}

// Create submits a new item and caches the server's record.
func (s *Session) Create(ctx context.Context, draft *types.ItemDraft) (*types.WorkItem, error) {
	return s.coord.create(ctx, draft)
}

// Delete removes an item optimistically from every view, restoring them
// if the remote call fails.
func (s *Session) Delete(ctx context.Context, id string) (*types.MutationRecord, error) {
	return s.coord.delete(ctx, id)
}

// BulkCreate submits drafts in independent batches and aggregates the
// outcome. Successes are never rolled back when later items fail.
func (s *Session) BulkCreate(ctx context.Context, drafts []*types.ItemDraft) (*types.BulkCreateResult, error) {
	return s.coord.bulkCreate(ctx, drafts)
}

// Invalidate marks every view whose scope could contain one of the ids
// stale and schedules refreshes. Exposed for collaborators that learn
// about changes out of band (live updates, sync).
func (s *Session) Invalidate(entityKind string, ids []string) {
	s.bus.Invalidate(entityKind, ids)
}

// InvalidateAll is the coarse fallback when the affected-id set is
// unknown.
func (s *Session) InvalidateAll(entityKind string) {
	s.bus.InvalidateAll(entityKind)
}

// scheduleViewRefresh re-fetches a stale view, inline or in the
// background depending on session options. The closed check and the
// wg.Add share one critical section so no refresh goroutine can be
// added once Close has started draining the group.
func (s *Session) scheduleViewRefresh(sub *viewSub) {
	if s.syncInvalidation {
		s.registry.refreshView(sub)
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		s.registry.refreshView(sub)
	}()
}

func (s *Session) scheduleDetailRefresh(sub *detailSub) {
	if s.syncInvalidation {
		s.registry.refreshDetail(sub)
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		s.registry.refreshDetail(sub)
	}()
}
