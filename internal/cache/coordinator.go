package cache

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/storyline-app/storyline/internal/types"
)

// Coordinator owns the write path: permission gate, snapshot, atomic
// optimistic apply, remote call, commit-or-rollback, invalidate.
//
// Optimistic mutations are serialized per id: a second mutate targeting
// an id with one still outstanding queues behind it, so a rollback of
// the earlier mutation can never clobber the later one's optimistic
// state.
type Coordinator struct {
	s      *Session
	queues map[string]chan struct{} // id -> done channel of the last enqueued mutation
}

func newCoordinator(s *Session) *Coordinator {
	return &Coordinator{s: s, queues: make(map[string]chan struct{})}
}

// acquire takes the caller's place in the per-id FIFO queue and waits
// for the previous mutation on the id to settle. The returned release
// must be called exactly once.
func (c *Coordinator) acquire(ctx context.Context, id string) (func(), error) {
	s := c.s
	s.mu.Lock()
	prev := c.queues[id]
	done := make(chan struct{})
	c.queues[id] = done
	s.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// Keep the chain intact for whoever queued behind us.
			go func() {
				<-prev
				close(done)
			}()
			return nil, ctx.Err()
		}
	}

	release := func() {
		close(done)
		s.mu.Lock()
		if c.queues[id] == done {
			delete(c.queues, id)
		}
		s.mu.Unlock()
	}
	return release, nil
}

// mutate runs the full optimistic protocol for a patch or label-set
// operation.
func (c *Coordinator) mutate(ctx context.Context, id string, kind types.MutationKind, patch *types.ItemPatch) (*types.MutationRecord, error) {
	s := c.s
	// Gate first: a denied caller causes no state change at all.
	if !s.role.CanWrite() {
		return nil, fmt.Errorf("%w: role %s cannot modify items", ErrForbidden, s.role)
	}
	if patch == nil || patch.IsZero() {
		return nil, fmt.Errorf("empty patch for %s", id)
	}

	release, err := c.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	rec := &types.MutationRecord{
		ID:     ulid.Make().String(),
		ItemID: id,
		Kind:   kind,
		Status: types.MutationOptimistic,
		Patch:  patch,
	}

	// Snapshot, then apply in one pass: no reader can observe a
	// half-applied patch because both happen under the session lock.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	entry, ok := s.store.Get(id)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	snapshot := entry.Clone()
	if _, perr := s.store.Patch(id, patch); perr != nil {
		s.mu.Unlock()
		return nil, perr
	}
	s.mu.Unlock()

	updated, rerr := s.remote.UpdateItem(ctx, id, patch)
	if rerr != nil {
		// Restore the snapshot exactly, then still invalidate: the
		// server's true state is uncertain, so reconcile against
		// ground truth rather than trust the rollback alone.
		s.mu.Lock()
		s.store.Restore(id, snapshot)
		rec.Status = types.MutationRolledBack
		s.mu.Unlock()
		s.bus.Invalidate(EntityStory, []string{id})
		return rec, fmt.Errorf("mutation on %s rolled back: %w", id, rerr)
	}

	s.mu.Lock()
	if updated != nil {
		// Server response is authoritative for summary fields.
		s.store.PutSummary(updated)
	}
	rec.Status = types.MutationCommitted
	s.mu.Unlock()
	s.bus.Invalidate(EntityStory, []string{id})
	return rec, nil
}

// create submits a new item. Creation is not applied optimistically:
// the server owns id assignment, so the record enters the cache on the
// server's response and views pick it up through invalidation.
func (c *Coordinator) create(ctx context.Context, draft *types.ItemDraft) (*types.WorkItem, error) {
	s := c.s
	if !s.role.CanWrite() {
		return nil, fmt.Errorf("%w: role %s cannot create items", ErrForbidden, s.role)
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	item, err := s.remote.CreateItem(ctx, draft)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if !s.closed {
		s.store.Put(item.ID, &types.DetailEntry{Item: item.Clone(), Description: draft.Description})
	}
	s.mu.Unlock()
	s.bus.Invalidate(EntityStory, []string{item.ID})
	return item, nil
}

// groupSnapshot remembers one group's state in one view before an
// optimistic removal, for exact restoration on rollback.
type groupSnapshot struct {
	sub   *viewSub
	gen   int
	group *types.Group
}

// delete removes an item optimistically from every view containing it.
// The record store entry is only evicted after the server confirms.
func (c *Coordinator) delete(ctx context.Context, id string) (*types.MutationRecord, error) {
	s := c.s
	if !s.role.CanDelete() {
		return nil, fmt.Errorf("%w: role %s cannot delete items", ErrForbidden, s.role)
	}

	release, err := c.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	rec := &types.MutationRecord{
		ID:     ulid.Make().String(),
		ItemID: id,
		Kind:   types.MutationDelete,
		Status: types.MutationOptimistic,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := s.store.Get(id); !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var snapshots []groupSnapshot
	for _, sub := range s.registry.views {
		if sub.result == nil {
			continue
		}
		for _, g := range sub.result.Groups {
			if !g.Contains(id) {
				continue
			}
			snapshots = append(snapshots, groupSnapshot{sub: sub, gen: sub.generation, group: g.Clone()})
			removeID(g, id)
			sub.version++
		}
	}
	s.mu.Unlock()

	if rerr := s.remote.DeleteItem(ctx, id); rerr != nil {
		s.mu.Lock()
		for _, snap := range snapshots {
			// Skip views that were refetched meanwhile; they already
			// reflect ground truth.
			if snap.sub.generation != snap.gen {
				continue
			}
			if g := snap.sub.result.Group(snap.group.Key); g != nil {
				*g = *snap.group
			}
			snap.sub.version++
		}
		rec.Status = types.MutationRolledBack
		s.mu.Unlock()
		s.bus.Invalidate(EntityStory, []string{id})
		return rec, fmt.Errorf("delete of %s rolled back: %w", id, rerr)
	}

	s.mu.Lock()
	s.store.Delete(id)
	rec.Status = types.MutationCommitted
	s.mu.Unlock()
	s.bus.Invalidate(EntityStory, []string{id})
	return rec, nil
}

// bulkCreate submits drafts in independent, sequentially-attempted
// batches. Per-item failures are aggregated; successes stand even when
// later items fail, and every batch is attempted regardless of earlier
// partial failures.
func (c *Coordinator) bulkCreate(ctx context.Context, drafts []*types.ItemDraft) (*types.BulkCreateResult, error) {
	s := c.s
	if !s.role.CanWrite() {
		return nil, fmt.Errorf("%w: role %s cannot create items", ErrForbidden, s.role)
	}

	result := &types.BulkCreateResult{}
	batch := s.bulkBatchSize
	var createdIDs []string

	for start := 0; start < len(drafts); start += batch {
		end := start + batch
		if end > len(drafts) {
			end = len(drafts)
		}
		for _, draft := range drafts[start:end] {
			if err := draft.Validate(); err != nil {
				result.ErrorCount++
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			item, err := s.remote.CreateItem(ctx, draft)
			if err != nil {
				result.ErrorCount++
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			result.CreatedCount++
			result.CreatedItems = append(result.CreatedItems, item)
			createdIDs = append(createdIDs, item.ID)
			s.mu.Lock()
			if !s.closed {
				s.store.Put(item.ID, &types.DetailEntry{Item: item.Clone(), Description: draft.Description})
			}
			s.mu.Unlock()
		}
	}

	if len(createdIDs) > 0 {
		s.bus.Invalidate(EntityStory, createdIDs)
	}
	return result, nil
}

// removeID drops id from the group and fixes its accounting.
func removeID(g *types.Group, id string) {
	for i, v := range g.Items {
		if v == id {
			g.Items = append(g.Items[:i], g.Items[i+1:]...)
			break
		}
	}
	g.LoadedCount--
	g.TotalCount--
	if g.LoadedCount < 0 {
		g.LoadedCount = 0
	}
	if g.TotalCount < g.LoadedCount {
		g.TotalCount = g.LoadedCount
	}
	g.HasMore = g.LoadedCount < g.TotalCount
}
