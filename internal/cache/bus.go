package cache

// Entity kinds the invalidation bus understands. Story changes can move
// items between views, so they target views and details; label changes
// only alter summary fields; comment changes only affect detail entries.
const (
	EntityStory   = "story"
	EntityLabel   = "label"
	EntityComment = "comment"
)

// Bus maps "entity kind K changed" onto the set of live subscriptions
// that must react. Targeting is by structured scope predicate against
// each view's filter fields, never by matching serialized key strings:
// a view is affected if it currently holds an affected id, or if its
// scope could admit the id's record.
type Bus struct {
	s *Session
}

func newBus(s *Session) *Bus {
	return &Bus{s: s}
}

// Invalidate marks every subscription whose scope could contain one of
// the affected ids stale and schedules a re-fetch.
func (b *Bus) Invalidate(entityKind string, ids []string) {
	b.invalidate(entityKind, ids, false)
}

// InvalidateAll is the coarse fallback for when the precise affected-id
// set is unknown, such as after a rollback whose true server state is
// uncertain.
func (b *Bus) InvalidateAll(entityKind string) {
	b.invalidate(entityKind, nil, true)
}

func (b *Bus) invalidate(entityKind string, ids []string, all bool) {
	s := b.s
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var views []*viewSub
	var details []*detailSub
	if entityKind != EntityComment {
		for _, sub := range s.registry.views {
			if sub.loading != nil {
				// First load is in flight; it will land fresh anyway.
				continue
			}
			if all || b.affectsView(sub, ids) {
				sub.stale = true
				sub.generation++
				views = append(views, sub)
			}
		}
	}
	for id, dsub := range s.registry.details {
		if dsub.loading != nil {
			continue
		}
		if all || idListContains(ids, id) {
			dsub.stale = true
			dsub.generation++
			details = append(details, dsub)
		}
	}
	s.mu.Unlock()

	for _, v := range views {
		s.scheduleViewRefresh(v)
	}
	for _, d := range details {
		s.scheduleDetailRefresh(d)
	}
}

// affectsView evaluates the membership predicate for a view against the
// affected ids. Both directions matter: an item currently in the view
// may be leaving it, and an item outside may now belong. An id with no
// record yet matches conservatively. Called with the session lock held.
func (b *Bus) affectsView(sub *viewSub, ids []string) bool {
	for _, id := range ids {
		if sub.result != nil {
			for _, g := range sub.result.Groups {
				if g.Contains(id) {
					return true
				}
			}
		}
		entry, ok := b.s.store.Get(id)
		if !ok {
			return true
		}
		if sub.spec.CouldContain(entry.Item) {
			return true
		}
	}
	return false
}

// recordChanged is the store's change notification: summaries hydrate
// from the record store at snapshot time, so views containing the id
// only need a version bump to re-derive locally, not a refetch.
// Called with the session lock held.
func (b *Bus) recordChanged(id string) {
	for _, sub := range b.s.registry.views {
		if sub.result == nil {
			continue
		}
		for _, g := range sub.result.Groups {
			if g.Contains(id) {
				sub.version++
				break
			}
		}
	}
	if dsub, ok := b.s.registry.details[id]; ok {
		dsub.version++
	}
}

func idListContains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
