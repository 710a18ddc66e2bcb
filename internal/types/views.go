package types

import "time"

// Group is one paginated bucket of a grouped view. Items holds ids in
// server order; summaries are hydrated from the record store.
// Invariant: LoadedCount <= TotalCount and HasMore == (LoadedCount < TotalCount).
type Group struct {
	Key         string   `json:"key"`
	Items       []string `json:"items"`
	LoadedCount int      `json:"loaded_count"`
	TotalCount  int      `json:"total_count"`
	HasMore     bool     `json:"has_more"`
	Cursor      string   `json:"cursor,omitempty"` // opaque, server-issued
}

// Clone returns a deep copy of the group.
func (g *Group) Clone() *Group {
	if g == nil {
		return nil
	}
	cp := *g
	cp.Items = append([]string(nil), g.Items...)
	return &cp
}

// Contains reports whether the group currently holds id.
func (g *Group) Contains(id string) bool {
	for _, it := range g.Items {
		if it == id {
			return true
		}
	}
	return false
}

// GroupedResult is the materialized state of one grouped subscription.
type GroupedResult struct {
	Spec   ViewSpec `json:"spec"`
	Groups []*Group `json:"groups"`
}

// Clone returns a deep copy of the result.
func (r *GroupedResult) Clone() *GroupedResult {
	if r == nil {
		return nil
	}
	cp := &GroupedResult{Spec: r.Spec, Groups: make([]*Group, len(r.Groups))}
	for i, g := range r.Groups {
		cp.Groups[i] = g.Clone()
	}
	return cp
}

// Group returns the group with the given key, or nil.
func (r *GroupedResult) Group(key string) *Group {
	for _, g := range r.Groups {
		if g.Key == key {
			return g
		}
	}
	return nil
}

// PageInfo is the cursorless pagination state of a flat child collection
// (comments, activity).
type PageInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasMore  bool `json:"has_more"`
	NextPage int  `json:"next_page"`
}

// Comment is a discussion entry on a work item.
type Comment struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"item_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Activity is one audit-trail entry on a work item.
type Activity struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"item_id"`
	ActorID   string    `json:"actor_id"`
	Kind      string    `json:"kind"` // created, updated, status_changed, commented, ...
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DetailEntry is the authoritative snapshot of one work item plus its
// detail-only fields. Comments and activity are independently paginated
// child collections keyed by the item id.
type DetailEntry struct {
	Item        *WorkItem `json:"item"`
	Description string    `json:"description,omitempty"`

	Comments     []*Comment  `json:"comments,omitempty"`
	CommentPages PageInfo    `json:"comment_pages"`
	Activity     []*Activity `json:"activity,omitempty"`
	ActivityPage PageInfo    `json:"activity_page"`
}

// Clone returns a deep copy. Comment and activity records are immutable
// once fetched, so the slices are copied but entries are shared.
func (e *DetailEntry) Clone() *DetailEntry {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Item = e.Item.Clone()
	cp.Comments = append([]*Comment(nil), e.Comments...)
	cp.Activity = append([]*Activity(nil), e.Activity...)
	return &cp
}
