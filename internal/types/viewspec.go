package types

import (
	"sort"
	"strconv"
	"strings"
)

// GroupBy selects the grouping dimension of a view.
type GroupBy string

const (
	GroupByStatus   GroupBy = "status"
	GroupByPriority GroupBy = "priority"
	GroupByAssignee GroupBy = "assignee"
	GroupByNone     GroupBy = "none" // flat list
)

// IsValid returns true for a defined grouping dimension.
func (g GroupBy) IsValid() bool {
	switch g {
	case GroupByStatus, GroupByPriority, GroupByAssignee, GroupByNone:
		return true
	}
	return false
}

// OrderBy selects the sort field of a view.
type OrderBy string

const (
	OrderByCreatedAt OrderBy = "created_at"
	OrderByUpdatedAt OrderBy = "updated_at"
	OrderByPriority  OrderBy = "priority"
	OrderByDeadline  OrderBy = "deadline"
	OrderByTitle     OrderBy = "title"
)

// OrderDirection is ascending or descending.
type OrderDirection string

const (
	OrderAsc  OrderDirection = "asc"
	OrderDesc OrderDirection = "desc"
)

// ViewSpec is the structural key of a read: which items, grouped how,
// ordered how. Two specs with equal field values are the same view
// regardless of object identity; Key() is the canonical identity used
// for subscription sharing and invalidation targeting.
type ViewSpec struct {
	TeamIDs        []string       `json:"team_ids,omitempty"`
	GroupBy        GroupBy        `json:"group_by"`
	OrderBy        OrderBy        `json:"order_by"`
	OrderDirection OrderDirection `json:"order_direction"`
	Categories     []string       `json:"categories,omitempty"` // status categories (e.g. backlog, started)
	StatusIDs      []string       `json:"status_ids,omitempty"`
	AssigneeIDs    []string       `json:"assignee_ids,omitempty"`
	Priorities     []Priority     `json:"priorities,omitempty"`
	SprintID       string         `json:"sprint_id,omitempty"`
	ObjectiveID    string         `json:"objective_id,omitempty"`
	PageSize       int            `json:"page_size,omitempty"`
}

// Normalize returns a copy with slice fields sorted and deduplicated so
// that value-equal specs produce identical keys.
func (s ViewSpec) Normalize() ViewSpec {
	s.TeamIDs = dedupSorted(s.TeamIDs)
	s.Categories = dedupSorted(s.Categories)
	s.StatusIDs = dedupSorted(s.StatusIDs)
	s.AssigneeIDs = dedupSorted(s.AssigneeIDs)
	if len(s.Priorities) > 0 {
		ps := append([]Priority(nil), s.Priorities...)
		sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
		out := ps[:0]
		var last Priority = -1
		for _, p := range ps {
			if p != last {
				out = append(out, p)
			}
			last = p
		}
		s.Priorities = out
	}
	if s.GroupBy == "" {
		s.GroupBy = GroupByNone
	}
	if s.OrderBy == "" {
		s.OrderBy = OrderByUpdatedAt
	}
	if s.OrderDirection == "" {
		s.OrderDirection = OrderDesc
	}
	return s
}

// Key returns the canonical identity of the spec. Fields are written in a
// stable order with explicit separators so distinct specs can never
// collide by concatenation.
func (s ViewSpec) Key() string {
	n := s.Normalize()
	var w keyWriter
	w.strs(n.TeamIDs)
	w.str(string(n.GroupBy))
	w.str(string(n.OrderBy))
	w.str(string(n.OrderDirection))
	w.strs(n.Categories)
	w.strs(n.StatusIDs)
	w.strs(n.AssigneeIDs)
	for _, p := range n.Priorities {
		w.str(strconv.Itoa(int(p)))
	}
	w.sep()
	w.str(n.SprintID)
	w.str(strconv.Itoa(n.PageSize))
	w.str(n.ObjectiveID)
	return w.String()
}

// Equal reports structural equality of two specs.
func (s ViewSpec) Equal(other ViewSpec) bool {
	return s.Key() == other.Key()
}

// CouldContain reports whether an item with the given scope fields could
// appear in this view. This is the structured membership predicate the
// invalidation bus evaluates; it deliberately ignores ordering and
// grouping, which never affect membership. An empty scope dimension
// matches everything.
func (s ViewSpec) CouldContain(item *WorkItem) bool {
	if item == nil {
		return false
	}
	if len(s.TeamIDs) > 0 && !containsStr(s.TeamIDs, item.TeamID) {
		return false
	}
	if s.SprintID != "" && s.SprintID != item.SprintID {
		return false
	}
	if s.ObjectiveID != "" && s.ObjectiveID != item.ObjectiveID {
		return false
	}
	if len(s.StatusIDs) > 0 && !containsStr(s.StatusIDs, item.StatusID) {
		return false
	}
	if len(s.AssigneeIDs) > 0 && !containsStr(s.AssigneeIDs, item.AssigneeID) {
		return false
	}
	if len(s.Priorities) > 0 {
		found := false
		for _, p := range s.Priorities {
			if p == item.Priority {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	// Categories map status ids to workflow buckets server-side; the
	// client cannot evaluate them locally, so a category-filtered view
	// conservatively matches (refetch decides membership).
	return true
}

func dedupSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	j := 0
	for i, v := range out {
		if i == 0 || v != out[i-1] {
			out[j] = v
			j++
		}
	}
	return out[:j]
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// keyWriter builds canonical view keys. Each value is written with a
// length prefix so "ab"+"c" and "a"+"bc" stay distinct.
type keyWriter struct {
	b strings.Builder
}

func (w *keyWriter) str(s string) {
	w.b.WriteString(strconv.Itoa(len(s)))
	w.b.WriteByte(':')
	w.b.WriteString(s)
	w.b.WriteByte(';')
}

func (w *keyWriter) strs(ss []string) {
	for _, s := range ss {
		w.str(s)
	}
	w.sep()
}

func (w *keyWriter) sep() {
	w.b.WriteByte('|')
}

func (w *keyWriter) String() string {
	return w.b.String()
}
