// Package types defines core data structures for the storyline client engine.
package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Priority is the urgency bucket of a work item.
// Zero means "no priority", matching the server's encoding.
type Priority int

const (
	PriorityNone Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

// IsValid returns true for the defined priority range.
func (p Priority) IsValid() bool {
	return p >= PriorityNone && p <= PriorityUrgent
}

func (p Priority) String() string {
	switch p {
	case PriorityNone:
		return "none"
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority converts a user-facing priority name to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return PriorityNone, nil
	case "low":
		return PriorityLow, nil
	case "medium", "med":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	default:
		return PriorityNone, fmt.Errorf("invalid priority: %q", s)
	}
}

// WorkItem represents a story: the core mutable entity of the cache layer.
// Summary fields are what list and board views carry; detail-only fields
// (description, comments, activity) live on DetailEntry.
type WorkItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`

	// ===== Workflow =====
	StatusID string   `json:"status_id"`
	Priority Priority `json:"priority"` // No omitempty: 0 is valid (no priority)

	// ===== Assignment & scope =====
	AssigneeID  string   `json:"assignee_id,omitempty"`
	LabelIDs    []string `json:"label_ids,omitempty"` // sorted, no duplicates
	SprintID    string   `json:"sprint_id,omitempty"`
	ObjectiveID string   `json:"objective_id,omitempty"`
	ParentID    string   `json:"parent_id,omitempty"`
	TeamID      string   `json:"team_id"`

	// ===== Scheduling =====
	StartDate *time.Time `json:"start_date,omitempty"`
	Deadline  *time.Time `json:"deadline,omitempty"`

	// ===== Timestamps =====
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the item has usable field values.
func (w *WorkItem) Validate() error {
	if len(w.Title) == 0 {
		return fmt.Errorf("title is required")
	}
	if len(w.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(w.Title))
	}
	if w.TeamID == "" {
		return fmt.Errorf("team_id is required")
	}
	if !w.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %d", w.Priority)
	}
	return nil
}

// Clone returns a deep copy. Rollback exactness depends on snapshots never
// sharing memory with live cache entries.
func (w *WorkItem) Clone() *WorkItem {
	if w == nil {
		return nil
	}
	cp := *w
	cp.LabelIDs = append([]string(nil), w.LabelIDs...)
	if w.StartDate != nil {
		d := *w.StartDate
		cp.StartDate = &d
	}
	if w.Deadline != nil {
		d := *w.Deadline
		cp.Deadline = &d
	}
	return &cp
}

// ItemDraft carries the fields a caller provides when creating a work item.
// The server assigns ID and timestamps.
type ItemDraft struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	StatusID    string     `json:"status_id,omitempty"`
	Priority    Priority   `json:"priority"`
	AssigneeID  string     `json:"assignee_id,omitempty"`
	LabelIDs    []string   `json:"label_ids,omitempty"`
	SprintID    string     `json:"sprint_id,omitempty"`
	ObjectiveID string     `json:"objective_id,omitempty"`
	ParentID    string     `json:"parent_id,omitempty"`
	TeamID      string     `json:"team_id"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

// Validate checks draft fields before submission.
func (d *ItemDraft) Validate() error {
	if len(d.Title) == 0 {
		return fmt.Errorf("title is required")
	}
	if len(d.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(d.Title))
	}
	if d.TeamID == "" {
		return fmt.Errorf("team_id is required")
	}
	if !d.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %d", d.Priority)
	}
	return nil
}

// ItemPatch is a partial update. Nil pointer fields are left untouched;
// label mutations are set operations (add and remove are idempotent,
// SetLabels non-nil replaces the whole set).
type ItemPatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	StatusID    *string    `json:"status_id,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	AssigneeID  *string    `json:"assignee_id,omitempty"`
	SprintID    *string    `json:"sprint_id,omitempty"`
	ObjectiveID *string    `json:"objective_id,omitempty"`
	ParentID    *string    `json:"parent_id,omitempty"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`

	AddLabels    []string `json:"add_labels,omitempty"`
	RemoveLabels []string `json:"remove_labels,omitempty"`
	SetLabels    []string `json:"set_labels,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p *ItemPatch) IsZero() bool {
	return p.Title == nil && p.Description == nil && p.StatusID == nil &&
		p.Priority == nil && p.AssigneeID == nil && p.SprintID == nil &&
		p.ObjectiveID == nil && p.ParentID == nil && p.StartDate == nil &&
		p.Deadline == nil && len(p.AddLabels) == 0 && len(p.RemoveLabels) == 0 &&
		p.SetLabels == nil
}

// Apply merges the patch into the item. Only fields the patch carries are
// touched, so concurrently-set fields outside the patch survive.
// Description is a detail-only field and is applied by the record store.
func (p *ItemPatch) Apply(item *WorkItem) {
	if p.Title != nil {
		item.Title = *p.Title
	}
	if p.StatusID != nil {
		item.StatusID = *p.StatusID
	}
	if p.Priority != nil {
		item.Priority = *p.Priority
	}
	if p.AssigneeID != nil {
		item.AssigneeID = *p.AssigneeID
	}
	if p.SprintID != nil {
		item.SprintID = *p.SprintID
	}
	if p.ObjectiveID != nil {
		item.ObjectiveID = *p.ObjectiveID
	}
	if p.ParentID != nil {
		item.ParentID = *p.ParentID
	}
	if p.StartDate != nil {
		d := *p.StartDate
		item.StartDate = &d
	}
	if p.Deadline != nil {
		d := *p.Deadline
		item.Deadline = &d
	}
	if p.SetLabels != nil {
		item.LabelIDs = NormalizeLabels(p.SetLabels)
	}
	if len(p.AddLabels) > 0 {
		item.LabelIDs = AddLabelIDs(item.LabelIDs, p.AddLabels)
	}
	if len(p.RemoveLabels) > 0 {
		item.LabelIDs = RemoveLabelIDs(item.LabelIDs, p.RemoveLabels)
	}
}

// NormalizeLabels returns a sorted copy with duplicates removed.
func NormalizeLabels(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// AddLabelIDs unions new labels into the set. Adding a label already
// present is a no-op.
func AddLabelIDs(existing, add []string) []string {
	return NormalizeLabels(append(append([]string(nil), existing...), add...))
}

// RemoveLabelIDs subtracts labels from the set. Removing an absent label
// is a no-op.
func RemoveLabelIDs(existing, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, l := range remove {
		drop[l] = true
	}
	out := make([]string, 0, len(existing))
	for _, l := range existing {
		if !drop[l] {
			out = append(out, l)
		}
	}
	return NormalizeLabels(out)
}

// Role is the caller's role in a workspace, resolved by the permission
// collaborator before any write reaches the coordinator.
type Role string

const (
	RoleGuest  Role = "guest"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// CanWrite reports whether the role may perform mutations.
func (r Role) CanWrite() bool {
	return r == RoleMember || r == RoleAdmin
}

// CanDelete reports whether the role may delete items.
func (r Role) CanDelete() bool {
	return r == RoleAdmin
}
