// Package storage defines the interface for work item storage backends.
package storage

import (
	"context"
	"errors"

	"github.com/storyline-app/storyline/internal/types"
)

// ErrItemNotFound is returned when an operation targets an id that does
// not exist in the backend.
var ErrItemNotFound = errors.New("item not found")

// ItemFilter narrows ListItems. Empty slices and strings match
// everything on that dimension.
type ItemFilter struct {
	TeamIDs     []string
	StatusIDs   []string
	AssigneeIDs []string
	Priorities  []types.Priority
	SprintID    string
	ObjectiveID string
	LabelID     string
}

// Matches reports whether the item passes every set dimension.
func (f ItemFilter) Matches(item *types.WorkItem) bool {
	if len(f.TeamIDs) > 0 && !containsString(f.TeamIDs, item.TeamID) {
		return false
	}
	if len(f.StatusIDs) > 0 && !containsString(f.StatusIDs, item.StatusID) {
		return false
	}
	if len(f.AssigneeIDs) > 0 && !containsString(f.AssigneeIDs, item.AssigneeID) {
		return false
	}
	if len(f.Priorities) > 0 {
		found := false
		for _, p := range f.Priorities {
			if p == item.Priority {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.SprintID != "" && f.SprintID != item.SprintID {
		return false
	}
	if f.ObjectiveID != "" && f.ObjectiveID != item.ObjectiveID {
		return false
	}
	if f.LabelID != "" && !containsString(item.LabelIDs, f.LabelID) {
		return false
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Storage defines the interface for work item storage backends.
// Mutating operations record an activity entry attributed to actor.
type Storage interface {
	// Items
	CreateItem(ctx context.Context, item *types.WorkItem, description, actor string) error
	CreateItems(ctx context.Context, items []*types.WorkItem, actor string) error
	GetItem(ctx context.Context, id string) (*types.WorkItem, error)
	GetDescription(ctx context.Context, id string) (string, error)
	UpdateItem(ctx context.Context, id string, patch *types.ItemPatch, actor string) (*types.WorkItem, error)
	DeleteItem(ctx context.Context, id, actor string) error
	ListItems(ctx context.Context, filter ItemFilter) ([]*types.WorkItem, error)

	// Comments
	AddComment(ctx context.Context, itemID, author, body string) (*types.Comment, error)
	GetComments(ctx context.Context, itemID string) ([]*types.Comment, error)

	// Activity trail, newest first
	GetActivity(ctx context.Context, itemID string, limit int) ([]*types.Activity, error)

	// Config (user-facing settings)
	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)

	// Metadata (internal state: schema version, workspace identity)
	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)

	// Lifecycle
	Close() error

	// Database path, empty for in-memory backends
	Path() string
}

// Config holds backend configuration.
type Config struct {
	Backend string // "sqlite" or "memory"
	Path    string // database file path for sqlite
}
