// Package remote defines the server-side collaborators the cache layer
// consumes: the grouped/flat collection endpoints and the mutation
// endpoints. Transport, retries, and timeouts belong to implementations,
// not to this interface.
package remote

import (
	"context"

	"github.com/storyline-app/storyline/internal/types"
)

// GroupedQuery asks for one page of every group of a view.
type GroupedQuery struct {
	Spec types.ViewSpec `json:"spec"`
	Page int            `json:"page"` // 1-indexed
}

// GroupPage is one page of one group as reported by the server.
type GroupPage struct {
	Key        string            `json:"key"`
	Items      []*types.WorkItem `json:"items"`
	TotalCount int               `json:"total_count"`
	HasMore    bool              `json:"has_more"`
	Cursor     string            `json:"cursor,omitempty"`
}

// GroupedResponse is the server's answer to a GroupedQuery. Group order
// is server-defined and stable.
type GroupedResponse struct {
	Groups []*GroupPage `json:"groups"`
}

// PageQuery asks for the next page of a single group, resuming from the
// cursor the previous page returned.
type PageQuery struct {
	Spec     types.ViewSpec `json:"spec"`
	GroupKey string         `json:"group_key"`
	Cursor   string         `json:"cursor,omitempty"`
}

// CommentsPage is one page of a comment thread.
type CommentsPage struct {
	Items      []*types.Comment `json:"items"`
	Pagination types.PageInfo   `json:"pagination"`
}

// ActivityPage is one page of an item's activity feed.
type ActivityPage struct {
	Items      []*types.Activity `json:"items"`
	Pagination types.PageInfo    `json:"pagination"`
}

// Remote is the full collaborator surface the cache layer consumes.
// Implementations map transport-level failures to NetworkFailure errors
// and server error payloads to RemoteRejected errors (see Error).
type Remote interface {
	// Collection endpoints
	ListGrouped(ctx context.Context, q GroupedQuery) (*GroupedResponse, error)
	LoadGroupPage(ctx context.Context, q PageQuery) (*GroupPage, error)
	GetItem(ctx context.Context, id string) (*types.DetailEntry, error)
	ListComments(ctx context.Context, itemID string, page int) (*CommentsPage, error)
	ListActivity(ctx context.Context, itemID string, page int) (*ActivityPage, error)

	// Mutation endpoints
	CreateItem(ctx context.Context, draft *types.ItemDraft) (*types.WorkItem, error)
	UpdateItem(ctx context.Context, id string, patch *types.ItemPatch) (*types.WorkItem, error)
	DeleteItem(ctx context.Context, id string) error
	AddComment(ctx context.Context, itemID, authorID, body string) (*types.Comment, error)
}
