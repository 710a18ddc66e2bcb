package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/storyline-app/storyline/internal/remote"
	"github.com/storyline-app/storyline/internal/types"
)

// RemoteClient adapts an RPC client to the remote.Remote interface the
// cache layer consumes: responses the daemon refused become Rejected
// errors, everything the transport ate becomes a NetworkFailure.
type RemoteClient struct {
	client *Client
}

// NewRemoteClient wraps an open RPC client.
func NewRemoteClient(client *Client) *RemoteClient {
	return &RemoteClient{client: client}
}

// Close closes the underlying connection.
func (r *RemoteClient) Close() error {
	return r.client.Close()
}

// call executes one operation and decodes the payload into out.
func (r *RemoteClient) call(ctx context.Context, operation string, args interface{}, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return remote.NetworkFailure(err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			r.client.SetTimeout(remaining)
		}
	}

	resp, err := r.client.Execute(operation, args)
	if err != nil {
		if resp != nil {
			// The daemon answered with an error payload.
			return remote.Rejected(resp.Error)
		}
		return remote.NetworkFailure(err)
	}

	if out != nil {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return remote.NetworkFailure(fmt.Errorf("failed to decode %s response: %w", operation, err))
		}
	}
	return nil
}

func (r *RemoteClient) ListGrouped(ctx context.Context, q remote.GroupedQuery) (*remote.GroupedResponse, error) {
	var out remote.GroupedResponse
	err := r.call(ctx, OpListGrouped, &ListGroupedArgs{Spec: q.Spec, Page: q.Page}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *RemoteClient) LoadGroupPage(ctx context.Context, q remote.PageQuery) (*remote.GroupPage, error) {
	var out remote.GroupPage
	err := r.call(ctx, OpGroupPage, &GroupPageArgs{Spec: q.Spec, GroupKey: q.GroupKey, Cursor: q.Cursor}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *RemoteClient) GetItem(ctx context.Context, id string) (*types.DetailEntry, error) {
	var out types.DetailEntry
	if err := r.call(ctx, OpShow, &ShowArgs{ID: id}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *RemoteClient) ListComments(ctx context.Context, itemID string, page int) (*remote.CommentsPage, error) {
	var out remote.CommentsPage
	if err := r.call(ctx, OpCommentList, &CommentListArgs{ID: itemID, Page: page}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *RemoteClient) ListActivity(ctx context.Context, itemID string, page int) (*remote.ActivityPage, error) {
	var out remote.ActivityPage
	if err := r.call(ctx, OpActivityList, &ActivityListArgs{ID: itemID, Page: page}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *RemoteClient) CreateItem(ctx context.Context, draft *types.ItemDraft) (*types.WorkItem, error) {
	var out types.WorkItem
	if err := r.call(ctx, OpCreate, &CreateArgs{Draft: draft}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *RemoteClient) UpdateItem(ctx context.Context, id string, patch *types.ItemPatch) (*types.WorkItem, error) {
	var out types.WorkItem
	if err := r.call(ctx, OpUpdate, &UpdateArgs{ID: id, Patch: patch}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *RemoteClient) DeleteItem(ctx context.Context, id string) error {
	return r.call(ctx, OpDelete, &DeleteArgs{ID: id}, nil)
}

func (r *RemoteClient) AddComment(ctx context.Context, itemID, authorID, body string) (*types.Comment, error) {
	// The daemon attributes comments to the connection's actor.
	if authorID != "" {
		r.client.SetActor(authorID)
	}
	var out types.Comment
	if err := r.call(ctx, OpCommentAdd, &CommentAddArgs{ID: itemID, Body: body}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
