package rpc

import (
	"encoding/json"

	"github.com/storyline-app/storyline/internal/remote"
	"github.com/storyline-app/storyline/internal/types"
)

// Operation constants for all story commands
const (
	OpPing     = "ping"
	OpStatus   = "status"
	OpHealth   = "health"
	OpShutdown = "shutdown"

	OpListGrouped  = "list_grouped"
	OpGroupPage    = "group_page"
	OpShow         = "show"
	OpCommentList  = "comment_list"
	OpActivityList = "activity_list"

	OpCreate     = "create"
	OpCreateMany = "create_many"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpCommentAdd = "comment_add"

	OpGetConfig = "get_config"
	OpSetConfig = "set_config"
)

// Request represents an RPC request from client to daemon.
type Request struct {
	Operation     string          `json:"operation"`
	Args          json.RawMessage `json:"args"`
	Actor         string          `json:"actor,omitempty"`
	ClientVersion string          `json:"client_version,omitempty"`
	ExpectedDB    string          `json:"expected_db,omitempty"` // database path pin, absolute
}

// Response represents an RPC response from daemon to client.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	// Rejected marks errors the daemon evaluated and refused, as
	// opposed to transport failures the client infers itself.
	Rejected bool `json:"rejected,omitempty"`
}

// ListGroupedArgs asks for one page of every group of a view.
type ListGroupedArgs struct {
	Spec types.ViewSpec `json:"spec"`
	Page int            `json:"page"` // 1-indexed
}

// GroupPageArgs asks for the next page of one group.
type GroupPageArgs struct {
	Spec     types.ViewSpec `json:"spec"`
	GroupKey string         `json:"group_key"`
	Cursor   string         `json:"cursor,omitempty"`
}

// ShowArgs asks for one item's detail entry.
type ShowArgs struct {
	ID string `json:"id"`
}

// CommentListArgs asks for one page of an item's comment thread.
type CommentListArgs struct {
	ID   string `json:"id"`
	Page int    `json:"page"`
}

// ActivityListArgs asks for one page of an item's activity feed.
type ActivityListArgs struct {
	ID   string `json:"id"`
	Page int    `json:"page"`
}

// CreateArgs carries a draft for the create operation.
type CreateArgs struct {
	Draft *types.ItemDraft `json:"draft"`
}

// CreateManyArgs carries a batch of drafts.
type CreateManyArgs struct {
	Drafts []*types.ItemDraft `json:"drafts"`
}

// UpdateArgs carries a partial update for one item.
type UpdateArgs struct {
	ID    string           `json:"id"`
	Patch *types.ItemPatch `json:"patch"`
}

// DeleteArgs names the item to delete.
type DeleteArgs struct {
	ID string `json:"id"`
}

// CommentAddArgs appends a comment to an item's thread.
type CommentAddArgs struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

// ConfigArgs reads or writes one config key.
type ConfigArgs struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// CreateManyResult aggregates a create_many batch. Successes stand
// even when other drafts in the batch fail.
type CreateManyResult struct {
	Created []*types.WorkItem `json:"created,omitempty"`
	Errors  []string          `json:"errors,omitempty"`
}

// PingResponse is the daemon's ping operation payload.
type PingResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

// StatusResponse is the daemon's status operation payload.
type StatusResponse struct {
	Version       string  `json:"version"`
	DBPath        string  `json:"db_path"`
	SocketPath    string  `json:"socket_path"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Requests      int64   `json:"requests"`
	Errors        int64   `json:"errors"`
}

// HealthResponse is the daemon's health operation payload.
type HealthResponse struct {
	Status string  `json:"status"` // healthy or unhealthy
	Uptime float64 `json:"uptime"`
	Error  string  `json:"error,omitempty"`
}

// The collection payloads reuse the client cache contract directly so
// daemon and session never disagree on shape.
type (
	GroupedPayload  = remote.GroupedResponse
	PagePayload     = remote.GroupPage
	CommentsPayload = remote.CommentsPage
	ActivityPayload = remote.ActivityPage
)
