// Package storyline provides a minimal public API for embedding the
// storyline consistency layer in other Go programs.
//
// Most users interact through the story CLI. This package exports only
// the types needed to open a Session against a remote and subscribe to
// views programmatically; everything else stays internal.
package storyline

import (
	"errors"

	"github.com/storyline-app/storyline/internal/cache"
	"github.com/storyline-app/storyline/internal/perms"
	"github.com/storyline-app/storyline/internal/remote"
	"github.com/storyline-app/storyline/internal/rpc"
	"github.com/storyline-app/storyline/internal/types"
)

// Session owns a client-side cache bound to one workspace and user.
type Session = cache.Session

// Option configures a Session at construction time.
type Option = cache.Option

// ViewHandle is a live subscription to a grouped view.
type ViewHandle = cache.ViewHandle

// DetailHandle is a live subscription to one item's detail entry.
type DetailHandle = cache.DetailHandle

// ViewState and DetailState are immutable snapshots read via the handles.
type (
	ViewState   = cache.ViewState
	DetailState = cache.DetailState
	GroupState  = cache.GroupState
)

// Remote is the server transport a Session reads and writes through.
type Remote = remote.Remote

// RoleResolver maps a workspace/user pair to a role.
type RoleResolver = perms.Resolver

// Core domain types.
type (
	WorkItem    = types.WorkItem
	ItemDraft   = types.ItemDraft
	ItemPatch   = types.ItemPatch
	ViewSpec    = types.ViewSpec
	DetailEntry = types.DetailEntry
	Role        = types.Role
)

// NewSession opens a Session over the given remote.
func NewSession(r Remote, resolver RoleResolver, workspace, user string, opts ...Option) *Session {
	return cache.New(r, resolver, workspace, user, opts...)
}

// WithSyncInvalidation makes invalidation-triggered refreshes run inline
// instead of on background goroutines. Intended for one-shot programs.
func WithSyncInvalidation() Option {
	return cache.WithSyncInvalidation()
}

// DialWorkspace connects to the daemon serving the workspace rooted at
// the given path and wraps it as a Remote. The caller owns the remote
// and must Close it after the session.
func DialWorkspace(workspacePath string) (*rpc.RemoteClient, error) {
	client, err := rpc.TryConnect(rpc.ShortSocketPath(workspacePath))
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, ErrDaemonNotRunning
	}
	return rpc.NewRemoteClient(client), nil
}

// ErrDaemonNotRunning is returned by DialWorkspace when no healthy
// daemon is listening on the workspace socket.
var ErrDaemonNotRunning = errors.New("storyline: daemon is not running")
