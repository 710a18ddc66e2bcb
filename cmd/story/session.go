package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/storyline-app/storyline/internal/cache"
	"github.com/storyline-app/storyline/internal/config"
	"github.com/storyline-app/storyline/internal/perms"
	"github.com/storyline-app/storyline/internal/rpc"
	"github.com/storyline-app/storyline/internal/types"
)

// workspaceRoot returns the directory holding .storyline, or the
// working directory when none exists yet.
func workspaceRoot() string {
	if root := config.FindWorkspaceRoot(); root != "" {
		return root
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

func workspaceName() string {
	if ws := config.GetString("workspace"); ws != "" {
		return ws
	}
	return filepath.Base(workspaceRoot())
}

func socketPathForWorkspace() string {
	return rpc.ShortSocketPath(workspaceRoot())
}

// resolveDBPath returns the database the daemon should be serving.
func resolveDBPath() string {
	if dbPath != "" {
		abs, err := filepath.Abs(dbPath)
		if err == nil {
			return abs
		}
		return dbPath
	}
	return filepath.Join(workspaceRoot(), ".storyline", "storyline.db")
}

// connectDaemon connects to the workspace daemon, pinning the expected
// database path and the actor identity on the connection.
func connectDaemon() (*rpc.Client, error) {
	client, err := rpc.TryConnect(socketPathForWorkspace())
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("daemon is not running (start it with 'story serve')")
	}
	client.SetDatabasePath(resolveDBPath())
	client.SetActor(config.GetActor(actorFlag))
	return client, nil
}

// roleResolver builds the permission resolver from config: a
// workspace/user role table plus a default.
func roleResolver() perms.Resolver {
	table := config.GetStringMapString("roles.table")
	roles := make(map[string]types.Role, len(table))
	for key, role := range table {
		roles[key] = types.Role(role)
	}
	def := types.Role(config.GetString("roles.default"))
	if def == "" {
		def = types.RoleMember
	}
	return &perms.StaticResolver{Roles: roles, Default: def}
}

// openSession connects to the daemon and builds a one-shot session over
// it. Invalidation refreshes run inline: a CLI command renders once and
// exits, so there is no background to defer to.
func openSession() (*cache.Session, func(), error) {
	client, err := connectDaemon()
	if err != nil {
		return nil, nil, err
	}

	session := cache.New(
		rpc.NewRemoteClient(client),
		roleResolver(),
		workspaceName(),
		config.GetActor(actorFlag),
		cache.WithSyncInvalidation(),
	)

	cleanup := func() {
		session.Close()
		_ = client.Close()
	}
	return session, cleanup, nil
}

// hydrateRecord pulls id into the session's record store. A one-shot
// command starts with an empty store, and mutations refuse ids they
// have never seen, so write commands hydrate the target first. The
// handle is closed immediately; the store keeps the entry.
func hydrateRecord(ctx context.Context, session *cache.Session, id string) error {
	handle, err := session.SubscribeDetail(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", id, err)
	}
	handle.Close()
	return nil
}
