package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/storyline-app/storyline/internal/debug"
	"github.com/storyline-app/storyline/internal/lockfile"
)

// rpcDebugEnabled returns true if STORY_RPC_DEBUG environment variable is set
func rpcDebugEnabled() bool {
	val := os.Getenv("STORY_RPC_DEBUG")
	return val == "1" || val == "true"
}

// rpcDebugLog logs to stderr if STORY_RPC_DEBUG is enabled
func rpcDebugLog(format string, args ...interface{}) {
	if rpcDebugEnabled() {
		fmt.Fprintf(os.Stderr, "[RPC DEBUG] "+format+"\n", args...)
	}
}

// ClientVersion is the version of this RPC client.
// It should match the story CLI version for compatibility checks and is
// set by main.go from cmd/story/version.go before making RPC calls.
var ClientVersion = "0.0.0" // Placeholder; overridden at startup

// Client represents an RPC client that connects to the daemon
type Client struct {
	conn       net.Conn
	socketPath string
	timeout    time.Duration
	dbPath     string // Expected database path for validation
	actor      string // Actor for the activity trail
}

// TryConnect attempts to connect to the daemon socket.
// Returns nil if no daemon is running or unhealthy.
func TryConnect(socketPath string) (*Client, error) {
	return TryConnectWithTimeout(socketPath, 200*time.Millisecond)
}

// TryConnectWithTimeout attempts to connect to the daemon socket using
// the provided dial timeout. Returns nil if no daemon is running or
// unhealthy.
func TryConnectWithTimeout(socketPath string, dialTimeout time.Duration) (*Client, error) {
	rpcDebugLog("attempting connection to socket: %s", socketPath)

	// Fast probe: when the socket is missing, check the daemon lock
	// before dialing. Eliminates pointless connection attempts when no
	// daemon is running.
	socketExists := endpointExists(socketPath)
	rpcDebugLog("socket exists check: %v", socketExists)

	if !socketExists {
		daemonDir := filepath.Dir(socketPath)
		running, _ := lockfile.TryDaemonLock(daemonDir)
		if !running {
			debug.Logf("daemon lock not held and socket missing (no daemon running)")
			rpcDebugLog("daemon lock not held (no daemon running)")
			cleanupStaleDaemonArtifacts(daemonDir)
			return nil, nil
		}
		// Lock held but socket missing: re-check to handle the race
		// where the daemon started between the two probes.
		socketExists = endpointExists(socketPath)
		if !socketExists {
			debug.Logf("daemon lock held but socket missing after re-check (startup race or crash): %s", socketPath)
			rpcDebugLog("connection aborted: socket still missing despite lock being held")
			return nil, nil
		}
		rpcDebugLog("socket now exists after re-check (daemon startup race resolved)")
	}

	if dialTimeout <= 0 {
		dialTimeout = 200 * time.Millisecond
	}

	rpcDebugLog("dialing socket (timeout: %v)", dialTimeout)
	dialStart := time.Now()
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	dialDuration := time.Since(dialStart)

	if err != nil {
		debug.Logf("failed to connect to RPC endpoint: %v", err)
		rpcDebugLog("dial failed after %v: %v", dialDuration, err)

		// Socket exists but dial failed. If the lock is free the daemon
		// crashed and left a stale socket, so clean up immediately.
		daemonDir := filepath.Dir(socketPath)
		running, _ := lockfile.TryDaemonLock(daemonDir)
		if !running {
			rpcDebugLog("daemon not running (lock free) - cleaning up stale socket")
			cleanupStaleDaemonArtifacts(daemonDir)
			_ = os.Remove(socketPath)
		}
		return nil, nil
	}

	rpcDebugLog("dial succeeded in %v", dialDuration)

	client := &Client{
		conn:       conn,
		socketPath: socketPath,
		timeout:    30 * time.Second,
	}

	rpcDebugLog("performing health check")
	health, err := client.Health()
	if err != nil {
		debug.Logf("health check failed: %v", err)
		rpcDebugLog("health check failed: %v", err)
		_ = conn.Close()
		return nil, nil
	}

	if health.Status == "unhealthy" {
		debug.Logf("daemon unhealthy: %s", health.Error)
		rpcDebugLog("daemon unhealthy: %s", health.Error)
		_ = conn.Close()
		return nil, nil
	}

	debug.Logf("connected to daemon (status: %s, uptime: %.1fs)",
		health.Status, health.Uptime)

	return client, nil
}

// endpointExists reports whether the socket file exists.
func endpointExists(socketPath string) bool {
	_, err := os.Stat(socketPath)
	return err == nil
}

// Close closes the connection to the daemon
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// SetTimeout sets the request timeout duration
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// SetDatabasePath sets the expected database path for validation
func (c *Client) SetDatabasePath(dbPath string) {
	c.dbPath = dbPath
}

// SetActor sets the actor recorded on the activity trail
func (c *Client) SetActor(actor string) {
	c.actor = actor
}

// Execute sends an RPC request and waits for a response. When the
// daemon refuses the operation the Response is returned alongside the
// error so callers can inspect the Rejected flag.
func (c *Client) Execute(operation string, args interface{}) (*Response, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal args: %w", err)
	}

	req := Request{
		Operation:     operation,
		Args:          argsJSON,
		Actor:         c.actor,
		ClientVersion: ClientVersion,
		ExpectedDB:    c.dbPath,
	}

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if c.timeout > 0 {
		deadline := time.Now().Add(c.timeout)
		if err := c.conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("failed to set deadline: %w", err)
		}
	}

	writer := bufio.NewWriter(c.conn)
	if _, err := writer.Write(reqJSON); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", err)
	}
	if err := writer.WriteByte('\n'); err != nil {
		return nil, fmt.Errorf("failed to write newline: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush: %w", err)
	}

	reader := bufio.NewReader(c.conn)
	respLine, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !resp.Success {
		return &resp, fmt.Errorf("operation failed: %s", resp.Error)
	}

	return &resp, nil
}

// Ping sends a ping request to verify the daemon is alive
func (c *Client) Ping() error {
	resp, err := c.Execute(OpPing, nil)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("ping failed: %s", resp.Error)
	}
	return nil
}

// Status retrieves daemon status metadata
func (c *Client) Status() (*StatusResponse, error) {
	resp, err := c.Execute(OpStatus, nil)
	if err != nil {
		return nil, err
	}

	var status StatusResponse
	if err := json.Unmarshal(resp.Data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status response: %w", err)
	}
	return &status, nil
}

// Health sends a health check request to verify the daemon is healthy
func (c *Client) Health() (*HealthResponse, error) {
	resp, err := c.Execute(OpHealth, nil)
	if err != nil {
		return nil, err
	}

	var health HealthResponse
	if err := json.Unmarshal(resp.Data, &health); err != nil {
		return nil, fmt.Errorf("failed to unmarshal health response: %w", err)
	}
	return &health, nil
}

// Shutdown sends a graceful shutdown request to the daemon
func (c *Client) Shutdown() error {
	_, err := c.Execute(OpShutdown, nil)
	return err
}

// ListGrouped lists one page of every group of a view via the daemon
func (c *Client) ListGrouped(args *ListGroupedArgs) (*Response, error) {
	return c.Execute(OpListGrouped, args)
}

// GroupPage fetches the next page of one group via the daemon
func (c *Client) GroupPage(args *GroupPageArgs) (*Response, error) {
	return c.Execute(OpGroupPage, args)
}

// Show fetches one work item's detail entry via the daemon
func (c *Client) Show(args *ShowArgs) (*Response, error) {
	return c.Execute(OpShow, args)
}

// ListComments retrieves one page of a comment thread via the daemon
func (c *Client) ListComments(args *CommentListArgs) (*Response, error) {
	return c.Execute(OpCommentList, args)
}

// ListActivity retrieves one page of an activity feed via the daemon
func (c *Client) ListActivity(args *ActivityListArgs) (*Response, error) {
	return c.Execute(OpActivityList, args)
}

// Create creates a new work item via the daemon
func (c *Client) Create(args *CreateArgs) (*Response, error) {
	return c.Execute(OpCreate, args)
}

// CreateMany creates a batch of work items via the daemon
func (c *Client) CreateMany(args *CreateManyArgs) (*Response, error) {
	return c.Execute(OpCreateMany, args)
}

// Update updates a work item via the daemon
func (c *Client) Update(args *UpdateArgs) (*Response, error) {
	return c.Execute(OpUpdate, args)
}

// Delete deletes a work item via the daemon
func (c *Client) Delete(args *DeleteArgs) (*Response, error) {
	return c.Execute(OpDelete, args)
}

// AddComment appends a comment to a work item via the daemon
func (c *Client) AddComment(args *CommentAddArgs) (*Response, error) {
	return c.Execute(OpCommentAdd, args)
}

// GetConfig retrieves a config value from the daemon's database
func (c *Client) GetConfig(args *ConfigArgs) (string, error) {
	resp, err := c.Execute(OpGetConfig, args)
	if err != nil {
		return "", err
	}

	var value string
	if err := json.Unmarshal(resp.Data, &value); err != nil {
		return "", fmt.Errorf("failed to unmarshal config response: %w", err)
	}
	return value, nil
}

// SetConfig writes a config value to the daemon's database
func (c *Client) SetConfig(args *ConfigArgs) error {
	_, err := c.Execute(OpSetConfig, args)
	return err
}

// cleanupStaleDaemonArtifacts removes the stale daemon.pid file when
// the socket is missing and the lock is free. Only the pid file is
// removed; the lock file is released by the OS on process exit.
func cleanupStaleDaemonArtifacts(daemonDir string) {
	pidFile := filepath.Join(daemonDir, "daemon.pid")

	if _, err := os.Stat(pidFile); err != nil {
		return
	}

	if err := os.Remove(pidFile); err != nil {
		debug.Logf("failed to remove stale pid file: %v", err)
		return
	}

	debug.Logf("removed stale daemon.pid file (lock free, socket missing)")
}
