package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/storyline-app/storyline/internal/debug"
	"github.com/storyline-app/storyline/internal/storage"
)

// ServerVersion is the version of this RPC server.
// It should match the story CLI version for compatibility checks and is
// set by the serve command from cmd/story/version.go before startup.
var ServerVersion = "0.0.0" // Placeholder; overridden by daemon startup

// Server represents the RPC server that runs in the daemon.
type Server struct {
	socketPath    string
	workspacePath string // Absolute path to workspace root
	dbPath        string // Absolute path to database file
	storage       storage.Storage
	listener      net.Listener

	mu           sync.RWMutex
	shutdown     bool
	shutdownChan chan struct{}
	stopOnce     sync.Once
	doneChan     chan struct{} // closed when Start() cleanup is complete

	startTime time.Time
	requests  atomic.Int64
	errors    atomic.Int64

	maxConns      int
	activeConns   int32 // atomic counter
	connSemaphore chan struct{}

	requestTimeout time.Duration

	// Ready channel signals when the server is listening
	readyChan chan struct{}
}

// NewServer creates a new RPC server.
func NewServer(socketPath string, store storage.Storage, workspacePath, dbPath string) *Server {
	maxConns := 100
	if env := os.Getenv("STORY_DAEMON_MAX_CONNS"); env != "" {
		var conns int
		if _, err := fmt.Sscanf(env, "%d", &conns); err == nil && conns > 0 {
			maxConns = conns
		}
	}

	requestTimeout := 30 * time.Second
	if env := os.Getenv("STORY_DAEMON_REQUEST_TIMEOUT"); env != "" {
		if timeout, err := time.ParseDuration(env); err == nil && timeout > 0 {
			requestTimeout = timeout
		}
	}

	return &Server{
		socketPath:     socketPath,
		workspacePath:  workspacePath,
		dbPath:         dbPath,
		storage:        store,
		shutdownChan:   make(chan struct{}),
		doneChan:       make(chan struct{}),
		startTime:      time.Now(),
		maxConns:       maxConns,
		connSemaphore:  make(chan struct{}, maxConns),
		requestTimeout: requestTimeout,
		readyChan:      make(chan struct{}),
	}
}

// Start begins listening and serving requests. It blocks until Stop is
// called or the listener fails.
func (s *Server) Start() error {
	defer close(s.doneChan)

	socketPath, err := EnsureSocketDir(s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	// Remove a stale socket left by a previous daemon. The flock lock
	// guarantees no live daemon still owns it.
	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", socketPath, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	close(s.readyChan)
	debug.Logf("rpc server listening on %s", socketPath)

	var wg sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdownChan:
				wg.Wait()
				_ = CleanupSocketDir(socketPath)
				return nil
			default:
			}
			debug.Logf("accept failed: %v", err)
			continue
		}

		select {
		case s.connSemaphore <- struct{}{}:
		default:
			debug.Logf("connection limit reached (%d), refusing connection", s.maxConns)
			_ = conn.Close()
			continue
		}

		atomic.AddInt32(&s.activeConns, 1)
		wg.Add(1)
		go func(conn net.Conn) {
			defer func() {
				_ = conn.Close()
				atomic.AddInt32(&s.activeConns, -1)
				<-s.connSemaphore
				wg.Done()
			}()
			s.serveConn(conn)
		}(conn)
	}
}

// WaitReady blocks until the server is listening or the timeout elapses.
func (s *Server) WaitReady(timeout time.Duration) error {
	select {
	case <-s.readyChan:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("server not ready after %v", timeout)
	}
}

// Stop shuts the server down and waits for Start to finish cleanup.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.shutdown = true
		listener := s.listener
		s.mu.Unlock()

		close(s.shutdownChan)
		if listener != nil {
			_ = listener.Close()
		}
	})
	<-s.doneChan
}

// serveConn reads newline-delimited JSON requests from one connection
// and writes one response line per request.
func (s *Server) serveConn(conn net.Conn) {
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))

		line, err := reader.ReadBytes('\n')
		if err != nil {
			// EOF or timeout: client is done with this connection.
			return
		}

		var req Request
		var resp Response
		if err := json.Unmarshal(line, &req); err != nil {
			resp = Response{
				Success:  false,
				Error:    fmt.Sprintf("invalid request: %v", err),
				Rejected: true,
			}
		} else {
			s.requests.Add(1)
			resp = s.handleRequest(&req)
		}

		respJSON, err := json.Marshal(resp)
		if err != nil {
			debug.Logf("failed to marshal response: %v", err)
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
		if _, err := writer.Write(respJSON); err != nil {
			return
		}
		if err := writer.WriteByte('\n'); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}

		if req.Operation == OpShutdown {
			// The response is out; stop accepting and drain.
			go s.Stop()
			return
		}
	}
}
