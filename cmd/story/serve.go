package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/storyline-app/storyline/internal/config"
	"github.com/storyline-app/storyline/internal/lockfile"
	"github.com/storyline-app/storyline/internal/rpc"
	"github.com/storyline-app/storyline/internal/storage"
	"github.com/storyline-app/storyline/internal/storage/memory"
	"github.com/storyline-app/storyline/internal/storage/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the storyline daemon for this workspace",
	Long: `serve owns the workspace database and answers every other story
command over a unix socket. One daemon runs per workspace, enforced
with a file lock; a second 'story serve' in the same workspace fails
fast.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stop, _ := cmd.Flags().GetBool("stop")
		if stop {
			return stopDaemon()
		}

		useMemory, _ := cmd.Flags().GetBool("memory")
		foreground, _ := cmd.Flags().GetBool("log-to-stderr")
		return runDaemon(useMemory, foreground)
	},
}

func stopDaemon() error {
	client, err := rpc.TryConnect(socketPathForWorkspace())
	if err != nil {
		return err
	}
	if client == nil {
		fmt.Println("Daemon is not running.")
		return nil
	}
	defer func() { _ = client.Close() }()

	if err := client.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	fmt.Println("Daemon stopped.")
	return nil
}

func runDaemon(useMemory, logToStderr bool) error {
	root := workspaceRoot()
	storylineDir := filepath.Join(root, ".storyline")
	if err := os.MkdirAll(storylineDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", storylineDir, err)
	}

	lock, err := lockfile.AcquireDaemonLock(storylineDir)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	pidFile := filepath.Join(storylineDir, "daemon.pid")
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	defer func() { _ = os.Remove(pidFile) }()

	logger := daemonLogger(storylineDir, logToStderr)

	var store storage.Storage
	if useMemory {
		store = memory.New()
		logger.Printf("using in-memory storage (nothing persists)")
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		sqliteStore, err := sqlite.New(ctx, resolveDBPath())
		cancel()
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		store = sqliteStore
		logger.Printf("opened database %s", store.Path())
	}
	defer func() { _ = store.Close() }()

	rpc.ServerVersion = Version
	socketPath := rpc.ShortSocketPath(root)
	server := rpc.NewServer(socketPath, store, root, store.Path())

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()
	if err := server.WaitReady(5 * time.Second); err != nil {
		server.Stop()
		return err
	}
	logger.Printf("daemon v%s listening on %s (pid %d)", Version, socketPath, os.Getpid())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		// Clean shutdown over RPC surfaces as a nil error here.
		if err != nil {
			logger.Printf("server failed: %v", err)
		} else {
			logger.Printf("daemon shut down")
		}
		return err
	case sig := <-sigCh:
		logger.Printf("received %v, shutting down", sig)
		server.Stop()
		<-errCh
		logger.Printf("daemon shut down")
		return nil
	}
}

// daemonLogger writes to a rotated log file under .storyline, or to
// stderr when requested for debugging.
func daemonLogger(storylineDir string, logToStderr bool) *log.Logger {
	if logToStderr {
		return log.New(os.Stderr, "", log.LstdFlags)
	}
	return log.New(&lumberjack.Logger{
		Filename:   filepath.Join(storylineDir, "daemon.log"),
		MaxSize:    config.GetInt("daemon.log-max-size-mb"),
		MaxBackups: config.GetInt("daemon.log-max-backups"),
		MaxAge:     config.GetInt("daemon.log-max-age-days"),
	}, "", log.LstdFlags)
}

func init() {
	serveCmd.Flags().Bool("memory", false, "Serve from an in-memory database (nothing persists)")
	serveCmd.Flags().Bool("stop", false, "Stop the running daemon")
	serveCmd.Flags().Bool("log-to-stderr", false, "Log to stderr instead of the rotated log file")
	rootCmd.AddCommand(serveCmd)
}
