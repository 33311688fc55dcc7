package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"conductor/src/api"
	"conductor/src/handler/admin"
	"conductor/src/handler/policy"
	"conductor/src/handler/registry"
	"conductor/src/handler/worktree"
	"conductor/src/mcp"
)

// stateRoot resolves the directory conductor keeps its session metadata,
// worktree index, and PID file under, honoring CONDUCTOR_STATE_DIR before
// falling back to ~/.conductor.
func stateRoot() (string, error) {
	if dir := os.Getenv("CONDUCTOR_STATE_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".conductor"), nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found")
	}

	port := flag.Int("port", 8080, "Port to listen on")
	shortPort := flag.Int("p", 8080, "Port to listen on (shorthand)")
	configPath := flag.String("config", "", "Path to config.yaml overriding default command policy (default: <state dir>/config.yaml)")
	flag.Parse()

	portValue := *port
	if *shortPort != 8080 {
		portValue = *shortPort
	}

	root, err := stateRoot()
	if err != nil {
		log.Fatalf("Failed to resolve state directory: %v", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		log.Fatalf("Failed to create state directory %s: %v", root, err)
	}

	pidPath := filepath.Join(root, "server.pid")
	if err := writePIDFile(pidPath); err != nil {
		log.Printf("Warning: failed to write PID file %s: %v", pidPath, err)
	}
	defer os.Remove(pidPath)

	policyPath := *configPath
	if policyPath == "" {
		policyPath = filepath.Join(root, "config.yaml")
	}
	provider, err := policy.NewFileProvider(policyPath)
	if err != nil {
		log.Fatalf("Failed to load command policy: %v", err)
	}

	reg, err := registry.New(filepath.Join(root, "sessions"), provider)
	if err != nil {
		log.Fatalf("Failed to initialize session registry: %v", err)
	}

	wtStore := worktree.NewStore(filepath.Join(root, "worktrees.json"))
	wtManager := worktree.NewManager(wtStore)

	a := admin.New(reg, wtManager)

	log.Printf("Reconciling worktree state")
	result := a.Reconcile()
	if len(result.Orphaned) > 0 {
		log.Printf("Reconcile: %d worktree(s) marked orphaned: %v", len(result.Orphaned), result.Orphaned)
	}
	if len(result.Recovered) > 0 {
		log.Printf("Reconcile: %d worktree(s) recovered: %v", len(result.Recovered), result.Recovered)
	}

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	if err := a.WatchWorktrees(watchCtx); err != nil {
		log.Printf("Warning: worktree filesystem watch disabled: %v", err)
	}

	syncTicker := time.NewTicker(30 * time.Second)
	syncDone := make(chan struct{})
	go func() {
		for {
			select {
			case <-syncTicker.C:
				a.SyncActiveSessions()
			case <-syncDone:
				return
			}
		}
	}()

	router := api.SetupRouter(a, os.Getenv("CONDUCTOR_PASSWORD"), os.Getenv("CONDUCTOR_DISABLE_REQUEST_LOGGING") == "true", os.Getenv("CONDUCTOR_ENABLE_PROCESSING_TIME") == "true")

	mcpServer, err := mcp.NewServer(router, a)
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}
	if err := mcpServer.Serve(); err != nil {
		log.Fatalf("Failed to start MCP server: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down", sig)
		syncTicker.Stop()
		close(syncDone)
		cancelWatch()
		reg.CleanupAll()
		os.Remove(pidPath)
		os.Exit(0)
	}()

	serverAddr := fmt.Sprintf(":%d", portValue)
	log.Printf("Starting conductor on %s (state dir: %s)", serverAddr, root)
	if err := router.Run(serverAddr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
