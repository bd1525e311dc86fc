// Package main provides coachd, the ClariCoach local sync daemon. It owns
// the on-device cache, keeps it reconciled with the remote record store and
// serves the cached data to the UI shell over localhost REST/WebSocket.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/claricoach/backend/internal/db"
	apperrors "github.com/claricoach/backend/internal/errors"
	"github.com/claricoach/backend/internal/logging"
	syncengine "github.com/claricoach/backend/internal/sync"
	"github.com/claricoach/backend/internal/sync/audit"
	"github.com/claricoach/backend/internal/sync/connectivity"
	"github.com/claricoach/backend/internal/sync/queue"
	"github.com/claricoach/backend/internal/sync/remote"
	"github.com/claricoach/backend/internal/sync/scheduler"

	"github.com/claricoach/backend/cmd/coachd/handlers"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	var (
		dataDir       = flag.String("data", envOr("CLARICOACH_DATA", "./data"), "data directory for the local cache")
		listenAddr    = flag.String("listen", envOr("CLARICOACH_LISTEN", "localhost:8099"), "address for the localhost API")
		remoteURL     = flag.String("remote", os.Getenv("CLARICOACH_REMOTE"), "base URL of the remote record store (overrides stored credentials)")
		userID        = flag.String("user", os.Getenv("CLARICOACH_USER"), "signed-in user ID")
		machineID     = flag.String("machine-id", envOr("CLARICOACH_MACHINE_ID", "default"), "machine identifier for credential encryption")
		logLevel      = flag.String("log-level", envOr("CLARICOACH_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
		probeInterval = flag.Duration("probe-interval", 30*time.Second, "connectivity probe interval")
		syncInterval  = flag.Duration("sync-interval", scheduler.DefaultInterval, "periodic background sync interval")
	)
	flag.Parse()

	logging.Init(os.Stderr, parseLogLevel(*logLevel))
	logging.Info("coachd starting", map[string]interface{}{
		"data_dir": *dataDir,
		"listen":   *listenAddr,
	})

	database, err := db.Open(*dataDir)
	if err != nil {
		logging.Error("Failed to open database", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.NewMigrator(database.DB).Up(); err != nil {
		logging.Error("Failed to apply migrations", err)
		os.Exit(1)
	}

	store := db.NewStore(database.DB)
	defer store.Close()

	q := queue.New(store)

	// The token lives encrypted in the local credential row. The remote base
	// URL comes from the flag when given, otherwise from the same row.
	tokenProvider := func() (string, error) {
		creds, err := store.GetRemoteCredential(*userID)
		if err != nil {
			return "", err
		}
		return creds.Token(*machineID)
	}
	baseURL := *remoteURL
	if baseURL == "" {
		if creds, err := store.GetRemoteCredential(*userID); err == nil {
			baseURL = creds.BaseURL
		}
	}

	client := remote.NewClient(baseURL, tokenProvider, nil)
	auditLogger := audit.New(client)

	currentUser := func() (string, error) {
		if *userID == "" {
			return "", apperrors.New(apperrors.ErrNoCurrentUser, "no signed-in user")
		}
		return *userID, nil
	}

	engine := syncengine.NewEngine(store, q, client, auditLogger, currentUser, syncengine.DefaultConfig())

	monitor := connectivity.NewMonitor(client.Ping, *probeInterval)
	engine.Watch(monitor)
	monitor.Start()

	sched := scheduler.New(engine, monitor.IsConnected, *syncInterval)
	sched.Start(context.Background())

	hub := NewWSHub()
	go hub.PumpCompletions(engine, engine.Subscribe())

	mux := http.NewServeMux()
	handlers.NewSyncHandler(engine, q, store, *machineID, *userID).RegisterRoutes(mux)
	handlers.NewCacheHandler(store, engine, *userID).RegisterRoutes(mux)
	mux.HandleFunc("/ws", HandleWebSocket(hub))
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"coachd"}`))
	})

	server := &http.Server{Addr: *listenAddr, Handler: mux}

	go func() {
		logging.Info("API listening", map[string]interface{}{
			"addr": *listenAddr,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("API server failed", err)
			os.Exit(1)
		}
	}()

	// Kick off an initial reconciliation without waiting for a transition.
	engine.TriggerSync()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logging.Info("coachd shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Warn("API shutdown incomplete", map[string]interface{}{
			"error": err.Error(),
		})
	}

	sched.Stop()
	monitor.Stop()
	engine.Stop()
}

func parseLogLevel(s string) logging.LogLevel {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
