// Command metaserver runs one node of the metadata cluster: it serves
// the RPC surface of internal/server over HTTP, loads its config and
// membership table from the plain-text files internal/config parses,
// and runs the background split coordinator for as long as it's up.
//
// Required environment:
//   - METASERVER_ID: this server's index into the membership file
//   - METASERVER_MEMBERSHIP: path to the membership file
//
// Optional environment:
//   - METASERVER_LISTEN: listen address (default ":8080")
//   - METASERVER_CONFIG: path to the key-value config file (defaults
//     applied if unset)
//   - METASERVER_STORE: "mem" or "bolt" (default "mem")
//   - METASERVER_DB_PATH: bbolt file path, required when
//     METASERVER_STORE=bolt
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dreamware/giga/internal/config"
	"github.com/dreamware/giga/internal/ordstore"
	"github.com/dreamware/giga/internal/rpc"
	"github.com/dreamware/giga/internal/server"
	"go.uber.org/zap"
)

var logFatal = log.Fatalf

func main() {
	serverIDStr := mustGetenv("METASERVER_ID")
	membershipPath := mustGetenv("METASERVER_MEMBERSHIP")
	listen := getenv("METASERVER_LISTEN", ":8080")
	configPath := getenv("METASERVER_CONFIG", "")
	storeKind := getenv("METASERVER_STORE", "mem")

	serverID, err := strconv.Atoi(serverIDStr)
	if err != nil {
		logFatal("METASERVER_ID must be an integer: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		logFatal("building logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Default()
	if configPath != "" {
		cfg, err = config.LoadConfigFile(configPath)
		if err != nil {
			logFatal("loading config %s: %v", configPath, err)
		}
	}

	members, err := config.LoadMembershipFile(membershipPath)
	if err != nil {
		logFatal("loading membership %s: %v", membershipPath, err)
	}

	store, err := openStore(storeKind)
	if err != nil {
		logFatal("opening store: %v", err)
	}

	membership := rpc.NewMembership(members.Addrs)
	pool := rpc.NewPool(membership, 1)

	srv := server.New(server.Config{
		ID:          int16(serverID),
		NumServers:  len(members.Addrs),
		MaxRadix:    cfg.MaxRadix,
		Store:       store,
		Pool:        pool,
		Logger:      logger,
		LeaseWindow: time.Duration(cfg.LeaseWindowMillis) * time.Millisecond,
		Epsilon:     time.Duration(cfg.EpsilonMillis) * time.Millisecond,
		SplitEvery:  5 * time.Second,
		MaxPartSize: cfg.DirSplitThreshold,
	})

	httpServer := &http.Server{
		Addr:              listen,
		Handler:           srv.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metaserver listening", zap.Int("server_id", serverID), zap.String("addr", listen))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}
	if err := srv.Close(); err != nil {
		logger.Warn("store close error", zap.Error(err))
	}
	logger.Info("metaserver stopped")
}

func openStore(kind string) (ordstore.Store, error) {
	switch kind {
	case "mem", "":
		return ordstore.NewMemStore(), nil
	case "bolt":
		path := mustGetenv("METASERVER_DB_PATH")
		return ordstore.OpenBoltStore(path)
	default:
		logFatal("METASERVER_STORE must be \"mem\" or \"bolt\", got %q", kind)
		return nil, nil
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func mustGetenv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		logFatal("missing required environment variable %s", key)
	}
	return v
}
