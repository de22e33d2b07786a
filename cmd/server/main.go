package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mosaicboard/backend/internal/api"
	"github.com/mosaicboard/backend/internal/auth"
	"github.com/mosaicboard/backend/internal/config"
	"github.com/mosaicboard/backend/internal/db"
	"github.com/mosaicboard/backend/internal/persist"
	"github.com/mosaicboard/backend/internal/session"
	"github.com/mosaicboard/backend/internal/ws"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Load()

	store, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}

	registry := session.NewRegistry(store, cfg.CleanupGrace, logger)
	verifier := buildVerifier(cfg, logger)

	hub := ws.NewHub(registry, verifier, logger)
	go hub.Run()

	bridge := persist.New(store, registry,
		persist.Config{Interval: cfg.SnapshotInterval}, logger)
	registry.SetEvictHook(bridge.EvictHook())
	bridge.Start()
	registry.StartSweeper(cfg.SweepInterval)

	r := mux.NewRouter()
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		ws.ServeWs(hub, w, req)
	})
	api.New(hub, store, logger).Routes(r)
	r.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: cfg.Addr, Handler: corsMiddleware(r)}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)

		// One last snapshot pass so a clean shutdown loses nothing.
		bridge.Stop()
		bridge.RunOnce()
		registry.Stop()
		store.Close()
		os.Exit(0)
	}()

	logger.Info("mosaic server starting",
		zap.String("addr", cfg.Addr),
		zap.String("db", cfg.DBPath),
		zap.Duration("snapshot_interval", cfg.SnapshotInterval))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("listen failed", zap.Error(err))
	}
}

// buildVerifier connects to the external session store, or serves fixed dev
// tokens when MOSAIC_DEV_TOKENS is set.
func buildVerifier(cfg *config.Config, logger *zap.Logger) auth.Verifier {
	if cfg.DevTokens != "" {
		static := auth.NewStaticVerifier()
		for _, entry := range strings.Split(cfg.DevTokens, ",") {
			parts := strings.SplitN(entry, ":", 3)
			if len(parts) != 3 {
				logger.Warn("skipping malformed dev token entry", zap.String("entry", entry))
				continue
			}
			static.Add(parts[0], auth.Identity{UserID: parts[1], Name: parts[2]})
		}
		logger.Info("using static dev tokens")
		return static
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to session store", zap.Error(err))
	}
	logger.Info("connected to session store", zap.String("addr", cfg.RedisAddr))
	return auth.NewRedisVerifier(client)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
