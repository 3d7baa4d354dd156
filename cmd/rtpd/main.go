// Command rtpd runs one backend instance of the RTP coordination layer:
// it connects to the shared store, starts the Compute Responder, the
// Presence Service, the pending sweep, and the admin HTTP surface, and
// exposes the Attempt Manager, Remote Dispatcher, Join Finalizer, and
// Death Pipeline for the embedding game server to call into.
//
// Grounded on the teacher's server/cmd/server/main.go: cobra root
// command, envOrDefault flag wiring, zap logger construction,
// signal-context shutdown, ordered component construction with deferred
// teardown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thesorekill/SorekillRTP/internal/admin"
	"github.com/thesorekill/SorekillRTP/internal/attempt"
	"github.com/thesorekill/SorekillRTP/internal/compute"
	"github.com/thesorekill/SorekillRTP/internal/config"
	"github.com/thesorekill/SorekillRTP/internal/death"
	"github.com/thesorekill/SorekillRTP/internal/dispatch"
	"github.com/thesorekill/SorekillRTP/internal/engine"
	"github.com/thesorekill/SorekillRTP/internal/finalize"
	"github.com/thesorekill/SorekillRTP/internal/gamethread"
	"github.com/thesorekill/SorekillRTP/internal/metrics"
	"github.com/thesorekill/SorekillRTP/internal/presence"
	"github.com/thesorekill/SorekillRTP/internal/rtpcore"
	"github.com/thesorekill/SorekillRTP/internal/rtpkeys"
	"github.com/thesorekill/SorekillRTP/internal/store"
	"github.com/thesorekill/SorekillRTP/internal/sweep"
)

var (
	version = "dev"
	commit  = "none"
)

type cliConfig struct {
	httpAddr       string
	redisAddr      string
	serverName     string
	keyPrefix      string
	logLevel       string
	requestTTL     time.Duration
	cooldown       time.Duration
	countdown      time.Duration
	pollTicks      int
	maxFinalizeTry int
	workerPoolSize int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &cliConfig{}

	root := &cobra.Command{
		Use:   "rtpd",
		Short: "rtpd — cross-server RTP and respawn coordination daemon",
		Long: `rtpd runs one backend's instance of the distributed RTP coordination
layer: the request/response protocol over pub/sub, the per-player
attempt state machine, the handoff protocol between backends, and the
death-driven respawn precompute pipeline.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("RTPD_HTTP_ADDR", ":8080"), "admin HTTP listen address (health/readiness/metrics)")
	root.PersistentFlags().StringVar(&cfg.redisAddr, "redis-addr", envOrDefault("RTPD_REDIS_ADDR", "127.0.0.1:6379"), "coordination store address")
	root.PersistentFlags().StringVar(&cfg.serverName, "server-name", envOrDefault("RTPD_SERVER_NAME", "default"), "this backend's stable server name")
	root.PersistentFlags().StringVar(&cfg.keyPrefix, "key-prefix", envOrDefault("RTPD_KEY_PREFIX", "rtp"), "shared key/channel prefix")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("RTPD_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	root.PersistentFlags().DurationVar(&cfg.requestTTL, "request-ttl", envDurationOrDefault("RTPD_REQUEST_TTL", 5*time.Second), "remote compute request/pending TTL")
	root.PersistentFlags().DurationVar(&cfg.cooldown, "cooldown", envDurationOrDefault("RTPD_COOLDOWN", 30*time.Second), "per-player RTP cooldown")
	root.PersistentFlags().DurationVar(&cfg.countdown, "countdown", envDurationOrDefault("RTPD_COUNTDOWN", 3*time.Second), "local RTP countdown duration")
	root.PersistentFlags().IntVar(&cfg.pollTicks, "response-poll-ticks", envIntOrDefault("RTPD_RESPONSE_POLL_TICKS", 4), "response poll interval in 50ms ticks, clamped to [1,40]")
	root.PersistentFlags().IntVar(&cfg.maxFinalizeTry, "pending-max-finalize-attempts", envIntOrDefault("RTPD_PENDING_MAX_FINALIZE_ATTEMPTS", 3), "bounded retries for the Join Finalizer")
	root.PersistentFlags().IntVar(&cfg.workerPoolSize, "worker-pool-size", envIntOrDefault("RTPD_WORKER_POOL_SIZE", 8), "bounded worker-pool goroutine count")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rtpd %s (commit: %s)\n", version, commit)
		},
	}
}

func run(ctx context.Context, cliCfg *cliConfig) error {
	logger, err := buildLogger(cliCfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting rtpd",
		zap.String("version", version),
		zap.String("server_name", cliCfg.serverName),
		zap.String("redis_addr", cliCfg.redisAddr),
		zap.String("http_addr", cliCfg.httpAddr),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Store ---
	redisClient := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cliCfg.redisAddr}})
	defer redisClient.Close()
	storeClient := store.NewRedis(redisClient, logger)
	storeClient.Start()
	defer storeClient.Stop()

	// --- 2. Scheduler, metrics, keyspace ---
	sched := gamethread.New(cliCfg.workerPoolSize)
	go sched.Run(ctx)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	keys := rtpkeys.New(cliCfg.keyPrefix)

	eng := engine.New(logger)

	domainCfg := &config.Config{
		ServerName:                 cliCfg.serverName,
		RequestTTL:                 cliCfg.requestTTL,
		Cooldown:                   cliCfg.cooldown,
		Countdown:                  cliCfg.countdown,
		ResponsePollInterval:       config.ClampResponsePollInterval(cliCfg.pollTicks),
		PendingMaxFinalizeAttempts: uint32(cliCfg.maxFinalizeTry),
		Servers: map[string]config.ServerConfig{
			cliCfg.serverName: {Enabled: true, DefaultWorld: "world", Worlds: map[string]config.WorldConfig{"world": {Enabled: true}}},
		},
	}

	core := &rtpcore.Context{
		Cfg:       domainCfg,
		Store:     storeClient,
		Notify:    eng,
		Proxy:     eng,
		Finder:    eng,
		Clock:     rtpcore.SystemClock{},
		Scheduler: sched,
		Keys:      keys,
		Positions: eng,
		Teleport:  eng,
		Freezer:   eng,
		Respawn:   eng,
		Online:    eng,
	}

	// --- 3. Compute Responder ---
	responder := compute.New(core, m)
	go responder.Run(ctx)

	// --- 4. Attempt Manager + Remote Dispatcher ---
	dispatcher := dispatch.New(core, m)
	attempts := attempt.New(core, dispatcher, m)

	// --- 5. Join Finalizer ---
	finalizer := finalize.New(core, m)
	_ = finalizer // wired into the embedding engine's join-event hook

	// --- 6. Death Pipeline ---
	deathPipeline := death.New(core, attempts, m)
	_ = deathPipeline // wired into the embedding engine's death/respawn hooks

	// --- 7. Presence Service ---
	presenceSvc, err := presence.New(core, logger)
	if err != nil {
		return fmt.Errorf("failed to create presence service: %w", err)
	}
	if err := presenceSvc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start presence service: %w", err)
	}
	defer func() {
		if err := presenceSvc.Stop(); err != nil {
			logger.Warn("presence service shutdown error", zap.Error(err))
		}
	}()

	// --- 8. Pending sweep ---
	sw, err := sweep.New(core, m, logger)
	if err != nil {
		return fmt.Errorf("failed to create pending sweep: %w", err)
	}
	if err := sw.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pending sweep: %w", err)
	}
	defer func() {
		if err := sw.Stop(); err != nil {
			logger.Warn("sweep shutdown error", zap.Error(err))
		}
	}()

	// --- 9. Admin HTTP ---
	router := admin.NewRouter(admin.Config{Store: storeClient, Registry: registry, Logger: logger})
	httpSrv := &http.Server{
		Addr:         cliCfg.httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("admin http server listening", zap.String("addr", cliCfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down rtpd")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("rtpd stopped")
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config
	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return defaultVal
}
