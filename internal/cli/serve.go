package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/config"
	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/device"
	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/ingress"
	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/notify"
	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/routerloop"
	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/sender"
	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/store"
	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/telemetry"
	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/watchdog"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge: ingress API, Router loop, Sender loop, and Watchdog",
	RunE:  runServe,
}

// seedDefaults is the compiled-in set of known simulated parameters, per
// SPEC_FULL §5. Excel-driven seeding is out of scope.
var seedDefaults = map[string][]device.SeedDefault{
	"vj6530": {
		{Pkey: "TTP00002", DefaultV: "16", RW: "RW"},
	},
	"vj3350": {
		{Pkey: "LSE0001", DefaultV: "0", RW: "R"},
	},
	"esp-plc": {
		{Pkey: "MAP0001", DefaultV: "0", RW: "RW"},
	},
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	slog.Info("config loaded", "settings", cfg)

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Observability)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	slog.Info("connected to postgres")

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable, falling back to poll-only loops", "error", err)
			rdb = nil
		} else {
			defer rdb.Close()
			slog.Info("connected to redis")
		}
	}

	s := store.New(pool)
	if err := s.Migrate(ctx); err != nil {
		return err
	}

	inboxNotify := notify.New(rdb, cfg.RedisStreamPrefix, "inbox")
	outboxNotify := notify.New(rdb, cfg.RedisStreamPrefix, "outbox")

	adapters, err := buildAdapters(ctx, cfg, s)
	if err != nil {
		return err
	}

	client := sender.NewHTTPClient(cfg.HTTPTimeout(), cfg.TLSVerify)
	wd := buildWatchdog(cfg, client)

	retryable4xx := make(map[int]bool, len(cfg.CallbackRetryable4xx))
	for _, code := range cfg.CallbackRetryable4xx {
		retryable4xx[code] = true
	}

	handler := ingress.NewHandler(s, wd, cfg, inboxNotify)
	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: ingress.NewRouter(handler),
	}

	var loopsWG sync.WaitGroup
	var loopCancel context.CancelFunc

	startLoops := func(cfg *config.Settings) {
		loopCtx, cancel := context.WithCancel(ctx)
		loopCancel = cancel

		snd := sender.New(s, wd, client, outboxNotify, cfg.RetryBaseS, cfg.RetryCapS)
		snd.Retryable4xx = retryable4xx
		snd.SharedSecret = cfg.CallbackSharedSecret
		snd.HMACSecret = cfg.CallbackHMACSecret

		rtr := routerloop.New(s, adapters, cfg.PeerBaseURL+"/api/inbox", inboxNotify, outboxNotify)

		loopsWG.Add(3)
		go func() { defer loopsWG.Done(); wd.Run(loopCtx) }()
		go func() { defer loopsWG.Done(); rtr.Run(loopCtx) }()
		go func() { defer loopsWG.Done(); snd.Run(loopCtx) }()
	}

	startLoops(cfg)

	go func() {
		slog.Info("ingress listening", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ingress server error", "error", err)
			stop()
		}
	}()

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)

	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down")
			loopCancel()
			loopsWG.Wait()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				slog.Error("ingress server shutdown error", "error", err)
			}
			return nil

		case <-sighup:
			slog.Info("SIGHUP received, reloading config")
			newCfg, err := config.Load(configPath)
			if err != nil {
				slog.Error("config reload failed, keeping previous settings", "error", err)
				continue
			}
			loopCancel()
			loopsWG.Wait()

			cfg = newCfg
			handler.Settings = cfg
			handler.SharedSecret = cfg.SharedSecret
			wd = buildWatchdog(cfg, client)
			handler.Watchdog = wd

			retryable4xx = make(map[int]bool, len(cfg.CallbackRetryable4xx))
			for _, code := range cfg.CallbackRetryable4xx {
				retryable4xx[code] = true
			}

			startLoops(cfg)
			slog.Info("config reloaded, loops restarted")
		}
	}
}

func buildWatchdog(cfg *config.Settings, client *http.Client) *watchdog.Watchdog {
	var probers []watchdog.Prober
	if cfg.PeerWatchdogHost != "" {
		probers = append(probers, watchdog.NewICMPProber(cfg.PeerWatchdogHost))
	}
	if cfg.PeerBaseURL != "" {
		probers = append(probers, &watchdog.HTTPProber{
			Client: client,
			URL:    cfg.PeerBaseURL + cfg.PeerHealthPath,
		})
	}
	return watchdog.New(probers, cfg.WatchdogInterval(), cfg.WatchdogTimeout(), cfg.WatchdogDownAfter)
}

func buildAdapters(ctx context.Context, cfg *config.Settings, s *store.Store) (map[string]device.Adapter, error) {
	adapters := make(map[string]device.Adapter, len(cfg.Devices))
	for channel, ds := range cfg.Devices {
		if ds.Simulation {
			sim := device.NewSimulationAdapter(channel, s, seedDefaults[channel])
			if err := sim.Seed(ctx); err != nil {
				return nil, err
			}
			adapters[channel] = sim
			continue
		}

		transport := &device.TCPLineTransport{
			Addr: hostPort(ds.Host, ds.Port),
		}
		adapters[channel] = device.NewLiveAdapter(channel, transport)
	}
	return adapters, nil
}

func hostPort(host string, port int) string {
	if host == "" {
		return ""
	}
	return host + ":" + strconv.Itoa(port)
}
