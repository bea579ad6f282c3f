// Package main is the entry point for the agentwarden security daemon.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"agentwarden/internal/api"
	"agentwarden/internal/bus"
	"agentwarden/internal/config"
	"agentwarden/internal/contentfilter"
	"agentwarden/internal/decisions"
	"agentwarden/internal/incident"
	"agentwarden/internal/logging"
	"agentwarden/internal/mirror"
	"agentwarden/internal/msgfeed"
	"agentwarden/internal/netshield"
	"agentwarden/internal/notify"
	"agentwarden/internal/scheduler"
	"agentwarden/internal/schema"
	"agentwarden/internal/storage"
	"agentwarden/internal/walletsentinel"
	"agentwarden/internal/watchdog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"http_addr", cfg.HTTP.Addr,
		"storage_enabled", cfg.Storage.Enabled,
		"kafka_enabled", cfg.Kafka.Enabled,
		"nats_enabled", cfg.NATS.Enabled,
		"wallets", len(cfg.Wallets.Wallets),
		"endpoints", len(cfg.Network.Endpoints),
		"profiles", len(cfg.Watchdog.Profiles),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage. With storage disabled every writer degrades to a no-op and
	// detection keeps running.
	var chClient *storage.Client
	var (
		eventWriter    eventInserter                = storage.Discard{}
		snapshotStore  walletsentinel.SnapshotStore = storage.Discard{}
		quarantineRecs watchdog.QuarantineWriter    = storage.Discard{}
		blockStore     contentfilter.BlockStore     = storage.Discard{}
		rateLimitLog   netshield.RateLimitLogStore  = storage.Discard{}
	)

	if cfg.Storage.Enabled {
		slog.Info("connecting to ClickHouse", "hosts", cfg.Storage.Hosts, "database", cfg.Storage.Database)
		chClient, err = storage.NewClient(cfg.Storage)
		if err != nil {
			slog.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}

		slog.Info("running database migrations")
		if err := storage.NewMigrator(chClient).Run(ctx); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		eventWriter = storage.NewEventWriter(chClient)
		snapshotStore = storage.NewSnapshotWriter(chClient)
		quarantineRecs = storage.NewQuarantineStore(chClient)
		blockStore = storage.NewContentBlockWriter(chClient)
		rateLimitLog = storage.NewRateLimitLogWriter(chClient)
	}

	// Event bus: the single reporter shared by all detectors.
	eventBus := bus.New(bus.DefaultConfig())

	// Redis mirror for the content dedup window.
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	dedup := contentfilter.NewDedupCache(cfg.ContentFilter.DedupCacheSize, cfg.ContentFilter.DedupWindow, rdb)
	filter := contentfilter.New(contentfilter.Config{
		BadDomains:      cfg.ContentFilter.BadDomains,
		ScamAddresses:   cfg.ContentFilter.ScamAddresses,
		SensitiveValues: cfg.SensitiveValues(),
	}, eventBus, blockStore, dedup)

	// Fleet message feed.
	aggregator := msgfeed.NewAggregator(2 * cfg.Watchdog.ObservationWindow)
	statusTracker := msgfeed.NewStatusTracker()
	var feedConsumer *msgfeed.Consumer
	if cfg.Kafka.Enabled {
		feedConsumer = msgfeed.NewConsumer(msgfeed.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.FeedTopic,
			GroupID: cfg.Kafka.GroupID,
		}, aggregator, statusTracker)
		feedConsumer.Start(ctx)
	}

	// Containment decision broadcast.
	var publisher watchdog.DecisionPublisher
	var natsPub *decisions.Publisher
	if cfg.NATS.Enabled {
		natsPub, err = decisions.Connect(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			slog.Error("failed to connect to nats", "error", err)
			os.Exit(1)
		}
		publisher = natsPub
	}

	wd := watchdog.New(watchdog.Config{
		ObservationWindow:   cfg.Watchdog.ObservationWindow,
		DeadAgentThreshold:  cfg.Watchdog.DeadAgentThreshold,
		MemoryCeilingMB:     cfg.Watchdog.MemoryCeilingMB,
		WarnThreshold:       cfg.Watchdog.WarnThreshold,
		QuarantineThreshold: cfg.Watchdog.QuarantineThreshold,
		AutoReleaseAfter:    cfg.Watchdog.AutoReleaseAfter,
		Profiles:            watchdogProfiles(cfg.Watchdog.Profiles),
	}, statusTracker, aggregator, eventBus, quarantineRecs, publisher)

	sentinel := walletsentinel.New(
		walletConfigs(cfg.Wallets.Wallets),
		walletsentinel.NewRPCClient(10*time.Second),
		eventBus,
		snapshotStore,
	)

	shield := netshield.New(netshield.Config{
		Endpoints:           shieldEndpoints(cfg.Network.Endpoints),
		ReferenceEndpoints:  cfg.Network.ReferenceEndpoints,
		DivergenceThreshold: cfg.Network.DivergenceThreshold,
		FailureThreshold:    cfg.Network.FailureThreshold,
	}, netshield.NewJSONRPCHeightClient(10*time.Second), eventBus)

	limiter := netshield.NewRateLimiter(netshield.RateLimitConfig{
		WindowSize:   cfg.Network.RateLimit.WindowSize,
		MaxPerWindow: cfg.Network.RateLimit.MaxPerWindow,
		Overrides:    cfg.Network.RateLimit.Overrides,
	}, eventBus, rateLimitLog)

	secretScanner := netshield.NewSecretScanner(cfg.SensitiveValues(), eventBus)

	// Notification channels. The log channel is always on.
	notifiers := []incident.Notifier{notify.NewLogChannel()}
	if cfg.Notify.Telegram.Enabled {
		notifiers = append(notifiers, notify.NewTelegramChannel(
			cfg.Notify.Telegram.BotToken,
			cfg.Notify.Telegram.AdminChatID,
			cfg.Notify.Telegram.ChannelChatID,
		))
	}
	if cfg.Notify.Webhook.Enabled {
		notifiers = append(notifiers, notify.NewWebhookChannel("webhook", cfg.Notify.Webhook.URL, cfg.Notify.Webhook.Headers))
	}

	responder := incident.New(incident.Config{
		ExpiryWindow: cfg.Incident.ExpiryWindow,
	}, eventBus, notifiers)

	// Pipeline order: persist, mirror, respond.
	eventBus.AddHandler(func(ctx context.Context, event *schema.SecurityEvent) error {
		return eventWriter.InsertEvent(ctx, event)
	})
	var eventMirror *mirror.Mirror
	if cfg.Kafka.Enabled && cfg.Kafka.MirrorTopic != "" {
		eventMirror = mirror.New(cfg.Kafka.Brokers, cfg.Kafka.MirrorTopic)
		eventBus.AddHandler(eventMirror.HandleEvent)
	}
	eventBus.AddHandler(responder.HandleEvent)
	eventBus.Start(ctx)

	// Periodic sweeps.
	sched := scheduler.New(ctx)
	mustSchedule := func(interval time.Duration, name string, job scheduler.Job) {
		if err := sched.Every(interval, name, job); err != nil {
			slog.Error("failed to schedule job", "job", name, "error", err)
			os.Exit(1)
		}
	}
	if len(cfg.Wallets.Wallets) > 0 {
		mustSchedule(cfg.Wallets.CheckInterval, "wallet-check", sentinel.CheckAll)
	}
	if len(cfg.Network.Endpoints) > 0 {
		mustSchedule(cfg.Network.CheckInterval, "network-check", shield.CheckAll)
	}
	if len(cfg.Watchdog.Profiles) > 0 {
		mustSchedule(cfg.Watchdog.CheckInterval, "agent-check", wd.CheckAll)
		mustSchedule(cfg.Watchdog.CheckInterval, "auto-release", wd.SweepAutoReleases)
	}
	mustSchedule(cfg.Incident.SweepInterval, "incident-sweep", func(context.Context) { responder.Sweep() })
	sched.Start()

	// Ops API.
	var apiServer *api.Server
	if cfg.HTTP.Enabled {
		apiServer = api.New(api.Config{Addr: cfg.HTTP.Addr}, responder, wd, filter, limiter, secretScanner)
		apiServer.Start()
	}

	slog.Info("agentwarden started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if apiServer != nil {
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("api shutdown error", "error", err)
		}
	}

	sched.Stop()
	cancel()

	if feedConsumer != nil {
		if err := feedConsumer.Stop(); err != nil {
			slog.Error("message feed close error", "error", err)
		}
	}
	eventBus.Stop()
	if eventMirror != nil {
		if err := eventMirror.Close(); err != nil {
			slog.Error("event mirror close error", "error", err)
		}
	}
	if natsPub != nil {
		natsPub.Close()
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			slog.Error("redis close error", "error", err)
		}
	}
	if chClient != nil {
		if err := chClient.Close(); err != nil {
			slog.Error("clickhouse close error", "error", err)
		}
	}

	slog.Info("shutdown complete")
}

// eventInserter is the persistence seam for the security event stream.
type eventInserter interface {
	InsertEvent(ctx context.Context, event *schema.SecurityEvent) error
}

func watchdogProfiles(in []config.AgentProfileConfig) []watchdog.Profile {
	out := make([]watchdog.Profile, 0, len(in))
	for _, p := range in {
		out = append(out, watchdog.Profile{
			Name:                 p.Name,
			HeartbeatInterval:    p.HeartbeatInterval,
			MaxMessagesPerWindow: p.MaxMessagesPerWindow,
			ExpectedRecipients:   p.ExpectedRecipients,
			ExpectedMessageTypes: p.ExpectedMessageTypes,
		})
	}
	return out
}

func walletConfigs(in []config.WalletConfig) []walletsentinel.WalletConfig {
	out := make([]walletsentinel.WalletConfig, 0, len(in))
	for _, w := range in {
		out = append(out, walletsentinel.WalletConfig{
			Address:             w.Address,
			Label:               w.Label,
			Chain:               w.Chain,
			RPCURL:              w.RPCURL,
			DrainThresholdPct:   w.DrainThresholdPct,
			LowBalanceThreshold: w.LowBalanceThreshold,
		})
	}
	return out
}

func shieldEndpoints(in []config.EndpointConfig) []netshield.EndpointConfig {
	out := make([]netshield.EndpointConfig, 0, len(in))
	for _, e := range in {
		out = append(out, netshield.EndpointConfig{
			URL:     e.URL,
			Label:   e.Label,
			Chain:   e.Chain,
			Primary: e.Primary,
		})
	}
	return out
}
