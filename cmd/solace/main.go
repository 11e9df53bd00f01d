package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/veyra/solace/internal/agency"
	"github.com/veyra/solace/internal/api"
	"github.com/veyra/solace/internal/channel"
	"github.com/veyra/solace/internal/clock"
	"github.com/veyra/solace/internal/config"
	"github.com/veyra/solace/internal/content"
	"github.com/veyra/solace/internal/orchestrator"
	"github.com/veyra/solace/internal/profile"
	"github.com/veyra/solace/internal/rategate"
	"github.com/veyra/solace/internal/schedule"
	pgstore "github.com/veyra/solace/internal/store"
	"github.com/veyra/solace/internal/trigger"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Solace agency engine...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/solace.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	clk := clock.System{}

	// Trigger catalog: file-backed when configured, builtin otherwise.
	var catalog *trigger.Catalog
	if cfg.Agency.CatalogPath != "" {
		catalog, err = trigger.LoadCatalog(cfg.Agency.CatalogPath, logger)
		if err != nil {
			logger.Fatal("failed to load trigger catalog", zap.Error(err))
		}
	} else {
		catalog = trigger.NewCatalog(trigger.BuiltinTriggers(), logger)
	}
	logger.Info("Trigger catalog loaded", zap.Int("triggers", catalog.Len()))

	// PostgreSQL store; the engine runs fully in-memory without it.
	var store *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			store = ps
		}
	}

	var prefs profile.Store = profile.NewStaticStore()
	if store != nil {
		prefs = store
	}

	// Channel senders.
	registry := channel.NewRegistry(logger)
	outbox := channel.NewOutbox(logger)
	registry.Register(outbox)

	if cfg.Channels.Push.Enabled && cfg.Channels.Push.RelayURL != "" {
		registry.Register(channel.NewWebhookSender(cfg.Channels.Push.RelayURL, logger))
	}
	if cfg.Channels.Slack.Enabled && cfg.Channels.Slack.BotToken != "" {
		registry.Register(channel.NewSlackSender(cfg.Channels.Slack.BotToken, logger))
	}
	var discord *channel.DiscordSender
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.BotToken != "" {
		d, dErr := channel.NewDiscordSender(cfg.Channels.Discord.BotToken, logger)
		if dErr != nil {
			logger.Warn("Discord sender unavailable", zap.Error(dErr))
		} else if dErr := d.Connect(); dErr != nil {
			logger.Warn("Discord connect failed", zap.Error(dErr))
		} else {
			discord = d
			registry.Register(d)
		}
	}

	// The real context analyzer is a separate service; the empty source
	// keeps a single-binary deployment functional.
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	provider := content.NewTemplateProvider(catalog, rng, logger)
	contexts := content.EmptySource{}

	// Core engine wiring.
	history := trigger.NewFireHistory()
	scorers := trigger.NewScorers(rng)
	evaluator := trigger.NewEvaluator(catalog, history, provider, contexts, prefs, scorers, clk, logger)
	sched := schedule.NewManager(clk, logger)
	gate := rategate.New(cfg.Agency.HourlyMax, clk, logger)
	orch := orchestrator.New(gate, registry, sched, history, prefs, provider, contexts, clk, logger)

	engine := agency.NewEngine(evaluator, sched, orch, gate, history, registry, prefs, clk, logger, agency.Options{
		TriggerInterval:    time.Duration(cfg.Agency.TriggerIntervalSeconds) * time.Second,
		RecurrenceInterval: time.Duration(cfg.Agency.RecurrenceIntervalSeconds) * time.Second,
		PoolSize:           cfg.Agency.PoolSize,
	})
	if store != nil {
		engine.SetPersister(store)
	}

	// Redis feed for externally pushed events.
	var feed *orchestrator.Feed
	if cfg.Database.Redis.URL != "" {
		f, fErr := orchestrator.NewFeed(cfg.Database.Redis.URL, logger)
		if fErr != nil {
			logger.Warn("Redis unavailable, running without external event feed", zap.Error(fErr))
		} else {
			feed = f
			engine.SetFeed(f)
		}
	}

	engine.Start()

	// HTTP surface.
	handler := api.NewHandler(engine, outbox, logger)
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Solace listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Solace...")
	engine.Stop()
	srv.Shutdown(context.Background())
	if feed != nil {
		feed.Close()
	}
	if discord != nil {
		discord.Close()
	}
	if store != nil {
		store.Close()
	}
}
