package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fortyx-net/livechat/internal/api"
	"github.com/fortyx-net/livechat/internal/config"
	"github.com/fortyx-net/livechat/internal/gateway"
	"github.com/fortyx-net/livechat/internal/logring"
	"github.com/fortyx-net/livechat/internal/notify"
	"github.com/fortyx-net/livechat/internal/ticket"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file (env vars used when omitted)")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	logLevel := new(slog.LevelVar)
	ring := logring.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logring.NewHandler(jsonHandler, ring))

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.LogLevel != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err == nil {
			logLevel.Set(lvl)
		}
	}
	if *verbose {
		logLevel.Set(slog.LevelDebug)
	}

	logger.Info("livechatd starting", "store", cfg.Store.Backend, "addr", cfg.Server.Host, "port", cfg.Server.Port)

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open ticket store", "error", err)
		os.Exit(1)
	}

	primary, fallback, err := buildNotifiers(cfg, logger)
	if err != nil {
		logger.Error("failed to configure notification channels", "error", err)
		os.Exit(1)
	}
	pipeline := notify.NewPipeline(primary, fallback, logger)
	if cfg.Notify.LinkPreviews {
		pipeline = pipeline.WithLinkPreviews(notify.NewLinkPreviewer())
	}

	gw := gateway.New(store, pipeline, logger,
		gateway.WithRecencyWindow(time.Duration(cfg.Sync.RecencyWindow)))

	var ratings api.RatingSink
	if cfg.Notify.RatingWebhookURL != "" {
		ratings = notify.NewDiscordWebhook(cfg.Notify.RatingWebhookURL)
	} else {
		logger.Warn("no rating webhook configured, ratings will only be logged")
	}

	srv := api.NewServer(gw, api.Config{Host: cfg.Server.Host, Port: cfg.Server.Port}, ratings, ring, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("livechatd stopped")
}

func openStore(cfg *config.Config, logger *slog.Logger) (ticket.Store, error) {
	if err := os.MkdirAll(cfg.Store.DataDir, 0o755); err != nil {
		return nil, err
	}
	switch cfg.Store.Backend {
	case "jsonfile":
		return ticket.NewJSONFileStore(filepath.Join(cfg.Store.DataDir, "chats.json"), logger)
	default:
		return ticket.NewSQLiteStore(filepath.Join(cfg.Store.DataDir, "tickets.db"))
	}
}

func buildNotifiers(cfg *config.Config, logger *slog.Logger) (primary, fallback notify.Notifier, err error) {
	if cfg.Notify.AgentDeskURL != "" {
		primary = notify.NewAgentDesk(cfg.Notify.AgentDeskURL)
	} else {
		logger.Warn("no agent desk URL configured, primary channel disabled")
	}

	switch cfg.Notify.Fallback {
	case "discord":
		fallback = notify.NewDiscordWebhook(cfg.Notify.DiscordWebhookURL)
	case "slack":
		fallback = notify.NewSlackWebhook(cfg.Notify.SlackWebhookURL)
	case "telegram":
		fallback, err = notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			return nil, nil, err
		}
	case "":
		logger.Warn("no fallback channel configured")
	}
	return primary, fallback, nil
}
