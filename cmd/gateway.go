package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/wagate/internal/ai"
	"github.com/nextlevelbuilder/wagate/internal/bus"
	"github.com/nextlevelbuilder/wagate/internal/config"
	"github.com/nextlevelbuilder/wagate/internal/gateway"
	"github.com/nextlevelbuilder/wagate/internal/humanize"
	"github.com/nextlevelbuilder/wagate/internal/media"
	"github.com/nextlevelbuilder/wagate/internal/store"
	"github.com/nextlevelbuilder/wagate/internal/store/file"
	"github.com/nextlevelbuilder/wagate/internal/store/pg"
	"github.com/nextlevelbuilder/wagate/internal/store/sqlite"
	"github.com/nextlevelbuilder/wagate/internal/supervisor"
	"github.com/nextlevelbuilder/wagate/internal/tracing"
	"github.com/nextlevelbuilder/wagate/internal/transport/bridge"
	"github.com/nextlevelbuilder/wagate/internal/triggers"
	"github.com/nextlevelbuilder/wagate/internal/webhook"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the WhatsApp gateway (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway()
		},
	}
}

func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

func runGateway() error {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Protocol:    cfg.Telemetry.Protocol,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
	})
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("tracing shutdown", "error", err)
		}
	}()

	sessions, err := openSessionStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open session store", "error", err)
		return err
	}
	defer sessions.Close()

	hook := webhook.New(webhookSettings(cfg))
	sender := humanize.New(humanize.Options{SendsPerMinute: cfg.WhatsApp.SendRatePerMinute})
	engine, err := buildEngine(cfg, sender, hook)
	if err != nil {
		slog.Error("failed to build trigger table", "error", err)
		return err
	}

	var qrOut io.Writer
	if cfg.WhatsApp.PrintQR {
		qrOut = os.Stdout
	}

	msgBus := bus.New()
	svc, err := gateway.New(gateway.Options{
		Dial: bridge.Dialer(bridge.Config{
			URL:                 cfg.WhatsApp.BridgeURL,
			Token:               cfg.WhatsApp.BridgeToken,
			MarkOnlineOnConnect: cfg.WhatsApp.MarkOnlineOnConnect,
		}),
		Store:               sessions,
		Engine:              engine,
		Sender:              sender,
		Webhook:             hook,
		Publisher:           msgBus,
		Policy:              supervisor.DefaultPolicy(),
		Threshold:           cfg.WhatsApp.AgeThreshold(),
		BufferCapacity:      cfg.WhatsApp.BufferCapacity,
		MarkOnlineOnConnect: cfg.WhatsApp.MarkOnlineOnConnect,
		QRWriter:            qrOut,
		CleanupSchedule:     cfg.Session.CleanupSchedule,
		CleanupMaxAge:       cfg.Session.MaxAge(),
	})
	if err != nil {
		slog.Error("failed to create gateway service", "error", err)
		return err
	}

	gateway.Version = Version
	server := gateway.NewServer(cfg, msgBus, svc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error { return server.Start(gctx) })

	watcher, err := config.NewWatcher(cfgPath, cfg, func(next *config.Config) {
		svc.Reconfigure(webhookSettings(next), next.WhatsApp.AgeThreshold())
		slog.Info("config reloaded", "webhook_enabled", next.Webhook.Enabled, "message_age_threshold", next.WhatsApp.AgeThreshold())
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "error", err)
	} else {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	slog.Info("wagate started", "version", Version, "session_driver", cfg.Session.Driver, "triggers", engine.Table().Enabled())
	if err := g.Wait(); err != nil {
		slog.Error("gateway stopped", "error", err)
		return err
	}
	slog.Info("wagate stopped")
	return nil
}

// openSessionStore opens the auth-state backend selected by session.driver.
func openSessionStore(ctx context.Context, cfg *config.Config) (store.SessionStore, error) {
	path := config.ExpandHome(cfg.Session.Path)
	switch cfg.Session.Driver {
	case "", "file":
		return file.NewFileSessionStore(path), nil
	case "sqlite":
		st, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := pg.Open(ctx, cfg.Session.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown session driver %q", cfg.Session.Driver)
	}
}

func webhookSettings(cfg *config.Config) webhook.Settings {
	return webhook.Settings{
		Endpoint: cfg.Webhook.Endpoint,
		Timeout:  cfg.Webhook.TimeoutDuration(),
		Retries:  cfg.Webhook.Retries,
		Enabled:  cfg.Webhook.Enabled,
	}
}

// buildEngine wires the trigger table to its handlers. The upload and AI
// collaborators are attached only when configured.
func buildEngine(cfg *config.Config, sender *humanize.Sender, hook *webhook.Dispatcher) (*triggers.Engine, error) {
	table, err := triggers.NewTable(cfg.Triggers.Definitions())
	if err != nil {
		return nil, err
	}
	table.SetEnabled(cfg.Triggers.Enabled)

	reporter := triggers.NewReporter(nil, nil, hook)
	if cfg.Upload.Endpoint != "" {
		reporter.Uploader = media.NewUploader(media.Config{
			Endpoint:     cfg.Upload.Endpoint,
			APIKey:       cfg.Upload.APIKey,
			Timeout:      cfg.Upload.TimeoutDuration(),
			MaxFileSize:  cfg.Upload.MaxFileSize,
			MaxImageSide: cfg.Upload.MaxImageDimension,
		})
	}
	if client := ai.NewClient(aiConfig(cfg)); client.Configured() {
		reporter.Structurer = client
	} else {
		slog.Info("ai structuring disabled, reports use the default category")
	}

	return triggers.NewEngine(table, map[triggers.HandlerID]triggers.HandlerFunc{
		triggers.HandlerA1Report: reporter.Handle,
	}, sender), nil
}

func aiConfig(cfg *config.Config) ai.Config {
	return ai.Config{
		Endpoint:    cfg.AI.Endpoint,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		Timeout:     cfg.AI.TimeoutDuration(),
		MaxTokens:   cfg.AI.MaxTokens,
		Temperature: cfg.AI.Temperature,
	}
}
