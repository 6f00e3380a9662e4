package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tinyland-inc/craig/cmd/craig/internal"
	"github.com/tinyland-inc/craig/pkg/agent"
	"github.com/tinyland-inc/craig/pkg/bus"
	"github.com/tinyland-inc/craig/pkg/channels"
	"github.com/tinyland-inc/craig/pkg/config"
	"github.com/tinyland-inc/craig/pkg/health"
	"github.com/tinyland-inc/craig/pkg/logger"
	"github.com/tinyland-inc/craig/pkg/metering"
	"github.com/tinyland-inc/craig/pkg/providers"
)

const shutdownTimeout = 10 * time.Second

func gatewayCmd(debug bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	channelManager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		return fmt.Errorf("error creating channel manager: %w", err)
	}

	meterStore := metering.NewMeterStore()
	responder, err := newResponder(cfg, msgBus, channelManager, meterStore)
	if err != nil {
		fmt.Printf("⚠ AI replies disabled: %v\n", err)
	} else if responder == nil {
		fmt.Println("⚠ AI replies disabled")
	}

	enabledChannels := channelManager.GetEnabledChannels()
	if len(enabledChannels) > 0 {
		fmt.Printf("✓ Channels enabled: %s\n", enabledChannels)
	} else {
		fmt.Println("⚠ Warning: No channels enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := channelManager.StartAll(ctx); err != nil {
		return fmt.Errorf("error starting channels: %w", err)
	}

	if responder != nil {
		go responder.Run(ctx)
		fmt.Println("✓ AI responder started")
	} else {
		go discardMentions(ctx, msgBus)
	}

	healthServer := health.NewServer(cfg.Gateway.Host, cfg.Gateway.Port,
		health.WithReadiness(channelManager.Ready),
		health.WithSessions(channelManager),
		health.WithUsage(meterStore),
		health.WithCORSOrigins(cfg.Gateway.CORSAllowedOrigins),
	)
	go func() {
		if err := healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("health", "Health server error", map[string]any{"error": err.Error()})
		}
	}()
	fmt.Printf("✓ Gateway started on %s\n", cfg.Gateway.Addr())
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	if err := healthServer.Stop(shutdownCtx); err != nil {
		logger.WarnCF("health", "Health server shutdown", map[string]any{"error": err.Error()})
	}
	if responder != nil {
		responder.Wait()
	}
	if err := channelManager.StopAll(shutdownCtx); err != nil {
		logger.WarnCF("channels", "Channel shutdown", map[string]any{"error": err.Error()})
	}
	fmt.Println("✓ Gateway stopped")

	return nil
}

// newResponder returns nil without error when AI replies are switched off.
func newResponder(
	cfg *config.Config,
	msgBus *bus.MessageBus,
	history agent.HistoryFetcher,
	meter *metering.MeterStore,
) (*agent.Responder, error) {
	if !cfg.AI.Enabled {
		return nil, nil
	}

	provider, modelID, err := providers.CreateProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating provider: %w", err)
	}

	logger.InfoCF("agent", "Provider ready", map[string]any{
		"provider": cfg.AI.Provider,
		"model":    modelID,
	})

	return agent.NewResponder(msgBus, provider, history, meter, agent.Options{
		Model:        modelID,
		MaxTokens:    cfg.AI.MaxTokens,
		Temperature:  cfg.AI.Temperature,
		HistoryLimit: cfg.AI.HistoryLimit,
		BotName:      cfg.AI.BotName,
	}), nil
}

// discardMentions drains the inbound queue when nothing answers mentions,
// so channel handlers never block on a full bus.
func discardMentions(ctx context.Context, msgBus *bus.MessageBus) {
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		logger.DebugCF("agent", "Mention dropped, AI replies disabled", map[string]any{
			"channel": msg.Channel,
			"chat_id": msg.ChatID,
		})
	}
}
