package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JaakkoLipp/jarvis/internal/agent"
	"github.com/JaakkoLipp/jarvis/internal/bus"
	"github.com/JaakkoLipp/jarvis/internal/channel"
	"github.com/JaakkoLipp/jarvis/internal/config"
	"github.com/JaakkoLipp/jarvis/internal/domain"
	"github.com/JaakkoLipp/jarvis/internal/metrics"
	"github.com/JaakkoLipp/jarvis/internal/provider"
)

const (
	inboundBufferSize = 100
	metricsNamespace  = "jarvis"
	shutdownTimeout   = 10 * time.Second
)

// app wires the pipeline to its gateways for one process lifetime.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	inbound *bus.InMemoryBus
	events  *bus.EventBus
	pool    *provider.Pool
	ollama  *provider.Ollama
	loop    *agent.Loop
	metrics *metrics.Registry
}

func newApp(cfg *config.Config, logger *slog.Logger) *app {
	pool := provider.NewPool(cfg.Generation.Timeout(), logger)
	ollama := provider.NewOllama(provider.OllamaConfig{
		APIBase:      cfg.Generation.APIBase,
		DefaultModel: cfg.Generation.Model,
		Timeout:      cfg.Generation.Timeout(),
		Logger:       logger,
	}, pool)

	inbound := bus.New(inboundBufferSize, logger)
	events := bus.NewEventBus(logger)

	var commands *agent.CommandRouter
	if cfg.Commands.Enabled {
		commands = agent.NewCommandRouter(cfg.Commands.Prefix, version)
	}

	loop := agent.NewLoop(agent.LoopConfig{
		Generator: ollama,
		Model:     cfg.Generation.Model,
		Prompt: agent.NewPromptBuilder(agent.PromptConfig{
			Persona:        cfg.Prompt.Persona,
			SummaryWordCap: cfg.Prompt.SummaryWordCap,
		}),
		Commands: commands,
		Bus:      inbound,
		Events:   events,
		Logger:   logger,
	})

	a := &app{
		cfg:     cfg,
		logger:  logger,
		inbound: inbound,
		events:  events,
		pool:    pool,
		ollama:  ollama,
		loop:    loop,
	}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewRegistry(metricsNamespace)
		metrics.NewPipelineMetrics(a.metrics).Subscribe(events)
	}
	return a
}

// onReady opens the generation pool; it runs on every gateway (re)connect.
func (a *app) onReady(gateway string) func() {
	return func() {
		if a.pool.Open() {
			a.logger.Info("generation client ready", "gateway", gateway, "api_base", a.cfg.Generation.APIBase, "model", a.cfg.Generation.Model)
		}
	}
}

// onDisconnect releases pooled connections while the gateway is down.
func (a *app) onDisconnect() {
	a.pool.Close()
	a.logger.Info("generation client closed")
}

// serve runs the pipeline, every gateway and the optional metrics server
// until ctx is done or a gateway stops. When a gateway stops on its own,
// in-flight events are finished before the rest is shut down.
func (a *app) serve(ctx context.Context, gateways ...domain.Gateway) error {
	if len(gateways) == 0 {
		return errors.New("no gateways enabled")
	}
	defer a.pool.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	for _, gw := range gateways {
		a.loop.Register(gw)
	}

	g.Go(func() error {
		a.loop.Run(gctx)
		cancel()
		return nil
	})

	for _, gw := range gateways {
		gw := gw
		g.Go(func() error {
			defer a.inbound.Close()
			a.logger.Info("gateway starting", "gateway", gw.Name())
			if err := gw.Start(gctx, a.inbound.Publish, a.onReady(gw.Name())); err != nil {
				return fmt.Errorf("%s gateway: %w", gw.Name(), err)
			}
			a.logger.Info("gateway stopped", "gateway", gw.Name())
			return nil
		})
	}

	if a.metrics != nil {
		a.serveMetrics(gctx, g)
	}

	return g.Wait()
}

func (a *app) serveMetrics(ctx context.Context, g *errgroup.Group) {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Endpoint, a.metrics.Handler())
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		a.logger.Info("metrics server listening", "addr", srv.Addr, "endpoint", a.cfg.Metrics.Endpoint)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// buildGateways creates the network gateways enabled in cfg.
func buildGateways(cfg *config.Config, a *app) ([]domain.Gateway, error) {
	var gateways []domain.Gateway

	if cfg.Channels.Discord.Enabled {
		if cfg.Channels.Discord.Token == "" {
			return nil, errors.New("discord is enabled but no token is set (DISCORD_TOKEN)")
		}
		gateways = append(gateways, channel.NewDiscord(channel.DiscordConfig{
			Token:        cfg.Channels.Discord.Token,
			GuildID:      cfg.Channels.Discord.GuildID,
			OnDisconnect: a.onDisconnect,
			Logger:       a.logger,
		}))
	}

	if cfg.Channels.Telegram.Enabled {
		if cfg.Channels.Telegram.Token == "" {
			return nil, errors.New("telegram is enabled but no token is set (TELEGRAM_TOKEN)")
		}
		gateways = append(gateways, channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			Logger:    a.logger,
		}))
	}

	if len(gateways) == 0 {
		return nil, errors.New("no gateways enabled in config (channels.discord / channels.telegram)")
	}
	return gateways, nil
}
