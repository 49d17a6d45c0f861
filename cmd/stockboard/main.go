package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"

	"stockboard/internal/apiclient"
	"stockboard/internal/cache"
	"stockboard/internal/config"
	"stockboard/internal/eventbus"
	"stockboard/internal/http/handlers"
	"stockboard/internal/http/server"
	"stockboard/internal/live"
	applog "stockboard/internal/log"
	"stockboard/internal/session"
	"stockboard/internal/store"
	"stockboard/internal/tracing"
)

func main() {
	cfg := config.Load()

	// Optional file logging
	var extra []io.Writer
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			applog.Logger.Warn().Err(err).Str("file", cfg.LogFile).Msg("could not open log file")
		} else {
			defer f.Close()
			extra = append(extra, f)
		}
	}
	applog.Init("stockboard", cfg.IsDevelopment(), cfg.LogLevel, extra...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tp trace.TracerProvider
	if cfg.TracingEnabled {
		var err error
		if tp, err = tracing.InitTracer("stockboard", cfg.JaegerEndpoint); err != nil {
			applog.Logger.Warn().Err(err).Msg("tracing disabled")
		}
	}

	// ---------- Backend access ----------
	client := apiclient.New(cfg.BackendURL, cfg.RequestTimeout)
	var api store.API = client
	forecasts, err := cache.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.ForecastTTL)
	if err != nil {
		applog.Logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("forecast cache unavailable, continuing without it")
		forecasts = nil
	}
	if forecasts != nil {
		api = cache.CachingAPI{API: client, Cache: forecasts}
	}

	// ---------- Sessions & live updates ----------
	busCtx, stopBus := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	bus := eventbus.New(busCtx, &wg, eventbus.StockChanged, eventbus.LowStockAlert)

	sessions := session.NewManager(api, cfg.SessionIdle)
	sessionEvents := make(chan eventbus.Event, 64)
	for _, name := range []eventbus.EventName{eventbus.StockChanged, eventbus.LowStockAlert} {
		if err := bus.Subscribe(name, eventbus.Subscriber{Name: "sessions", AddressCh: sessionEvents}); err != nil {
			applog.Logger.Fatal().Err(err).Msg("subscribe sessions")
		}
	}
	go sessions.Listen(sessionEvents)

	if forecasts != nil {
		cacheEvents := make(chan eventbus.Event, 64)
		if err := bus.Subscribe(eventbus.StockChanged, eventbus.Subscriber{Name: "forecast-cache", AddressCh: cacheEvents}); err != nil {
			applog.Logger.Fatal().Err(err).Msg("subscribe forecast cache")
		}
		go forecasts.Invalidator(busCtx, cacheEvents)
	}

	hook := func(s live.State) { sessions.LiveStateChanged(string(s)) }
	var src live.Source
	switch cfg.LiveTransport {
	case "kafka":
		src = live.NewKafkaSource(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, bus, hook)
	default:
		src = live.NewChannel(cfg.LiveURL, bus, live.WithStateHook(hook))
	}
	dialCtx, cancelDial := context.WithTimeout(ctx, 5*time.Second)
	if err := src.Connect(dialCtx); err != nil {
		applog.Logger.Warn().Err(err).Msg("live updates unavailable at startup; use reconnect from the dashboard")
	}
	cancelDial()

	go sessions.RunSweeper(ctx, time.Minute)

	// ---------- HTTP ----------
	app := server.New(cfg, handlers.NewDeps(sessions, src), func() map[string]any {
		return map[string]any{
			"live":     string(src.State()),
			"backend":  string(client.BreakerState()),
			"sessions": sessions.Count(),
		}
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			applog.Logger.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()
	applog.Logger.Info().Str("port", cfg.Port).Msg("stockboard listening")

	<-ctx.Done()
	applog.Logger.Info().Msg("shutting down")

	if err := src.Close(); err != nil {
		applog.Logger.Warn().Err(err).Msg("closing live source")
	}
	// closing the stores ends open event streams so the server can drain
	sessions.CloseAll()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		applog.Logger.Warn().Err(err).Msg("http shutdown")
	}
	stopBus()
	wg.Wait()

	if err := forecasts.Close(); err != nil {
		applog.Logger.Warn().Err(err).Msg("closing forecast cache")
	}
	if tp != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx, tp); err != nil {
			applog.Logger.Warn().Err(err).Msg("tracer shutdown")
		}
	}
}
