// Package main is the entry point for streamwatch, an operational
// consumer of the event stream client: it subscribes to every event kind
// and either logs deliveries or renders them in a live dashboard.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oddyssey/stream/internal/config"
	"github.com/oddyssey/stream/internal/event"
	"github.com/oddyssey/stream/internal/metrics"
	"github.com/oddyssey/stream/internal/store"
	"github.com/oddyssey/stream/internal/stream"
	"github.com/oddyssey/stream/internal/ui"
)

const (
	// EventChannelBuffer is the size of the buffered event channel
	EventChannelBuffer = 256
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := setupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("streamwatch starting",
		"version", "1.0.0",
	)

	slog.Info("config_loaded",
		"primary_ws_url", cfg.MaskedPrimaryURL(),
		"publisher", cfg.PublisherAddress,
		"fallback_ws_url", cfg.FallbackWSURL,
		"seen_store_path", cfg.SeenStorePath,
		"redis", cfg.RedisURL != "",
		"teardown_grace", cfg.TeardownGrace,
		"enable_tui", cfg.EnableTUI,
		"prometheus_port", cfg.PrometheusPort,
	)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Seen-event persistence: redis when configured, file store otherwise.
	seen := openSeenStore(cfg)

	// Metrics
	tracker := metrics.NewTracker()
	go servePrometheus(cfg.PrometheusPort)

	// Initialize and start the hub
	hub := stream.Init(ctx, stream.Config{
		PrimaryURL:  cfg.PrimaryWSURL,
		PublisherID: cfg.PublisherAddress,
		FallbackURL: cfg.FallbackWSURL,
		Grace:       cfg.TeardownGrace,
	}, seen, tracker)

	// Subscribe to every kind, funneling deliveries into one channel.
	eventChan := make(chan event.Event, EventChannelBuffer)
	unsubs := make([]func(), 0, len(event.Kinds))
	for _, kind := range event.Kinds {
		unsub := hub.Subscribe(kind, func(ev event.Event) {
			select {
			case eventChan <- ev:
			default:
				slog.Warn("event_channel_full", "kind", ev.Kind)
			}
		})
		unsubs = append(unsubs, unsub)
	}

	slog.Info("streamwatch_started",
		"status", "listening for events",
		"kinds", len(event.Kinds),
		"tui_enabled", cfg.EnableTUI,
	)

	if cfg.EnableTUI {
		// TUI mode (blocking)
		app := ui.NewApp(eventChan, tracker, hub.Reconnect, cfg.UIRefreshRate)

		go func() {
			if err := app.Run(); err != nil {
				slog.Error("tui_error", "error", err)
				cancel()
			}
		}()

		select {
		case sig := <-sigChan:
			slog.Info("shutdown_signal_received", "signal", sig.String())
			app.Stop()
		case <-ctx.Done():
			app.Stop()
		}
	} else {
		// Background mode: log deliveries until a signal arrives.
		go logEvents(ctx, eventChan)
		sig := <-sigChan
		slog.Info("shutdown_signal_received", "signal", sig.String())
	}

	cancel()

	slog.Info("shutting_down", "status", "stopping stream client")
	for _, unsub := range unsubs {
		unsub()
	}
	stream.Teardown()

	slog.Info("shutdown_complete")
}

// openSeenStore picks the persistence backend for dedupe state.
func openSeenStore(cfg *config.Config) store.SeenStore {
	if cfg.RedisURL != "" {
		rs, err := store.NewRedisStore(cfg.RedisURL)
		if err == nil {
			return rs
		}
		slog.Warn("redis_seen_store_unavailable", "error", err)
	}

	fs, err := store.NewFileStore(cfg.SeenStorePath)
	if err != nil {
		slog.Warn("file_seen_store_unavailable", "path", cfg.SeenStorePath, "error", err)
		return store.NewMemoryStore()
	}
	return fs
}

// servePrometheus exposes the delivery counters for scraping.
func servePrometheus(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	slog.Info("prometheus_listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Warn("prometheus_server_stopped", "error", err)
	}
}

// logEvents prints delivered events in background mode.
func logEvents(ctx context.Context, eventChan <-chan event.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventChan:
			if !ok {
				return
			}
			slog.Info("event_delivered",
				"kind", ev.Kind,
				"entity", ev.EntityID(),
				"timestamp", ev.Timestamp,
				"amount", ev.Amount,
				"currency", ev.Currency,
			)
		}
	}
}

// setupLogger creates a structured logger with the specified level.
// Format: 2025-01-04 14:32:01 [INFO]  message key=value
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format("2006-01-02 15:04:05"))
				}
			}
			return a
		},
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler)
}
