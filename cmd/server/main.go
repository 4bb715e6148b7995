package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orderrelay/internal/config"
	"orderrelay/internal/domain/delivery"
	"orderrelay/internal/infra/breaker"
	"orderrelay/internal/infra/queue"
	"orderrelay/internal/infra/ratelimit"
	"orderrelay/internal/infra/session"
	"orderrelay/internal/infra/teams"
	"orderrelay/internal/infra/templated"
	"orderrelay/internal/router"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"destination", cfg.Relay.Destination,
		"session", cfg.HasSession(),
		"templated", cfg.HasTemplated(),
		"team", cfg.HasTeam(),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// ==========================================
	// Dependency Injection (Manual Wiring)
	// ==========================================

	directory := delivery.NewDirectory()
	destinations := cfg.Destinations()

	backends := []delivery.Backend{
		delivery.NewSimulationBackend(directory, destinations),
	}

	// Session-based client
	var manager *delivery.ConnectionManager
	if cfg.HasSession() {
		sessionClient := session.NewClient(session.Config{
			LoginURL: cfg.Session.LoginURL,
			Email:    cfg.Session.Email,
			Password: cfg.Session.Password,
			DeviceID: cfg.Session.DeviceID,
			Timeout:  time.Duration(cfg.Session.LoginTimeoutSec) * time.Second,
		})
		manager = delivery.NewConnectionManager(sessionClient, directory, delivery.ConnectionConfig{
			MaxAttempts:    cfg.Session.MaxAttempts,
			BackoffUnit:    time.Duration(cfg.Session.BackoffUnitSec) * time.Second,
			ReconnectDelay: time.Duration(cfg.Session.ReconnectDelaySec) * time.Second,
			LoginTimeout:   time.Duration(cfg.Session.LoginTimeoutSec) * time.Second,
			JoinDelay:      time.Duration(cfg.Session.JoinDelayMs) * time.Millisecond,
			DiscoveryLinks: cfg.Session.DiscoveryLinks,
		}, nil)
		backends = append(backends, delivery.NewSessionBackend(manager))
		slog.Info("session client configured", "discovery_links", len(cfg.Session.DiscoveryLinks))
	}

	// Templated-message API
	if cfg.HasTemplated() {
		client := templated.NewClient(templated.Config{
			BaseURL:    cfg.Templated.BaseURL,
			APIKey:     cfg.Templated.APIKey,
			TemplateID: cfg.Templated.TemplateID,
			Recipient:  cfg.Templated.Recipient,
			SenderKey:  cfg.Templated.SenderKey,
			Timeout:    cfg.SendTimeout(),
		}, directory, destinations)
		backends = append(backends, breaker.Wrap(client, breaker.DefaultConfig()))
		slog.Info("templated-message client configured")
	}

	// Team-messaging API
	if cfg.HasTeam() {
		client := teams.NewClient(teams.Config{
			BaseURL:        cfg.Team.BaseURL,
			BotToken:       cfg.Team.BotToken,
			ConversationID: cfg.Team.ConversationID,
			Timeout:        cfg.SendTimeout(),
		}, directory, destinations)
		backends = append(backends, breaker.Wrap(client, breaker.DefaultConfig()))
		slog.Info("team-messaging client configured")
	}

	selector := delivery.NewSelector(delivery.Availability{
		Session:   cfg.HasSession(),
		Templated: cfg.HasTemplated(),
		Team:      cfg.HasTeam(),
	}, backends...)

	// Destination Rate Limiter
	var limiter delivery.DestinationLimiter
	if cfg.DestinationRateLimit.Enabled {
		destLimiter := ratelimit.NewRedisDestinationLimiter(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.DestinationRateLimit.MaxPerHour,
		)
		defer destLimiter.Close()
		limiter = destLimiter
		slog.Info("destination rate limiter initialized", "max_per_hour", cfg.DestinationRateLimit.MaxPerHour)
	}

	// Redelivery queue client
	var redeliverer delivery.Redeliverer
	retryDelay := time.Duration(cfg.Redelivery.RetryDelaySec) * time.Second
	if cfg.Redelivery.Enabled {
		asynqClient := queue.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		defer asynqClient.Close()
		redeliverer = queue.NewRedeliverer(asynqClient, cfg.Redelivery.MaxRetry, retryDelay)
		slog.Info("redelivery client initialized", "redis", cfg.Redis.Address)
	}

	dispatcher := delivery.NewDispatcher(
		selector,
		manager,
		directory,
		delivery.NewStatusRecorder(),
		limiter,
		redeliverer,
		delivery.DispatcherConfig{
			Destination: cfg.Relay.Destination,
			SendTimeout: cfg.SendTimeout(),
		},
	)

	preferred, err := delivery.ParseMethod(cfg.Relay.Method)
	if err != nil {
		slog.Warn("ignoring configured delivery method", "error", err)
		preferred = delivery.MethodAuto
	}
	active := selector.Start(ctx, preferred)
	slog.Info("delivery method selected", "method", active)

	// Handler
	relayHandler := delivery.NewHandler(dispatcher)

	// Router
	r, rateLimiter := router.New(cfg, relayHandler)

	// ==========================================
	// Background Workers
	// ==========================================

	go sweepVisitors(ctx, rateLimiter.Sweep)

	heartbeat, err := delivery.NewHeartbeat(dispatcher, cfg.Heartbeat.Schedule)
	if err != nil {
		slog.Error("failed to initialize heartbeat", "error", err)
		os.Exit(1)
	}
	go heartbeat.Run(ctx)

	var asynqServer interface{ Shutdown() }
	if cfg.Redelivery.Enabled {
		srv := queue.NewServer(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redelivery.Concurrency,
			retryDelay,
		)
		mux := queue.NewMux(dispatcher.Redeliver)
		go func() {
			slog.Info("redelivery worker starting",
				"concurrency", cfg.Redelivery.Concurrency,
				"redis", cfg.Redis.Address,
			)
			if err := srv.Run(mux); err != nil {
				slog.Error("redelivery worker stopped", "error", err)
			}
		}()
		asynqServer = srv
	}

	// ==========================================
	// HTTP Server with Graceful Shutdown
	// ==========================================

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.SendTimeout() + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("server starting", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	stop()

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if asynqServer != nil {
		asynqServer.Shutdown()
	}
	if manager != nil {
		manager.Stop()
	}

	slog.Info("server exited gracefully")
}

// sweepVisitors evicts idle per-IP limiters until ctx is cancelled.
func sweepVisitors(ctx context.Context, sweep func() int) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sweep(); n > 0 {
				slog.Debug("evicted idle rate limit visitors", "count", n)
			}
		}
	}
}
