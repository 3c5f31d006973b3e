package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nxtg-ai/forge-sync/internal/api"
	"github.com/nxtg-ai/forge-sync/internal/config"
	"github.com/nxtg-ai/forge-sync/internal/database"
	"github.com/nxtg-ai/forge-sync/internal/fallback"
	"github.com/nxtg-ai/forge-sync/internal/model"
	"github.com/nxtg-ai/forge-sync/internal/realtime"
	"github.com/nxtg-ai/forge-sync/internal/recorder"
	"github.com/nxtg-ai/forge-sync/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/dashwatch.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting dashwatch",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"ws_url", cfg.Server.WSURL,
		"rest_url", cfg.Server.RestURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// History recorders are optional. Without them dashwatch is a pure
	// relay and no database connection gets opened.
	var (
		pool           *pgxpool.Pool
		activityWriter *recorder.ActivityWriter
		metricsWriter  *recorder.MetricsWriter
	)
	if cfg.Recorder.Enabled {
		logger.Info("connecting to history database",
			"host", cfg.Database.History.Host,
			"port", cfg.Database.History.Port,
			"database", cfg.Database.History.Name,
		)

		pool, err = database.Connect(ctx, cfg.Database.History)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		logger.Info("database connected")

		recCfg := recorder.Config{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
			BufferSize:    cfg.Recorder.BufferSize,
		}
		activityWriter = recorder.NewActivityWriter(recCfg, pool, logger)
		metricsWriter = recorder.NewMetricsWriter(recCfg, pool, logger)

		if err := activityWriter.Start(ctx); err != nil {
			logger.Error("failed to start activity writer", "error", err)
			os.Exit(1)
		}
		if err := metricsWriter.Start(ctx); err != nil {
			logger.Error("failed to start metrics writer", "error", err)
			os.Exit(1)
		}
	}

	// REST client for snapshots and health probes
	apiClient := api.NewClient(
		cfg.Server.RestURL,
		cfg.Server.APIToken,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Server.Timeout),
		api.WithRetries(cfg.Server.MaxRetries, time.Second),
	)

	// Realtime sync manager
	manager := realtime.NewManager(realtime.Config{
		URL:                  cfg.Server.WSURL,
		DialTimeout:          cfg.Sync.DialTimeout,
		WriteTimeout:         cfg.Sync.WriteTimeout,
		HeartbeatInterval:    cfg.Sync.HeartbeatInterval,
		ReconnectBaseDelay:   cfg.Sync.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Sync.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.Sync.MaxReconnectAttempts,
		StabilityWindow:      cfg.Sync.StabilityWindow,
		SendQueueLimit:       cfg.Sync.SendQueueLimit,
	}, logger)
	defer manager.Close()

	// Wire inbound events to the recorders. Malformed payloads are logged
	// and dropped; they never take the channel down.
	unsubActivity := manager.Subscribe(model.TypeAgentActivity, func(msg realtime.Message) {
		activity, err := model.DecodeAgentActivity(msg.Body)
		if err != nil {
			logger.Warn("invalid agent activity payload", "error", err)
			return
		}
		logger.Debug("agent activity",
			"agent_id", activity.AgentID,
			"role", activity.Role,
			"status", activity.Status,
		)
		if activityWriter != nil {
			activityWriter.Record(activity, msg.ReceivedAt)
		}
	})
	defer unsubActivity()

	unsubMetrics := manager.Subscribe(model.TypeWorkerMetrics, func(msg realtime.Message) {
		metrics, err := model.DecodeWorkerMetrics(msg.Body)
		if err != nil {
			logger.Warn("invalid worker metrics payload", "error", err)
			return
		}
		logger.Debug("worker metrics",
			"worker_id", metrics.WorkerID,
			"queue_depth", metrics.QueueDepth,
		)
		if metricsWriter != nil {
			metricsWriter.Record(metrics, msg.ReceivedAt)
		}
	})
	defer unsubMetrics()

	unsubGovernance := manager.Subscribe(model.TypeGovernanceUpdate, func(msg realtime.Message) {
		governance, err := model.DecodeGovernanceStatus(msg.Body)
		if err != nil {
			logger.Warn("invalid governance payload", "error", err)
			return
		}
		logger.Info("governance update",
			"phase", governance.Phase,
			"gate", governance.Gate,
		)
	})
	defer unsubGovernance()

	// Snapshots arrive over push after reconnects, or from the poller
	// while degraded. Both paths fan out through the same handler.
	handleSnapshot := func(state model.DashboardState) error {
		logger.Info("dashboard snapshot",
			"phase", state.Governance.Phase,
			"workers", len(state.Workers),
			"agents", len(state.Agents),
		)
		if activityWriter != nil {
			for _, agent := range state.Agents {
				activityWriter.Record(agent, state.UpdatedAt)
			}
		}
		if metricsWriter != nil {
			for _, worker := range state.Workers {
				metricsWriter.Record(worker, state.UpdatedAt)
			}
		}
		return nil
	}

	unsubSnapshot := manager.Subscribe(model.TypeStateSnapshot, func(msg realtime.Message) {
		state, err := model.DecodeDashboardState(msg.Body)
		if err != nil {
			logger.Warn("invalid snapshot payload", "error", err)
			return
		}
		handleSnapshot(state)
	})
	defer unsubSnapshot()

	// Degraded-mode poller: takes over when the manager gives up on
	// reconnecting, hands back the moment push recovers.
	controller := fallback.New(fallback.Config{
		Interval:       cfg.Fallback.PollInterval,
		RequestTimeout: cfg.Fallback.RequestTimeout,
	}, manager, apiClient, fallback.SnapshotHandlerFunc(handleSnapshot), logger)

	if err := controller.Start(ctx); err != nil {
		logger.Error("failed to start fallback controller", "error", err)
		os.Exit(1)
	}

	// Local health endpoint
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(manager, controller, pool, logger),
	}

	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	manager.Connect()

	logger.Info("dashwatch running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	healthServer.Shutdown(shutdownCtx)
	controller.Stop(shutdownCtx)
	manager.Close()

	if activityWriter != nil {
		activityWriter.Stop(shutdownCtx)
	}
	if metricsWriter != nil {
		metricsWriter.Stop(shutdownCtx)
	}

	logger.Info("dashwatch stopped")
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(manager *realtime.Manager, controller *fallback.Controller, pool *pgxpool.Pool, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		st := manager.State()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		health.Components["sync"] = map[string]interface{}{
			"status":            string(st.Status),
			"reconnect_attempt": st.ReconnectAttempt,
			"latency_ms":        st.Latency.Milliseconds(),
			"queued_sends":      manager.QueuedSends(),
		}
		health.Components["delivery_mode"] = string(controller.Mode())

		switch st.Status {
		case realtime.StatusConnected:
			// healthy
		case realtime.StatusDegraded:
			health.Status = "degraded"
		default:
			health.Status = "degraded"
		}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["history_db"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["history_db"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/state", func(w http.ResponseWriter, r *http.Request) {
		st := manager.State()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":            string(st.Status),
			"reconnect_attempt": st.ReconnectAttempt,
			"latency_ms":        st.Latency.Milliseconds(),
			"last_connected":    st.LastConnected,
			"delivery_mode":     string(controller.Mode()),
			"queued_sends":      manager.QueuedSends(),
		})
	})

	return mux
}
