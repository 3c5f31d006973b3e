// streamtest connects to the dashboard push channel and streams decoded
// envelopes to the console.
// Usage: go run ./cmd/streamtest --config configs/dashwatch.local.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nxtg-ai/forge-sync/internal/config"
	"github.com/nxtg-ai/forge-sync/internal/model"
	"github.com/nxtg-ai/forge-sync/internal/realtime"
	"github.com/nxtg-ai/forge-sync/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/dashwatch.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full envelope JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	logger.Info("streamtest", "build", version.String())

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

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

	// Print every envelope that comes over the channel
	unsub := manager.Subscribe(realtime.Wildcard, func(msg realtime.Message) {
		printEnvelope(msg, *verbose)
	})
	defer unsub()

	// Log connection state transitions
	unsubState := manager.SubscribeState(func(st realtime.State) {
		logger.Info("connection state",
			"status", string(st.Status),
			"attempt", st.ReconnectAttempt,
			"latency_ms", st.Latency.Milliseconds(),
		)
	})
	defer unsubState()

	manager.Connect()

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := manager.State()
				logger.Info("stats",
					"status", string(st.Status),
					"latency_ms", st.Latency.Milliseconds(),
					"queued_sends", manager.QueuedSends(),
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutdown complete")
}

func printEnvelope(msg realtime.Message, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(msg.Envelope, "", "  ")
		fmt.Printf("[%s] %s\n", msg.Type, data)
		return
	}

	switch msg.Type {
	case model.TypeGovernanceUpdate:
		g, err := model.DecodeGovernanceStatus(msg.Body)
		if err != nil {
			fmt.Printf("[GOVERNANCE] invalid payload: %v\n", err)
			return
		}
		fmt.Printf("[GOVERNANCE] phase=%s gate=%s approvals_pending=%d\n",
			g.Phase, g.Gate, g.ApprovalsPending)
	case model.TypeWorkerMetrics:
		m, err := model.DecodeWorkerMetrics(msg.Body)
		if err != nil {
			fmt.Printf("[METRICS] invalid payload: %v\n", err)
			return
		}
		fmt.Printf("[METRICS] worker=%s queue_depth=%d completed=%d failed=%d cpu=%.1f%%\n",
			m.WorkerID, m.QueueDepth, m.TasksCompleted, m.TasksFailed, m.CPUPercent)
	case model.TypeAgentActivity:
		a, err := model.DecodeAgentActivity(msg.Body)
		if err != nil {
			fmt.Printf("[ACTIVITY] invalid payload: %v\n", err)
			return
		}
		fmt.Printf("[ACTIVITY] agent=%s role=%s status=%s task=%s\n",
			a.AgentID, a.Role, a.Status, a.Task)
	case model.TypeStateSnapshot:
		s, err := model.DecodeDashboardState(msg.Body)
		if err != nil {
			fmt.Printf("[SNAPSHOT] invalid payload: %v\n", err)
			return
		}
		fmt.Printf("[SNAPSHOT] phase=%s workers=%d agents=%d\n",
			s.Governance.Phase, len(s.Workers), len(s.Agents))
	default:
		fmt.Printf("[%s] %s\n", msg.Type, msg.Body)
	}
}
