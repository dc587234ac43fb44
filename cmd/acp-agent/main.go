// Package main is the entry point for the ACP bridge agent: it reads
// configuration, wires the dispatcher and orchestrator together, and
// runs the JSON-RPC loop over stdio until the client disconnects or a
// shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/acpbridge/internal/config"
	"github.com/kandev/acpbridge/internal/dispatcher"
	"github.com/kandev/acpbridge/internal/logger"
	"github.com/kandev/acpbridge/internal/orchestrator"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	// 1. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger.
	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: ""})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting acp-agent", zap.String("assistantCommand", cfg.AssistantCommand))

	// 3. Create context with cancellation, tied to SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Wire the dispatcher and orchestrator (two-phase construction:
	// the dispatcher is the orchestrator's Transport, the orchestrator
	// is the dispatcher's Handler, neither can be built first).
	d := dispatcher.New(os.Stdin, os.Stdout, log)
	agent := orchestrator.New(cfg, log, d)
	d.SetHandler(agent)

	// 5. Run the session expiry sweep and notification forwarder in
	// the background for the life of the process.
	go agent.RunNotificationForwarder(ctx)
	go agent.Sessions().RunCleanup(ctx, cfg.CleanupInterval)

	// 6. Start the optional ops HTTP server (health + debug introspection).
	var opsShutdown func(context.Context) error
	if cfg.OpsServerEnabled {
		opsShutdown = startOpsServer(agent, cfg.OpsServerAddr, log)
	}

	// 7. Run the JSON-RPC read/dispatch loop until stdin closes or ctx
	// is cancelled.
	runErr := d.Run(ctx)

	log.Info("shutting down acp-agent")

	// 8. Graceful shutdown: stop accepting ops traffic, then drain
	// live sessions, children, and terminals.
	if opsShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := opsShutdown(shutdownCtx); err != nil {
			log.Warn("ops server shutdown error", zap.Error(err))
		}
		cancel()
	}
	d.Shutdown()

	if runErr != nil && runErr != context.Canceled {
		log.Warn("dispatcher loop ended with error", zap.Error(runErr))
	}
}
