package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/kandev/acpbridge/internal/logger"
	"github.com/kandev/acpbridge/internal/opsserver"
)

// startOpsServer launches the ops HTTP server in the background and
// returns its shutdown function.
func startOpsServer(agent opsserver.Agent, addr string, log *logger.Logger) func(context.Context) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: opsserver.New(agent, log).Router(),
	}
	go func() {
		log.Info("ops server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("ops server stopped", zap.Error(err))
		}
	}()
	return srv.Shutdown
}
