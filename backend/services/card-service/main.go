package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rfidpay/cardcore/backend/pkg/common"
	"github.com/rfidpay/cardcore/backend/pkg/platform"
)

func main() {
	cfg, err := common.LoadConfig("")
	if err != nil {
		common.NewLogger("error", "card-service").Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := common.NewLogger(cfg.LogLevel, "card-service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := platform.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start platform", "error", err)
		os.Exit(1)
	}
	defer p.Close()

	svc := NewService(p, []byte(cfg.Auth.JWTSecret), logger)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("card service running", "port", cfg.Port, "env", cfg.Env, "db", cfg.DB.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
