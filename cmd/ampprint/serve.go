package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ampprint/ampprint/internal/api"
	"github.com/ampprint/ampprint/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and MQTT telemetry intake",
	Long: `Starts the long-running service: the HTTP API on --http-addr, the
MQTT intake when --mqtt-broker is set, and a periodic snapshot of the
device groups so a restart picks up where it left off.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	if broker := cfg.MQTTBroker.Value; broker != "" {
		intake, err := telemetry.Start(eng, telemetry.Config{
			Broker:      broker,
			ClientID:    cfg.MQTTClientID.Value,
			Username:    cfg.MQTTUsername.Value,
			Password:    cfg.MQTTPassword.Value,
			TopicPrefix: cfg.TopicPrefix.Value,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("starting telemetry intake: %w", err)
		}
		defer intake.Close()
		logger.Info("telemetry intake connected",
			zap.String("broker", broker),
			zap.String("topic_prefix", cfg.TopicPrefix.Value))
	} else {
		logger.Info("no MQTT broker configured, running HTTP only")
	}

	interval, err := cfg.SnapshotInterval()
	if err != nil {
		return err
	}
	stopSnapshots := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := eng.SaveSnapshot(); err != nil {
					logger.Warn("periodic snapshot failed", zap.Error(err))
				}
			case <-stopSnapshots:
				return
			}
		}
	}()
	defer close(stopSnapshots)

	router := api.NewServer(eng, logger).Router()
	logged := handlers.LoggingHandler(os.Stdout, router)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr.Value,
		Handler:      logged,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return nil
}
