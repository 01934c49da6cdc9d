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

	"vaultchat/internal/config"
	"vaultchat/internal/logging"
	"vaultchat/internal/metrics"
	"vaultchat/internal/runtime"

	flags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
)

var BuildVersion = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	opts, err := config.ParseOptions(nil)
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	saved, settingsErr := config.LoadSettings()
	opts = config.MergeOptionsWithSettings(opts, saved)

	logger := logging.New(opts.Debug)
	defer func() { _ = logger.Close() }()
	if settingsErr != nil {
		logger.Warn("ignoring unreadable settings", logging.Field("error", settingsErr))
	}
	if opts.LogFilePersist {
		if err := logger.EnableFilePersistence(0); err != nil {
			logger.Warn("log file persistence disabled", logging.Field("error", err))
		}
	}
	logger.Debug("vaultchat starting",
		logging.Field("version", BuildVersion),
		logging.Field("command", opts.Command),
	)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	if opts.MetricsAddr != "" {
		stopMetrics := serveMetrics(opts.MetricsAddr, registry, logger)
		defer stopMetrics()
	}

	controller := runtime.NewController(rootCtx)
	err = controller.Start(opts, logger, runtime.StartHooks{
		Metrics: m,
		OnStatus: func(status string) {
			logger.Info("status: " + status)
		},
		OnLoggedIn: func(o config.Options) {
			if err := config.SaveSettings(config.SettingsFromOptions(o)); err != nil {
				logger.Warn("failed to save settings", logging.Field("error", err))
			}
		},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	controller.Wait(0)
	logger.Debug("vaultchat exiting", logging.Field("status", controller.Status()))

	if err := controller.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *logging.Logger) func() {
	server := &http.Server{
		Addr:              addr,
		Handler:           metrics.Handler(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", logging.Field("addr", addr), logging.Field("error", err))
		}
	}()
	logger.Debug("serving metrics", logging.Field("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
