package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dialogkernel/driver/internal/application"
	"github.com/dialogkernel/driver/internal/infrastructure/config"
	"github.com/dialogkernel/driver/internal/infrastructure/logger"
	"github.com/dialogkernel/driver/internal/interfaces/cli/control"
	"github.com/dialogkernel/driver/internal/interfaces/eventstream"
	"github.com/dialogkernel/driver/pkg/safego"
)

func newRunCommand() *cobra.Command {
	var eventAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the driver: scheduler, control socket, and event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDriver(eventAddr)
		},
	}
	cmd.Flags().StringVar(&eventAddr, "event-addr", "127.0.0.1:8765", "listen address for the WebSocket event stream")
	return cmd
}

func runDriver(eventAddr string) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(ExitConfigError)
	}

	log, err := logger.NewLogger(logger.Config{
		Level: cfg.Log.Level, Format: cfg.Log.Format, OutputPath: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(ExitConfigError)
	}
	defer log.Sync()

	app, err := application.NewApp(cfg, log)
	if err != nil {
		log.Error("failed to initialize application", zap.Error(err))
		os.Exit(ExitRuntimeFatal)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		log.Error("failed to start application", zap.Error(err))
		os.Exit(ExitRuntimeFatal)
	}

	ctrl := control.NewServer(app, filepath.Join(cfg.Workspace, control.SocketName), log)
	safego.Go(log, "control-socket", func() {
		if err := ctrl.Start(); err != nil && err != http.ErrServerClosed {
			log.Error("control socket stopped", zap.Error(err))
		}
	})

	streamHandler := eventstream.NewHandler(app, log)
	mux := http.NewServeMux()
	mux.HandleFunc("/events", streamHandler.ServeWS)
	eventSrv := &http.Server{Addr: eventAddr, Handler: mux}
	safego.Go(log, "event-stream-server", func() {
		log.Info("event stream listening", zap.String("addr", eventAddr))
		if err := eventSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("event stream server stopped", zap.Error(err))
		}
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	eventSrv.Shutdown(shutdownCtx)
	ctrl.Stop(shutdownCtx)
	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
		os.Exit(ExitRuntimeFatal)
	}

	return nil
}
