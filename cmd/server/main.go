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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/damagex-api/internal/app"
	"github.com/Brownie44l1/damagex-api/internal/config"
	"github.com/Brownie44l1/damagex-api/internal/handlers"
	"github.com/Brownie44l1/damagex-api/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "damagex-server",
	Short:         "Vehicle damage classification API",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "damagex-server: %v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer log.Sync()

	a := app.New(cfg, log)

	// The damage model must be ready before we accept any traffic.
	if err := a.Warm(); err != nil {
		a.Close()
		return fmt.Errorf("model initialization failed: %w", err)
	}

	handler := handlers.NewHandler(a.Pipeline, a.Gatekeepers, handlers.Options{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		LowConfidence:  cfg.Server.LowConfidence,
	}, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler.Routes(cfg.Server.APIPrefix, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting",
			zap.String("addr", srv.Addr),
			zap.String("predict", cfg.Server.APIPrefix+"/predict/"),
			zap.Strings("classes", cfg.Model.ClassNames),
			zap.Bool("gatekeeper_fail_closed", cfg.Gatekeeper.FailClosed),
			zap.Int("workers", a.Pipeline.Workers()))
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown incomplete", zap.Error(err))
		return errors.Join(serveErr, err)
	}
	return errors.Join(serveErr, a.Shutdown(shutdownCtx))
}
