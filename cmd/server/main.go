package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/aimms/backend/internal/config"
)

var Version = "dev"

func main() {
	// Amounts go over the wire as JSON numbers, as the dashboard expects.
	decimal.MarshalJSONWithoutQuotes = true

	var cfgPath string

	rootCmd := &cobra.Command{
		Use:     "aimms",
		Short:   "AIMMS backend: receipt OCR ingestion and alert monitoring",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfgPath)
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default ./"+config.DefaultFile+" if present)")

	rootCmd.AddCommand(serveCmd(&cfgPath))
	rootCmd.AddCommand(analyzeCmd(&cfgPath))
	rootCmd.AddCommand(configCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic alert analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *cfgPath)
		},
	}
}

func analyzeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Run one alert analysis cycle and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			res := a.engine.RunCycle(cmd.Context())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultFile
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	})
	return cmd
}

func runServe(ctx context.Context, cfgPath string) error {
	a, err := newApp(cfgPath)
	if err != nil {
		return err
	}
	defer a.close()

	if err := seedIfEmpty(ctx, a); err != nil {
		return err
	}

	a.scheduler.Start(ctx)
	defer a.scheduler.Stop()

	addr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.log.Infow("AIMMS backend listening",
		"addr", addr, "api_base", "/api", "model_service", a.cfg.ModelService.URL,
		"alert_mode", a.cfg.Alerts.Mode, "alert_interval", a.cfg.Alerts.Interval)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
