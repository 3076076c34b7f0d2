package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/ellavondegurechaff/redpacket/redpacket"
	"github.com/ellavondegurechaff/redpacket/redpacket/config"
	"github.com/ellavondegurechaff/redpacket/redpacket/ops"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the lifecycle scheduler, settlement worker and ops server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		engine := redpacket.New(cfg, version, commit)
		if err := engine.Setup(ctx); err != nil {
			_ = engine.Shutdown(config.ShutdownTimeout)
			return err
		}
		engine.Start(ctx)

		server := ops.NewServer(cfg.Ops.ListenAddr, ops.NewRouter(engine.Registry, engine.Healthy, engine.Processes))
		serverErr := make(chan error, 1)
		go func() { serverErr <- server.ListenAndServe() }()

		select {
		case <-ctx.Done():
		case err = <-serverErr:
			slog.Error("Ops server failed", slog.String("type", "sys"), slog.Any("error", err))
		}

		slog.Info("Shutting down", slog.String("type", "sys"))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			slog.Warn("Ops server shutdown error", slog.String("type", "sys"), slog.Any("error", shutdownErr))
		}
		if shutdownErr := engine.Shutdown(config.ShutdownTimeout); shutdownErr != nil {
			slog.Warn("Engine shutdown incomplete", slog.String("type", "sys"), slog.Any("error", shutdownErr))
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
