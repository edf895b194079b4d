package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpServer "github.com/garyjia/order-transcriber/internal/interfaces/http"
	"github.com/garyjia/order-transcriber/internal/profile"
	"github.com/garyjia/order-transcriber/internal/render"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve runs and run history over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, flags, true)
			if err != nil {
				return err
			}
			defer a.Close()

			a.logger.Info("Starting transcriber",
				zap.String("version", Version),
				zap.String("mode", a.cfg.Mode),
				zap.String("engine", a.cfg.Engine.Binary))

			if err := a.office.Available(ctx); err != nil {
				a.logger.Warn("Conversion engine unavailable, validation and rendering will fail", zap.Error(err))
			}

			strategy, err := render.ParseStrategy(a.cfg.Render.Strategy)
			if err != nil {
				return err
			}
			handlers := httpServer.NewHandlers(a.pipeline, a.runs, a.db, httpServer.HandlerConfig{
				OutputDir: a.cfg.Storage.OutputDir,
				Templates: map[profile.Tag]string{
					profile.NextBits: a.cfg.TemplateFor(profile.NextBits),
					profile.OffBeat:  a.cfg.TemplateFor(profile.OffBeat),
				},
				Strategy: strategy,
				Version:  Version,
			}, a.logger)

			server := httpServer.NewServer(httpServer.ServerConfig{
				Host:         a.cfg.Server.Host,
				Port:         a.cfg.Server.Port,
				ReadTimeout:  a.cfg.Server.ReadTimeout,
				WriteTimeout: a.cfg.Server.WriteTimeout,
			}, handlers, a.metrics.Registry, a.logger)

			if err := server.Start(ctx); err != nil {
				return err
			}
			a.logger.Info("Transcriber shutdown complete")
			return nil
		},
	}
}
