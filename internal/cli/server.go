package cli

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
	"golang.org/x/sync/errgroup"

	"github.com/martijn/vaultkeep/internal/api"
	"github.com/martijn/vaultkeep/internal/core/service"
)

const shutdownTimeout = 30 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server and backup scheduler",
	Long:  "Start the REST API server together with the clock-driven backup scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()
		logger := services.Logger

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		recovered, err := services.Engine.Recover(ctx)
		if err != nil {
			return fmt.Errorf("failed to recover interrupted backups: %w", err)
		}
		if recovered > 0 {
			logger.Warn().Int("count", recovered).Msg("marked interrupted backups as failed")
		}

		server := api.NewServer(
			cfg,
			services.Engine,
			services.AuthService,
			services.ActivityRepo,
			services.Registry,
			logger,
		)
		scheduler := service.NewScheduler(services.Engine, services.Clock, cfg.ScheduleWindow, logger)

		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			services.Clock.Start()
			defer services.Clock.Stop()
			return scheduler.Run(ctx)
		})

		g.Go(func() error {
			<-ctx.Done()
			logger.Info().Msg("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown error: %w", err)
			}
			// Backups already running finish before the stores close
			if err := services.Engine.Wait(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("backup still running at shutdown")
			}
			return nil
		})

		if err := g.Wait(); err != nil {
			return err
		}

		logger.Info().Msg("server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
